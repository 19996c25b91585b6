package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"videojobs/internal/http/handlers"
	"videojobs/internal/middleware"
)

type RouterOptions struct {
	Logger          zerolog.Logger
	CORSOrigins     []string
	CreateRateLimit int
}

func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/readyz", app.Readiness)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.With(middleware.RateLimit(opts.CreateRateLimit, time.Minute)).Post("/", app.CreateJob)
		r.Get("/{job_id}", app.GetJob)
	})
	r.Put("/v1/uploads/{token}", app.PutUpload)

	return r
}
