package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"videojobs/internal/domain"
	"videojobs/internal/middleware"
	"videojobs/internal/storage"
	"videojobs/internal/upload"
)

// JobCreator registers jobs and hands out upload credentials.
type JobCreator interface {
	CreateJob(ctx context.Context, filename string) (*upload.CreateJobOutput, error)
}

// StatusGetter reads the public status view of a job.
type StatusGetter interface {
	GetStatus(ctx context.Context, jobID string) (domain.JobView, error)
}

// UploadAcceptor stores objects uploaded with local credentials.
type UploadAcceptor interface {
	Accept(ctx context.Context, token string, body io.Reader) (string, int64, error)
}

// Pinger reports whether a backing dependency is reachable.
type Pinger func(ctx context.Context) error

type App struct {
	Jobs    JobCreator
	Status  StatusGetter
	Uploads UploadAcceptor
	Ready   Pinger
	Logger  zerolog.Logger
}

func NewApp(jobs JobCreator, status StatusGetter, logger zerolog.Logger) *App {
	return &App{Jobs: jobs, Status: status, Logger: logger}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, msg string) {
	a.json(w, code, errorBody{Error: errorDetail{Code: errCode, Message: msg}})
}

// fail maps a component error onto an HTTP response. Internal details are
// logged, never returned.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, domain.KindInvalidInput, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, domain.KindNotFound, "job not found")
	case errors.Is(err, storage.ErrTokenExpired):
		a.error(w, http.StatusForbidden, "token_expired", "upload credential expired")
	case errors.Is(err, storage.ErrInvalidToken):
		a.error(w, http.StatusForbidden, "invalid_token", "upload credential invalid")
	case errors.Is(err, domain.ErrTransientIO):
		a.logError(r, err)
		a.error(w, http.StatusServiceUnavailable, domain.KindTransientIO, "temporarily unavailable, retry")
	default:
		a.logError(r, err)
		a.error(w, http.StatusInternalServerError, domain.KindInternal, "internal error")
	}
}

func (a *App) logError(r *http.Request, err error) {
	a.Logger.Error().Err(err).
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Str("kind", domain.ErrorKind(err)).
		Str("path", r.URL.Path).
		Msg("request failed")
}
