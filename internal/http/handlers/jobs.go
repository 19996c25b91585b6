package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"videojobs/internal/domain"
)

const maxCreateJobBody = 16 << 10

type createJobRequest struct {
	Filename string `json:"filename"`
}

func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCreateJobBody))
	if err := dec.Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, domain.KindInvalidInput, "invalid payload")
		return
	}
	out, err := a.Jobs.CreateJob(r.Context(), req.Filename)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, out)
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	view, err := a.Status.GetStatus(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, view)
}
