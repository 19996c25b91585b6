package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type uploadResponse struct {
	ObjectKey string `json:"object_key"`
	Size      int64  `json:"size"`
}

// PutUpload accepts the object body for a local upload credential.
func (a *App) PutUpload(w http.ResponseWriter, r *http.Request) {
	if a.Uploads == nil {
		a.error(w, http.StatusNotFound, "not_found", "local uploads disabled")
		return
	}
	defer r.Body.Close()
	key, size, err := a.Uploads.Accept(r.Context(), chi.URLParam(r, "token"), r.Body)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, uploadResponse{ObjectKey: key, Size: size})
}
