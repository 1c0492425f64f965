package handler

import (
	"context"
	"net/http"
	"path"

	"contest_judge/internal/common"

	"github.com/go-chi/chi/v5"
)

type BlobReader interface {
	Get(ctx context.Context, locator string) ([]byte, error)
}

// BlobHandler serves stored submission archives to judges.
type BlobHandler struct {
	blobs BlobReader
}

func NewBlobHandler(blobs BlobReader) *BlobHandler {
	return &BlobHandler{blobs: blobs}
}

func (h *BlobHandler) RegisterRoutes(r chi.Router) {
	r.Get("/*", h.getBlob)
}

func (h *BlobHandler) getBlob(w http.ResponseWriter, r *http.Request) {
	locator := chi.URLParam(r, "*")
	data, err := h.blobs.Get(r.Context(), locator)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType(locator))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func contentType(locator string) string {
	switch path.Ext(locator) {
	case ".zip":
		return "application/zip"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
