package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"contest_judge/internal/api/middleware"
	"contest_judge/internal/app/service"
	"contest_judge/internal/common"
	"contest_judge/internal/domain/model"

	"github.com/go-chi/chi/v5"
)

const maxArchiveSize = 32 << 20

type SubmissionCreator interface {
	CreateSubmission(ctx context.Context, userID string, req service.CreateSubmissionRequest) (*model.Submission, error)
}

type SubmissionHandler struct {
	submissions SubmissionCreator
}

func NewSubmissionHandler(submissions SubmissionCreator) *SubmissionHandler {
	return &SubmissionHandler{submissions: submissions}
}

// RegisterRoutes mounts under /competitions/{competitionID}.
func (h *SubmissionHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)
	r.Post("/submissions", h.createSubmission)
}

// createSubmission takes a multipart form with a problemId field and the
// archive in the file field.
func (h *SubmissionHandler) createSubmission(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Authorization token required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxArchiveSize+1<<20)
	if err := r.ParseMultipartForm(maxArchiveSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			common.RespondWithError(w, http.StatusRequestEntityTooLarge, "Submission archive too large")
			return
		}
		common.RespondWithError(w, http.StatusBadRequest, "Invalid multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Missing file field")
		return
	}
	defer file.Close()
	archive, err := io.ReadAll(file)
	if err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Failed to read submission archive")
		return
	}

	sub, err := h.submissions.CreateSubmission(r.Context(), userID, service.CreateSubmissionRequest{
		CompetitionID: chi.URLParam(r, "competitionID"),
		ProblemID:     r.FormValue("problemId"),
		FileName:      header.Filename,
		Archive:       archive,
	})
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusAccepted, sub)
}
