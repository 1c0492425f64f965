package handler

import (
	"context"
	"net/http"

	"contest_judge/internal/api/middleware"
	"contest_judge/internal/common"
	"contest_judge/internal/domain/model"

	"github.com/go-chi/chi/v5"
)

type CdkClaimer interface {
	Claim(ctx context.Context, competitionID, userID string) (*model.CompetitionCdk, error)
	MyCodes(ctx context.Context, competitionID, userID string) ([]model.CompetitionCdk, error)
}

type CdkHandler struct {
	cdks CdkClaimer
}

func NewCdkHandler(cdks CdkClaimer) *CdkHandler {
	return &CdkHandler{cdks: cdks}
}

// RegisterRoutes mounts under /competitions/{competitionID}; every route
// needs an authenticated user.
func (h *CdkHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)
	r.Post("/cdks/claim", h.claim)
	r.Get("/cdks/mine", h.mine)
}

func (h *CdkHandler) claim(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Authorization token required")
		return
	}
	cdk, err := h.cdks.Claim(r.Context(), chi.URLParam(r, "competitionID"), userID)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, cdk)
}

func (h *CdkHandler) mine(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "Authorization token required")
		return
	}
	codes, err := h.cdks.MyCodes(r.Context(), chi.URLParam(r, "competitionID"), userID)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, codes)
}
