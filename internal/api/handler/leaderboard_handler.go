package handler

import (
	"context"
	"net/http"

	"contest_judge/internal/common"
	"contest_judge/internal/domain/model"

	"github.com/go-chi/chi/v5"
)

type StandingsReader interface {
	GetStandings(ctx context.Context, competitionID string) ([]model.Standing, error)
}

type HistoryReader interface {
	GetHistory(ctx context.Context, competitionID string) ([]model.TeamHistory, error)
}

type LeaderboardHandler struct {
	standings StandingsReader
	history   HistoryReader
}

func NewLeaderboardHandler(standings StandingsReader, history HistoryReader) *LeaderboardHandler {
	return &LeaderboardHandler{standings: standings, history: history}
}

// RegisterRoutes mounts under /competitions/{competitionID}.
func (h *LeaderboardHandler) RegisterRoutes(r chi.Router) {
	r.Get("/leaderboard", h.getLeaderboard)
	r.Get("/leaderboard/history", h.getHistory)
}

func (h *LeaderboardHandler) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	competitionID := chi.URLParam(r, "competitionID")
	standings, err := h.standings.GetStandings(r.Context(), competitionID)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]any{
		"competitionId": competitionID,
		"standings":     standings,
	})
}

func (h *LeaderboardHandler) getHistory(w http.ResponseWriter, r *http.Request) {
	competitionID := chi.URLParam(r, "competitionID")
	history, err := h.history.GetHistory(r.Context(), competitionID)
	if err != nil {
		common.RespondWithDomainError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]any{
		"competitionId": competitionID,
		"teams":         history,
	})
}
