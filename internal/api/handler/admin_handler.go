package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"time"

	"contest_judge/internal/api/middleware"
	"contest_judge/internal/common"
	"contest_judge/internal/domain/model"
	"contest_judge/internal/platform/queue"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

const (
	defaultFailedLimit = 50
	maxFailedLimit     = 500
)

type Requeuer interface {
	Requeue(ctx context.Context, submissionID string) (*model.Submission, error)
}

type HistoryTrigger interface {
	Trigger(ctx context.Context, competitionID string, teamIDs []string) error
}

type CdkAdmin interface {
	AddCodes(ctx context.Context, competitionID string, codes []string) (int, error)
	VoidCode(ctx context.Context, competitionID, cdkID string) error
}

// JobAdmin is the part of the queue operators reach through the API.
type JobAdmin interface {
	Enqueue(ctx context.Context, lane, name string, payload any, opts queue.EnqueueOptions) (queue.EnqueueResult, error)
	Failed(ctx context.Context, lane string, limit int64) ([]*queue.Job, error)
	RetryFailed(ctx context.Context, lane, jobID string) (bool, error)
}

type AdminHandler struct {
	evaluations Requeuer
	history     HistoryTrigger
	cdks        CdkAdmin
	jobs        JobAdmin
	log         logrus.FieldLogger
}

func NewAdminHandler(evaluations Requeuer, history HistoryTrigger, cdks CdkAdmin, jobs JobAdmin, log logrus.FieldLogger) *AdminHandler {
	return &AdminHandler{evaluations: evaluations, history: history, cdks: cdks, jobs: jobs, log: log}
}

func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)
	r.Use(middleware.AdminOnly)

	r.Post("/submissions/{submissionID}/requeue", h.requeue)
	r.Route("/competitions/{competitionID}", func(cr chi.Router) {
		cr.Post("/leaderboard/resync", h.resync)
		cr.Post("/leaderboard/history", h.regenerateHistory)
		cr.Post("/cdks", h.addCodes)
		cr.Post("/cdks/{cdkID}/void", h.voidCode)
	})
	r.Get("/jobs/{lane}/failed", h.failedJobs)
	r.Post("/jobs/{lane}/{jobID}/retry", h.retryJob)
}

type historyRequest struct {
	TeamIDs []string `json:"teamIds"`
}

type addCodesRequest struct {
	Codes []string `json:"codes"`
}

type failedJob struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"maxAttempts"`
	LastError   string          `json:"lastError"`
	CreatedAt   time.Time       `json:"createdAt"`
	FailedAt    time.Time       `json:"failedAt"`
}

func (h *AdminHandler) requeue(w http.ResponseWriter, r *http.Request) {
	sub, err := h.evaluations.Requeue(r.Context(), chi.URLParam(r, "submissionID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusAccepted, sub)
}

func (h *AdminHandler) resync(w http.ResponseWriter, r *http.Request) {
	job := model.SyncLeaderboardJob{CompetitionID: chi.URLParam(r, "competitionID")}
	res, err := h.jobs.Enqueue(r.Context(), job.Lane(), job.JobName(), job, queue.EnqueueOptions{JobID: job.JobID(), Rerun: true})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusAccepted, map[string]string{"jobId": job.JobID(), "result": res.String()})
}

func (h *AdminHandler) regenerateHistory(w http.ResponseWriter, r *http.Request) {
	var req historyRequest
	// The body is optional; no body means every team.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}
	competitionID := chi.URLParam(r, "competitionID")
	if err := h.history.Trigger(r.Context(), competitionID, req.TeamIDs); err != nil {
		h.fail(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusAccepted, map[string]any{"competitionId": competitionID, "teamIds": req.TeamIDs})
}

func (h *AdminHandler) addCodes(w http.ResponseWriter, r *http.Request) {
	var req addCodesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}
	n, err := h.cdks.AddCodes(r.Context(), chi.URLParam(r, "competitionID"), req.Codes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, map[string]int{"inserted": n})
}

func (h *AdminHandler) voidCode(w http.ResponseWriter, r *http.Request) {
	if err := h.cdks.VoidCode(r.Context(), chi.URLParam(r, "competitionID"), chi.URLParam(r, "cdkID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) failedJobs(w http.ResponseWriter, r *http.Request) {
	lane := chi.URLParam(r, "lane")
	if !slices.Contains(model.Lanes, lane) {
		common.RespondWithError(w, http.StatusNotFound, "Unknown lane "+lane)
		return
	}
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)
	if limit <= 0 || limit > maxFailedLimit {
		limit = defaultFailedLimit
	}

	jobs, err := h.jobs.Failed(r.Context(), lane, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]failedJob, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, failedJob{
			ID:          j.ID,
			Name:        j.Name,
			Payload:     j.Payload,
			Attempt:     j.Attempt,
			MaxAttempts: j.MaxAttempts,
			LastError:   j.LastError,
			CreatedAt:   j.CreatedAt,
			FailedAt:    j.FailedAt,
		})
	}
	common.RespondWithJSON(w, http.StatusOK, map[string]any{"lane": lane, "jobs": out})
}

func (h *AdminHandler) retryJob(w http.ResponseWriter, r *http.Request) {
	lane, jobID := chi.URLParam(r, "lane"), chi.URLParam(r, "jobID")
	if !slices.Contains(model.Lanes, lane) {
		common.RespondWithError(w, http.StatusNotFound, "Unknown lane "+lane)
		return
	}
	ok, err := h.jobs.RetryFailed(r.Context(), lane, jobID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		common.RespondWithError(w, http.StatusNotFound, "No failed job "+jobID+" in lane "+lane)
		return
	}
	h.log.WithFields(logrus.Fields{"lane": lane, "job_id": jobID}).Info("failed job retried by operator")
	common.RespondWithJSON(w, http.StatusAccepted, map[string]string{"lane": lane, "jobId": jobID})
}

func (h *AdminHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if common.HTTPStatusFromError(err) >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", r.URL.Path).Error("admin request failed")
	}
	common.RespondWithDomainError(w, err)
}
