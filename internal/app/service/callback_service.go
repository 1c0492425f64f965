package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"contest_judge/internal/common"
	"contest_judge/internal/common/security"
	"contest_judge/internal/domain/model"
	"contest_judge/internal/domain/repository"
	"contest_judge/internal/platform/queue"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// CallbackPayload is the body a judge posts back.
type CallbackPayload struct {
	SubmissionID string                 `json:"submissionId" validate:"required"`
	Status       model.SubmissionStatus `json:"status" validate:"required,oneof=COMPLETED ERROR"`
	Score        *decimal.Decimal       `json:"score" validate:"required"`
	Logs         *string                `json:"logs,omitempty"`
}

// canonicalFields is what the content hash is computed over.
func (p CallbackPayload) canonicalFields() map[string]any {
	fields := map[string]any{
		"submissionId": p.SubmissionID,
		"status":       string(p.Status),
		"score":        json.Number(p.Score.String()),
	}
	if p.Logs != nil {
		fields["logs"] = *p.Logs
	}
	return fields
}

type CallbackAck struct {
	Success      bool   `json:"success"`
	SubmissionID string `json:"submissionId"`
}

type CallbackService struct {
	submissions  repository.SubmissionRepository
	nodes        repository.EvaluateNodeRepository
	verifier     *security.Verifier
	leaderboard  *LeaderboardService
	history      *HistoryService
	queue        JobQueue
	globalSecret string
	validate     *validator.Validate
	log          logrus.FieldLogger
	now          func() time.Time
}

func NewCallbackService(
	submissions repository.SubmissionRepository,
	nodes repository.EvaluateNodeRepository,
	verifier *security.Verifier,
	leaderboard *LeaderboardService,
	history *HistoryService,
	q JobQueue,
	globalSecret string,
	log logrus.FieldLogger,
) *CallbackService {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	return &CallbackService{
		submissions:  submissions,
		nodes:        nodes,
		verifier:     verifier,
		leaderboard:  leaderboard,
		history:      history,
		queue:        q,
		globalSecret: globalSecret,
		validate:     v,
		log:          log,
		now:          time.Now,
	}
}

// HandleCallback authenticates a judge result and applies it. Unknown
// submissions are acknowledged so the judge stops retrying.
func (s *CallbackService) HandleCallback(ctx context.Context, body []byte, headers security.SignedHeaders) (*CallbackAck, error) {
	payload, err := s.parse(body)
	if err != nil {
		return nil, err
	}
	log := s.log.WithFields(logrus.Fields{"submission_id": payload.SubmissionID, "status": payload.Status})

	sub, err := s.submissions.GetSubmissionByID(ctx, nil, payload.SubmissionID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	secrets, err := s.candidateSecrets(ctx, sub)
	if err != nil {
		return nil, err
	}
	if err := s.verifier.Verify(headers, payload.canonicalFields(), secrets); err != nil {
		log.WithError(err).Warn("callback signature rejected")
		return nil, err
	}

	ack := &CallbackAck{Success: true, SubmissionID: payload.SubmissionID}
	if sub == nil {
		log.Warn("callback for unknown submission acknowledged")
		return ack, nil
	}

	result := model.JudgeResult{Status: payload.Status, Logs: payload.Logs}
	if payload.Status == model.StatusCompleted {
		result.Score = decimal.NewNullDecimal(*payload.Score)
	}
	updated, err := s.submissions.ApplyJudgeResult(ctx, nil, payload.SubmissionID, result, s.now())
	if errors.Is(err, common.ErrNotFound) {
		log.Warn("submission deleted before callback was applied")
		return ack, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.queue.Cancel(ctx, model.LaneWatchdog, model.TimeoutCheckJob{SubmissionID: updated.ID}.JobID()); err != nil {
		log.WithError(err).Warn("failed to cancel evaluation watchdog")
	}

	if updated.Status == model.StatusCompleted && updated.Score.Valid {
		if err := s.credit(ctx, updated); err != nil {
			return nil, err
		}
	}

	log.Info("callback applied")
	return ack, nil
}

func (s *CallbackService) parse(body []byte) (*CallbackPayload, error) {
	var p CallbackPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("malformed callback body: %w", common.ErrValidation)
	}
	if err := s.validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" ("+fe.Tag()+")")
			}
			return nil, fmt.Errorf("invalid callback fields %s: %w", strings.Join(fields, ", "), common.ErrValidation)
		}
		return nil, fmt.Errorf("invalid callback body: %w", common.ErrValidation)
	}
	return &p, nil
}

// candidateSecrets narrows to the bound node's secret when the submission
// has one, otherwise every active node plus the global secret.
func (s *CallbackService) candidateSecrets(ctx context.Context, sub *model.Submission) ([]string, error) {
	if sub != nil && sub.EvaluateNodeID != nil {
		node, err := s.nodes.GetByID(ctx, *sub.EvaluateNodeID)
		if err == nil {
			return []string{node.SharedSecret}, nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
	}

	nodes, err := s.nodes.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	secrets := make([]string, 0, len(nodes)+1)
	for _, n := range nodes {
		secrets = append(secrets, n.SharedSecret)
	}
	if s.globalSecret != "" {
		secrets = append(secrets, s.globalSecret)
	}
	return secrets, nil
}

// credit feeds a completed result to the leaderboard using ids from the
// stored row. A failed update is repaired by a queued resync.
func (s *CallbackService) credit(ctx context.Context, sub *model.Submission) error {
	log := s.log.WithFields(logrus.Fields{"submission_id": sub.ID, "competition_id": sub.CompetitionID, "team_id": sub.TeamID})

	err := s.leaderboard.ApplyScore(ctx, ScoreUpdate{
		CompetitionID: sub.CompetitionID,
		TeamID:        sub.TeamID,
		ProblemID:     sub.ProblemID,
		SubmissionID:  sub.ID,
		Score:         sub.Score.Decimal,
		AchievedAt:    sub.SubmittedAt,
	})
	if err != nil {
		log.WithError(err).Error("incremental leaderboard update failed, queueing resync")
		if _, qerr := enqueueJob(ctx, s.queue, model.SyncLeaderboardJob{CompetitionID: sub.CompetitionID}, queue.EnqueueOptions{Rerun: true}); qerr != nil {
			return fmt.Errorf("leaderboard update and resync both failed: %v: %w", qerr, common.ErrInternalServer)
		}
	}

	if err := s.history.Trigger(ctx, sub.CompetitionID, []string{sub.TeamID}); err != nil {
		log.WithError(err).Warn("failed to queue history generation")
	}
	return nil
}
