package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"contest_judge/internal/common"
	"contest_judge/internal/domain/model"
	"contest_judge/internal/domain/repository"
	"contest_judge/internal/platform/queue"

	"github.com/sirupsen/logrus"
)

var ErrNoActiveNode = errors.New("no active evaluate node")

// JudgeRequest is the body POSTed to a judge's /evaluate endpoint.
type JudgeRequest struct {
	SubmissionID  string `json:"submissionId"`
	ProblemID     string `json:"problemId"`
	CompetitionID string `json:"competitionId"`
	FileURL       string `json:"fileUrl"`
	CallbackURL   string `json:"callbackUrl"`
}

// JudgeClient hands a submission to an external judge.
type JudgeClient interface {
	Evaluate(ctx context.Context, node model.EvaluateNode, req JudgeRequest) error
}

// BlobURLs resolves blob locators to URLs a judge can download from.
type BlobURLs interface {
	PublicURL(ctx context.Context, locator string) (string, error)
}

type EvaluationService struct {
	submissions repository.SubmissionRepository
	nodes       repository.EvaluateNodeRepository
	blobs       BlobURLs
	judge       JudgeClient
	queue       JobQueue
	callbackURL string
	timeout     time.Duration
	log         logrus.FieldLogger
	now         func() time.Time
	next        atomic.Uint64
}

func NewEvaluationService(
	submissions repository.SubmissionRepository,
	nodes repository.EvaluateNodeRepository,
	blobs BlobURLs,
	judge JudgeClient,
	q JobQueue,
	callbackURL string,
	timeout time.Duration,
	log logrus.FieldLogger,
) *EvaluationService {
	return &EvaluationService{
		submissions: submissions,
		nodes:       nodes,
		blobs:       blobs,
		judge:       judge,
		queue:       q,
		callbackURL: callbackURL,
		timeout:     timeout,
		log:         log,
		now:         time.Now,
	}
}

// SubmitForEvaluation queues the evaluate job and the timeout watchdog, both
// keyed by submission id.
func (s *EvaluationService) SubmitForEvaluation(ctx context.Context, sub *model.Submission) error {
	log := s.log.WithField("submission_id", sub.ID)

	res, err := enqueueJob(ctx, s.queue, model.EvaluateJob{SubmissionID: sub.ID}, queue.EnqueueOptions{})
	if err != nil {
		return fmt.Errorf("failed to queue evaluation: %w", err)
	}
	log.WithField("result", res.String()).Info("submission queued for evaluation")

	res, err = enqueueJob(ctx, s.queue, model.TimeoutCheckJob{SubmissionID: sub.ID}, queue.EnqueueOptions{Delay: s.timeout})
	if err != nil {
		return fmt.Errorf("failed to queue evaluation watchdog: %w", err)
	}
	log.WithFields(logrus.Fields{"result": res.String(), "timeout": s.timeout}).Debug("evaluation watchdog scheduled")
	return nil
}

// Requeue resets a submission to PENDING and sends it for evaluation again.
func (s *EvaluationService) Requeue(ctx context.Context, submissionID string) (*model.Submission, error) {
	before, err := s.submissions.GetSubmissionByID(ctx, nil, submissionID)
	if err != nil {
		return nil, err
	}
	sub, err := s.submissions.ResetForRequeue(ctx, nil, submissionID)
	if err != nil {
		return nil, err
	}
	if err := s.SubmitForEvaluation(ctx, sub); err != nil {
		return nil, err
	}
	// The cleared score may have been the team's best.
	if before.Status == model.StatusCompleted {
		if _, err := enqueueJob(ctx, s.queue, model.SyncLeaderboardJob{CompetitionID: sub.CompetitionID}, queue.EnqueueOptions{Rerun: true}); err != nil {
			s.log.WithError(err).WithField("competition_id", sub.CompetitionID).Warn("failed to queue leaderboard resync after requeue")
		}
	}
	s.log.WithFields(logrus.Fields{"submission_id": sub.ID, "previous_status": before.Status}).Info("submission requeued")
	return sub, nil
}

// Dispatch sends one submission to a judge. It is the evaluate job handler.
func (s *EvaluationService) Dispatch(ctx context.Context, submissionID string) error {
	log := s.log.WithField("submission_id", submissionID)

	sub, err := s.submissions.GetSubmissionByID(ctx, nil, submissionID)
	if errors.Is(err, common.ErrNotFound) {
		log.Warn("submission disappeared before dispatch")
		return nil
	}
	if err != nil {
		return err
	}
	if sub.Status.IsTerminal() {
		log.WithField("status", sub.Status).Info("submission already judged, skipping dispatch")
		return nil
	}

	nodes, err := s.nodes.ListActive(ctx)
	if err != nil {
		return err
	}
	node, ok := s.pickNode(nodes, sub.EvaluateNodeID)
	if !ok {
		return ErrNoActiveNode
	}

	marked, err := s.submissions.MarkJudging(ctx, nil, sub.ID, node.ID)
	if err != nil {
		return err
	}
	if !marked {
		log.Info("submission finished while dispatching, skipping")
		return nil
	}

	fileURL, err := s.blobs.PublicURL(ctx, sub.BlobLocator)
	if err != nil {
		return fmt.Errorf("failed to resolve submission file: %w", err)
	}
	callbackURL := node.CallbackURL
	if callbackURL == "" {
		callbackURL = s.callbackURL
	}

	err = s.judge.Evaluate(ctx, node, JudgeRequest{
		SubmissionID:  sub.ID,
		ProblemID:     sub.ProblemID,
		CompetitionID: sub.CompetitionID,
		FileURL:       fileURL,
		CallbackURL:   callbackURL,
	})
	if err != nil {
		return fmt.Errorf("judge %s rejected submission: %w", node.ID, err)
	}
	log.WithField("node_id", node.ID).Info("submission sent to judge")
	return nil
}

// pickNode keeps the bound node while it is active and otherwise rotates
// over the active nodes.
func (s *EvaluationService) pickNode(nodes []model.EvaluateNode, boundID *string) (model.EvaluateNode, bool) {
	if len(nodes) == 0 {
		return model.EvaluateNode{}, false
	}
	if boundID != nil {
		for _, n := range nodes {
			if n.ID == *boundID {
				return n, true
			}
		}
	}
	i := s.next.Add(1) - 1
	return nodes[i%uint64(len(nodes))], true
}

// HandleTimeout is the watchdog: a submission still without a result is
// marked ERROR. Leaderboard state is never touched here.
func (s *EvaluationService) HandleTimeout(ctx context.Context, submissionID string) error {
	log := s.log.WithField("submission_id", submissionID)
	msg := fmt.Sprintf("Evaluation timed out after %s", s.timeout)
	changed, err := s.submissions.MarkTimedOut(ctx, nil, submissionID, msg, s.now())
	if err != nil {
		return err
	}
	if changed {
		log.Warn("submission evaluation timed out")
	} else {
		log.Debug("watchdog fired for a finished submission")
	}
	return nil
}
