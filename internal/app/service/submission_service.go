package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"contest_judge/internal/common"
	"contest_judge/internal/domain/model"
	"contest_judge/internal/domain/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const submissionBucket = "submissions"

// BlobWriter stores submission archives.
type BlobWriter interface {
	Put(ctx context.Context, bucket, key string, data []byte, metadata map[string]string) (string, error)
}

// EvaluationSubmitter queues a stored submission for judging.
type EvaluationSubmitter interface {
	SubmitForEvaluation(ctx context.Context, sub *model.Submission) error
}

type SubmissionService struct {
	submissions  repository.SubmissionRepository
	problems     repository.ProblemRepository
	competitions repository.CompetitionRepository
	blobs        BlobWriter
	evaluations  EvaluationSubmitter
	log          logrus.FieldLogger
	now          func() time.Time
}

func NewSubmissionService(
	submissions repository.SubmissionRepository,
	problems repository.ProblemRepository,
	competitions repository.CompetitionRepository,
	blobs BlobWriter,
	evaluations EvaluationSubmitter,
	log logrus.FieldLogger,
) *SubmissionService {
	return &SubmissionService{
		submissions:  submissions,
		problems:     problems,
		competitions: competitions,
		blobs:        blobs,
		evaluations:  evaluations,
		log:          log,
		now:          time.Now,
	}
}

type CreateSubmissionRequest struct {
	CompetitionID string
	ProblemID     string
	FileName      string
	Archive       []byte
}

// CreateSubmission stores the archive, records a PENDING submission for the
// user's team and queues it for evaluation.
func (s *SubmissionService) CreateSubmission(ctx context.Context, userID string, req CreateSubmissionRequest) (*model.Submission, error) {
	if strings.TrimSpace(req.ProblemID) == "" {
		return nil, fmt.Errorf("problemId is required: %w", common.ErrValidation)
	}
	if len(req.Archive) == 0 {
		return nil, fmt.Errorf("submission archive is empty: %w", common.ErrValidation)
	}

	comp, err := s.competitions.GetCompetition(ctx, nil, req.CompetitionID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if comp.StartTime != nil && now.Before(*comp.StartTime) {
		return nil, fmt.Errorf("competition %s has not started: %w", comp.ID, common.ErrInvalidState)
	}
	if comp.EndTime != nil && now.After(*comp.EndTime) {
		return nil, fmt.Errorf("competition %s has ended: %w", comp.ID, common.ErrInvalidState)
	}

	teamID, err := s.competitions.FindTeamIDForUser(ctx, nil, comp.ID, userID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.ErrNotParticipating
	}
	if err != nil {
		return nil, err
	}
	problem, err := s.problems.FindProblem(ctx, nil, comp.ID, req.ProblemID)
	if err != nil {
		return nil, err
	}

	sub := &model.Submission{
		ID:            uuid.NewString(),
		CompetitionID: comp.ID,
		ProblemID:     problem.ID,
		TeamID:        teamID,
		UserID:        userID,
		Status:        model.StatusPending,
		SubmittedAt:   now.UTC(),
	}
	sub.BlobLocator, err = s.blobs.Put(ctx, submissionBucket, comp.ID+"/"+sub.ID+archiveExt(req.FileName), req.Archive, map[string]string{
		"competition_id": comp.ID,
		"problem_id":     problem.ID,
		"team_id":        teamID,
		"user_id":        userID,
		"filename":       path.Base(req.FileName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store submission archive: %w", err)
	}

	if err := s.submissions.CreateSubmission(ctx, nil, sub); err != nil {
		return nil, err
	}

	log := s.log.WithFields(logrus.Fields{"submission_id": sub.ID, "competition_id": comp.ID, "team_id": teamID})
	if err := s.evaluations.SubmitForEvaluation(ctx, sub); err != nil {
		// The row stays PENDING and can be requeued by an operator.
		log.WithError(err).Error("submission stored but not queued")
		return nil, fmt.Errorf("submission %s was stored but could not be queued: %w", sub.ID, common.ErrServiceUnavailable)
	}
	log.Info("submission accepted")
	return sub, nil
}

func archiveExt(name string) string {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case ".zip", ".tar", ".gz", ".tgz":
		return ext
	default:
		return ".zip"
	}
}
