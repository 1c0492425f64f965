package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sort"
	"time"

	"contest_judge/internal/domain/model"
	"contest_judge/internal/domain/repository"
	"contest_judge/internal/platform/queue"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type HistoryService struct {
	tx           repository.Transactor
	history      repository.HistoryRepository
	submissions  repository.SubmissionRepository
	competitions repository.CompetitionRepository
	queue        JobQueue
	sampleGap    time.Duration
	debounce     time.Duration
	log          logrus.FieldLogger
}

func NewHistoryService(
	tx repository.Transactor,
	history repository.HistoryRepository,
	submissions repository.SubmissionRepository,
	competitions repository.CompetitionRepository,
	q JobQueue,
	sampleGap, debounce time.Duration,
	log logrus.FieldLogger,
) *HistoryService {
	return &HistoryService{
		tx:           tx,
		history:      history,
		submissions:  submissions,
		competitions: competitions,
		queue:        q,
		sampleGap:    sampleGap,
		debounce:     debounce,
		log:          log,
	}
}

// ComputeTeamHistory walks one team's scored submissions in submission order
// and yields the cumulative total whenever a problem best improves, on the
// first submission, and when more than gap passed since the last point.
func ComputeTeamHistory(subs []model.ScoredSubmission, gap time.Duration) iter.Seq[model.HistoryPoint] {
	return func(yield func(model.HistoryPoint) bool) {
		best := make(map[string]decimal.Decimal)
		total := decimal.Zero
		var last time.Time
		for i, sub := range subs {
			improved := false
			if cur, ok := best[sub.ProblemID]; !ok || sub.Score.GreaterThan(cur) {
				if ok {
					total = total.Sub(cur)
				}
				best[sub.ProblemID] = sub.Score
				total = total.Add(sub.Score)
				improved = true
			}
			if i == 0 || improved || sub.SubmittedAt.Sub(last) > gap {
				last = sub.SubmittedAt
				if !yield(model.HistoryPoint{Timestamp: sub.SubmittedAt, Score: total}) {
					return
				}
			}
		}
	}
}

// Trigger schedules a debounced regeneration for the given teams. While a
// run is still pending its team list is widened instead of queueing another.
// While a run is in progress a follow-up run covering its teams and the new
// ones is queued behind it. No team ids means every team.
func (s *HistoryService) Trigger(ctx context.Context, competitionID string, teamIDs []string) error {
	job := model.GenerateHistoryJob{CompetitionID: competitionID, TeamIDs: teamIDs}

	pending, err := s.queue.Get(ctx, job.Lane(), job.JobID())
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
	case err != nil:
		return err
	case pending.State == queue.StateWaiting || pending.State == queue.StateDelayed:
		job.TeamIDs = mergeTeamIDs(decodeTeamIDs(pending.Payload), teamIDs)
	case pending.State == queue.StateActive:
		// The follow-up supersedes the active run if that run fails.
		job.TeamIDs = mergeTeamIDs(decodeTeamIDs(pending.Payload), teamIDs)
		if len(pending.NextPayload) > 0 {
			job.TeamIDs = mergeTeamIDs(decodeTeamIDs(pending.NextPayload), job.TeamIDs)
		}
	}

	res, err := enqueueJob(ctx, s.queue, job, queue.EnqueueOptions{Delay: s.debounce, Replace: true})
	if err != nil {
		return fmt.Errorf("failed to queue history generation: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"competition_id": competitionID,
		"teams":          len(job.TeamIDs),
		"result":         res.String(),
	}).Debug("history generation requested")
	return nil
}

// decodeTeamIDs reads the team list of a queued payload. An unreadable
// payload counts as every team.
func decodeTeamIDs(raw []byte) []string {
	var job model.GenerateHistoryJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil
	}
	return job.TeamIDs
}

// mergeTeamIDs unions two team lists where an empty list stands for all teams.
func mergeTeamIDs(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	merged := slices.Concat(a, b)
	slices.Sort(merged)
	return slices.Compact(merged)
}

// Regenerate rebuilds the stored series of the given teams, or every team
// of the competition when teamIDs is empty.
func (s *HistoryService) Regenerate(ctx context.Context, competitionID string, teamIDs []string) error {
	if len(teamIDs) == 0 {
		teams, err := s.competitions.ListTeams(ctx, nil, competitionID)
		if err != nil {
			return err
		}
		for _, t := range teams {
			teamIDs = append(teamIDs, t.ID)
		}
	}

	for _, teamID := range teamIDs {
		subs, err := s.submissions.ListScoredByTeam(ctx, nil, competitionID, teamID)
		if err != nil {
			return err
		}
		points := slices.Collect(ComputeTeamHistory(subs, s.sampleGap))
		err = s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
			return s.history.ReplaceTeamHistory(ctx, tx, competitionID, teamID, points)
		})
		if err != nil {
			return fmt.Errorf("regenerate history for team %s: %w", teamID, err)
		}
	}

	s.log.WithFields(logrus.Fields{"competition_id": competitionID, "teams": len(teamIDs)}).Info("leaderboard history regenerated")
	return nil
}

// GetHistory returns stored series. When nothing is stored yet it queues a
// full generation and answers with series computed from the submissions.
func (s *HistoryService) GetHistory(ctx context.Context, competitionID string) ([]model.TeamHistory, error) {
	if _, err := s.competitions.GetCompetition(ctx, nil, competitionID); err != nil {
		return nil, err
	}
	stored, err := s.history.ListByCompetition(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	if len(stored) > 0 {
		return stored, nil
	}

	if err := s.Trigger(ctx, competitionID, nil); err != nil {
		s.log.WithError(err).WithField("competition_id", competitionID).Warn("failed to queue history generation")
	}

	subs, err := s.submissions.ListScoredByCompetition(ctx, nil, competitionID)
	if err != nil {
		return nil, err
	}
	byTeam := make(map[string][]model.ScoredSubmission)
	for _, sub := range subs {
		byTeam[sub.TeamID] = append(byTeam[sub.TeamID], sub)
	}
	out := make([]model.TeamHistory, 0, len(byTeam))
	for teamID, teamSubs := range byTeam {
		out = append(out, model.TeamHistory{
			TeamID: teamID,
			Points: slices.Collect(ComputeTeamHistory(teamSubs, s.sampleGap)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TeamID < out[j].TeamID })
	return out, nil
}
