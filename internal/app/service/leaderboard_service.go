package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"contest_judge/internal/common"
	"contest_judge/internal/domain/model"
	"contest_judge/internal/domain/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// StandingsCache is an optional read-through cache in front of GetStandings.
// Set only stores under the generation Get returned, and Invalidate starts a
// new generation.
type StandingsCache interface {
	Get(ctx context.Context, competitionID string) (standings []model.Standing, generation int64, ok bool, err error)
	Set(ctx context.Context, competitionID string, generation int64, standings []model.Standing) (bool, error)
	Invalidate(ctx context.Context, competitionID string) error
}

// ScoreUpdate is one accepted result, with ids taken from the stored submission.
type ScoreUpdate struct {
	CompetitionID string
	TeamID        string
	ProblemID     string
	SubmissionID  string
	Score         decimal.Decimal
	AchievedAt    time.Time
}

type LeaderboardService struct {
	tx           repository.Transactor
	leaderboards repository.LeaderboardRepository
	submissions  repository.SubmissionRepository
	competitions repository.CompetitionRepository
	cache        StandingsCache
	log          logrus.FieldLogger
}

func NewLeaderboardService(
	tx repository.Transactor,
	leaderboards repository.LeaderboardRepository,
	submissions repository.SubmissionRepository,
	competitions repository.CompetitionRepository,
	cache StandingsCache,
	log logrus.FieldLogger,
) *LeaderboardService {
	return &LeaderboardService{
		tx:           tx,
		leaderboards: leaderboards,
		submissions:  submissions,
		competitions: competitions,
		cache:        cache,
		log:          log,
	}
}

// ApplyScore records u if it beats the team's best for the problem, then
// re-sums the team total and re-ranks the whole leaderboard.
func (s *LeaderboardService) ApplyScore(ctx context.Context, u ScoreUpdate) error {
	log := s.log.WithFields(logrus.Fields{
		"competition_id": u.CompetitionID,
		"team_id":        u.TeamID,
		"problem_id":     u.ProblemID,
		"submission_id":  u.SubmissionID,
	})

	improved := false
	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		improved = false
		lb, err := s.leaderboards.EnsureLeaderboard(ctx, tx, u.CompetitionID)
		if err != nil {
			return err
		}
		entry, err := s.leaderboards.EnsureEntry(ctx, tx, lb.ID, u.TeamID)
		if err != nil {
			return err
		}

		existing, err := s.leaderboards.GetProblemScore(ctx, tx, entry.ID, u.ProblemID)
		switch {
		case errors.Is(err, common.ErrNotFound):
			improved = true
			err = s.leaderboards.InsertProblemScore(ctx, tx, &model.ProblemScore{
				EntryID:      entry.ID,
				ProblemID:    u.ProblemID,
				Score:        u.Score,
				SubmissionID: u.SubmissionID,
				AchievedAt:   u.AchievedAt,
			})
		case err != nil:
			return err
		case u.Score.GreaterThan(existing.Score):
			improved = true
			existing.Score = u.Score
			existing.SubmissionID = u.SubmissionID
			existing.AchievedAt = u.AchievedAt
			err = s.leaderboards.UpdateProblemScore(ctx, tx, existing)
		}
		if err != nil {
			return err
		}

		scores, err := s.leaderboards.ListProblemScores(ctx, tx, entry.ID)
		if err != nil {
			return err
		}
		if err := s.leaderboards.UpdateEntryTotal(ctx, tx, entry.ID, SumScores(scores)); err != nil {
			return err
		}
		return s.rerank(ctx, tx, lb.ID)
	})
	if err != nil {
		return fmt.Errorf("apply score for submission %s: %w", u.SubmissionID, err)
	}

	log.WithField("improved", improved).Debug("leaderboard updated")
	s.invalidate(ctx, u.CompetitionID)
	return nil
}

func (s *LeaderboardService) rerank(ctx context.Context, tx *sql.Tx, leaderboardID string) error {
	entries, err := s.leaderboards.ListEntries(ctx, tx, leaderboardID)
	if err != nil {
		return err
	}
	current := make(map[int64]int, len(entries))
	for _, e := range entries {
		current[e.ID] = e.Rank
	}
	for _, e := range AssignRanks(entries) {
		if current[e.ID] == e.Rank {
			continue
		}
		if err := s.leaderboards.UpdateEntryRank(ctx, tx, e.ID, e.Rank); err != nil {
			return err
		}
	}
	return nil
}

// ResyncCompetition rebuilds every entry and problem score of the
// competition from its completed submissions.
func (s *LeaderboardService) ResyncCompetition(ctx context.Context, competitionID string) error {
	var teams int
	err := s.tx.WithinTx(ctx, func(tx *sql.Tx) error {
		lb, err := s.leaderboards.EnsureLeaderboard(ctx, tx, competitionID)
		if err != nil {
			return err
		}
		subs, err := s.submissions.ListScoredByCompetition(ctx, tx, competitionID)
		if err != nil {
			return err
		}
		standings := AggregateStandings(subs)
		teams = len(standings)

		if err := s.leaderboards.DeleteEntries(ctx, tx, lb.ID); err != nil {
			return err
		}
		// Insertion order is rank order, so entry ids agree with AssignRanks.
		for i, st := range standings {
			entryID, err := s.leaderboards.InsertEntry(ctx, tx, lb.ID, st.TeamID, st.TotalScore, i+1)
			if err != nil {
				return err
			}
			for _, ps := range st.Problems {
				ps.EntryID = entryID
				if err := s.leaderboards.InsertProblemScore(ctx, tx, &ps); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("resync leaderboard %s: %w", competitionID, err)
	}

	s.log.WithFields(logrus.Fields{"competition_id": competitionID, "teams": teams}).Info("leaderboard resynced")
	s.invalidate(ctx, competitionID)
	return nil
}

// GetStandings returns the ranked leaderboard, through the cache when present.
func (s *LeaderboardService) GetStandings(ctx context.Context, competitionID string) ([]model.Standing, error) {
	log := s.log.WithField("competition_id", competitionID)
	fill := false
	var generation int64
	if s.cache != nil {
		standings, gen, ok, err := s.cache.Get(ctx, competitionID)
		switch {
		case err != nil:
			log.WithError(err).Warn("leaderboard cache read failed")
		case ok:
			return standings, nil
		default:
			fill, generation = true, gen
		}
	}

	if _, err := s.competitions.GetCompetition(ctx, nil, competitionID); err != nil {
		return nil, err
	}
	teams, err := s.competitions.ListTeams(ctx, nil, competitionID)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(teams))
	for _, t := range teams {
		names[t.ID] = t.Name
	}

	standings := []model.Standing{}
	lb, err := s.leaderboards.FindLeaderboard(ctx, nil, competitionID)
	switch {
	case errors.Is(err, common.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		entries, err := s.leaderboards.ListEntries(ctx, nil, lb.ID)
		if err != nil {
			return nil, err
		}
		scores, err := s.leaderboards.ListProblemScoresByLeaderboard(ctx, nil, lb.ID)
		if err != nil {
			return nil, err
		}
		standings = BuildStandings(entries, scores, names)
	}

	if fill {
		stored, err := s.cache.Set(ctx, competitionID, generation, standings)
		if err != nil {
			log.WithError(err).Warn("leaderboard cache write failed")
		} else if !stored {
			log.Debug("leaderboard changed during read, not cached")
		}
	}
	return standings, nil
}

func (s *LeaderboardService) invalidate(ctx context.Context, competitionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(context.WithoutCancel(ctx), competitionID); err != nil {
		s.log.WithError(err).WithField("competition_id", competitionID).Warn("leaderboard cache invalidation failed")
	}
}

// SumScores re-sums a team's problem scores exactly.
func SumScores(scores []model.ProblemScore) decimal.Decimal {
	total := decimal.Zero
	for _, ps := range scores {
		total = total.Add(ps.Score)
	}
	return total
}

// AssignRanks orders entries by total descending then entry id and numbers
// them 1..N. The input slice is not modified.
func AssignRanks(entries []model.LeaderboardEntry) []model.LeaderboardEntry {
	ranked := make([]model.LeaderboardEntry, len(entries))
	copy(ranked, entries)
	sort.SliceStable(ranked, func(i, j int) bool {
		if c := ranked[i].TotalScore.Cmp(ranked[j].TotalScore); c != 0 {
			return c > 0
		}
		return ranked[i].ID < ranked[j].ID
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

// AggregateStandings finds each team's best score per problem (earliest
// submission wins a tie) and orders teams by total descending then team id.
func AggregateStandings(subs []model.ScoredSubmission) []model.TeamStanding {
	type key struct{ team, problem string }
	best := make(map[key]model.ScoredSubmission)
	for _, sub := range subs {
		k := key{sub.TeamID, sub.ProblemID}
		cur, ok := best[k]
		if !ok || beats(sub, cur) {
			best[k] = sub
		}
	}

	byTeam := make(map[string]*model.TeamStanding)
	for k, sub := range best {
		st, ok := byTeam[k.team]
		if !ok {
			st = &model.TeamStanding{TeamID: k.team, TotalScore: decimal.Zero}
			byTeam[k.team] = st
		}
		st.Problems = append(st.Problems, model.ProblemScore{
			ProblemID:    sub.ProblemID,
			Score:        sub.Score,
			SubmissionID: sub.ID,
			AchievedAt:   sub.SubmittedAt,
		})
		st.TotalScore = st.TotalScore.Add(sub.Score)
	}

	out := make([]model.TeamStanding, 0, len(byTeam))
	for _, st := range byTeam {
		sort.Slice(st.Problems, func(i, j int) bool { return st.Problems[i].ProblemID < st.Problems[j].ProblemID })
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].TotalScore.Cmp(out[j].TotalScore); c != 0 {
			return c > 0
		}
		return out[i].TeamID < out[j].TeamID
	})
	return out
}

func beats(a, b model.ScoredSubmission) bool {
	if c := a.Score.Cmp(b.Score); c != 0 {
		return c > 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// BuildStandings joins entries with their problem scores and team names in rank order.
func BuildStandings(entries []model.LeaderboardEntry, scores []model.ProblemScore, teamNames map[string]string) []model.Standing {
	byEntry := make(map[int64][]model.ProblemStanding, len(entries))
	for _, ps := range scores {
		byEntry[ps.EntryID] = append(byEntry[ps.EntryID], model.ProblemStanding{
			ProblemID:    ps.ProblemID,
			Score:        ps.Score,
			SubmissionID: ps.SubmissionID,
			AchievedAt:   ps.AchievedAt,
		})
	}

	sorted := make([]model.LeaderboardEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Rank != sorted[j].Rank {
			return sorted[i].Rank < sorted[j].Rank
		}
		return sorted[i].ID < sorted[j].ID
	})

	standings := make([]model.Standing, 0, len(sorted))
	for _, e := range sorted {
		problems := byEntry[e.ID]
		if problems == nil {
			problems = []model.ProblemStanding{}
		}
		standings = append(standings, model.Standing{
			Rank:       e.Rank,
			TeamID:     e.TeamID,
			TeamName:   teamNames[e.TeamID],
			TotalScore: e.TotalScore,
			Problems:   problems,
		})
	}
	return standings
}
