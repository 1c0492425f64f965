package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"contest_judge/internal/common"
	"contest_judge/internal/domain/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LeaderboardRepository interface {
	// EnsureLeaderboard creates the competition's leaderboard if needed and
	// holds its row lock until tx ends.
	EnsureLeaderboard(ctx context.Context, tx *sql.Tx, competitionID string) (*model.Leaderboard, error)
	FindLeaderboard(ctx context.Context, tx *sql.Tx, competitionID string) (*model.Leaderboard, error)
	EnsureEntry(ctx context.Context, tx *sql.Tx, leaderboardID, teamID string) (*model.LeaderboardEntry, error)
	ListEntries(ctx context.Context, tx *sql.Tx, leaderboardID string) ([]model.LeaderboardEntry, error)
	InsertEntry(ctx context.Context, tx *sql.Tx, leaderboardID, teamID string, total decimal.Decimal, rank int) (int64, error)
	UpdateEntryTotal(ctx context.Context, tx *sql.Tx, entryID int64, total decimal.Decimal) error
	UpdateEntryRank(ctx context.Context, tx *sql.Tx, entryID int64, rank int) error
	DeleteEntries(ctx context.Context, tx *sql.Tx, leaderboardID string) error

	GetProblemScore(ctx context.Context, tx *sql.Tx, entryID int64, problemID string) (*model.ProblemScore, error)
	InsertProblemScore(ctx context.Context, tx *sql.Tx, ps *model.ProblemScore) error
	UpdateProblemScore(ctx context.Context, tx *sql.Tx, ps *model.ProblemScore) error
	ListProblemScores(ctx context.Context, tx *sql.Tx, entryID int64) ([]model.ProblemScore, error)
	ListProblemScoresByLeaderboard(ctx context.Context, tx *sql.Tx, leaderboardID string) ([]model.ProblemScore, error)
}

type pgLeaderboardRepository struct {
	db *sql.DB
}

func NewPgLeaderboardRepository(db *sql.DB) LeaderboardRepository {
	return &pgLeaderboardRepository{db: db}
}

func (r *pgLeaderboardRepository) EnsureLeaderboard(ctx context.Context, tx *sql.Tx, competitionID string) (*model.Leaderboard, error) {
	// DO UPDATE (not DO NOTHING) so the existing row is returned and locked.
	query := `INSERT INTO leaderboards (id, competition_id) VALUES ($1, $2)
	          ON CONFLICT (competition_id) DO UPDATE SET updated_at = now()
	          RETURNING id, competition_id, updated_at`
	lb := &model.Leaderboard{}
	err := conn(r.db, tx).QueryRowContext(ctx, query, uuid.NewString(), competitionID).Scan(&lb.ID, &lb.CompetitionID, &lb.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("pgLeaderboardRepository.EnsureLeaderboard: %w", err)
	}
	return lb, nil
}

func (r *pgLeaderboardRepository) FindLeaderboard(ctx context.Context, tx *sql.Tx, competitionID string) (*model.Leaderboard, error) {
	query := `SELECT id, competition_id, updated_at FROM leaderboards WHERE competition_id = $1`
	lb := &model.Leaderboard{}
	err := conn(r.db, tx).QueryRowContext(ctx, query, competitionID).Scan(&lb.ID, &lb.CompetitionID, &lb.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("leaderboard for %s: %w", competitionID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("pgLeaderboardRepository.FindLeaderboard: %w", err)
	}
	return lb, nil
}

func (r *pgLeaderboardRepository) EnsureEntry(ctx context.Context, tx *sql.Tx, leaderboardID, teamID string) (*model.LeaderboardEntry, error) {
	query := `INSERT INTO leaderboard_entries (leaderboard_id, team_id) VALUES ($1, $2)
	          ON CONFLICT (leaderboard_id, team_id) DO UPDATE SET updated_at = leaderboard_entries.updated_at
	          RETURNING id, leaderboard_id, team_id, total_score, rank`
	e := &model.LeaderboardEntry{}
	err := conn(r.db, tx).QueryRowContext(ctx, query, leaderboardID, teamID).Scan(&e.ID, &e.LeaderboardID, &e.TeamID, &e.TotalScore, &e.Rank)
	if err != nil {
		return nil, fmt.Errorf("pgLeaderboardRepository.EnsureEntry: %w", err)
	}
	return e, nil
}

func (r *pgLeaderboardRepository) ListEntries(ctx context.Context, tx *sql.Tx, leaderboardID string) ([]model.LeaderboardEntry, error) {
	query := `SELECT id, leaderboard_id, team_id, total_score, rank
	          FROM leaderboard_entries WHERE leaderboard_id = $1 ORDER BY id`
	rows, err := conn(r.db, tx).QueryContext(ctx, query, leaderboardID)
	if err != nil {
		return nil, fmt.Errorf("pgLeaderboardRepository.ListEntries: %w", err)
	}
	defer rows.Close()

	var entries []model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.ID, &e.LeaderboardID, &e.TeamID, &e.TotalScore, &e.Rank); err != nil {
			return nil, fmt.Errorf("pgLeaderboardRepository.ListEntries: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *pgLeaderboardRepository) InsertEntry(ctx context.Context, tx *sql.Tx, leaderboardID, teamID string, total decimal.Decimal, rank int) (int64, error) {
	query := `INSERT INTO leaderboard_entries (leaderboard_id, team_id, total_score, rank)
	          VALUES ($1, $2, $3, $4) RETURNING id`
	var id int64
	if err := conn(r.db, tx).QueryRowContext(ctx, query, leaderboardID, teamID, total, rank).Scan(&id); err != nil {
		return 0, fmt.Errorf("pgLeaderboardRepository.InsertEntry: %w", err)
	}
	return id, nil
}

func (r *pgLeaderboardRepository) UpdateEntryTotal(ctx context.Context, tx *sql.Tx, entryID int64, total decimal.Decimal) error {
	query := `UPDATE leaderboard_entries SET total_score = $2, updated_at = now() WHERE id = $1`
	if _, err := conn(r.db, tx).ExecContext(ctx, query, entryID, total); err != nil {
		return fmt.Errorf("pgLeaderboardRepository.UpdateEntryTotal: %w", err)
	}
	return nil
}

func (r *pgLeaderboardRepository) UpdateEntryRank(ctx context.Context, tx *sql.Tx, entryID int64, rank int) error {
	query := `UPDATE leaderboard_entries SET rank = $2 WHERE id = $1`
	if _, err := conn(r.db, tx).ExecContext(ctx, query, entryID, rank); err != nil {
		return fmt.Errorf("pgLeaderboardRepository.UpdateEntryRank: %w", err)
	}
	return nil
}

func (r *pgLeaderboardRepository) DeleteEntries(ctx context.Context, tx *sql.Tx, leaderboardID string) error {
	// problem_scores go with their entries via ON DELETE CASCADE.
	query := `DELETE FROM leaderboard_entries WHERE leaderboard_id = $1`
	if _, err := conn(r.db, tx).ExecContext(ctx, query, leaderboardID); err != nil {
		return fmt.Errorf("pgLeaderboardRepository.DeleteEntries: %w", err)
	}
	return nil
}

const problemScoreColumns = `id, entry_id, problem_id, score, submission_id, achieved_at`

func (r *pgLeaderboardRepository) GetProblemScore(ctx context.Context, tx *sql.Tx, entryID int64, problemID string) (*model.ProblemScore, error) {
	query := `SELECT ` + problemScoreColumns + ` FROM problem_scores WHERE entry_id = $1 AND problem_id = $2`
	ps := &model.ProblemScore{}
	err := conn(r.db, tx).QueryRowContext(ctx, query, entryID, problemID).Scan(
		&ps.ID, &ps.EntryID, &ps.ProblemID, &ps.Score, &ps.SubmissionID, &ps.AchievedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("problem score: %w", common.ErrNotFound)
		}
		return nil, fmt.Errorf("pgLeaderboardRepository.GetProblemScore: %w", err)
	}
	return ps, nil
}

func (r *pgLeaderboardRepository) InsertProblemScore(ctx context.Context, tx *sql.Tx, ps *model.ProblemScore) error {
	if ps.ID == "" {
		ps.ID = uuid.NewString()
	}
	query := `INSERT INTO problem_scores (` + problemScoreColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := conn(r.db, tx).ExecContext(ctx, query, ps.ID, ps.EntryID, ps.ProblemID, ps.Score, ps.SubmissionID, ps.AchievedAt)
	if err != nil {
		return fmt.Errorf("pgLeaderboardRepository.InsertProblemScore: %w", err)
	}
	return nil
}

func (r *pgLeaderboardRepository) UpdateProblemScore(ctx context.Context, tx *sql.Tx, ps *model.ProblemScore) error {
	query := `UPDATE problem_scores SET score = $2, submission_id = $3, achieved_at = $4 WHERE id = $1`
	if _, err := conn(r.db, tx).ExecContext(ctx, query, ps.ID, ps.Score, ps.SubmissionID, ps.AchievedAt); err != nil {
		return fmt.Errorf("pgLeaderboardRepository.UpdateProblemScore: %w", err)
	}
	return nil
}

func (r *pgLeaderboardRepository) ListProblemScores(ctx context.Context, tx *sql.Tx, entryID int64) ([]model.ProblemScore, error) {
	query := `SELECT ` + problemScoreColumns + ` FROM problem_scores WHERE entry_id = $1 ORDER BY problem_id`
	return r.listProblemScores(ctx, tx, "ListProblemScores", query, entryID)
}

func (r *pgLeaderboardRepository) ListProblemScoresByLeaderboard(ctx context.Context, tx *sql.Tx, leaderboardID string) ([]model.ProblemScore, error) {
	query := `SELECT ps.id, ps.entry_id, ps.problem_id, ps.score, ps.submission_id, ps.achieved_at
	          FROM problem_scores ps
	          JOIN leaderboard_entries e ON e.id = ps.entry_id
	          WHERE e.leaderboard_id = $1
	          ORDER BY ps.entry_id, ps.problem_id`
	return r.listProblemScores(ctx, tx, "ListProblemScoresByLeaderboard", query, leaderboardID)
}

func (r *pgLeaderboardRepository) listProblemScores(ctx context.Context, tx *sql.Tx, op, query string, arg any) ([]model.ProblemScore, error) {
	rows, err := conn(r.db, tx).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("pgLeaderboardRepository.%s: %w", op, err)
	}
	defer rows.Close()

	var scores []model.ProblemScore
	for rows.Next() {
		var ps model.ProblemScore
		if err := rows.Scan(&ps.ID, &ps.EntryID, &ps.ProblemID, &ps.Score, &ps.SubmissionID, &ps.AchievedAt); err != nil {
			return nil, fmt.Errorf("pgLeaderboardRepository.%s: %w", op, err)
		}
		scores = append(scores, ps)
	}
	return scores, rows.Err()
}
