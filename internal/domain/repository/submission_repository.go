package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"contest_judge/internal/common"
	"contest_judge/internal/domain/model"
)

type SubmissionRepository interface {
	CreateSubmission(ctx context.Context, tx *sql.Tx, sub *model.Submission) error
	GetSubmissionByID(ctx context.Context, tx *sql.Tx, id string) (*model.Submission, error)
	// MarkJudging binds the submission to a node while it is still awaiting a result.
	MarkJudging(ctx context.Context, tx *sql.Tx, id, nodeID string) (bool, error)
	// ApplyJudgeResult stores a judge result and returns the persisted row.
	ApplyJudgeResult(ctx context.Context, tx *sql.Tx, id string, result model.JudgeResult, judgedAt time.Time) (*model.Submission, error)
	// MarkTimedOut sets ERROR only if no result has been recorded yet.
	MarkTimedOut(ctx context.Context, tx *sql.Tx, id, logs string, at time.Time) (bool, error)
	ResetForRequeue(ctx context.Context, tx *sql.Tx, id string) (*model.Submission, error)
	ListScoredByCompetition(ctx context.Context, tx *sql.Tx, competitionID string) ([]model.ScoredSubmission, error)
	ListScoredByTeam(ctx context.Context, tx *sql.Tx, competitionID, teamID string) ([]model.ScoredSubmission, error)
}

type pgSubmissionRepository struct {
	db *sql.DB
}

func NewPgSubmissionRepository(db *sql.DB) SubmissionRepository {
	return &pgSubmissionRepository{db: db}
}

const submissionColumns = `id, competition_id, problem_id, team_id, user_id, blob_locator, status,
	score, logs, evaluate_node_id, submitted_at, judged_at, created_at`

func scanSubmission(row interface{ Scan(...any) error }) (*model.Submission, error) {
	s := &model.Submission{}
	var logs, nodeID sql.NullString
	var judgedAt sql.NullTime
	err := row.Scan(
		&s.ID, &s.CompetitionID, &s.ProblemID, &s.TeamID, &s.UserID, &s.BlobLocator, &s.Status,
		&s.Score, &logs, &nodeID, &s.SubmittedAt, &judgedAt, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if logs.Valid {
		s.Logs = &logs.String
	}
	if nodeID.Valid {
		s.EvaluateNodeID = &nodeID.String
	}
	if judgedAt.Valid {
		s.JudgedAt = &judgedAt.Time
	}
	return s, nil
}

func (r *pgSubmissionRepository) CreateSubmission(ctx context.Context, tx *sql.Tx, sub *model.Submission) error {
	query := `INSERT INTO submissions (id, competition_id, problem_id, team_id, user_id, blob_locator, status, submitted_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          RETURNING created_at`
	err := conn(r.db, tx).QueryRowContext(ctx, query,
		sub.ID, sub.CompetitionID, sub.ProblemID, sub.TeamID, sub.UserID, sub.BlobLocator, sub.Status, sub.SubmittedAt,
	).Scan(&sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("pgSubmissionRepository.CreateSubmission: %w", err)
	}
	return nil
}

func (r *pgSubmissionRepository) GetSubmissionByID(ctx context.Context, tx *sql.Tx, id string) (*model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1`
	s, err := scanSubmission(conn(r.db, tx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("submission %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("pgSubmissionRepository.GetSubmissionByID: %w", err)
	}
	return s, nil
}

func (r *pgSubmissionRepository) MarkJudging(ctx context.Context, tx *sql.Tx, id, nodeID string) (bool, error) {
	query := `UPDATE submissions SET status = 'JUDGING', evaluate_node_id = $2
	          WHERE id = $1 AND status IN ('PENDING', 'JUDGING')`
	res, err := conn(r.db, tx).ExecContext(ctx, query, id, nodeID)
	if err != nil {
		return false, fmt.Errorf("pgSubmissionRepository.MarkJudging: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgSubmissionRepository.MarkJudging: %w", err)
	}
	return n == 1, nil
}

func (r *pgSubmissionRepository) ApplyJudgeResult(ctx context.Context, tx *sql.Tx, id string, result model.JudgeResult, judgedAt time.Time) (*model.Submission, error) {
	query := `UPDATE submissions SET status = $2, score = $3, logs = $4, judged_at = $5
	          WHERE id = $1
	          RETURNING ` + submissionColumns
	s, err := scanSubmission(conn(r.db, tx).QueryRowContext(ctx, query, id, result.Status, result.Score, result.Logs, judgedAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("submission %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("pgSubmissionRepository.ApplyJudgeResult: %w", err)
	}
	return s, nil
}

func (r *pgSubmissionRepository) MarkTimedOut(ctx context.Context, tx *sql.Tx, id, logs string, at time.Time) (bool, error) {
	query := `UPDATE submissions SET status = 'ERROR', logs = $2, judged_at = $3
	          WHERE id = $1 AND status IN ('PENDING', 'JUDGING')`
	res, err := conn(r.db, tx).ExecContext(ctx, query, id, logs, at)
	if err != nil {
		return false, fmt.Errorf("pgSubmissionRepository.MarkTimedOut: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgSubmissionRepository.MarkTimedOut: %w", err)
	}
	return n == 1, nil
}

func (r *pgSubmissionRepository) ResetForRequeue(ctx context.Context, tx *sql.Tx, id string) (*model.Submission, error) {
	query := `UPDATE submissions
	          SET status = 'PENDING', score = NULL, logs = NULL, judged_at = NULL, evaluate_node_id = NULL
	          WHERE id = $1
	          RETURNING ` + submissionColumns
	s, err := scanSubmission(conn(r.db, tx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("submission %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("pgSubmissionRepository.ResetForRequeue: %w", err)
	}
	return s, nil
}

func (r *pgSubmissionRepository) ListScoredByCompetition(ctx context.Context, tx *sql.Tx, competitionID string) ([]model.ScoredSubmission, error) {
	query := `SELECT id, team_id, problem_id, score, submitted_at, created_at
	          FROM submissions
	          WHERE competition_id = $1 AND status = 'COMPLETED' AND score IS NOT NULL
	          ORDER BY submitted_at, created_at, id`
	return r.listScored(ctx, tx, "ListScoredByCompetition", query, competitionID)
}

func (r *pgSubmissionRepository) ListScoredByTeam(ctx context.Context, tx *sql.Tx, competitionID, teamID string) ([]model.ScoredSubmission, error) {
	query := `SELECT id, team_id, problem_id, score, submitted_at, created_at
	          FROM submissions
	          WHERE competition_id = $1 AND team_id = $2 AND status = 'COMPLETED' AND score IS NOT NULL
	          ORDER BY submitted_at, created_at, id`
	return r.listScored(ctx, tx, "ListScoredByTeam", query, competitionID, teamID)
}

func (r *pgSubmissionRepository) listScored(ctx context.Context, tx *sql.Tx, op, query string, args ...any) ([]model.ScoredSubmission, error) {
	rows, err := conn(r.db, tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.%s: %w", op, err)
	}
	defer rows.Close()

	var out []model.ScoredSubmission
	for rows.Next() {
		var s model.ScoredSubmission
		if err := rows.Scan(&s.ID, &s.TeamID, &s.ProblemID, &s.Score, &s.SubmittedAt, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgSubmissionRepository.%s: %w", op, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgSubmissionRepository.%s: %w", op, err)
	}
	return out, nil
}
