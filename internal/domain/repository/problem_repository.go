package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"contest_judge/internal/common"
	"contest_judge/internal/domain/model"
)

type ProblemRepository interface {
	// FindProblem returns the problem only if it belongs to the competition.
	FindProblem(ctx context.Context, tx *sql.Tx, competitionID, problemID string) (*model.Problem, error)
	ListProblems(ctx context.Context, tx *sql.Tx, competitionID string) ([]model.Problem, error)
}

type pgProblemRepository struct {
	db *sql.DB
}

func NewPgProblemRepository(db *sql.DB) ProblemRepository {
	return &pgProblemRepository{db: db}
}

func (r *pgProblemRepository) FindProblem(ctx context.Context, tx *sql.Tx, competitionID, problemID string) (*model.Problem, error) {
	query := `SELECT id, competition_id, title FROM problems WHERE id = $1 AND competition_id = $2`
	p := &model.Problem{}
	err := conn(r.db, tx).QueryRowContext(ctx, query, problemID, competitionID).Scan(&p.ID, &p.CompetitionID, &p.Title)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("problem %s in competition %s: %w", problemID, competitionID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("pgProblemRepository.FindProblem: %w", err)
	}
	return p, nil
}

func (r *pgProblemRepository) ListProblems(ctx context.Context, tx *sql.Tx, competitionID string) ([]model.Problem, error) {
	query := `SELECT id, competition_id, title FROM problems WHERE competition_id = $1 ORDER BY id`
	rows, err := conn(r.db, tx).QueryContext(ctx, query, competitionID)
	if err != nil {
		return nil, fmt.Errorf("pgProblemRepository.ListProblems: %w", err)
	}
	defer rows.Close()

	problems := []model.Problem{}
	for rows.Next() {
		var p model.Problem
		if err := rows.Scan(&p.ID, &p.CompetitionID, &p.Title); err != nil {
			return nil, fmt.Errorf("pgProblemRepository.ListProblems: %w", err)
		}
		problems = append(problems, p)
	}
	return problems, rows.Err()
}
