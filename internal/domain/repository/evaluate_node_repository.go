package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"contest_judge/internal/common"
	"contest_judge/internal/domain/model"
)

type EvaluateNodeRepository interface {
	ListActive(ctx context.Context) ([]model.EvaluateNode, error)
	GetByID(ctx context.Context, id string) (*model.EvaluateNode, error)
}

type pgEvaluateNodeRepository struct {
	db *sql.DB
}

func NewPgEvaluateNodeRepository(db *sql.DB) EvaluateNodeRepository {
	return &pgEvaluateNodeRepository{db: db}
}

func (r *pgEvaluateNodeRepository) ListActive(ctx context.Context) ([]model.EvaluateNode, error) {
	query := `SELECT id, name, base_url, shared_secret, callback_url, active, created_at
	          FROM evaluate_nodes WHERE active ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pgEvaluateNodeRepository.ListActive: %w", err)
	}
	defer rows.Close()

	var nodes []model.EvaluateNode
	for rows.Next() {
		var n model.EvaluateNode
		if err := rows.Scan(&n.ID, &n.Name, &n.BaseURL, &n.SharedSecret, &n.CallbackURL, &n.Active, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgEvaluateNodeRepository.ListActive: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (r *pgEvaluateNodeRepository) GetByID(ctx context.Context, id string) (*model.EvaluateNode, error) {
	query := `SELECT id, name, base_url, shared_secret, callback_url, active, created_at
	          FROM evaluate_nodes WHERE id = $1`
	n := &model.EvaluateNode{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&n.ID, &n.Name, &n.BaseURL, &n.SharedSecret, &n.CallbackURL, &n.Active, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("evaluate node %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("pgEvaluateNodeRepository.GetByID: %w", err)
	}
	return n, nil
}
