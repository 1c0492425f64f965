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

type CompetitionRepository interface {
	GetCompetition(ctx context.Context, tx *sql.Tx, id string) (*model.Competition, error)
	// ListActiveCompetitionIDs returns competitions still running or ended after since.
	ListActiveCompetitionIDs(ctx context.Context, since time.Time) ([]string, error)
	ListTeams(ctx context.Context, tx *sql.Tx, competitionID string) ([]model.Team, error)
	FindTeamIDForUser(ctx context.Context, tx *sql.Tx, competitionID, userID string) (string, error)
}

type pgCompetitionRepository struct {
	db *sql.DB
}

func NewPgCompetitionRepository(db *sql.DB) CompetitionRepository {
	return &pgCompetitionRepository{db: db}
}

func (r *pgCompetitionRepository) GetCompetition(ctx context.Context, tx *sql.Tx, id string) (*model.Competition, error) {
	query := `SELECT id, title, start_time, end_time, cdk_enabled, cdk_claim_mode, cdk_limit_per_unit, created_at
	          FROM competitions WHERE id = $1`
	c := &model.Competition{}
	var start, end sql.NullTime
	err := conn(r.db, tx).QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Title, &start, &end, &c.Cdk.Enabled, &c.Cdk.ClaimMode, &c.Cdk.LimitPerUnit, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("competition %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("pgCompetitionRepository.GetCompetition: %w", err)
	}
	if start.Valid {
		c.StartTime = &start.Time
	}
	if end.Valid {
		c.EndTime = &end.Time
	}
	return c, nil
}

func (r *pgCompetitionRepository) ListActiveCompetitionIDs(ctx context.Context, since time.Time) ([]string, error) {
	query := `SELECT id FROM competitions WHERE end_time IS NULL OR end_time >= $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("pgCompetitionRepository.ListActiveCompetitionIDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgCompetitionRepository.ListActiveCompetitionIDs: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *pgCompetitionRepository) ListTeams(ctx context.Context, tx *sql.Tx, competitionID string) ([]model.Team, error) {
	query := `SELECT id, competition_id, name FROM teams WHERE competition_id = $1 ORDER BY id`
	rows, err := conn(r.db, tx).QueryContext(ctx, query, competitionID)
	if err != nil {
		return nil, fmt.Errorf("pgCompetitionRepository.ListTeams: %w", err)
	}
	defer rows.Close()

	var teams []model.Team
	for rows.Next() {
		var t model.Team
		if err := rows.Scan(&t.ID, &t.CompetitionID, &t.Name); err != nil {
			return nil, fmt.Errorf("pgCompetitionRepository.ListTeams: %w", err)
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

func (r *pgCompetitionRepository) FindTeamIDForUser(ctx context.Context, tx *sql.Tx, competitionID, userID string) (string, error) {
	query := `SELECT team_id FROM team_members WHERE competition_id = $1 AND user_id = $2`
	var teamID string
	err := conn(r.db, tx).QueryRowContext(ctx, query, competitionID, userID).Scan(&teamID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("team for user %s: %w", userID, common.ErrNotFound)
		}
		return "", fmt.Errorf("pgCompetitionRepository.FindTeamIDForUser: %w", err)
	}
	return teamID, nil
}
