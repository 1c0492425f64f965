package repository

import (
	"context"
	"database/sql"
	"fmt"

	"contest_judge/internal/domain/model"

	"github.com/google/uuid"
)

type HistoryRepository interface {
	// ReplaceTeamHistory deletes the team's series and writes points in its place.
	ReplaceTeamHistory(ctx context.Context, tx *sql.Tx, competitionID, teamID string, points []model.HistoryPoint) error
	ListByCompetition(ctx context.Context, competitionID string) ([]model.TeamHistory, error)
}

type pgHistoryRepository struct {
	db *sql.DB
}

func NewPgHistoryRepository(db *sql.DB) HistoryRepository {
	return &pgHistoryRepository{db: db}
}

func (r *pgHistoryRepository) ReplaceTeamHistory(ctx context.Context, tx *sql.Tx, competitionID, teamID string, points []model.HistoryPoint) error {
	c := conn(r.db, tx)
	if _, err := c.ExecContext(ctx, `DELETE FROM leaderboard_history WHERE competition_id = $1 AND team_id = $2`, competitionID, teamID); err != nil {
		return fmt.Errorf("pgHistoryRepository.ReplaceTeamHistory: %w", err)
	}
	query := `INSERT INTO leaderboard_history (id, competition_id, team_id, score, recorded_at) VALUES ($1, $2, $3, $4, $5)`
	for _, p := range points {
		if _, err := c.ExecContext(ctx, query, uuid.NewString(), competitionID, teamID, p.Score, p.Timestamp); err != nil {
			return fmt.Errorf("pgHistoryRepository.ReplaceTeamHistory: %w", err)
		}
	}
	return nil
}

func (r *pgHistoryRepository) ListByCompetition(ctx context.Context, competitionID string) ([]model.TeamHistory, error) {
	query := `SELECT team_id, score, recorded_at FROM leaderboard_history
	          WHERE competition_id = $1 ORDER BY team_id, recorded_at`
	rows, err := r.db.QueryContext(ctx, query, competitionID)
	if err != nil {
		return nil, fmt.Errorf("pgHistoryRepository.ListByCompetition: %w", err)
	}
	defer rows.Close()

	var out []model.TeamHistory
	for rows.Next() {
		var teamID string
		var p model.HistoryPoint
		if err := rows.Scan(&teamID, &p.Score, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("pgHistoryRepository.ListByCompetition: %w", err)
		}
		if n := len(out); n == 0 || out[n-1].TeamID != teamID {
			out = append(out, model.TeamHistory{TeamID: teamID})
		}
		last := &out[len(out)-1]
		last.Points = append(last.Points, p)
	}
	return out, rows.Err()
}
