package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"contest_judge/internal/common"
	"contest_judge/internal/domain/model"

	"github.com/google/uuid"
)

type CdkRepository interface {
	// LockClaimUnit takes a transaction-scoped advisory lock for one claim unit.
	LockClaimUnit(ctx context.Context, tx *sql.Tx, competitionID string, unit model.ClaimUnit) error
	CountClaimed(ctx context.Context, tx *sql.Tx, competitionID string, unit model.ClaimUnit) (int, error)
	CountAvailable(ctx context.Context, tx *sql.Tx, competitionID string) (int, error)
	// LockOldestAvailable row-locks the oldest AVAILABLE code not locked by
	// another transaction. ErrNotFound when there is none.
	LockOldestAvailable(ctx context.Context, tx *sql.Tx, competitionID string) (*model.CompetitionCdk, error)
	MarkClaimed(ctx context.Context, tx *sql.Tx, cdkID string, unit model.ClaimUnit, userID string, at time.Time) (bool, error)
	InsertCodes(ctx context.Context, tx *sql.Tx, competitionID string, codes []string) (int, error)
	Void(ctx context.Context, tx *sql.Tx, competitionID, cdkID string) (bool, error)
	ListClaimedByUnit(ctx context.Context, competitionID string, unit model.ClaimUnit) ([]model.CompetitionCdk, error)
}

type pgCdkRepository struct {
	db *sql.DB
}

func NewPgCdkRepository(db *sql.DB) CdkRepository {
	return &pgCdkRepository{db: db}
}

const cdkColumns = `id, competition_id, code, status, team_id, user_id, claimed_by_user_id, claimed_at, created_at`

func scanCdk(row interface{ Scan(...any) error }) (*model.CompetitionCdk, error) {
	c := &model.CompetitionCdk{}
	var teamID, userID, claimedBy sql.NullString
	var claimedAt sql.NullTime
	if err := row.Scan(&c.ID, &c.CompetitionID, &c.Code, &c.Status, &teamID, &userID, &claimedBy, &claimedAt, &c.CreatedAt); err != nil {
		return nil, err
	}
	if teamID.Valid {
		c.TeamID = &teamID.String
	}
	if userID.Valid {
		c.UserID = &userID.String
	}
	if claimedBy.Valid {
		c.ClaimedByUserID = &claimedBy.String
	}
	if claimedAt.Valid {
		c.ClaimedAt = &claimedAt.Time
	}
	return c, nil
}

// unitColumn is the column a claim unit is bound through.
func unitColumn(unit model.ClaimUnit) string {
	if unit.Mode == model.CdkClaimModeMember {
		return "user_id"
	}
	return "team_id"
}

func (r *pgCdkRepository) LockClaimUnit(ctx context.Context, tx *sql.Tx, competitionID string, unit model.ClaimUnit) error {
	key := "cdk:" + competitionID + ":" + string(unit.Mode) + ":" + unit.ID
	if _, err := conn(r.db, tx).ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("pgCdkRepository.LockClaimUnit: %w", err)
	}
	return nil
}

func (r *pgCdkRepository) CountClaimed(ctx context.Context, tx *sql.Tx, competitionID string, unit model.ClaimUnit) (int, error) {
	query := `SELECT COUNT(*) FROM competition_cdks
	          WHERE competition_id = $1 AND status = 'CLAIMED' AND ` + unitColumn(unit) + ` = $2`
	var n int
	if err := conn(r.db, tx).QueryRowContext(ctx, query, competitionID, unit.ID).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgCdkRepository.CountClaimed: %w", err)
	}
	return n, nil
}

func (r *pgCdkRepository) CountAvailable(ctx context.Context, tx *sql.Tx, competitionID string) (int, error) {
	query := `SELECT COUNT(*) FROM competition_cdks WHERE competition_id = $1 AND status = 'AVAILABLE'`
	var n int
	if err := conn(r.db, tx).QueryRowContext(ctx, query, competitionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgCdkRepository.CountAvailable: %w", err)
	}
	return n, nil
}

func (r *pgCdkRepository) LockOldestAvailable(ctx context.Context, tx *sql.Tx, competitionID string) (*model.CompetitionCdk, error) {
	query := `SELECT ` + cdkColumns + ` FROM competition_cdks
	          WHERE competition_id = $1 AND status = 'AVAILABLE'
	          ORDER BY created_at, id
	          LIMIT 1
	          FOR UPDATE SKIP LOCKED`
	c, err := scanCdk(conn(r.db, tx).QueryRowContext(ctx, query, competitionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("available cdk: %w", common.ErrNotFound)
		}
		return nil, fmt.Errorf("pgCdkRepository.LockOldestAvailable: %w", err)
	}
	return c, nil
}

func (r *pgCdkRepository) MarkClaimed(ctx context.Context, tx *sql.Tx, cdkID string, unit model.ClaimUnit, userID string, at time.Time) (bool, error) {
	query := `UPDATE competition_cdks
	          SET status = 'CLAIMED', ` + unitColumn(unit) + ` = $2, claimed_by_user_id = $3, claimed_at = $4
	          WHERE id = $1 AND status = 'AVAILABLE'`
	res, err := conn(r.db, tx).ExecContext(ctx, query, cdkID, unit.ID, userID, at)
	if err != nil {
		return false, fmt.Errorf("pgCdkRepository.MarkClaimed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgCdkRepository.MarkClaimed: %w", err)
	}
	return n == 1, nil
}

func (r *pgCdkRepository) InsertCodes(ctx context.Context, tx *sql.Tx, competitionID string, codes []string) (int, error) {
	query := `INSERT INTO competition_cdks (id, competition_id, code, created_at)
	          VALUES ($1, $2, $3, $4)
	          ON CONFLICT (competition_id, code) DO NOTHING`
	c := conn(r.db, tx)
	// Codes keep their submitted order through created_at.
	base := time.Now()
	inserted := 0
	for i, code := range codes {
		res, err := c.ExecContext(ctx, query, uuid.NewString(), competitionID, code, base.Add(time.Duration(i)*time.Microsecond))
		if err != nil {
			return inserted, fmt.Errorf("pgCdkRepository.InsertCodes: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			inserted++
		}
	}
	return inserted, nil
}

func (r *pgCdkRepository) Void(ctx context.Context, tx *sql.Tx, competitionID, cdkID string) (bool, error) {
	query := `UPDATE competition_cdks SET status = 'VOID'
	          WHERE id = $1 AND competition_id = $2 AND status IN ('AVAILABLE', 'CLAIMED')`
	res, err := conn(r.db, tx).ExecContext(ctx, query, cdkID, competitionID)
	if err != nil {
		return false, fmt.Errorf("pgCdkRepository.Void: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgCdkRepository.Void: %w", err)
	}
	return n == 1, nil
}

func (r *pgCdkRepository) ListClaimedByUnit(ctx context.Context, competitionID string, unit model.ClaimUnit) ([]model.CompetitionCdk, error) {
	query := `SELECT ` + cdkColumns + ` FROM competition_cdks
	          WHERE competition_id = $1 AND status = 'CLAIMED' AND ` + unitColumn(unit) + ` = $2
	          ORDER BY claimed_at, id`
	rows, err := r.db.QueryContext(ctx, query, competitionID, unit.ID)
	if err != nil {
		return nil, fmt.Errorf("pgCdkRepository.ListClaimedByUnit: %w", err)
	}
	defer rows.Close()

	var out []model.CompetitionCdk
	for rows.Next() {
		c, err := scanCdk(rows)
		if err != nil {
			return nil, fmt.Errorf("pgCdkRepository.ListClaimedByUnit: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
