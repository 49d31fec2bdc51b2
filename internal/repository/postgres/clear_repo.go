package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/freeeve/stagecraft/internal/model"
	"github.com/freeeve/stagecraft/internal/reward"
)

// ClearRepo archives stage clears.
type ClearRepo struct {
	db *sql.DB
}

// NewClearRepo creates a ClearRepo.
func NewClearRepo(db *sql.DB) *ClearRepo {
	return &ClearRepo{db: db}
}

// RecordClear inserts one archived clear. A repeated run id is ignored.
func (r *ClearRepo) RecordClear(ctx context.Context, rec model.ClearArchive) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO stage_clears (id, slot_id, stage_id, run_id, rating, score, turns_used, units_lost,
		   bosses_defeated, recruitment_successes, cleared_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (run_id) DO NOTHING`,
		rec.ID, rec.SlotID, rec.StageID, rec.RunID, string(rec.Rating), rec.Score, rec.TurnsUsed, rec.UnitsLost,
		rec.BossesDefeated, rec.RecruitmentSuccesses, rec.ClearedAt,
	)
	if err != nil {
		return fmt.Errorf("record clear: %w", err)
	}
	return nil
}

// ListClears returns the best clears of a stage, highest score first, then
// fewest turns.
func (r *ClearRepo) ListClears(ctx context.Context, stageID string, limit int) ([]model.ClearArchive, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, slot_id, stage_id, run_id, rating, score, turns_used, units_lost,
		   bosses_defeated, recruitment_successes, cleared_at
		 FROM stage_clears WHERE stage_id = $1
		 ORDER BY score DESC, turns_used ASC, cleared_at ASC
		 LIMIT $2`, stageID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list clears: %w", err)
	}
	defer rows.Close()

	var clears []model.ClearArchive
	for rows.Next() {
		var c model.ClearArchive
		var rating string
		if err := rows.Scan(&c.ID, &c.SlotID, &c.StageID, &c.RunID, &rating, &c.Score, &c.TurnsUsed, &c.UnitsLost,
			&c.BossesDefeated, &c.RecruitmentSuccesses, &c.ClearedAt); err != nil {
			return nil, fmt.Errorf("scan clear: %w", err)
		}
		c.Rating = reward.Rating(rating)
		clears = append(clears, c)
	}
	return clears, rows.Err()
}
