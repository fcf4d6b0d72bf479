package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ProgressionRepository persists the two durable effects the progression
// consumer applies: tower.xp_gained and item.collected. Both writes are
// idempotent on appliedKey (match_id + event_type + the unique-within-type
// field named in §4.I), so redelivery of the same stream record is a no-op.
type ProgressionRepository struct {
	db *DB
}

// NewProgressionRepository wraps a DB handle.
func NewProgressionRepository(db *DB) *ProgressionRepository {
	return &ProgressionRepository{db: db}
}

// ApplyTowerXP records XP gained by a player-tower. Returns applied=false
// if appliedKey was already recorded (idempotent replay).
func (r *ProgressionRepository) ApplyTowerXP(ctx context.Context, matchID, playerTowerID uuid.UUID, playerID int32, xp float64, source, appliedKey string) (applied bool, err error) {
	tag, err := r.db.pool.Exec(ctx,
		`INSERT INTO tower_xp (player_tower_id, player_id, match_id, xp_amount, source, applied_key)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (applied_key) DO NOTHING`,
		playerTowerID, playerID, matchID, xp, source, appliedKey,
	)
	if err != nil {
		return false, fmt.Errorf("applying tower xp: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ApplyItemCollected records a collected item. Returns applied=false if
// appliedKey was already recorded.
func (r *ProgressionRepository) ApplyItemCollected(ctx context.Context, itemID uuid.UUID, dropID int64, matchID uuid.UUID, playerID int32, itemType, rarity string, itemLevel int32, name, appliedKey string) (applied bool, err error) {
	tag, err := r.db.pool.Exec(ctx,
		`INSERT INTO collected_items (item_id, drop_id, match_id, player_id, item_type, rarity, item_level, name, applied_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (applied_key) DO NOTHING`,
		itemID, dropID, matchID, playerID, itemType, rarity, itemLevel, name, appliedKey,
	)
	if err != nil {
		return false, fmt.Errorf("applying item collected: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
