package db

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/towerwars/zoneserver/internal/testutil"
)

func TestApplyTowerXPIsIdempotent(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	repo := NewProgressionRepository(&DB{pool: pool})
	ctx := context.Background()

	matchID, towerID := uuid.New(), uuid.New()
	key := matchID.String() + ":tower.xp_gained:1:" + towerID.String() + ":wave_clear"

	applied, err := repo.ApplyTowerXP(ctx, matchID, towerID, 1, 10, "wave_clear", key)
	if err != nil {
		t.Fatalf("ApplyTowerXP: %v", err)
	}
	if !applied {
		t.Fatal("first apply should insert")
	}

	applied, err = repo.ApplyTowerXP(ctx, matchID, towerID, 1, 10, "wave_clear", key)
	if err != nil {
		t.Fatalf("ApplyTowerXP replay: %v", err)
	}
	if applied {
		t.Error("replaying the same applied_key must be a no-op")
	}

	var count int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM tower_xp WHERE applied_key = $1`, key).Scan(&count); err != nil {
		t.Fatalf("counting rows: %v", err)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1 after replay", count)
	}

	// A different source is a different durable effect, not a replay.
	otherKey := matchID.String() + ":tower.xp_gained:1:" + towerID.String() + ":perfect_wave"
	applied, err = repo.ApplyTowerXP(ctx, matchID, towerID, 1, 5, "perfect_wave", otherKey)
	if err != nil {
		t.Fatalf("ApplyTowerXP other source: %v", err)
	}
	if !applied {
		t.Error("a distinct applied_key should insert")
	}
}

func TestApplyItemCollectedIsIdempotent(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	repo := NewProgressionRepository(&DB{pool: pool})
	ctx := context.Background()

	itemID, matchID := uuid.New(), uuid.New()
	key := matchID.String() + ":item.collected:1:" + itemID.String()

	applied, err := repo.ApplyItemCollected(ctx, itemID, 3, matchID, 1, "Glowing Sigil", "Magic", 1, "Glowing Sigil", key)
	if err != nil {
		t.Fatalf("ApplyItemCollected: %v", err)
	}
	if !applied {
		t.Fatal("first apply should insert")
	}

	applied, err = repo.ApplyItemCollected(ctx, itemID, 3, matchID, 1, "Glowing Sigil", "Magic", 1, "Glowing Sigil", key)
	if err != nil {
		t.Fatalf("ApplyItemCollected replay: %v", err)
	}
	if applied {
		t.Error("replaying the same applied_key must be a no-op")
	}

	var count int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM collected_items WHERE applied_key = $1`, key).Scan(&count); err != nil {
		t.Fatalf("counting rows: %v", err)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1 after replay", count)
	}
}
