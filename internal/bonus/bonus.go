// Package bonus resolves the per-player-tower modifier set on build
// (§4.E). The composition rules (additive-then-multiplicative stat
// summation) are adapted directly from the teacher's
// internal/game/skill.EffectManager.GetStatBonus, which folds buff/debuff
// modifiers the same way.
package bonus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// BonusType enumerates the sparse keys of a TowerBonusSummary (§4.E).
type BonusType int

const (
	DamagePercent BonusType = iota
	DamageFlat
	AttackSpeedPercent
	RangePercent
	CritChance
	CritMultiplier
	TowerHpFlat
	TowerHpPercent
	DamageReductionPercent
	GoldFindPercent
	XpGainPercent
	ElementalDamageFlat
	ElementalDamagePercent
	SplashRadius
	SlowAmount
	SlowDuration
)

// Summary is a sparse mapping from bonus type to a signed decimal value,
// summed across every skill allocation and equipped item on a tower
// (composition rule 1).
type Summary map[BonusType]float64

// Get returns the summed value for t, or 0 if no modifier contributes one.
func (s Summary) Get(t BonusType) float64 { return s[t] }

// WeaponAttackStyle describes an equipped weapon that replaces a tower's
// intrinsic attack stats (composition rule 2).
type WeaponAttackStyle struct {
	Subtype      string
	Damage       float64
	Range        float64
	AttackSpeed  float64
	HitsMultiple bool
	MaxTargets   int
	IsProjectile bool
}

// Resolution is the full result of a bonus lookup for one player tower.
type Resolution struct {
	Summary Summary
	Weapon  *WeaponAttackStyle // nil if no weapon equipped
}

// TowerHP implements composition rule 4.
func (r Resolution) TowerHP() float64 {
	return 100 + r.Summary.Get(TowerHpFlat) + 100*r.Summary.Get(TowerHpPercent)/100
}

// CritMultiplierPercent implements composition rule 5's multiplier half.
func (r Resolution) CritMultiplierPercent() float64 {
	return 150 + r.Summary.Get(CritMultiplier)
}

// CritChancePercent implements composition rule 5's chance half.
func (r Resolution) CritChancePercent() float64 {
	return r.Summary.Get(CritChance)
}

// ErrTimeout is returned when a lookup exceeds its bounded timeout; per
// §4.G Failure semantics the caller must refund gold and report
// Error{InternalError} rather than commit a half-built tower.
var ErrTimeout = fmt.Errorf("bonus: lookup timed out")

// DefaultTimeout is the fallback bound applied when configuration doesn't
// supply a parseable lookup timeout (§4.E).
const DefaultTimeout = 2 * time.Second

// Provider resolves TowerBonusSummary values. It MAY be a local in-process
// replica or a remote call to an external progression service (§4.E); both
// implementations here satisfy the same interface so the session/game
// layer never depends on which one is wired in.
type Provider interface {
	Resolve(ctx context.Context, playerTowerID uuid.UUID, towerType string) (Resolution, error)
}

// LocalProvider computes bonuses against an in-process replica table. It
// is deterministic per (player_tower_id, world version) as required by
// §4.E, since the table is static for the life of the process.
type LocalProvider struct {
	table map[uuid.UUID]Resolution
}

func NewLocalProvider() *LocalProvider {
	return &LocalProvider{table: make(map[uuid.UUID]Resolution)}
}

// Seed installs a fixed resolution for a player tower, used by tests and
// by an offline data-sync job that populates the replica from the
// progression service.
func (p *LocalProvider) Seed(playerTowerID uuid.UUID, r Resolution) {
	p.table[playerTowerID] = r
}

func (p *LocalProvider) Resolve(_ context.Context, playerTowerID uuid.UUID, _ string) (Resolution, error) {
	if r, ok := p.table[playerTowerID]; ok {
		return r, nil
	}
	return Resolution{Summary: Summary{}}, nil
}

// RemoteProvider calls an external progression service over HTTP. No
// ecosystem HTTP client library appears anywhere in the retrieval pack, so
// this uses net/http.Client directly, matching the one idiomatic choice
// available absent a pack precedent.
type RemoteProvider struct {
	client  *http.Client
	baseURL string
}

func NewRemoteProvider(baseURL string, timeout time.Duration) *RemoteProvider {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RemoteProvider{client: &http.Client{Timeout: timeout}, baseURL: baseURL}
}

func (p *RemoteProvider) Resolve(ctx context.Context, playerTowerID uuid.UUID, towerType string) (Resolution, error) {
	url := fmt.Sprintf("%s/towers/%s/bonuses?tower_type=%s", p.baseURL, playerTowerID, towerType)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Resolution{}, fmt.Errorf("bonus: building request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		var ne interface{ Timeout() bool }
		if ctx.Err() != nil || (errors.As(err, &ne) && ne.Timeout()) {
			return Resolution{}, ErrTimeout
		}
		return Resolution{}, fmt.Errorf("bonus: calling progression service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Resolution{}, fmt.Errorf("bonus: progression service returned %d", resp.StatusCode)
	}
	return decodeResolution(resp)
}
