package bonus

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// wireResolution is the JSON shape returned by the external progression
// service. Bonus type keys are the BonusType constant names; unknown keys
// are ignored rather than rejected, since the service may ship additional
// affix types ahead of a client that knows how to use them.
type wireResolution struct {
	Bonuses map[string]float64   `json:"bonuses"`
	Weapon  *wireWeaponAttackStyle `json:"weapon,omitempty"`
}

type wireWeaponAttackStyle struct {
	Subtype      string  `json:"subtype"`
	Damage       float64 `json:"damage"`
	Range        float64 `json:"range"`
	AttackSpeed  float64 `json:"attack_speed"`
	HitsMultiple bool    `json:"hits_multiple"`
	MaxTargets   int     `json:"max_targets"`
	IsProjectile bool    `json:"is_projectile"`
}

var bonusTypeNames = map[string]BonusType{
	"DamagePercent":          DamagePercent,
	"DamageFlat":             DamageFlat,
	"AttackSpeedPercent":     AttackSpeedPercent,
	"RangePercent":           RangePercent,
	"CritChance":             CritChance,
	"CritMultiplier":         CritMultiplier,
	"TowerHpFlat":            TowerHpFlat,
	"TowerHpPercent":         TowerHpPercent,
	"DamageReductionPercent": DamageReductionPercent,
	"GoldFindPercent":        GoldFindPercent,
	"XpGainPercent":          XpGainPercent,
	"ElementalDamageFlat":    ElementalDamageFlat,
	"ElementalDamagePercent": ElementalDamagePercent,
	"SplashRadius":           SplashRadius,
	"SlowAmount":             SlowAmount,
	"SlowDuration":           SlowDuration,
}

func decodeResolution(resp *http.Response) (Resolution, error) {
	var w wireResolution
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return Resolution{}, fmt.Errorf("bonus: decoding response: %w", err)
	}

	summary := make(Summary, len(w.Bonuses))
	for name, v := range w.Bonuses {
		bt, ok := bonusTypeNames[name]
		if !ok {
			continue
		}
		summary[bt] = v
	}

	res := Resolution{Summary: summary}
	if w.Weapon != nil {
		res.Weapon = &WeaponAttackStyle{
			Subtype:      w.Weapon.Subtype,
			Damage:       w.Weapon.Damage,
			Range:        w.Weapon.Range,
			AttackSpeed:  w.Weapon.AttackSpeed,
			HitsMultiple: w.Weapon.HitsMultiple,
			MaxTargets:   w.Weapon.MaxTargets,
			IsProjectile: w.Weapon.IsProjectile,
		}
	}
	return res, nil
}
