package tactics

// DamageType classifies the damage dealt by an attack.
type DamageType string

const (
	Physical DamageType = "physical"
	Magical  DamageType = "magical"
	Critical DamageType = "critical"
	Healing  DamageType = "healing"
)

// CombatResult is the outcome of one attack as produced by combat resolution.
// It is consumed before the defeated target is removed from the roster.
type CombatResult struct {
	AttackerID       string     `json:"attacker_id"`
	TargetID         string     `json:"target_id"`
	FinalDamage      int        `json:"final_damage"`
	DamageType       DamageType `json:"damage_type,omitempty"`
	IsCritical       bool       `json:"is_critical"`
	IsEvaded         bool       `json:"is_evaded"`
	TargetDefeated   bool       `json:"target_defeated"`
	ExperienceGained int        `json:"experience_gained"`
}

// Lethal reports whether the attack would bring a target with the given HP to zero or below.
func (r CombatResult) Lethal(targetHP int) bool {
	if r.IsEvaded {
		return false
	}
	return r.TargetDefeated || targetHP-r.FinalDamage <= 0
}
