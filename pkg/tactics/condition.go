package tactics

import "fmt"

// ConditionKind identifies the variant of a recruitment condition.
type ConditionKind string

const (
	CondSpecificAttacker ConditionKind = "specific_attacker"
	CondHPThreshold      ConditionKind = "hp_threshold"
	CondDamageType       ConditionKind = "damage_type"
	CondTurnWindow       ConditionKind = "turn_window"
	CondExpression       ConditionKind = "expression"
	CondCustom           ConditionKind = "custom"
)

// BlowContext is the snapshot a recruitment condition is evaluated against:
// the state of the target immediately before the finalizing blow lands.
type BlowContext struct {
	AttackerID      string
	AttackerFaction Faction
	TargetID        string
	TargetHP        int
	TargetMaxHP     int
	Damage          int
	DamageType      DamageType
	IsCritical      bool
	Turn            int
}

// HPRatio returns TargetHP/TargetMaxHP, or 0 when TargetMaxHP is not positive.
func (c BlowContext) HPRatio() float64 {
	if c.TargetMaxHP <= 0 {
		return 0
	}
	return float64(c.TargetHP) / float64(c.TargetMaxHP)
}

// ConditionPredicate is an in-memory predicate. It cannot be persisted.
type ConditionPredicate func(ctx BlowContext) bool

// Condition is a tagged variant over the recruitment condition kinds. Only
// the fields relevant to Kind are read.
type Condition struct {
	Kind        ConditionKind `json:"kind"`
	Description string        `json:"description,omitempty"`

	AttackerID string     `json:"attacker_id,omitempty"` // specific_attacker
	Ratio      float64    `json:"ratio,omitempty"`       // hp_threshold
	DamageType DamageType `json:"damage_type,omitempty"` // damage_type
	MinTurn    int        `json:"min_turn,omitempty"`    // turn_window
	MaxTurn    int        `json:"max_turn,omitempty"`    // turn_window, 0 = unbounded
	Expr       string     `json:"expr,omitempty"`        // expression

	Predicate ConditionPredicate `json:"-"` // custom
}

// SpecificAttacker requires the finalizing blow to come from the given unit.
func SpecificAttacker(attackerID string) Condition {
	return Condition{Kind: CondSpecificAttacker, AttackerID: attackerID}
}

// HPThreshold requires the target's HP ratio before the blow to be at or below ratio.
func HPThreshold(ratio float64) Condition {
	return Condition{Kind: CondHPThreshold, Ratio: ratio}
}

// DamageOfType requires the finalizing blow to deal the given damage type.
func DamageOfType(dt DamageType) Condition {
	return Condition{Kind: CondDamageType, DamageType: dt}
}

// TurnWindow requires the blow to land on a turn in [min, max]. max 0 means no upper bound.
func TurnWindow(min, max int) Condition {
	return Condition{Kind: CondTurnWindow, MinTurn: min, MaxTurn: max}
}

// Expression builds a serializable predicate compiled from an expr source string.
func Expression(src string) Condition {
	return Condition{Kind: CondExpression, Expr: src}
}

// Custom wraps an in-memory predicate.
func Custom(desc string, fn ConditionPredicate) Condition {
	return Condition{Kind: CondCustom, Description: desc, Predicate: fn}
}

// Persistable reports whether the condition survives a save/load round-trip.
func (c Condition) Persistable() bool {
	return c.Kind != CondCustom
}

// String returns a short human-readable label used in diagnostics and UI progress.
func (c Condition) String() string {
	if c.Description != "" {
		return c.Description
	}
	switch c.Kind {
	case CondSpecificAttacker:
		return fmt.Sprintf("defeated by %s", c.AttackerID)
	case CondHPThreshold:
		return fmt.Sprintf("HP at or below %.0f%%", c.Ratio*100)
	case CondDamageType:
		return fmt.Sprintf("finished with %s damage", c.DamageType)
	case CondTurnWindow:
		if c.MaxTurn <= 0 {
			return fmt.Sprintf("on or after turn %d", c.MinTurn)
		}
		return fmt.Sprintf("between turns %d and %d", c.MinTurn, c.MaxTurn)
	case CondExpression:
		return c.Expr
	}
	return string(c.Kind)
}
