// Package objective tracks stage objective progress. Objectives describe
// progress toward goals; whether the stage is won or lost is decided by the
// victory package.
package objective

import (
	"fmt"

	"github.com/freeeve/stagecraft/pkg/tactics"
)

// Type is the objective kind.
type Type string

const (
	TypeDefeatBoss       Type = "defeat_boss"
	TypeDefeatAllEnemies Type = "defeat_all_enemies"
	TypeReachPosition    Type = "reach_position"
	TypeSurviveTurns     Type = "survive_turns"
	TypeProtectUnit      Type = "protect_unit"
	TypeCollectItems     Type = "collect_items"
	TypeCustom           Type = "custom"
)

// Progress is the numeric progress of an objective.
type Progress struct {
	Current    int     `json:"current"`
	Target     int     `json:"target"`
	Percentage float64 `json:"percentage"`
}

func newProgress(current, target int) Progress {
	p := Progress{Current: current, Target: target}
	switch {
	case target <= 0:
		p.Percentage = 100
	case current >= target:
		p.Percentage = 100
	case current > 0:
		p.Percentage = float64(current) / float64(target) * 100
	}
	return p
}

// StatePredicate is an in-memory objective predicate. It cannot be persisted.
type StatePredicate func(s *tactics.Snapshot) bool

// Objective is a trackable stage goal.
type Objective struct {
	ID          string   `json:"id"`
	Type        Type     `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Complete    bool     `json:"complete"`
	Failed      bool     `json:"failed,omitempty"`
	Progress    Progress `json:"progress"`

	BossID   string            `json:"boss_id,omitempty"`  // defeat_boss
	Position *tactics.Position `json:"position,omitempty"` // reach_position
	Area     *tactics.Area     `json:"area,omitempty"`     // reach_position
	Turns    int               `json:"turns,omitempty"`    // survive_turns
	UnitID   string            `json:"unit_id,omitempty"`  // protect_unit
	Items    []string          `json:"items,omitempty"`    // collect_items
	Expr     string            `json:"expr,omitempty"`     // custom
	Enemies  []string          `json:"enemies,omitempty"`  // defeat_all_enemies, fixed at registration

	Predicate StatePredicate `json:"-"`
}

// Validate checks that the objective carries the target data its type needs.
func (o *Objective) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("objective id is required")
	}
	switch o.Type {
	case TypeDefeatBoss:
		if o.BossID == "" {
			return fmt.Errorf("objective %s: boss_id is required", o.ID)
		}
	case TypeDefeatAllEnemies:
	case TypeReachPosition:
		if o.Position == nil && o.Area == nil {
			return fmt.Errorf("objective %s: position or area is required", o.ID)
		}
	case TypeSurviveTurns:
		if o.Turns <= 0 {
			return fmt.Errorf("objective %s: turns must be positive", o.ID)
		}
	case TypeProtectUnit:
		if o.UnitID == "" {
			return fmt.Errorf("objective %s: unit_id is required", o.ID)
		}
	case TypeCollectItems:
		if len(o.Items) == 0 {
			return fmt.Errorf("objective %s: items are required", o.ID)
		}
	case TypeCustom:
		if o.Expr == "" && o.Predicate == nil {
			return fmt.Errorf("objective %s: expr or predicate is required", o.ID)
		}
	default:
		return fmt.Errorf("objective %s: unknown type %q", o.ID, o.Type)
	}
	return nil
}

// Persistable reports whether the objective survives a save/load round-trip.
func (o *Objective) Persistable() bool {
	return o.Type != TypeCustom || o.Expr != ""
}

func (o *Objective) clone() Objective {
	cp := *o
	cp.Items = append([]string(nil), o.Items...)
	cp.Enemies = append([]string(nil), o.Enemies...)
	return cp
}
