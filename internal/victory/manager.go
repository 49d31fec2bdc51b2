// Package victory decides whether a stage is won or lost.
//
// Victory needs every required victory condition satisfied, and at least one
// required condition to exist. Defeat needs any single defeat condition.
package victory

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/stagecraft/internal/condition"
	"github.com/freeeve/stagecraft/pkg/tactics"
)

var ErrDuplicateCondition = errors.New("duplicate condition")

// Kind is the declarative predicate kind of a victory or defeat condition.
type Kind string

const (
	KindDefeatAllEnemies   Kind = "defeat_all_enemies"
	KindDefeatBoss         Kind = "defeat_boss"
	KindReachPosition      Kind = "reach_position"
	KindSurviveTurns       Kind = "survive_turns"
	KindRequiredObjectives Kind = "required_objectives_complete"
	KindAllPlayersDefeated Kind = "all_players_defeated"
	KindUnitDefeated       Kind = "unit_defeated"
	KindTurnLimit          Kind = "turn_limit"
	KindExpression         Kind = "expression"
	KindCustom             Kind = "custom"
)

// Predicate is an in-memory condition. It cannot be persisted.
type Predicate func(s *tactics.Snapshot) bool

// Condition is a victory or defeat condition.
type Condition struct {
	ID          string            `json:"id"`
	Kind        Kind              `json:"kind"`
	Description string            `json:"description"`
	Required    bool              `json:"required,omitempty"` // victory only
	UnitID      string            `json:"unit_id,omitempty"`
	Position    *tactics.Position `json:"position,omitempty"`
	Area        *tactics.Area     `json:"area,omitempty"`
	Turns       int               `json:"turns,omitempty"`
	Expr        string            `json:"expr,omitempty"`

	Predicate Predicate `json:"-"`
}

// Label returns the description, falling back to the kind.
func (c Condition) Label() string {
	if c.Description != "" {
		return c.Description
	}
	if c.UnitID != "" {
		return fmt.Sprintf("%s (%s)", c.Kind, c.UnitID)
	}
	return string(c.Kind)
}

// Validate checks that the condition carries the data its kind needs.
func (c Condition) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("condition id is required")
	}
	switch c.Kind {
	case KindDefeatAllEnemies, KindRequiredObjectives, KindAllPlayersDefeated, KindDefeatBoss:
	case KindReachPosition:
		if c.Position == nil && c.Area == nil {
			return fmt.Errorf("condition %s: position or area is required", c.ID)
		}
	case KindSurviveTurns:
		if c.Turns <= 0 {
			return fmt.Errorf("condition %s: turns must be positive", c.ID)
		}
	case KindUnitDefeated:
		if c.UnitID == "" {
			return fmt.Errorf("condition %s: unit_id is required", c.ID)
		}
	case KindTurnLimit:
		if c.Turns < 0 {
			return fmt.Errorf("condition %s: turns must not be negative", c.ID)
		}
	case KindExpression:
		if _, err := condition.CompileState(c.Expr); err != nil {
			return fmt.Errorf("condition %s: %w", c.ID, err)
		}
	case KindCustom:
		if c.Predicate == nil {
			return fmt.Errorf("condition %s: predicate is required", c.ID)
		}
	default:
		return fmt.Errorf("condition %s: unknown kind %q", c.ID, c.Kind)
	}
	return nil
}

// VictoryResult partitions victory conditions by outcome.
type VictoryResult struct {
	IsVictory     bool     `json:"is_victory"`
	Satisfied     []string `json:"satisfied"`
	Unsatisfied   []string `json:"unsatisfied"`
	RequiredCount int      `json:"required_count"`
}

// DefeatResult lists every triggered defeat condition. Message is the first
// triggered condition's label.
type DefeatResult struct {
	IsDefeat  bool     `json:"is_defeat"`
	Triggered []string `json:"triggered"`
	Message   string   `json:"message,omitempty"`
}

// Manager holds the victory and defeat conditions of one stage.
type Manager struct {
	states  *condition.StateEvaluator
	victory []Condition
	defeat  []Condition
	ids     map[string]bool
}

// NewManager creates an empty manager.
func NewManager(states *condition.StateEvaluator) *Manager {
	if states == nil {
		states = condition.NewStateEvaluator()
	}
	return &Manager{states: states, ids: make(map[string]bool)}
}

// AddVictory registers a victory condition.
func (m *Manager) AddVictory(c Condition) error {
	if err := m.add(c); err != nil {
		return err
	}
	m.victory = append(m.victory, c)
	return nil
}

// AddDefeat registers a defeat condition. Required is ignored for defeat.
func (m *Manager) AddDefeat(c Condition) error {
	if err := m.add(c); err != nil {
		return err
	}
	c.Required = false
	m.defeat = append(m.defeat, c)
	return nil
}

func (m *Manager) add(c Condition) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if m.ids[c.ID] {
		return fmt.Errorf("%w: %s", ErrDuplicateCondition, c.ID)
	}
	m.ids[c.ID] = true
	return nil
}

// Victory returns the registered victory conditions.
func (m *Manager) Victory() []Condition {
	return append([]Condition(nil), m.victory...)
}

// Defeat returns the registered defeat conditions.
func (m *Manager) Defeat() []Condition {
	return append([]Condition(nil), m.defeat...)
}

// RequiredCount returns the number of required victory conditions.
func (m *Manager) RequiredCount() int {
	n := 0
	for _, c := range m.victory {
		if c.Required {
			n++
		}
	}
	return n
}

// HasDefeat reports whether a defeat condition of the given kind and unit exists.
func (m *Manager) HasDefeat(kind Kind, unitID string) bool {
	for _, c := range m.defeat {
		if c.Kind == kind && c.UnitID == unitID {
			return true
		}
	}
	return false
}

// CheckVictory evaluates every victory condition against the snapshot.
func (m *Manager) CheckVictory(s *tactics.Snapshot) VictoryResult {
	res := VictoryResult{Satisfied: []string{}, Unsatisfied: []string{}}
	requiredMet := true
	for _, c := range m.victory {
		ok := m.eval(c, s)
		if ok {
			res.Satisfied = append(res.Satisfied, c.ID)
		} else {
			res.Unsatisfied = append(res.Unsatisfied, c.ID)
		}
		if c.Required {
			res.RequiredCount++
			requiredMet = requiredMet && ok
		}
	}
	res.IsVictory = res.RequiredCount > 0 && requiredMet
	return res
}

// CheckDefeat evaluates every defeat condition against the snapshot.
func (m *Manager) CheckDefeat(s *tactics.Snapshot) DefeatResult {
	res := DefeatResult{Triggered: []string{}}
	for _, c := range m.defeat {
		if !m.eval(c, s) {
			continue
		}
		if len(res.Triggered) == 0 {
			res.Message = c.Label()
		}
		res.Triggered = append(res.Triggered, c.ID)
	}
	res.IsDefeat = len(res.Triggered) > 0
	return res
}

// Reset removes every condition.
func (m *Manager) Reset() {
	m.victory = nil
	m.defeat = nil
	m.ids = make(map[string]bool)
}

func (m *Manager) eval(c Condition, s *tactics.Snapshot) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("conditionId", c.ID).Str("kind", string(c.Kind)).
				Interface("panic", r).Msg("Stage condition panicked, treating as unmet")
			ok = false
		}
	}()

	switch c.Kind {
	case KindDefeatAllEnemies:
		return len(s.Alive(tactics.Enemy)) == 0

	case KindDefeatBoss:
		if c.UnitID != "" {
			return s.DefeatedBosses[c.UnitID] || !enemyAlive(s, c.UnitID)
		}
		found := false
		for _, u := range s.Units {
			if !u.IsBoss {
				continue
			}
			found = true
			if enemyAlive(s, u.ID) && !s.DefeatedBosses[u.ID] {
				return false
			}
		}
		return found || len(s.DefeatedBosses) > 0

	case KindReachPosition:
		return (c.Position != nil && s.PlayerAt(*c.Position)) || (c.Area != nil && s.PlayerIn(*c.Area))

	case KindSurviveTurns:
		return s.Turn >= c.Turns

	case KindRequiredObjectives:
		return s.RequiredGoals > 0 && s.CompletedGoals >= s.RequiredGoals

	case KindAllPlayersDefeated:
		return len(s.Alive(tactics.Player)) == 0

	case KindUnitDefeated:
		return !s.UnitAlive(c.UnitID)

	case KindTurnLimit:
		limit := c.Turns
		if limit <= 0 {
			limit = s.MaxTurns
		}
		return limit > 0 && s.Turn > limit

	case KindExpression:
		ok, err := m.states.Eval(c.Expr, s)
		if err != nil {
			log.Warn().Err(err).Str("conditionId", c.ID).Msg("Stage condition expression failed")
			return false
		}
		return ok

	case KindCustom:
		if c.Predicate == nil {
			return false
		}
		return c.Predicate(s)
	}
	return false
}

func enemyAlive(s *tactics.Snapshot, id string) bool {
	u := s.Unit(id)
	return u != nil && u.HP > 0 && u.Faction == tactics.Enemy
}
