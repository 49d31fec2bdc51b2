package objective

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/stagecraft/internal/condition"
	"github.com/freeeve/stagecraft/pkg/tactics"
)

var (
	ErrUnknownObjective   = errors.New("unknown objective")
	ErrDuplicateObjective = errors.New("duplicate objective")
)

// EventKind identifies the events the tracker consumes.
type EventKind string

const (
	EventUnitDefeated    EventKind = "unit_defeated"
	EventPositionReached EventKind = "position_reached"
	EventTurnAdvanced    EventKind = "turn_advanced"
)

// Event is an inbound progress event.
type Event struct {
	Kind     EventKind
	UnitID   string
	Position tactics.Position
	Turn     int
}

// Change describes an objective whose progress or status moved.
type Change struct {
	ObjectiveID string   `json:"objective_id"`
	Type        Type     `json:"type"`
	Required    bool     `json:"required"`
	Progress    Progress `json:"progress"`
	Completed   bool     `json:"completed"` // became complete with this change
	Failed      bool     `json:"failed"`    // became failed with this change
}

// EvaluationResult is one objective's state after TrackProgress.
type EvaluationResult struct {
	ObjectiveID string   `json:"objective_id"`
	Type        Type     `json:"type"`
	Required    bool     `json:"required"`
	Complete    bool     `json:"complete"`
	Failed      bool     `json:"failed"`
	Progress    Progress `json:"progress"`
	Changed     bool     `json:"changed"`
}

// Tracker holds the objectives of one stage.
type Tracker struct {
	states     *condition.StateEvaluator
	objectives map[string]*Objective
	order      []string
}

// NewTracker creates an empty tracker.
func NewTracker(states *condition.StateEvaluator) *Tracker {
	if states == nil {
		states = condition.NewStateEvaluator()
	}
	return &Tracker{states: states, objectives: make(map[string]*Objective)}
}

// Register validates and adds an objective, computing its initial progress
// from the snapshot. A defeat-all objective without an explicit enemy list
// tracks the enemies alive at registration.
func (t *Tracker) Register(o Objective, s *tactics.Snapshot) error {
	if err := o.Validate(); err != nil {
		return err
	}
	if _, ok := t.objectives[o.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateObjective, o.ID)
	}
	if o.Type == TypeCustom && o.Predicate == nil {
		if _, err := condition.CompileState(o.Expr); err != nil {
			return fmt.Errorf("objective %s: %w", o.ID, err)
		}
	}

	cp := o.clone()
	cp.Complete = false
	cp.Failed = false
	if cp.Type == TypeDefeatAllEnemies && len(cp.Enemies) == 0 {
		for _, u := range s.Alive(tactics.Enemy) {
			cp.Enemies = append(cp.Enemies, u.ID)
		}
	}
	if cp.Type == TypeCollectItems {
		cp.Progress = newProgress(0, len(cp.Items))
	} else {
		t.evaluate(&cp, s)
	}

	t.objectives[cp.ID] = &cp
	t.order = append(t.order, cp.ID)
	return nil
}

// Handle applies an event to every matching open objective and returns the
// objectives that changed.
func (t *Tracker) Handle(ev Event, s *tactics.Snapshot) []Change {
	var changes []Change
	for _, id := range t.order {
		o := t.objectives[id]
		if o.Complete || o.Failed || !matches(o, ev) {
			continue
		}
		if c, ok := t.apply(o, s); ok {
			changes = append(changes, c)
		}
	}
	return changes
}

// UpdateProgress directly sets an objective's current value and optionally
// its target. Closed objectives are left unchanged and report no change.
func (t *Tracker) UpdateProgress(id string, current int, target *int) (*Change, error) {
	o, ok := t.objectives[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObjective, id)
	}
	if o.Complete || o.Failed {
		return nil, nil
	}

	tgt := o.Progress.Target
	if target != nil {
		tgt = *target
	}
	if current < 0 {
		current = 0
	}
	next := newProgress(current, tgt)
	complete := o.Type != TypeProtectUnit && tgt > 0 && current >= tgt
	if next == o.Progress && !complete {
		return nil, nil
	}

	o.Progress = next
	o.Complete = complete
	return &Change{ObjectiveID: id, Type: o.Type, Required: o.Required, Progress: next, Completed: complete}, nil
}

// TrackProgress re-evaluates every objective against the snapshot and
// returns the result for each along with the changes. Completed required
// objectives are skipped. Calling it twice with the same snapshot yields no
// changes the second time.
func (t *Tracker) TrackProgress(s *tactics.Snapshot) ([]EvaluationResult, []Change) {
	out := make([]EvaluationResult, 0, len(t.order))
	var changes []Change
	for _, id := range t.order {
		o := t.objectives[id]
		changed := false
		if !(o.Complete && o.Required) && !o.Failed {
			var c Change
			if c, changed = t.apply(o, s); changed {
				changes = append(changes, c)
			}
		}
		out = append(out, EvaluationResult{
			ObjectiveID: id,
			Type:        o.Type,
			Required:    o.Required,
			Complete:    o.Complete,
			Failed:      o.Failed,
			Progress:    o.Progress,
			Changed:     changed,
		})
	}
	return out, changes
}

// Get returns a copy of an objective.
func (t *Tracker) Get(id string) (Objective, bool) {
	o, ok := t.objectives[id]
	if !ok {
		return Objective{}, false
	}
	return o.clone(), true
}

// All returns copies of every objective in registration order.
func (t *Tracker) All() []Objective {
	out := make([]Objective, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.objectives[id].clone())
	}
	return out
}

// Required returns how many required objectives are satisfied, and how many
// exist. A protect objective is satisfied for as long as it has not failed.
func (t *Tracker) Required() (satisfied, total int) {
	for _, o := range t.objectives {
		if !o.Required {
			continue
		}
		total++
		if o.Complete || (o.Type == TypeProtectUnit && !o.Failed) {
			satisfied++
		}
	}
	return satisfied, total
}

// Len returns the number of registered objectives.
func (t *Tracker) Len() int {
	return len(t.order)
}

// Reset removes every objective.
func (t *Tracker) Reset() {
	t.objectives = make(map[string]*Objective)
	t.order = nil
}

func matches(o *Objective, ev Event) bool {
	switch ev.Kind {
	case EventUnitDefeated:
		switch o.Type {
		case TypeDefeatBoss:
			return ev.UnitID == "" || ev.UnitID == o.BossID
		case TypeProtectUnit:
			return ev.UnitID == "" || ev.UnitID == o.UnitID
		case TypeDefeatAllEnemies, TypeCustom:
			return true
		}
	case EventPositionReached:
		return o.Type == TypeReachPosition || o.Type == TypeCustom
	case EventTurnAdvanced:
		return o.Type == TypeSurviveTurns || o.Type == TypeProtectUnit || o.Type == TypeCustom
	}
	return false
}

// apply re-evaluates o and reports whether anything moved. Completion and
// failure are sticky.
func (t *Tracker) apply(o *Objective, s *tactics.Snapshot) (Change, bool) {
	prev, wasComplete, wasFailed := o.Progress, o.Complete, o.Failed
	t.evaluate(o, s)
	o.Complete = o.Complete || wasComplete
	o.Failed = o.Failed || wasFailed

	if o.Progress == prev && o.Complete == wasComplete && o.Failed == wasFailed {
		return Change{}, false
	}
	return Change{
		ObjectiveID: o.ID,
		Type:        o.Type,
		Required:    o.Required,
		Progress:    o.Progress,
		Completed:   o.Complete && !wasComplete,
		Failed:      o.Failed && !wasFailed,
	}, true
}

func (t *Tracker) evaluate(o *Objective, s *tactics.Snapshot) {
	switch o.Type {
	case TypeDefeatBoss:
		done := s.DefeatedBosses[o.BossID] || enemyGone(s, o.BossID)
		o.Progress = binary(done)
		o.Complete = done

	case TypeDefeatAllEnemies:
		defeated := 0
		for _, id := range o.Enemies {
			if enemyGone(s, id) {
				defeated++
			}
		}
		o.Progress = newProgress(defeated, len(o.Enemies))
		o.Complete = defeated == len(o.Enemies)

	case TypeReachPosition:
		reached := (o.Position != nil && s.PlayerAt(*o.Position)) || (o.Area != nil && s.PlayerIn(*o.Area))
		o.Progress = binary(reached)
		o.Complete = reached

	case TypeSurviveTurns:
		o.Progress = newProgress(min(s.Turn, o.Turns), o.Turns)
		o.Complete = s.Turn >= o.Turns

	case TypeProtectUnit:
		alive := s.UnitAlive(o.UnitID)
		o.Progress = binary(alive)
		o.Failed = !alive

	case TypeCustom:
		done := t.custom(o, s)
		o.Progress = binary(done)
		o.Complete = done
	}
}

func (t *Tracker) custom(o *Objective, s *tactics.Snapshot) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("objectiveId", o.ID).Interface("panic", r).Msg("Objective predicate panicked")
			ok = false
		}
	}()
	if o.Predicate != nil {
		return o.Predicate(s)
	}
	ok, err := t.states.Eval(o.Expr, s)
	if err != nil {
		log.Warn().Err(err).Str("objectiveId", o.ID).Msg("Objective expression failed")
		return false
	}
	return ok
}

// enemyGone reports whether a unit no longer fights for the enemy: removed,
// at zero HP, or converted to another faction.
func enemyGone(s *tactics.Snapshot, id string) bool {
	u := s.Unit(id)
	return u == nil || u.HP <= 0 || u.Faction != tactics.Enemy
}

func binary(v bool) Progress {
	if v {
		return Progress{Current: 1, Target: 1, Percentage: 100}
	}
	return Progress{Current: 0, Target: 1}
}
