// Package recruit implements the per-unit recruitment state machine:
//
//	Normal -> Eligible -> Captured -> Recruited
//	                              \-> Lost
//
// A unit is captured instead of defeated when every one of its recruitment
// conditions holds against the finalizing blow. Captured units become NPCs:
// they cannot act, and enemy AI sees them as the most attractive target until
// the stage is cleared.
package recruit

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"

	"github.com/freeeve/stagecraft/internal/condition"
	"github.com/freeeve/stagecraft/pkg/tactics"
)

// State is a unit's position in the recruitment lifecycle.
type State string

const (
	StateNormal    State = "normal"
	StateEligible  State = "eligible"
	StateCaptured  State = "captured"
	StateRecruited State = "recruited"
	StateLost      State = "lost"
)

// Terminal reports whether no further transition is possible this stage.
func (s State) Terminal() bool {
	return s == StateRecruited || s == StateLost
}

// NextAction tells the combat pipeline what to do with the target.
type NextAction string

const (
	ActionConvertToNPC NextAction = "convert_to_npc"
	ActionDefeat       NextAction = "normal_defeat"
	ActionContinue     NextAction = "continue_battle"
	ActionNone         NextAction = "none"
)

// CapturedHP is the HP a captured unit is left with after its killing blow is suppressed.
const CapturedHP = 1

// MaxTargetPriority is reported to AI targeting for captured units.
const MaxTargetPriority = math.MaxInt

// Record tracks one recruitable unit. It is created on the first eligibility
// check and dropped once the unit is recruited, lost, or normally defeated.
type Record struct {
	UnitID    string    `json:"unit_id"`
	State     State     `json:"state"`
	Results   []bool    `json:"results"`
	Eligible  bool      `json:"eligible"`
	Turn      int       `json:"turn"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Eligibility is the answer to an advisory eligibility check.
type Eligibility struct {
	Eligible   bool               `json:"eligible"`
	NextAction NextAction         `json:"next_action"`
	Conditions []condition.Result `json:"conditions,omitempty"`
	Code       Code               `json:"code,omitempty"`
}

// EligibilityContext carries the hypothetical blow for an advisory check.
type EligibilityContext struct {
	Damage     int
	Turn       int
	DamageType tactics.DamageType
}

// AttemptResult is the outcome of processing a blow against a recruitable unit.
type AttemptResult struct {
	Success    bool               `json:"success"`
	NextAction NextAction         `json:"next_action"`
	Code       Code               `json:"code,omitempty"`
	Message    string             `json:"message,omitempty"`
	Conditions []condition.Result `json:"conditions,omitempty"`

	// DamageApplied is set when the machine already applied the blow to the
	// target's HP (captured targets and captures). Callers must not apply it again.
	DamageApplied bool `json:"-"`
}

// RecruitedUnit describes a unit that joined the player at stage clear.
type RecruitedUnit struct {
	UnitID string `json:"unit_id"`
	Name   string `json:"name"`
	HP     int    `json:"hp"`
	MaxHP  int    `json:"max_hp"`
}

// Machine holds recruitment state for one stage.
type Machine struct {
	eval     *condition.Evaluator
	lang     language.Tag
	now      func() time.Time
	states   map[string]State
	records  map[string]*Record
	finished bool
}

// NewMachine creates a Machine that reports messages in the given language.
func NewMachine(eval *condition.Evaluator, lang language.Tag) *Machine {
	if eval == nil {
		eval = condition.NewEvaluator()
	}
	return &Machine{
		eval:    eval,
		lang:    lang,
		now:     time.Now,
		states:  make(map[string]State),
		records: make(map[string]*Record),
	}
}

// State returns the current state of a unit. Units never seen are Normal.
func (m *Machine) State(unitID string) State {
	if s, ok := m.states[unitID]; ok {
		return s
	}
	return StateNormal
}

// Captured returns the ids of all currently captured units, sorted.
func (m *Machine) Captured() []string {
	var ids []string
	for id, s := range m.states {
		if s == StateCaptured {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// TargetPriority returns the AI targeting priority for a unit: the maximum
// representable value while captured, otherwise the caller's computed value.
func (m *Machine) TargetPriority(unitID string, computed int) int {
	if m.State(unitID) == StateCaptured {
		return MaxTargetPriority
	}
	return computed
}

// CheckEligibility evaluates the target's conditions against a hypothetical
// finalizing blow. It may move a unit between Normal and Eligible but never
// changes its faction.
func (m *Machine) CheckEligibility(r *tactics.Roster, attackerID, targetID string, ec EligibilityContext) Eligibility {
	target := r.Get(targetID)
	if target == nil || !target.Recruitable() {
		return Eligibility{NextAction: ActionDefeat, Code: CodeInvalidTarget}
	}
	switch m.State(targetID) {
	case StateCaptured, StateRecruited:
		return Eligibility{NextAction: ActionNone, Code: CodeInvalidTarget}
	case StateLost:
		return Eligibility{NextAction: ActionNone, Code: CodeNPCAlreadyDefeated}
	}

	report := m.eval.EvaluateAll(target.Recruitment.Conditions, blowContext(r, attackerID, target, ec.Damage, ec.DamageType, false, ec.Turn))
	m.observe(targetID, report, ec.Turn)

	out := Eligibility{Eligible: report.AllMet, Conditions: report.Results, NextAction: ActionDefeat}
	if report.AllMet {
		out.NextAction = ActionConvertToNPC
	}
	return out
}

// ProcessAttempt runs the recruitment check for one attack, before the
// target is removed from the roster. On a lethal blow with every condition
// satisfied the blow is suppressed and the target becomes a captured NPC.
// A lethal blow on an already captured unit moves it to Lost.
func (m *Machine) ProcessAttempt(r *tactics.Roster, attackerID, targetID string, damage int, combat tactics.CombatResult, turn int) (res AttemptResult) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("targetId", targetID).Str("attackerId", attackerID).
				Interface("panic", p).Msg("Recruitment attempt failed")
			res = m.fail(CodeSystemError, ActionDefeat)
		}
	}()

	target := r.Get(targetID)
	if target == nil {
		return m.fail(CodeInvalidTarget, ActionNone)
	}
	combat.FinalDamage = damage
	lethal := combat.Lethal(target.HP)

	switch m.State(targetID) {
	case StateLost:
		return m.fail(CodeNPCAlreadyDefeated, ActionNone)
	case StateRecruited:
		return m.fail(CodeInvalidTarget, ActionNone)
	case StateCaptured:
		if !lethal {
			m.ApplyDamage(r, targetID, damage)
			return AttemptResult{NextAction: ActionContinue, DamageApplied: true}
		}
		m.ApplyDamage(r, targetID, target.HP)
		out := m.fail(CodeNPCAlreadyDefeated, ActionDefeat)
		out.DamageApplied = true
		return out
	}

	if !target.Recruitable() {
		next := ActionContinue
		if lethal {
			next = ActionDefeat
		}
		return m.fail(CodeInvalidTarget, next)
	}

	dt := combat.DamageType
	if dt == "" {
		dt = tactics.Physical
	}
	report := m.eval.EvaluateAll(target.Recruitment.Conditions, blowContext(r, attackerID, target, damage, dt, combat.IsCritical, turn))

	if !lethal {
		m.observe(targetID, report, turn)
		return AttemptResult{NextAction: ActionContinue, Conditions: report.Results}
	}

	if !report.AllMet {
		delete(m.records, targetID)
		delete(m.states, targetID)
		log.Info().Str("unitId", targetID).Str("attackerId", attackerID).Int("turn", turn).
			Msg("Recruitment conditions not met, unit defeated")
		out := m.fail(CodeConditionsNotMet, ActionDefeat)
		out.Conditions = report.Results
		return out
	}

	m.observe(targetID, report, turn)
	target.HP = CapturedHP
	target.Faction = tactics.NPC
	target.HasActed = true
	target.HasMoved = true
	m.states[targetID] = StateCaptured
	m.records[targetID].State = StateCaptured

	log.Info().Str("unitId", targetID).Str("attackerId", attackerID).Int("turn", turn).Msg("Unit captured")
	return AttemptResult{
		Success:       true,
		NextAction:    ActionConvertToNPC,
		Message:       format(m.lang, msgCaptured, displayName(target)),
		Conditions:    report.Results,
		DamageApplied: true,
	}
}

// ApplyDamage applies damage to a captured unit. It returns true if the unit
// was lost as a result. Damage to units in any other state is ignored.
func (m *Machine) ApplyDamage(r *tactics.Roster, unitID string, damage int) bool {
	if m.State(unitID) != StateCaptured {
		return false
	}
	u := r.Get(unitID)
	if u == nil {
		m.markLost(unitID)
		return true
	}
	u.HP -= damage
	if u.HP > 0 {
		return false
	}
	u.HP = 0
	m.markLost(unitID)
	log.Info().Str("unitId", unitID).Msg("Captured unit lost")
	return true
}

// CompleteRecruitment converts every captured unit that is still alive into a
// player unit. It runs once per stage; later calls return nil.
func (m *Machine) CompleteRecruitment(r *tactics.Roster) []RecruitedUnit {
	if m.finished {
		return nil
	}
	m.finished = true

	var out []RecruitedUnit
	for _, id := range m.Captured() {
		u := r.Get(id)
		if u == nil || u.HP <= 0 {
			m.markLost(id)
			continue
		}
		u.Faction = tactics.Player
		u.HasActed = false
		u.HasMoved = false
		m.states[id] = StateRecruited
		delete(m.records, id)
		out = append(out, RecruitedUnit{UnitID: id, Name: u.Name, HP: u.HP, MaxHP: u.MaxHP})
		log.Info().Str("unitId", id).Msg("Unit recruited")
	}
	return out
}

// Reset discards all records and states, as on stage reset.
func (m *Machine) Reset() {
	m.states = make(map[string]State)
	m.records = make(map[string]*Record)
	m.finished = false
}

// LostMessage returns the localized notice for a lost captive.
func (m *Machine) LostMessage(u *tactics.Unit) string {
	return format(m.lang, msgLost, displayName(u))
}

// RecruitedMessage returns the localized notice for a recruited unit.
func (m *Machine) RecruitedMessage(name string) string {
	return format(m.lang, msgRecruited, name)
}

func (m *Machine) observe(unitID string, report condition.Report, turn int) {
	rec, ok := m.records[unitID]
	if !ok {
		rec = &Record{UnitID: unitID, State: StateNormal}
		m.records[unitID] = rec
	}
	rec.Results = report.Satisfied()
	rec.Eligible = report.AllMet
	rec.Turn = turn
	rec.UpdatedAt = m.now()

	if rec.State == StateCaptured {
		return
	}
	if report.AllMet {
		rec.State = StateEligible
	} else {
		rec.State = StateNormal
	}
	m.states[unitID] = rec.State
}

func (m *Machine) markLost(unitID string) {
	m.states[unitID] = StateLost
	delete(m.records, unitID)
}

func (m *Machine) fail(code Code, next NextAction) AttemptResult {
	return AttemptResult{NextAction: next, Code: code, Message: Message(m.lang, code)}
}

func blowContext(r *tactics.Roster, attackerID string, target *tactics.Unit, damage int, dt tactics.DamageType, crit bool, turn int) tactics.BlowContext {
	ctx := tactics.BlowContext{
		AttackerID:  attackerID,
		TargetID:    target.ID,
		TargetHP:    target.HP,
		TargetMaxHP: target.MaxHP,
		Damage:      damage,
		DamageType:  dt,
		IsCritical:  crit,
		Turn:        turn,
	}
	if a := r.Get(attackerID); a != nil {
		ctx.AttackerFaction = a.Faction
	}
	return ctx
}

func displayName(u *tactics.Unit) string {
	if u.Name != "" {
		return u.Name
	}
	return fmt.Sprintf("Unit %s", u.ID)
}
