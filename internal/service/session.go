package service

import (
	"time"

	"github.com/freeeve/stagecraft/internal/model"
	"github.com/freeeve/stagecraft/internal/objective"
	"github.com/freeeve/stagecraft/internal/progress"
	"github.com/freeeve/stagecraft/internal/recruit"
	"github.com/freeeve/stagecraft/internal/reward"
	"github.com/freeeve/stagecraft/internal/victory"
	"github.com/freeeve/stagecraft/pkg/tactics"
)

// Status is the lifecycle status of a stage run.
type Status string

const (
	StatusActive  Status = "active"
	StatusVictory Status = "victory"
	StatusDefeat  Status = "defeat"
)

// Turn phases.
const (
	PhasePlayer = "player"
	PhaseEnemy  = "enemy"
)

// session is the live state of one stage run. It is only touched with the
// run's lock held.
type session struct {
	runID        string
	slotID       string
	def          *model.StageDefinition
	policy       reward.Policy
	startedAt    time.Time
	finishedAt   time.Time
	turn         int
	phase        string
	activePlayer string
	status       Status

	roster     *tactics.Roster
	recruit    *recruit.Machine
	objectives *objective.Tracker
	conditions *victory.Manager

	victories *progress.Cache[victory.VictoryResult]
	defeats   *progress.Cache[victory.DefeatResult]
	batch     *progress.Batcher

	perf           reward.Performance
	defeatedBosses map[string]bool
	bossCurrency   int
	recruited      []recruit.RecruitedUnit
	rewards        *reward.Rewards
	defeatMessage  string
}

func newSession(runID, slotID string, def *model.StageDefinition, roster *tactics.Roster, m *recruit.Machine,
	objectives *objective.Tracker, conditions *victory.Manager, opts Options) *session {
	policy := reward.DefaultPolicy()
	if def.Rewards != nil {
		policy = *def.Rewards
	} else if opts.BossCurrencyPerKill > 0 {
		policy.BossCurrencyPerKill = opts.BossCurrencyPerKill
	}
	return &session{
		runID:          runID,
		slotID:         slotID,
		def:            def,
		policy:         policy,
		startedAt:      opts.Clock.Now().UTC(),
		turn:           1,
		phase:          PhasePlayer,
		status:         StatusActive,
		roster:         roster,
		recruit:        m,
		objectives:     objectives,
		conditions:     conditions,
		victories:      progress.NewCache[victory.VictoryResult](opts.Clock, opts.VerdictTTL),
		defeats:        progress.NewCache[victory.DefeatResult](opts.Clock, opts.VerdictTTL),
		batch:          progress.NewBatcher(opts.Clock, opts.BatchSize, opts.BatchIdle),
		defeatedBosses: make(map[string]bool),
	}
}

func (s *session) snapshot() *tactics.Snapshot {
	snap := tactics.NewSnapshot(s.def.ID, s.turn, s.roster)
	snap.MaxTurns = s.def.MaxTurns
	snap.Phase = s.phase
	snap.ActivePlayer = s.activePlayer
	for id, ok := range s.defeatedBosses {
		snap.DefeatedBosses[id] = ok
	}
	snap.CompletedGoals, snap.RequiredGoals = s.objectives.Required()
	snap.RecruitedCount = len(s.recruited)
	snap.CapturedCount = len(s.recruit.Captured())
	snap.EnemiesDefeated = s.perf.EnemiesDefeated
	return &snap
}

func (s *session) verdictKey(kind string) string {
	return progress.VerdictKey(kind, s.turn, s.phase, s.activePlayer)
}

// invalidate drops cached verdicts after a mutation within the current turn.
func (s *session) invalidate() {
	s.victories.Invalidate(s.verdictKey("victory"))
	s.defeats.Invalidate(s.verdictKey("defeat"))
}

func (s *session) checkVictory() victory.VictoryResult {
	key := s.verdictKey("victory")
	if v, ok := s.victories.Get(key, s.turn); ok {
		return v
	}
	v := s.conditions.CheckVictory(s.snapshot())
	s.victories.Set(key, s.turn, v)
	return v
}

func (s *session) checkDefeat() victory.DefeatResult {
	key := s.verdictKey("defeat")
	if d, ok := s.defeats.Get(key, s.turn); ok {
		return d
	}
	d := s.conditions.CheckDefeat(s.snapshot())
	s.defeats.Set(key, s.turn, d)
	return d
}

func (s *session) finalState(outcome string, now time.Time) model.StageState {
	return model.StageState{RunID: s.runID, Outcome: outcome, Turn: s.turn, Performance: s.perf, RecordedAt: now}
}

func (s *session) view() *StageView {
	return &StageView{
		RunID:        s.runID,
		StageID:      s.def.ID,
		SlotID:       s.slotID,
		Name:         s.def.Name,
		Status:       s.status,
		Turn:         s.turn,
		MaxTurns:     s.def.MaxTurns,
		Phase:        s.phase,
		Units:        s.roster.Units(),
		Objectives:   s.objectives.All(),
		Captured:     s.recruit.Captured(),
		Performance:  s.perf,
		Rewards:      s.rewards,
		Recruited:    s.recruited,
		BossCurrency: s.bossCurrency,
		Defeat:       s.defeatMessage,
		StartedAt:    s.startedAt,
	}
}

// StageView is a read-only copy of a stage run.
type StageView struct {
	RunID        string                  `json:"run_id"`
	StageID      string                  `json:"stage_id"`
	SlotID       string                  `json:"slot_id"`
	Name         string                  `json:"name"`
	Status       Status                  `json:"status"`
	Turn         int                     `json:"turn"`
	MaxTurns     int                     `json:"max_turns,omitempty"`
	Phase        string                  `json:"phase"`
	Units        []tactics.Unit          `json:"units"`
	Objectives   []objective.Objective   `json:"objectives"`
	Captured     []string                `json:"captured,omitempty"`
	Performance  reward.Performance      `json:"performance"`
	Rewards      *reward.Rewards         `json:"rewards,omitempty"`
	Recruited    []recruit.RecruitedUnit `json:"recruited,omitempty"`
	BossCurrency int                     `json:"boss_currency"`
	Defeat       string                  `json:"defeat,omitempty"`
	StartedAt    time.Time               `json:"started_at"`
}

// Verdict is the state of a run after a mutation: the objectives that moved
// and the victory and defeat checks that followed.
type Verdict struct {
	Objectives []objective.Change    `json:"objectives,omitempty"`
	Flushed    int                   `json:"flushed,omitempty"`
	Victory    victory.VictoryResult `json:"victory"`
	Defeat     victory.DefeatResult  `json:"defeat"`
	Status     Status                `json:"status"`
	Rewards    *reward.Rewards       `json:"rewards,omitempty"`
}

// AttackOutcome is the result of running one combat result through
// recruitment, objectives and the victory check.
type AttackOutcome struct {
	Recruitment    recruit.AttemptResult `json:"recruitment"`
	TargetHP       int                   `json:"target_hp"`
	TargetDefeated bool                  `json:"target_defeated"`
	TargetCaptured bool                  `json:"target_captured"`
	TargetLost     bool                  `json:"target_lost"`
	Verdict
}

// TurnResult is the result of ending a turn.
type TurnResult struct {
	Turn int `json:"turn"`
	Verdict
}
