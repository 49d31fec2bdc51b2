package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"

	"github.com/freeeve/stagecraft/internal/condition"
	"github.com/freeeve/stagecraft/internal/logger"
	"github.com/freeeve/stagecraft/internal/model"
	"github.com/freeeve/stagecraft/internal/objective"
	"github.com/freeeve/stagecraft/internal/progress"
	"github.com/freeeve/stagecraft/internal/recruit"
	"github.com/freeeve/stagecraft/internal/repository"
	"github.com/freeeve/stagecraft/internal/reward"
	"github.com/freeeve/stagecraft/internal/victory"
	"github.com/freeeve/stagecraft/pkg/tactics"
)

var (
	ErrStageNotFound     = errors.New("stage run not found")
	ErrStageComplete     = errors.New("stage run is already complete")
	ErrStageInProgress   = errors.New("stage run is still in progress")
	ErrInvalidStage      = errors.New("invalid stage definition")
	ErrUnitNotFound      = errors.New("unit not found")
	ErrObjectiveNotFound = errors.New("objective not found")
)

// rewardTurn is the turn every reward cache entry is stored under. Rewards
// are keyed by performance hash and outlive the run's turn counter.
const rewardTurn = 0

// Options tunes a StageService. Zero values fall back to defaults.
type Options struct {
	Clock               clockwork.Clock
	VerdictTTL          time.Duration
	RewardTTL           time.Duration
	BatchSize           int
	BatchIdle           time.Duration
	FinishedTTL         time.Duration // how long a finished run stays readable
	BossCurrencyPerKill int           // overrides the default policy when a stage defines none
	Language            language.Tag
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.VerdictTTL == 0 {
		o.VerdictTTL = 5 * time.Second
	}
	if o.RewardTTL == 0 {
		o.RewardTTL = 5 * time.Minute
	}
	if o.BatchSize <= 0 {
		o.BatchSize = progress.DefaultBatchSize
	}
	if o.BatchIdle <= 0 {
		o.BatchIdle = progress.DefaultIdle
	}
	if o.FinishedTTL <= 0 {
		o.FinishedTTL = 10 * time.Minute
	}
	if o.Language == language.Und {
		o.Language = language.English
	}
	return o
}

// StageService runs stage battles: it feeds combat results through
// recruitment, objectives and victory/defeat adjudication, and persists
// outcomes to the player's save slot.
type StageService struct {
	persister   *Persister
	clears      repository.ClearRepository
	broadcaster Broadcaster
	opts        Options

	blows   *condition.Evaluator
	states  *condition.StateEvaluator
	rewards *progress.Cache[reward.Rewards]

	sessions sync.Map // runID -> *session
	locks    sync.Map // runID -> *sync.Mutex
}

// NewStageService creates a StageService. clears may be nil, in which case
// clears are only recorded in the save slot.
func NewStageService(persister *Persister, clears repository.ClearRepository, broadcaster Broadcaster, opts Options) *StageService {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	opts = opts.withDefaults()
	return &StageService{
		persister:   persister,
		clears:      clears,
		broadcaster: broadcaster,
		opts:        opts,
		blows:       condition.NewEvaluator(),
		states:      condition.NewStateEvaluator(),
		rewards:     progress.NewCache[reward.Rewards](opts.Clock, opts.RewardTTL),
	}
}

func (s *StageService) runLock(runID string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(runID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// lock takes the run's lock and returns its session. Lookups of unknown
// runs leave no lock behind.
func (s *StageService) lock(runID string) (*session, func(), error) {
	mu := s.runLock(runID)
	mu.Lock()
	v, ok := s.sessions.Load(runID)
	if !ok {
		s.locks.CompareAndDelete(runID, mu)
		mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %s", ErrStageNotFound, runID)
	}
	return v.(*session), mu.Unlock, nil
}

// lockActive is lock for mutating calls: finished runs are rejected.
func (s *StageService) lockActive(runID string) (*session, func(), error) {
	sess, unlock, err := s.lock(runID)
	if err != nil {
		return nil, nil, err
	}
	if sess.status != StatusActive {
		unlock()
		return nil, nil, fmt.Errorf("%w: %s", ErrStageComplete, runID)
	}
	return sess, unlock, nil
}

// StartStage registers a stage's units, objectives and conditions and starts
// a run on turn 1. Stage data without an objective or a victory condition is
// rejected.
func (s *StageService) StartStage(ctx context.Context, def *model.StageDefinition, slotID, userID string) (*StageView, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: definition is required", ErrInvalidStage)
	}
	if def.ID == "" {
		return nil, fmt.Errorf("%w: stage id is required", ErrInvalidStage)
	}
	if slotID == "" {
		return nil, fmt.Errorf("%w: slot id is required", ErrInvalidStage)
	}
	if len(def.Objectives) == 0 {
		return nil, fmt.Errorf("%w: stage %s has no objectives", ErrInvalidStage, def.ID)
	}
	if len(def.Victory) == 0 {
		return nil, fmt.Errorf("%w: stage %s has no victory conditions", ErrInvalidStage, def.ID)
	}
	for _, u := range def.Units {
		if !u.Faction.Valid() {
			return nil, fmt.Errorf("%w: unit %s has unknown faction %q", ErrInvalidStage, u.ID, u.Faction)
		}
	}

	roster, err := tactics.NewRoster(def.Units)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStage, err)
	}
	if err := checkUnitRefs(def, roster); err != nil {
		return nil, fmt.Errorf("%w: stage %s: %v", ErrInvalidStage, def.ID, err)
	}

	lang := s.opts.Language
	if def.Language != "" {
		if tag, err := language.Parse(def.Language); err == nil {
			lang = tag
		} else {
			log.Warn().Str("stageId", def.ID).Str("language", def.Language).Msg("Unknown stage language, using default")
		}
	}

	runID := uuid.New().String()
	sess := newSession(runID, slotID, def, roster, recruit.NewMachine(s.blows, lang),
		objective.NewTracker(s.states), victory.NewManager(s.states), s.opts)
	sess.activePlayer = userID

	snap := sess.snapshot()
	for _, o := range def.Objectives {
		if err := sess.objectives.Register(o, snap); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidStage, err)
		}
	}
	for _, c := range def.Victory {
		if err := sess.conditions.AddVictory(c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidStage, err)
		}
	}
	if sess.conditions.RequiredCount() == 0 {
		return nil, fmt.Errorf("%w: stage %s has no required victory condition", ErrInvalidStage, def.ID)
	}
	for _, c := range def.Defeat {
		if err := sess.conditions.AddDefeat(c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidStage, err)
		}
	}
	// A protected unit's death ends the stage even when the stage data
	// forgot to say so.
	for _, o := range sess.objectives.All() {
		if o.Type != objective.TypeProtectUnit || sess.conditions.HasDefeat(victory.KindUnitDefeated, o.UnitID) {
			continue
		}
		name := o.UnitID
		if u := roster.Get(o.UnitID); u != nil && u.Name != "" {
			name = u.Name
		}
		c := victory.Condition{
			ID:          "protect:" + o.ID,
			Kind:        victory.KindUnitDefeated,
			UnitID:      o.UnitID,
			Description: fmt.Sprintf("%s was defeated", name),
		}
		if err := sess.conditions.AddDefeat(c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidStage, err)
		}
	}

	s.sessions.Store(runID, sess)
	l := logger.ForStage(ctx, runID)
	l.Info().Str("stageId", def.ID).Str("slotId", slotID).
		Int("units", roster.Len()).Int("objectives", sess.objectives.Len()).Msg("Stage started")
	return sess.view(), nil
}

// checkUnitRefs rejects stage data that names units missing from the roster.
// An unknown id would read as an already defeated unit.
func checkUnitRefs(def *model.StageDefinition, roster *tactics.Roster) error {
	known := func(id string) bool { return roster.Get(id) != nil }
	for _, o := range def.Objectives {
		switch o.Type {
		case objective.TypeDefeatBoss:
			u := roster.Get(o.BossID)
			if u == nil {
				return fmt.Errorf("objective %s: unknown boss %q", o.ID, o.BossID)
			}
			if u.Faction == tactics.Player {
				return fmt.Errorf("objective %s: boss %q is a player unit", o.ID, o.BossID)
			}
		case objective.TypeProtectUnit:
			if !known(o.UnitID) {
				return fmt.Errorf("objective %s: unknown unit %q", o.ID, o.UnitID)
			}
		case objective.TypeDefeatAllEnemies:
			for _, id := range o.Enemies {
				if !known(id) {
					return fmt.Errorf("objective %s: unknown enemy %q", o.ID, id)
				}
			}
		}
	}
	for _, conds := range [][]victory.Condition{def.Victory, def.Defeat} {
		for _, c := range conds {
			if c.UnitID != "" && !known(c.UnitID) {
				return fmt.Errorf("condition %s: unknown unit %q", c.ID, c.UnitID)
			}
		}
	}
	for _, u := range def.Units {
		if u.Recruitment == nil {
			continue
		}
		for _, c := range u.Recruitment.Conditions {
			if c.Kind == tactics.CondSpecificAttacker && !known(c.AttackerID) {
				return fmt.Errorf("unit %s: recruitment names unknown attacker %q", u.ID, c.AttackerID)
			}
		}
	}
	return nil
}

// GetStage returns a copy of a run's state.
func (s *StageService) GetStage(ctx context.Context, runID string) (*StageView, error) {
	sess, unlock, err := s.lock(runID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return sess.view(), nil
}

// ResolveAttack feeds one combat result through the stage in strict order:
// recruitment, HP and performance, objectives, then defeat and victory.
func (s *StageService) ResolveAttack(ctx context.Context, runID string, combat tactics.CombatResult) (*AttackOutcome, error) {
	sess, unlock, err := s.lockActive(runID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	target := sess.roster.Get(combat.TargetID)
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnitNotFound, combat.TargetID)
	}
	var attackerFaction tactics.Faction
	if a := sess.roster.Get(combat.AttackerID); a != nil {
		attackerFaction = a.Faction
		a.HasActed = true
	}
	_, changes := s.flushIfDue(sess)

	targetID, faction, hpBefore := target.ID, target.Faction, target.HP
	res := sess.recruit.ProcessAttempt(sess.roster, combat.AttackerID, targetID, combat.FinalDamage, combat, sess.turn)
	out := &AttackOutcome{Recruitment: res}

	if !res.DamageApplied && !combat.IsEvaded {
		target.HP -= combat.FinalDamage
		if combat.TargetDefeated || target.HP < 0 {
			target.HP = 0
		}
	}
	out.TargetHP = target.HP

	if dealt := hpBefore - target.HP; dealt > 0 {
		if attackerFaction == tactics.Player {
			sess.perf.DamageDealt += dealt
		}
		if faction == tactics.Player {
			sess.perf.DamageTaken += dealt
		}
	}

	l := logger.ForStage(ctx, runID)
	captured := res.Success && res.NextAction == recruit.ActionConvertToNPC
	if captured {
		out.TargetCaptured = true
		s.broadcaster.BroadcastStageEvent(runID, EventUnitCaptured, map[string]any{
			"unit_id": targetID, "message": res.Message, "turn": sess.turn,
		})
		if target.IsBoss {
			s.recordBoss(sess, targetID)
		}
	}

	if target.HP <= 0 {
		out.TargetDefeated = true
		switch faction {
		case tactics.Enemy:
			sess.perf.EnemiesDefeated++
			if target.IsBoss {
				s.recordBoss(sess, targetID)
			}
		case tactics.Player:
			sess.perf.UnitsLost++
		case tactics.NPC:
			if sess.recruit.State(targetID) == recruit.StateLost {
				out.TargetLost = true
				s.broadcaster.BroadcastStageEvent(runID, EventUnitLost, map[string]any{
					"unit_id": targetID, "message": sess.recruit.LostMessage(target), "turn": sess.turn,
				})
			}
		}
		l.Info().Str("unitId", targetID).Str("faction", string(faction)).Int("turn", sess.turn).Msg("Unit defeated")
	}

	if out.TargetDefeated || captured {
		changes = append(changes, sess.objectives.Handle(objective.Event{
			Kind: objective.EventUnitDefeated, UnitID: targetID, Turn: sess.turn,
		}, sess.snapshot())...)
	}
	if out.TargetDefeated {
		sess.roster.Remove(targetID)
	}

	out.Verdict = s.settle(ctx, sess, changes)
	return out, nil
}

// ApplyHealing restores HP to a unit, capped at its maximum.
func (s *StageService) ApplyHealing(ctx context.Context, runID, healerID, targetID string, amount int) (*Verdict, error) {
	sess, unlock, err := s.lockActive(runID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	target := sess.roster.Get(targetID)
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnitNotFound, targetID)
	}
	if h := sess.roster.Get(healerID); h != nil {
		h.HasActed = true
	}
	_, changes := s.flushIfDue(sess)

	if amount > 0 && target.HP > 0 {
		healed := min(amount, target.MaxHP-target.HP)
		if healed > 0 {
			target.HP += healed
			sess.perf.HealingDone += healed
		}
	}
	v := s.settle(ctx, sess, changes)
	return &v, nil
}

// ReachPosition moves a unit and applies position objectives.
func (s *StageService) ReachPosition(ctx context.Context, runID, unitID string, pos tactics.Position) (*Verdict, error) {
	sess, unlock, err := s.lockActive(runID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	u := sess.roster.Get(unitID)
	if u == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnitNotFound, unitID)
	}
	_, changes := s.flushIfDue(sess)

	u.Position = pos
	u.HasMoved = true
	changes = append(changes, sess.objectives.Handle(objective.Event{
		Kind: objective.EventPositionReached, UnitID: unitID, Position: pos, Turn: sess.turn,
	}, sess.snapshot())...)

	v := s.settle(ctx, sess, changes)
	return &v, nil
}

// EndTurn flushes pending objective writes, advances the turn and checks the
// stage outcome.
func (s *StageService) EndTurn(ctx context.Context, runID string) (*TurnResult, error) {
	sess, unlock, err := s.lockActive(runID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	flushed, changes := s.flush(sess)

	sess.turn++
	sess.roster.ResetActions()
	sess.victories.AdvanceTurn(sess.turn)
	sess.defeats.AdvanceTurn(sess.turn)

	changes = append(changes, sess.objectives.Handle(objective.Event{
		Kind: objective.EventTurnAdvanced, Turn: sess.turn,
	}, sess.snapshot())...)
	s.broadcaster.BroadcastStageEvent(runID, EventTurnAdvanced, map[string]any{"turn": sess.turn})
	l := logger.ForStage(ctx, runID)
	l.Debug().Int("turn", sess.turn).Int("flushed", flushed).Msg("Turn advanced")

	out := &TurnResult{Turn: sess.turn}
	out.Verdict = s.settle(ctx, sess, changes)
	out.Flushed = flushed
	return out, nil
}

// HandleBossDefeat records a boss kill reported outside ResolveAttack, then
// re-checks the stage outcome. Repeated reports for the same boss are ignored.
func (s *StageService) HandleBossDefeat(ctx context.Context, runID, bossID string) (*Verdict, error) {
	sess, unlock, err := s.lockActive(runID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !isBoss(sess, bossID) {
		return nil, fmt.Errorf("%w: boss %s", ErrUnitNotFound, bossID)
	}
	var changes []objective.Change
	if s.recordBoss(sess, bossID) {
		changes = sess.objectives.Handle(objective.Event{
			Kind: objective.EventUnitDefeated, UnitID: bossID, Turn: sess.turn,
		}, sess.snapshot())
	}
	v := s.settle(ctx, sess, changes)
	return &v, nil
}

func isBoss(sess *session, unitID string) bool {
	if u := sess.roster.Get(unitID); u != nil {
		return u.IsBoss
	}
	for _, u := range sess.def.Units {
		if u.ID == unitID {
			return u.IsBoss
		}
	}
	return false
}

// recordBoss does boss bookkeeping once per boss: performance, secondary
// currency, and an immediate save of the currency.
func (s *StageService) recordBoss(sess *session, bossID string) bool {
	if sess.defeatedBosses[bossID] {
		return false
	}
	sess.defeatedBosses[bossID] = true
	sess.perf.BossesDefeated++

	currency := sess.policy.BossCurrencyPerKill
	if currency <= 0 {
		return true
	}
	sess.bossCurrency += currency
	stageID := sess.def.ID
	s.persist(sess, func(slot *model.SaveSlot) {
		slot.Stage(stageID).BossCurrency += currency
	}, nil)
	log.Info().Str("runId", sess.runID).Str("bossId", bossID).Int("currency", currency).Msg("Boss defeated")
	return true
}

// settle announces objective changes and runs defeat then victory checks on
// fresh state. Defeat wins when both hold.
func (s *StageService) settle(ctx context.Context, sess *session, changes []objective.Change) Verdict {
	s.announce(sess, changes)
	sess.invalidate()

	v := Verdict{Objectives: changes}
	v.Defeat = sess.checkDefeat()
	v.Victory = sess.checkVictory()
	switch {
	case v.Defeat.IsDefeat:
		s.finishDefeat(ctx, sess, v.Defeat)
	case v.Victory.IsVictory:
		s.completeStage(ctx, sess, v.Victory)
	}
	v.Status = sess.status
	v.Rewards = sess.rewards
	return v
}

func (s *StageService) announce(sess *session, changes []objective.Change) {
	for _, c := range changes {
		event := EventObjectiveUpdated
		switch {
		case c.Completed:
			event = EventObjectiveCompleted
		case c.Failed:
			event = EventObjectiveFailed
		}
		s.broadcaster.BroadcastStageEvent(sess.runID, event, c)
	}
}

// completeStage finalizes a victory. It runs once per run: recruitment is
// completed, rewards are computed and the clear is saved.
func (s *StageService) completeStage(ctx context.Context, sess *session, res victory.VictoryResult) {
	if sess.status != StatusActive {
		return
	}
	sess.status = StatusVictory
	sess.finishedAt = s.opts.Clock.Now()
	sess.perf.TurnsUsed = sess.turn
	s.applyPending(sess)

	sess.recruited = sess.recruit.CompleteRecruitment(sess.roster)
	sess.perf.RecruitmentSuccesses += len(sess.recruited)

	rw := s.computeRewards(sess)
	sess.rewards = &rw
	now := s.opts.Clock.Now().UTC()

	hits, misses := sess.victories.Stats()
	l := logger.ForStage(ctx, sess.runID)
	l.Info().Str("stageId", sess.def.ID).Str("rating", string(rw.Rating)).Int("score", rw.Score).
		Int("turns", sess.perf.TurnsUsed).Int("recruited", len(sess.recruited)).
		Int("verdictHits", hits).Int("verdictMisses", misses).Msg("Stage cleared")

	s.broadcaster.BroadcastStageEvent(sess.runID, EventStageVictory, res)
	if len(sess.recruited) > 0 {
		msgs := make([]string, 0, len(sess.recruited))
		for _, u := range sess.recruited {
			msgs = append(msgs, sess.recruit.RecruitedMessage(u.Name))
		}
		s.broadcaster.BroadcastStageEvent(sess.runID, EventUnitsRecruited, map[string]any{
			"units": sess.recruited, "messages": msgs,
		})
	}
	s.broadcaster.BroadcastStageEvent(sess.runID, EventRewardsGranted, rw)

	rec := model.ClearRecord{
		Rating:               rw.Rating,
		Score:                rw.Score,
		TurnsUsed:            sess.perf.TurnsUsed,
		UnitsLost:            sess.perf.UnitsLost,
		BossesDefeated:       sess.perf.BossesDefeated,
		RecruitmentSuccesses: sess.perf.RecruitmentSuccesses,
		ClearedAt:            now,
	}
	army := make([]model.ArmyUnit, 0, len(sess.recruited))
	for _, u := range sess.recruited {
		army = append(army, model.ArmyUnit{UnitID: u.UnitID, Name: u.Name, HP: u.HP, MaxHP: u.MaxHP, StageID: sess.def.ID, JoinedAt: now})
	}
	state := sess.finalState(model.OutcomeVictory, now)
	entry := model.RewardEntry{ID: uuid.New().String(), RunID: sess.runID, Rewards: rw, GrantedAt: now}
	stageID, slotID, runID := sess.def.ID, sess.slotID, sess.runID

	s.persist(sess, func(slot *model.SaveSlot) {
		doc := slot.Stage(stageID)
		doc.RecordClear(rec)
		doc.AddReward(entry)
		doc.AddState(state)
		slot.Enlist(army...)
	}, func(PersistResult) {
		if s.clears == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		archive := model.ClearArchive{ID: entry.ID, SlotID: slotID, StageID: stageID, RunID: runID, ClearRecord: rec}
		if err := s.clears.RecordClear(ctx, archive); err != nil {
			log.Error().Err(err).Str("runId", runID).Msg("Failed to archive stage clear")
		}
	})
}

// computeRewards returns the rewards for the run's performance, reusing a
// cached result for an identical performance on the same stage.
func (s *StageService) computeRewards(sess *session) reward.Rewards {
	key, err := progress.PerformanceKey(sess.def.ID, struct {
		Performance reward.Performance
		Policy      reward.Policy
	}{sess.perf, sess.policy})
	if err == nil {
		if rw, ok := s.rewards.Get(key, rewardTurn); ok {
			return rw
		}
	}
	rw := reward.Compute(sess.perf, sess.policy)
	if err == nil {
		s.rewards.Set(key, rewardTurn, rw)
	}
	return rw
}

func (s *StageService) finishDefeat(ctx context.Context, sess *session, res victory.DefeatResult) {
	if sess.status != StatusActive {
		return
	}
	sess.status = StatusDefeat
	sess.finishedAt = s.opts.Clock.Now()
	sess.defeatMessage = res.Message
	sess.perf.TurnsUsed = sess.turn
	s.applyPending(sess)

	l := logger.ForStage(ctx, sess.runID)
	l.Info().Str("stageId", sess.def.ID).Strs("triggered", res.Triggered).
		Int("turn", sess.turn).Msg("Stage lost")
	s.broadcaster.BroadcastStageEvent(sess.runID, EventStageDefeat, res)

	state := sess.finalState(model.OutcomeDefeat, s.opts.Clock.Now().UTC())
	stageID := sess.def.ID
	s.persist(sess, func(slot *model.SaveSlot) {
		slot.Stage(stageID).AddState(state)
	}, nil)
}

// AbortStage abandons a run. Pending objective writes are dropped unapplied,
// caches are cleared and the run is forgotten.
func (s *StageService) AbortStage(ctx context.Context, runID string) error {
	sess, unlock, err := s.lockActive(runID)
	if err != nil {
		return err
	}
	defer unlock()

	dropped := sess.batch.Drop()
	sess.victories.Reset()
	sess.defeats.Reset()
	sess.recruit.Reset()

	state := sess.finalState(model.OutcomeAborted, s.opts.Clock.Now().UTC())
	stageID := sess.def.ID
	s.persist(sess, func(slot *model.SaveSlot) {
		slot.Stage(stageID).AddState(state)
	}, nil)

	s.sessions.Delete(runID)
	s.locks.Delete(runID)
	l := logger.ForStage(ctx, runID)
	l.Info().Int("dropped", dropped).Int("turn", sess.turn).Msg("Stage aborted")
	return nil
}

// persist queues a save slot write and reports failures to clients.
func (s *StageService) persist(sess *session, mutate func(*model.SaveSlot), done func(PersistResult)) {
	runID, slotID := sess.runID, sess.slotID
	s.persister.Update(slotID, mutate, func(res PersistResult) {
		if !res.OK {
			s.broadcaster.BroadcastStageEvent(runID, EventPersistFailed, map[string]any{
				"slot_id": slotID, "kind": res.Kind,
			})
		}
		if done != nil {
			done(res)
		}
	})
}

// CheckRecruitmentEligibility evaluates a target's recruitment conditions
// against a hypothetical blow without applying it.
func (s *StageService) CheckRecruitmentEligibility(ctx context.Context, runID, attackerID, targetID string, damage int, dt tactics.DamageType) (recruit.Eligibility, error) {
	sess, unlock, err := s.lockActive(runID)
	if err != nil {
		return recruit.Eligibility{}, err
	}
	defer unlock()

	if dt == "" {
		dt = tactics.Physical
	}
	return sess.recruit.CheckEligibility(sess.roster, attackerID, targetID, recruit.EligibilityContext{
		Damage: damage, Turn: sess.turn, DamageType: dt,
	}), nil
}

// ProcessRecruitmentAttempt resolves a blow and returns only its recruitment
// outcome. The blow goes through the full attack pipeline.
func (s *StageService) ProcessRecruitmentAttempt(ctx context.Context, runID string, combat tactics.CombatResult) (recruit.AttemptResult, error) {
	out, err := s.ResolveAttack(ctx, runID, combat)
	if err != nil {
		return recruit.AttemptResult{}, err
	}
	return out.Recruitment, nil
}

// CompleteRecruitment returns the units recruited when the run was cleared.
// It fails while the run is still in progress.
func (s *StageService) CompleteRecruitment(ctx context.Context, runID string) ([]recruit.RecruitedUnit, error) {
	sess, unlock, err := s.lock(runID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if sess.status == StatusActive {
		return nil, fmt.Errorf("%w: %s", ErrStageInProgress, runID)
	}
	return append([]recruit.RecruitedUnit(nil), sess.recruited...), nil
}

// UpdateObjectiveProgress queues a progress write. Writes are applied in
// batches: when the batch is full, when the idle window has elapsed, or at
// turn end.
func (s *StageService) UpdateObjectiveProgress(ctx context.Context, runID, objectiveID string, current int, target *int) (*Verdict, error) {
	sess, unlock, err := s.lockActive(runID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, ok := sess.objectives.Get(objectiveID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectiveNotFound, objectiveID)
	}
	flushed, changes := s.flushIfDue(sess)
	if sess.batch.Enqueue(progress.Update{ObjectiveID: objectiveID, Current: current, Target: target}) {
		n, more := s.flush(sess)
		flushed += n
		changes = append(changes, more...)
	}
	if flushed == 0 {
		return &Verdict{Status: sess.status}, nil
	}
	v := s.settle(ctx, sess, changes)
	v.Flushed = flushed
	return &v, nil
}

// TrackObjectiveProgress applies pending writes and re-evaluates every
// objective immediately.
func (s *StageService) TrackObjectiveProgress(ctx context.Context, runID string) ([]objective.EvaluationResult, error) {
	sess, unlock, err := s.lockActive(runID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	_, changes := s.flush(sess)
	results, tracked := sess.objectives.TrackProgress(sess.snapshot())
	s.settle(ctx, sess, append(changes, tracked...))
	return results, nil
}

// applyPending lands queued objective writes on a run that has just ended.
// The outcome is already decided, so nothing is re-checked.
func (s *StageService) applyPending(sess *session) {
	if n, changes := s.flush(sess); n > 0 {
		s.announce(sess, changes)
	}
}

func (s *StageService) flushIfDue(sess *session) (int, []objective.Change) {
	if !sess.batch.Due() {
		return 0, nil
	}
	return s.flush(sess)
}

// flush applies every pending objective write in enqueue order.
func (s *StageService) flush(sess *session) (int, []objective.Change) {
	var changes []objective.Change
	n := sess.batch.Flush(func(u progress.Update) {
		c, err := sess.objectives.UpdateProgress(u.ObjectiveID, u.Current, u.Target)
		if err != nil {
			log.Warn().Err(err).Str("runId", sess.runID).Str("objectiveId", u.ObjectiveID).Msg("Dropping objective update")
			return
		}
		if c != nil {
			changes = append(changes, *c)
		}
	})
	return n, changes
}

// Objectives returns copies of a run's objectives.
func (s *StageService) Objectives(ctx context.Context, runID string) ([]objective.Objective, error) {
	sess, unlock, err := s.lock(runID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return sess.objectives.All(), nil
}

// CheckVictoryConditions returns the victory verdict for the current turn,
// served from cache when nothing changed since the last check.
func (s *StageService) CheckVictoryConditions(ctx context.Context, runID string) (victory.VictoryResult, error) {
	sess, unlock, err := s.lock(runID)
	if err != nil {
		return victory.VictoryResult{}, err
	}
	defer unlock()
	return sess.checkVictory(), nil
}

// CheckDefeatConditions returns the defeat verdict for the current turn,
// served from cache when nothing changed since the last check.
func (s *StageService) CheckDefeatConditions(ctx context.Context, runID string) (victory.DefeatResult, error) {
	sess, unlock, err := s.lock(runID)
	if err != nil {
		return victory.DefeatResult{}, err
	}
	defer unlock()
	return sess.checkDefeat(), nil
}

// TargetPriority returns the AI targeting priority of a unit: the maximum
// while it is a captured NPC, the caller's computed value otherwise.
func (s *StageService) TargetPriority(ctx context.Context, runID, unitID string, computed int) (int, error) {
	sess, unlock, err := s.lock(runID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	if sess.roster.Get(unitID) == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnitNotFound, unitID)
	}
	return sess.recruit.TargetPriority(unitID, computed), nil
}

// LoadSlot reads a save slot after any pending writes to it have landed.
func (s *StageService) LoadSlot(ctx context.Context, slotID string) (*model.SaveSlot, PersistResult) {
	return s.persister.LoadSlot(ctx, slotID)
}

// Flush waits for every queued save slot write.
func (s *StageService) Flush(ctx context.Context) error {
	return s.persister.Flush(ctx)
}
