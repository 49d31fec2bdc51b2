package model

import (
	"time"

	"github.com/freeeve/stagecraft/internal/reward"
)

// Bounds on the per-stage history lists. The oldest entry is evicted first.
const (
	MaxRewardHistory  = 100
	MaxPreviousStates = 10
)

// Stage outcomes recorded in stage history.
const (
	OutcomeVictory = "victory"
	OutcomeDefeat  = "defeat"
	OutcomeAborted = "aborted"
)

// SaveSlot is the persisted save document for one slot.
type SaveSlot struct {
	SlotID    string                    `json:"slot_id"`
	Version   int                       `json:"version"`
	Army      []ArmyUnit                `json:"army,omitempty"`
	Stages    map[string]*StageDocument `json:"stages"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// NewSaveSlot creates an empty slot.
func NewSaveSlot(slotID string) *SaveSlot {
	return &SaveSlot{SlotID: slotID, Stages: make(map[string]*StageDocument)}
}

// Stage returns the document for a stage, creating it if needed.
func (s *SaveSlot) Stage(stageID string) *StageDocument {
	if s.Stages == nil {
		s.Stages = make(map[string]*StageDocument)
	}
	doc, ok := s.Stages[stageID]
	if !ok {
		doc = &StageDocument{StageID: stageID}
		s.Stages[stageID] = doc
	}
	return doc
}

// Enlist adds recruited units to the army, skipping ids already present.
func (s *SaveSlot) Enlist(units ...ArmyUnit) {
	have := make(map[string]bool, len(s.Army))
	for _, u := range s.Army {
		have[u.UnitID] = true
	}
	for _, u := range units {
		if have[u.UnitID] {
			continue
		}
		have[u.UnitID] = true
		s.Army = append(s.Army, u)
	}
}

// ArmyUnit is a recruited unit available in later stages.
type ArmyUnit struct {
	UnitID   string    `json:"unit_id"`
	Name     string    `json:"name"`
	HP       int       `json:"hp"`
	MaxHP    int       `json:"max_hp"`
	StageID  string    `json:"stage_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// StageDocument is the per-stage sub-document of a save slot.
type StageDocument struct {
	StageID        string        `json:"stage_id"`
	Clear          *ClearRecord  `json:"clear,omitempty"`
	BossCurrency   int           `json:"boss_currency"`
	RewardHistory  []RewardEntry `json:"reward_history,omitempty"`
	PreviousStates []StageState  `json:"previous_states,omitempty"`
}

// AddReward appends a reward entry, evicting the oldest beyond MaxRewardHistory.
func (d *StageDocument) AddReward(e RewardEntry) {
	d.RewardHistory = append(d.RewardHistory, e)
	if n := len(d.RewardHistory); n > MaxRewardHistory {
		d.RewardHistory = append([]RewardEntry(nil), d.RewardHistory[n-MaxRewardHistory:]...)
	}
}

// AddState appends a stage state, evicting the oldest beyond MaxPreviousStates.
func (d *StageDocument) AddState(s StageState) {
	d.PreviousStates = append(d.PreviousStates, s)
	if n := len(d.PreviousStates); n > MaxPreviousStates {
		d.PreviousStates = append([]StageState(nil), d.PreviousStates[n-MaxPreviousStates:]...)
	}
}

// RecordClear keeps the best clear: a new record replaces the old one only if
// it scores at least as well.
func (d *StageDocument) RecordClear(c ClearRecord) bool {
	if d.Clear != nil && d.Clear.Score > c.Score {
		return false
	}
	d.Clear = &c
	return true
}

// ClearRecord summarizes a stage clear.
type ClearRecord struct {
	Rating               reward.Rating `json:"rating"`
	Score                int           `json:"score"`
	TurnsUsed            int           `json:"turns_used"`
	UnitsLost            int           `json:"units_lost"`
	BossesDefeated       int           `json:"bosses_defeated"`
	RecruitmentSuccesses int           `json:"recruitment_successes"`
	ClearedAt            time.Time     `json:"cleared_at"`
}

// RewardEntry is one granted reward.
type RewardEntry struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	Rewards   reward.Rewards `json:"rewards"`
	GrantedAt time.Time      `json:"granted_at"`
}

// StageState is the final state of one finished or abandoned run.
type StageState struct {
	RunID       string             `json:"run_id"`
	Outcome     string             `json:"outcome"`
	Turn        int                `json:"turn"`
	Performance reward.Performance `json:"performance"`
	RecordedAt  time.Time          `json:"recorded_at"`
}

// ClearArchive is a clear record archived across all slots.
type ClearArchive struct {
	ID      string `json:"id"`
	SlotID  string `json:"slot_id"`
	StageID string `json:"stage_id"`
	RunID   string `json:"run_id"`
	ClearRecord
}
