package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/freeeve/stagecraft/internal/model"
	"github.com/freeeve/stagecraft/internal/service"
	"github.com/freeeve/stagecraft/pkg/tactics"
)

// Step actions.
const (
	actAttack     = "attack"
	actHeal       = "heal"
	actMove       = "move"
	actProgress   = "progress"
	actEndTurn    = "end_turn"
	actBossDefeat = "boss_defeat"
	actCheck      = "check"
)

// Script is a stage plus the moves to play against it.
type Script struct {
	Stage      string                 `json:"stage,omitempty"` // path relative to the script
	Definition *model.StageDefinition `json:"definition,omitempty"`
	Steps      []Step                 `json:"steps"`
}

// Step is one scripted action.
type Step struct {
	Action      string             `json:"action"`
	AttackerID  string             `json:"attacker_id,omitempty"`
	TargetID    string             `json:"target_id,omitempty"`
	UnitID      string             `json:"unit_id,omitempty"`
	ObjectiveID string             `json:"objective_id,omitempty"`
	Damage      int                `json:"damage,omitempty"`
	DamageType  tactics.DamageType `json:"damage_type,omitempty"`
	Lethal      bool               `json:"lethal,omitempty"`
	Evaded      bool               `json:"evaded,omitempty"`
	Critical    bool               `json:"critical,omitempty"`
	Amount      int                `json:"amount,omitempty"`
	Current     int                `json:"current,omitempty"`
	Target      *int               `json:"target,omitempty"`
	Position    tactics.Position   `json:"position"`
}

// LoadScript reads a script and resolves its stage file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var s Script
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if s.Definition == nil {
		if s.Stage == "" {
			return nil, fmt.Errorf("script %s names no stage", path)
		}
		def, err := model.LoadStageDefinition(filepath.Join(filepath.Dir(path), s.Stage))
		if err != nil {
			return nil, err
		}
		s.Definition = def
	}
	return &s, nil
}

// StepResult is the run state after one step.
type StepResult struct {
	Index  int            `json:"index"`
	Action string         `json:"action"`
	Turn   int            `json:"turn"`
	Status service.Status `json:"status"`
	Note   string         `json:"note,omitempty"`
}

// RunResult is the outcome of one scripted run.
type RunResult struct {
	RunID  string             `json:"run_id"`
	SlotID string             `json:"slot_id"`
	Steps  []StepResult       `json:"steps"`
	Final  *service.StageView `json:"final"`
}

// Run plays a script to the end or until the run finishes. Steps after the
// run is decided are skipped.
func Run(ctx context.Context, svc *service.StageService, s *Script, slotID, playerID string) (*RunResult, error) {
	view, err := svc.StartStage(ctx, s.Definition, slotID, playerID)
	if err != nil {
		return nil, err
	}
	runID := view.RunID
	out := &RunResult{RunID: runID, SlotID: slotID}

	for i, st := range s.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := play(ctx, svc, runID, st)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, st.Action, err)
		}
		res.Index = i + 1
		res.Action = st.Action
		out.Steps = append(out.Steps, res)
		if res.Status != service.StatusActive {
			break
		}
	}

	final, err := svc.GetStage(ctx, runID)
	if err != nil {
		return nil, err
	}
	out.Final = final
	return out, nil
}

func play(ctx context.Context, svc *service.StageService, runID string, st Step) (StepResult, error) {
	switch st.Action {
	case actAttack:
		o, err := svc.ResolveAttack(ctx, runID, tactics.CombatResult{
			AttackerID:     st.AttackerID,
			TargetID:       st.TargetID,
			FinalDamage:    st.Damage,
			DamageType:     st.DamageType,
			IsCritical:     st.Critical,
			IsEvaded:       st.Evaded,
			TargetDefeated: st.Lethal,
		})
		if err != nil {
			return StepResult{}, err
		}
		note := fmt.Sprintf("%s hp=%d", st.TargetID, o.TargetHP)
		switch {
		case o.TargetCaptured:
			note += " captured"
		case o.TargetLost:
			note += " lost"
		case o.TargetDefeated:
			note += " defeated"
		}
		return stepFrom(ctx, svc, runID, o.Status, note)
	case actHeal:
		v, err := svc.ApplyHealing(ctx, runID, st.AttackerID, st.TargetID, st.Amount)
		if err != nil {
			return StepResult{}, err
		}
		return stepFrom(ctx, svc, runID, v.Status, "")
	case actMove:
		v, err := svc.ReachPosition(ctx, runID, st.UnitID, st.Position)
		if err != nil {
			return StepResult{}, err
		}
		return stepFrom(ctx, svc, runID, v.Status, "")
	case actProgress:
		v, err := svc.UpdateObjectiveProgress(ctx, runID, st.ObjectiveID, st.Current, st.Target)
		if err != nil {
			return StepResult{}, err
		}
		return stepFrom(ctx, svc, runID, v.Status, fmt.Sprintf("flushed=%d", v.Flushed))
	case actEndTurn:
		t, err := svc.EndTurn(ctx, runID)
		if err != nil {
			return StepResult{}, err
		}
		return StepResult{Turn: t.Turn, Status: t.Status}, nil
	case actBossDefeat:
		v, err := svc.HandleBossDefeat(ctx, runID, st.UnitID)
		if err != nil {
			return StepResult{}, err
		}
		return stepFrom(ctx, svc, runID, v.Status, "")
	case actCheck:
		el, err := svc.CheckRecruitmentEligibility(ctx, runID, st.AttackerID, st.TargetID, st.Damage, st.DamageType)
		if err != nil {
			return StepResult{}, err
		}
		return stepFrom(ctx, svc, runID, service.StatusActive, fmt.Sprintf("eligible=%t next=%s", el.Eligible, el.NextAction))
	default:
		return StepResult{}, fmt.Errorf("unknown action %q", st.Action)
	}
}

func stepFrom(ctx context.Context, svc *service.StageService, runID string, status service.Status, note string) (StepResult, error) {
	view, err := svc.GetStage(ctx, runID)
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{Turn: view.Turn, Status: status, Note: note}, nil
}
