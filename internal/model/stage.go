package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/stagecraft/internal/objective"
	"github.com/freeeve/stagecraft/internal/reward"
	"github.com/freeeve/stagecraft/internal/victory"
	"github.com/freeeve/stagecraft/pkg/tactics"
)

// StageDefinition is the static data a stage starts from.
type StageDefinition struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	MaxTurns   int                   `json:"max_turns,omitempty"`
	Language   string                `json:"language,omitempty"`
	Units      []tactics.Unit        `json:"units"`
	Objectives []objective.Objective `json:"objectives"`
	Victory    []victory.Condition   `json:"victory"`
	Defeat     []victory.Condition   `json:"defeat,omitempty"`
	Rewards    *reward.Policy        `json:"rewards,omitempty"`
}

// ParseStageDefinition decodes a stage definition from JSON.
func ParseStageDefinition(data []byte) (*StageDefinition, error) {
	var def StageDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse stage definition: %w", err)
	}
	return &def, nil
}

// LoadStageDefinition reads a stage definition file.
func LoadStageDefinition(path string) (*StageDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stage definition: %w", err)
	}
	return ParseStageDefinition(data)
}

// ErrNotPersistable is returned when serializing a stage would loosen it: an
// in-memory predicate gates victory or defeat and cannot be written out.
var ErrNotPersistable = errors.New("stage definition cannot be persisted")

// MarshalJSON drops in-memory predicates, which cannot be persisted. A unit
// whose recruitment needs one is written as not recruitable. Required
// objectives, required victory conditions and defeat conditions are never
// dropped; a definition carrying an in-memory one fails to marshal.
func (d StageDefinition) MarshalJSON() ([]byte, error) {
	type plain StageDefinition
	cp := plain(d)

	cp.Objectives = nil
	for _, o := range d.Objectives {
		if o.Persistable() {
			cp.Objectives = append(cp.Objectives, o)
			continue
		}
		if o.Required {
			return nil, fmt.Errorf("%w: required objective %s is in-memory", ErrNotPersistable, o.ID)
		}
		log.Warn().Str("stageId", d.ID).Str("objectiveId", o.ID).Msg("Dropping in-memory objective from serialized stage")
	}
	var err error
	if cp.Victory, err = persistable(d.ID, d.Victory, false); err != nil {
		return nil, err
	}
	if cp.Defeat, err = persistable(d.ID, d.Defeat, true); err != nil {
		return nil, err
	}

	cp.Units = make([]tactics.Unit, len(d.Units))
	for i, u := range d.Units {
		cp.Units[i] = u
		if u.Recruitment == nil {
			continue
		}
		for _, c := range u.Recruitment.Conditions {
			if !c.Persistable() {
				log.Warn().Str("stageId", d.ID).Str("unitId", u.ID).Msg("Dropping in-memory recruitment from serialized stage")
				cp.Units[i].Recruitment = nil
				break
			}
		}
	}
	return json.Marshal(cp)
}

func persistable(stageID string, conds []victory.Condition, defeat bool) ([]victory.Condition, error) {
	var out []victory.Condition
	for _, c := range conds {
		if c.Kind != victory.KindCustom {
			out = append(out, c)
			continue
		}
		if defeat || c.Required {
			return nil, fmt.Errorf("%w: condition %s is in-memory", ErrNotPersistable, c.ID)
		}
		log.Warn().Str("stageId", stageID).Str("conditionId", c.ID).Msg("Dropping in-memory stage condition from serialized stage")
	}
	return out, nil
}
