package handler

import (
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/stagecraft/internal/auth"
	"github.com/freeeve/stagecraft/internal/model"
	"github.com/freeeve/stagecraft/internal/service"
	"github.com/freeeve/stagecraft/pkg/tactics"
)

// StageHandler handles stage run endpoints.
type StageHandler struct {
	stages    *service.StageService
	stagesDir string
}

// NewStageHandler creates a StageHandler. stagesDir holds stage definition
// files that POST /stages can start by id; empty disables that lookup.
func NewStageHandler(stages *service.StageService, stagesDir string) *StageHandler {
	return &StageHandler{stages: stages, stagesDir: stagesDir}
}

// StartStage handles POST /stages.
func (h *StageHandler) StartStage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StageID    string                 `json:"stage_id"`
		SlotID     string                 `json:"slot_id"`
		Definition *model.StageDefinition `json:"definition"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	slotID := auth.SlotIDFromContext(r.Context())
	if slotID == "" {
		slotID = req.SlotID
	}

	def := req.Definition
	if def == nil {
		if req.StageID == "" {
			writeError(w, http.StatusBadRequest, "definition or stage_id is required")
			return
		}
		if h.stagesDir == "" || req.StageID != filepath.Base(req.StageID) {
			writeError(w, http.StatusNotFound, "stage not found")
			return
		}
		loaded, err := model.LoadStageDefinition(filepath.Join(h.stagesDir, req.StageID+".json"))
		if err != nil {
			log.Warn().Err(err).Str("stageId", req.StageID).Msg("Failed to load stage definition")
			writeError(w, http.StatusNotFound, "stage not found")
			return
		}
		def = loaded
	}

	view, err := h.stages.StartStage(r.Context(), def, slotID, auth.PlayerIDFromContext(r.Context()))
	if err != nil {
		writeStageError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// GetStage handles GET /stages/{id}.
func (h *StageHandler) GetStage(w http.ResponseWriter, r *http.Request) {
	view, ok := h.authorize(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ResolveAttack handles POST /stages/{id}/combat.
func (h *StageHandler) ResolveAttack(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	var combat tactics.CombatResult
	if err := decodeJSON(r, &combat); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if combat.AttackerID == "" || combat.TargetID == "" {
		writeError(w, http.StatusBadRequest, "attacker_id and target_id are required")
		return
	}
	if combat.FinalDamage < 0 {
		writeError(w, http.StatusBadRequest, "final_damage must not be negative")
		return
	}

	out, err := h.stages.ResolveAttack(r.Context(), r.PathValue("id"), combat)
	if err != nil {
		writeStageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ApplyHealing handles POST /stages/{id}/heal.
func (h *StageHandler) ApplyHealing(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	var req struct {
		HealerID string `json:"healer_id"`
		TargetID string `json:"target_id"`
		Amount   int    `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TargetID == "" || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "target_id and a positive amount are required")
		return
	}

	v, err := h.stages.ApplyHealing(r.Context(), r.PathValue("id"), req.HealerID, req.TargetID, req.Amount)
	if err != nil {
		writeStageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// CheckRecruitment handles POST /stages/{id}/recruitment/check. It never
// changes the run.
func (h *StageHandler) CheckRecruitment(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	var req struct {
		AttackerID string             `json:"attacker_id"`
		TargetID   string             `json:"target_id"`
		Damage     int                `json:"damage"`
		DamageType tactics.DamageType `json:"damage_type"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	el, err := h.stages.CheckRecruitmentEligibility(r.Context(), r.PathValue("id"), req.AttackerID, req.TargetID, req.Damage, req.DamageType)
	if err != nil {
		writeStageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, el)
}

// ReachPosition handles POST /stages/{id}/moves.
func (h *StageHandler) ReachPosition(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	var req struct {
		UnitID   string           `json:"unit_id"`
		Position tactics.Position `json:"position"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UnitID == "" {
		writeError(w, http.StatusBadRequest, "unit_id is required")
		return
	}

	v, err := h.stages.ReachPosition(r.Context(), r.PathValue("id"), req.UnitID, req.Position)
	if err != nil {
		writeStageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// EndTurn handles POST /stages/{id}/turn/end.
func (h *StageHandler) EndTurn(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	res, err := h.stages.EndTurn(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DefeatBoss handles POST /stages/{id}/bosses/{unitId}/defeat for bosses
// beaten outside the combat pipeline, such as by a scripted event.
func (h *StageHandler) DefeatBoss(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	v, err := h.stages.HandleBossDefeat(r.Context(), r.PathValue("id"), r.PathValue("unitId"))
	if err != nil {
		writeStageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// UpdateObjectiveProgress handles POST /stages/{id}/objectives/{objectiveId}/progress.
// Updates are batched; the response reports how many pending updates were flushed.
func (h *StageHandler) UpdateObjectiveProgress(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	var req struct {
		Current int  `json:"current"`
		Target  *int `json:"target"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Current < 0 || (req.Target != nil && *req.Target <= 0) {
		writeError(w, http.StatusBadRequest, "current must not be negative and target must be positive")
		return
	}

	v, err := h.stages.UpdateObjectiveProgress(r.Context(), r.PathValue("id"), r.PathValue("objectiveId"), req.Current, req.Target)
	if err != nil {
		writeStageError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, v)
}

// TrackObjectives handles POST /stages/{id}/objectives/track.
func (h *StageHandler) TrackObjectives(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	results, err := h.stages.TrackObjectiveProgress(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// ListObjectives handles GET /stages/{id}/objectives.
func (h *StageHandler) ListObjectives(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	objs, err := h.stages.Objectives(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, objs)
}

// CheckVictory handles GET /stages/{id}/victory.
func (h *StageHandler) CheckVictory(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	res, err := h.stages.CheckVictoryConditions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CheckDefeat handles GET /stages/{id}/defeat.
func (h *StageHandler) CheckDefeat(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	res, err := h.stages.CheckDefeatConditions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// TargetPriority handles GET /stages/{id}/units/{unitId}/priority?computed=N.
func (h *StageHandler) TargetPriority(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	computed := 0
	if v := r.URL.Query().Get("computed"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "computed must be an integer")
			return
		}
		computed = n
	}

	unitID := r.PathValue("unitId")
	p, err := h.stages.TargetPriority(r.Context(), r.PathValue("id"), unitID, computed)
	if err != nil {
		writeStageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unit_id": unitID, "priority": p})
}

// CompleteRecruitment handles GET /stages/{id}/recruits.
func (h *StageHandler) CompleteRecruitment(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	units, err := h.stages.CompleteRecruitment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, units)
}

// AbortStage handles POST /stages/{id}/abort.
func (h *StageHandler) AbortStage(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	if err := h.stages.AbortStage(r.Context(), r.PathValue("id")); err != nil {
		writeStageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}

// GetSlot handles GET /slot and returns the caller's save slot.
func (h *StageHandler) GetSlot(w http.ResponseWriter, r *http.Request) {
	slotID := auth.SlotIDFromContext(r.Context())
	if slotID == "" {
		writeError(w, http.StatusBadRequest, "token has no save slot")
		return
	}
	slot, res := h.stages.LoadSlot(r.Context(), slotID)
	if !res.OK {
		log.Error().Err(res.Err).Str("slotId", slotID).Str("kind", string(res.Kind)).Msg("Failed to load save slot")
		writeError(w, http.StatusServiceUnavailable, "save slot unavailable")
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

// authorize loads the run named in the path and checks it writes to the
// caller's save slot. Runs in other slots are reported as missing.
func (h *StageHandler) authorize(w http.ResponseWriter, r *http.Request) (*service.StageView, bool) {
	view, err := h.stages.GetStage(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStageError(w, err)
		return nil, false
	}
	if slotID := auth.SlotIDFromContext(r.Context()); slotID != "" && view.SlotID != slotID {
		writeError(w, http.StatusNotFound, "stage run not found")
		return nil, false
	}
	return view, true
}
