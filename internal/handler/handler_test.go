package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/freeeve/stagecraft/internal/auth"
	"github.com/freeeve/stagecraft/internal/model"
	"github.com/freeeve/stagecraft/internal/service"
)

const skirmishJSON = `{
	"id": "skirmish",
	"name": "Skirmish",
	"units": [
		{"id": "P1", "name": "Alia", "faction": "player", "hp": 30, "max_hp": 30},
		{"id": "E1", "name": "Raider", "faction": "enemy", "hp": 10, "max_hp": 10},
		{"id": "B", "name": "Chief", "faction": "enemy", "hp": 20, "max_hp": 20, "is_boss": true}
	],
	"objectives": [
		{"id": "rout", "type": "defeat_all_enemies", "required": true},
		{"id": "relics", "type": "collect_items", "items": ["a", "b"]}
	],
	"victory": [{"id": "goals", "kind": "required_objectives_complete", "required": true}],
	"defeat": [{"id": "wiped", "kind": "all_players_defeated", "description": "All units have fallen"}]
}`

type stageFixture struct {
	h      *StageHandler
	hub    *Hub
	stages *service.StageService
}

func newStageFixture(t *testing.T) *stageFixture {
	t.Helper()
	hub := NewHub()
	stages := service.NewStageService(service.NewPersister(newMockSlotStore()), nil, hub, service.Options{})
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "skirmish.json"), []byte(skirmishJSON), 0o644); err != nil {
		t.Fatalf("write stage file: %v", err)
	}
	return &stageFixture{h: NewStageHandler(stages, dir), hub: hub, stages: stages}
}

func playerReq(method, path, body, slotID string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	return req.WithContext(auth.SetPlayerForTest(req.Context(), "player-1", slotID))
}

func runReq(method, path, body, runID string) *http.Request {
	req := playerReq(method, path, body, "slot-1")
	req.SetPathValue("id", runID)
	return req
}

func (f *stageFixture) start(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	f.h.StartStage(rec, playerReq(http.MethodPost, "/stages", `{"stage_id":"skirmish"}`, "slot-1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var view service.StageView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return view.RunID
}

func (f *stageFixture) attack(t *testing.T, runID, attacker, target string, dmg int) service.AttackOutcome {
	t.Helper()
	body := fmt.Sprintf(`{"attacker_id":%q,"target_id":%q,"final_damage":%d}`, attacker, target, dmg)
	rec := httptest.NewRecorder()
	f.h.ResolveAttack(rec, runReq(http.MethodPost, "/stages/"+runID+"/combat", body, runID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out service.AttackOutcome
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	return out
}

// --- Stage Handler Tests ---

func TestStartStageFromFile(t *testing.T) {
	f := newStageFixture(t)
	runID := f.start(t)

	rec := httptest.NewRecorder()
	f.h.GetStage(rec, runReq(http.MethodGet, "/stages/"+runID, "", runID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var view service.StageView
	json.Unmarshal(rec.Body.Bytes(), &view)
	if view.StageID != "skirmish" || view.SlotID != "slot-1" || view.Turn != 1 {
		t.Errorf("unexpected view: %+v", view)
	}
}

func TestStartStageInlineDefinition(t *testing.T) {
	f := newStageFixture(t)
	body := `{"definition":` + skirmishJSON + `}`
	rec := httptest.NewRecorder()
	f.h.StartStage(rec, playerReq(http.MethodPost, "/stages", body, "slot-1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStartStageErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", "not json", http.StatusBadRequest},
		{"nothing to start", `{}`, http.StatusBadRequest},
		{"unknown stage", `{"stage_id":"missing"}`, http.StatusNotFound},
		{"path escape", `{"stage_id":"../skirmish"}`, http.StatusNotFound},
		{"no objectives", `{"definition":{"id":"x","victory":[{"id":"v","kind":"turn_limit","turns":3,"required":true}]}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newStageFixture(t)
			rec := httptest.NewRecorder()
			f.h.StartStage(rec, playerReq(http.MethodPost, "/stages", tt.body, "slot-1"))
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestStageNotFound(t *testing.T) {
	f := newStageFixture(t)
	rec := httptest.NewRecorder()
	f.h.GetStage(rec, runReq(http.MethodGet, "/stages/nope", "", "nope"))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestStageHiddenFromOtherSlots(t *testing.T) {
	f := newStageFixture(t)
	runID := f.start(t)

	req := playerReq(http.MethodGet, "/stages/"+runID, "", "slot-2")
	req.SetPathValue("id", runID)
	rec := httptest.NewRecorder()
	f.h.GetStage(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for another slot's run, got %d", rec.Code)
	}
}

func TestResolveAttackToVictory(t *testing.T) {
	f := newStageFixture(t)
	runID := f.start(t)

	out := f.attack(t, runID, "P1", "E1", 10)
	if !out.TargetDefeated || out.Status != service.StatusActive {
		t.Errorf("expected E1 defeated with the run still active, got %+v", out)
	}

	out = f.attack(t, runID, "P1", "B", 25)
	if out.Status != service.StatusVictory || !out.Victory.IsVictory {
		t.Fatalf("expected victory, got %+v", out)
	}
	if out.Rewards == nil || out.Rewards.BossCurrency == 0 {
		t.Errorf("expected boss currency in rewards, got %+v", out.Rewards)
	}

	// The run is finished; further combat conflicts.
	rec := httptest.NewRecorder()
	body := `{"attacker_id":"P1","target_id":"B","final_damage":1}`
	f.h.ResolveAttack(rec, runReq(http.MethodPost, "/stages/"+runID+"/combat", body, runID))
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	f.h.GetSlot(rec, playerReq(http.MethodGet, "/slot", "", "slot-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var slot model.SaveSlot
	json.Unmarshal(rec.Body.Bytes(), &slot)
	if st := slot.Stages["skirmish"]; st == nil || st.Clear == nil || st.Clear.BossesDefeated != 1 {
		t.Errorf("expected a recorded clear with one boss, got %+v", slot.Stages["skirmish"])
	}
}

func TestResolveAttackValidation(t *testing.T) {
	f := newStageFixture(t)
	runID := f.start(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", "{", http.StatusBadRequest},
		{"missing target", `{"attacker_id":"P1"}`, http.StatusBadRequest},
		{"negative damage", `{"attacker_id":"P1","target_id":"E1","final_damage":-1}`, http.StatusBadRequest},
		{"unknown unit", `{"attacker_id":"P1","target_id":"ghost","final_damage":1}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			f.h.ResolveAttack(rec, runReq(http.MethodPost, "/stages/"+runID+"/combat", tt.body, runID))
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestObjectiveProgressAndTracking(t *testing.T) {
	f := newStageFixture(t)
	runID := f.start(t)

	req := runReq(http.MethodPost, "/stages/"+runID+"/objectives/relics/progress", `{"current":2}`, runID)
	req.SetPathValue("objectiveId", "relics")
	rec := httptest.NewRecorder()
	f.h.UpdateObjectiveProgress(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	f.h.TrackObjectives(rec, runReq(http.MethodPost, "/stages/"+runID+"/objectives/track", "", runID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	f.h.ListObjectives(rec, runReq(http.MethodGet, "/stages/"+runID+"/objectives", "", runID))
	var objs []struct {
		ID       string `json:"id"`
		Complete bool   `json:"complete"`
	}
	json.Unmarshal(rec.Body.Bytes(), &objs)
	found := false
	for _, o := range objs {
		if o.ID == "relics" {
			found = true
			if !o.Complete {
				t.Error("expected relics complete after the flushed update")
			}
		}
	}
	if !found {
		t.Errorf("relics missing from %s", rec.Body.String())
	}
}

func TestObjectiveProgressUnknownObjective(t *testing.T) {
	f := newStageFixture(t)
	runID := f.start(t)

	req := runReq(http.MethodPost, "/stages/"+runID+"/objectives/nope/progress", `{"current":1}`, runID)
	req.SetPathValue("objectiveId", "nope")
	rec := httptest.NewRecorder()
	f.h.UpdateObjectiveProgress(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestVictoryAndDefeatChecks(t *testing.T) {
	f := newStageFixture(t)
	runID := f.start(t)

	rec := httptest.NewRecorder()
	f.h.CheckVictory(rec, runReq(http.MethodGet, "/stages/"+runID+"/victory", "", runID))
	var v struct {
		IsVictory bool `json:"is_victory"`
	}
	json.Unmarshal(rec.Body.Bytes(), &v)
	if rec.Code != http.StatusOK || v.IsVictory {
		t.Errorf("expected no victory yet, got %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	f.h.CheckDefeat(rec, runReq(http.MethodGet, "/stages/"+runID+"/defeat", "", runID))
	var d struct {
		IsDefeat bool `json:"is_defeat"`
	}
	json.Unmarshal(rec.Body.Bytes(), &d)
	if rec.Code != http.StatusOK || d.IsDefeat {
		t.Errorf("expected no defeat yet, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestEndTurnAndAbort(t *testing.T) {
	f := newStageFixture(t)
	runID := f.start(t)

	rec := httptest.NewRecorder()
	f.h.EndTurn(rec, runReq(http.MethodPost, "/stages/"+runID+"/turn/end", "", runID))
	var res service.TurnResult
	json.Unmarshal(rec.Body.Bytes(), &res)
	if rec.Code != http.StatusOK || res.Turn != 2 {
		t.Errorf("expected turn 2, got %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	f.h.AbortStage(rec, runReq(http.MethodPost, "/stages/"+runID+"/abort", "", runID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	f.h.GetStage(rec, runReq(http.MethodGet, "/stages/"+runID, "", runID))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected aborted run to be gone, got %d", rec.Code)
	}
}

func TestTargetPriority(t *testing.T) {
	f := newStageFixture(t)
	runID := f.start(t)

	req := runReq(http.MethodGet, "/stages/"+runID+"/units/B/priority?computed=40", "", runID)
	req.SetPathValue("unitId", "B")
	rec := httptest.NewRecorder()
	f.h.TargetPriority(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Priority int `json:"priority"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Priority < 40 {
		t.Errorf("boss priority should not drop below the computed value, got %d", body.Priority)
	}

	req = runReq(http.MethodGet, "/stages/"+runID+"/units/B/priority?computed=high", "", runID)
	req.SetPathValue("unitId", "B")
	rec = httptest.NewRecorder()
	f.h.TargetPriority(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestCompleteRecruitmentWhileActive(t *testing.T) {
	f := newStageFixture(t)
	runID := f.start(t)

	rec := httptest.NewRecorder()
	f.h.CompleteRecruitment(rec, runReq(http.MethodGet, "/stages/"+runID+"/recruits", "", runID))
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestStageEventsReachSubscribers(t *testing.T) {
	f := newStageFixture(t)
	runID := f.start(t)

	c := newTestConn("player-1")
	f.hub.Register(c)
	defer f.hub.Unregister(c)
	f.hub.Subscribe(c, runID)

	rec := httptest.NewRecorder()
	f.h.EndTurn(rec, runReq(http.MethodPost, "/stages/"+runID+"/turn/end", "", runID))

	select {
	case msg := <-c.send:
		var event WSEvent
		json.Unmarshal(msg, &event)
		if event.Type != service.EventTurnAdvanced || event.RunID != runID {
			t.Errorf("unexpected event %+v", event)
		}
	default:
		t.Error("expected a turn_advanced event")
	}
}

// --- Auth Handler Tests ---

func TestDevLogin(t *testing.T) {
	jwtMgr := auth.NewJWTManager("test-secret", 0)
	h := NewAuthHandler(jwtMgr, true)

	req := httptest.NewRequest(http.MethodPost, "/auth/dev", strings.NewReader(`{"name":"alia"}`))
	rec := httptest.NewRecorder()
	h.DevLogin(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var tokens auth.TokenPair
	json.Unmarshal(rec.Body.Bytes(), &tokens)
	claims, err := jwtMgr.ValidateToken(tokens.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.PlayerID != tokens.PlayerID || claims.SlotID == "" {
		t.Errorf("unexpected claims %+v", claims)
	}

	// The same name maps to the same player.
	rec2 := httptest.NewRecorder()
	h.DevLogin(rec2, httptest.NewRequest(http.MethodPost, "/auth/dev", strings.NewReader(`{"name":"alia"}`)))
	var again auth.TokenPair
	json.Unmarshal(rec2.Body.Bytes(), &again)
	if again.PlayerID != tokens.PlayerID {
		t.Errorf("expected stable player id, got %s and %s", tokens.PlayerID, again.PlayerID)
	}
}

func TestDevLoginDisabled(t *testing.T) {
	h := NewAuthHandler(auth.NewJWTManager("test-secret", 0), false)
	rec := httptest.NewRecorder()
	h.DevLogin(rec, httptest.NewRequest(http.MethodPost, "/auth/dev", strings.NewReader(`{"name":"alia"}`)))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestRefreshTokenValid(t *testing.T) {
	jwtMgr := auth.NewJWTManager("test-secret", 0)
	h := NewAuthHandler(jwtMgr, false)

	refresh, _ := jwtMgr.GenerateRefreshToken("player-1", "slot-1")
	body := fmt.Sprintf(`{"refresh_token":"%s"}`, refresh)
	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.RefreshToken(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var tokens auth.TokenPair
	json.Unmarshal(rec.Body.Bytes(), &tokens)
	if tokens.AccessToken == "" || tokens.SlotID != "slot-1" {
		t.Errorf("unexpected token pair %+v", tokens)
	}
}

func TestRefreshTokenInvalid(t *testing.T) {
	h := NewAuthHandler(auth.NewJWTManager("test-secret", 0), false)

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", strings.NewReader(`{"refresh_token":"invalid"}`))
	rec := httptest.NewRecorder()
	h.RefreshToken(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestRefreshTokenBadBody(t *testing.T) {
	h := NewAuthHandler(auth.NewJWTManager("test-secret", 0), false)

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	h.RefreshToken(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
