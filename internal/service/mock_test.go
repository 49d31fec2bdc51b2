package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/freeeve/stagecraft/internal/model"
	"github.com/freeeve/stagecraft/internal/repository"
)

var errStoreDown = errors.New("store unavailable")

// mockSlotStore keeps slots as JSON so loads return independent copies.
type mockSlotStore struct {
	mu      sync.Mutex
	slots   map[string][]byte
	saves   int
	failing bool
	corrupt map[string]bool
}

func newMockSlotStore() *mockSlotStore {
	return &mockSlotStore{slots: make(map[string][]byte), corrupt: make(map[string]bool)}
}

func (m *mockSlotStore) LoadSlot(_ context.Context, slotID string) (*model.SaveSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, errStoreDown
	}
	if m.corrupt[slotID] {
		return nil, fmt.Errorf("%w: %s", repository.ErrCorruptSlot, slotID)
	}
	data, ok := m.slots[slotID]
	if !ok {
		return nil, nil
	}
	var slot model.SaveSlot
	if err := json.Unmarshal(data, &slot); err != nil {
		return nil, err
	}
	return &slot, nil
}

func (m *mockSlotStore) SaveSlot(_ context.Context, slot *model.SaveSlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errStoreDown
	}
	slot.Version++
	data, err := json.Marshal(slot)
	if err != nil {
		return err
	}
	m.slots[slot.SlotID] = data
	m.saves++
	return nil
}

func (m *mockSlotStore) setFailing(v bool) {
	m.mu.Lock()
	m.failing = v
	m.mu.Unlock()
}

func (m *mockSlotStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type sentEvent struct {
	runID string
	kind  string
	data  any
}

type mockBroadcaster struct {
	mu     sync.Mutex
	events []sentEvent
}

func (m *mockBroadcaster) BroadcastStageEvent(runID, eventType string, data any) {
	m.mu.Lock()
	m.events = append(m.events, sentEvent{runID: runID, kind: eventType, data: data})
	m.mu.Unlock()
}

func (m *mockBroadcaster) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func (m *mockBroadcaster) kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.kind
	}
	return out
}

type mockClearRepo struct {
	mu      sync.Mutex
	records []model.ClearArchive
}

func (m *mockClearRepo) RecordClear(_ context.Context, rec model.ClearArchive) error {
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return nil
}

func (m *mockClearRepo) ListClears(_ context.Context, stageID string, limit int) ([]model.ClearArchive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ClearArchive
	for _, r := range m.records {
		if r.StageID == stageID {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
