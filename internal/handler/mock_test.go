package handler

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/freeeve/stagecraft/internal/model"
)

type mockSlotStore struct {
	mu    sync.Mutex
	slots map[string][]byte
}

func newMockSlotStore() *mockSlotStore {
	return &mockSlotStore{slots: make(map[string][]byte)}
}

func (m *mockSlotStore) LoadSlot(_ context.Context, slotID string) (*model.SaveSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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
	slot.Version++
	data, err := json.Marshal(slot)
	if err != nil {
		return err
	}
	m.slots[slot.SlotID] = data
	return nil
}
