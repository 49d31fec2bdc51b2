package repository

import (
	"context"
	"errors"

	"github.com/freeeve/stagecraft/internal/model"
)

// ErrCorruptSlot is wrapped by stores when a saved slot cannot be decoded.
var ErrCorruptSlot = errors.New("corrupt save slot")

// SlotStore loads and saves save slots. LoadSlot returns nil, nil for a slot
// that has never been saved.
type SlotStore interface {
	LoadSlot(ctx context.Context, slotID string) (*model.SaveSlot, error)
	SaveSlot(ctx context.Context, slot *model.SaveSlot) error
}

// ClearRepository archives stage clears across slots (Postgres).
type ClearRepository interface {
	RecordClear(ctx context.Context, rec model.ClearArchive) error
	ListClears(ctx context.Context, stageID string, limit int) ([]model.ClearArchive, error)
}
