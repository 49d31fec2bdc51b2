package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/freeeve/stagecraft/internal/model"
	"github.com/freeeve/stagecraft/internal/repository"
)

// Key patterns for Redis save slots.
func slotKey(slotID string) string    { return "slot:" + slotID }
func versionKey(slotID string) string { return "slot:" + slotID + ":version" }

// LoadSlot retrieves a save slot. It returns nil, nil if the slot was never saved.
func (c *Client) LoadSlot(ctx context.Context, slotID string) (*model.SaveSlot, error) {
	data, err := c.rdb.Get(ctx, slotKey(slotID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	var slot model.SaveSlot
	if err := json.Unmarshal(data, &slot); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", repository.ErrCorruptSlot, slotID, err)
	}
	return &slot, nil
}

// SaveSlot stores a save slot, bumping its version counter.
func (c *Client) SaveSlot(ctx context.Context, slot *model.SaveSlot) error {
	version, err := c.rdb.Incr(ctx, versionKey(slot.SlotID)).Result()
	if err != nil {
		return fmt.Errorf("bump slot version: %w", err)
	}
	slot.Version = int(version)
	slot.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(slot)
	if err != nil {
		return fmt.Errorf("encode slot %s: %w", slot.SlotID, err)
	}
	return c.rdb.Set(ctx, slotKey(slot.SlotID), data, 0).Err()
}

// DeleteSlot removes a save slot.
func (c *Client) DeleteSlot(ctx context.Context, slotID string) error {
	return c.rdb.Del(ctx, slotKey(slotID), versionKey(slotID)).Err()
}
