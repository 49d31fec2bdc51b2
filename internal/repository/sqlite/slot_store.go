// Package sqlite provides a SQLite-backed save slot store for local play.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/freeeve/stagecraft/internal/model"
	"github.com/freeeve/stagecraft/internal/repository"
)

const schema = `
CREATE TABLE IF NOT EXISTS save_slots (
	slot_id    TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	data       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// Store persists save slots in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// Open opens a SQLite slot store, creating the schema if needed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// LoadSlot reads a save slot. It returns nil, nil if the slot was never saved.
func (s *Store) LoadSlot(ctx context.Context, slotID string) (*model.SaveSlot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT data FROM save_slots WHERE slot_id = ?`, slotID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}
	var slot model.SaveSlot
	if err := json.Unmarshal([]byte(data), &slot); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", repository.ErrCorruptSlot, slotID, err)
	}
	return &slot, nil
}

// SaveSlot writes a save slot, bumping its version.
func (s *Store) SaveSlot(ctx context.Context, slot *model.SaveSlot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(slot.SlotID) == "" {
		return fmt.Errorf("slot id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var version int
	err = tx.QueryRowContext(ctx, `SELECT version FROM save_slots WHERE slot_id = ?`, slot.SlotID).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read slot version: %w", err)
	}
	slot.Version = version + 1
	slot.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(slot)
	if err != nil {
		return fmt.Errorf("encode slot %s: %w", slot.SlotID, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO save_slots (slot_id, version, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(slot_id) DO UPDATE SET version = excluded.version, data = excluded.data, updated_at = excluded.updated_at`,
		slot.SlotID, slot.Version, string(data), toMillis(slot.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save slot: %w", err)
	}
	return tx.Commit()
}
