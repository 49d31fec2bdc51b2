// Package postgres archives stage clears across save slots.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const connectTimeout = 5 * time.Second

// Connect opens a connection pool to the PostgreSQL database and checks the
// clear archive table exists.
func Connect(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	// Clears are written once per stage win; a small pool is plenty.
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	var table sql.NullString
	if err := db.QueryRowContext(ctx, `SELECT to_regclass('stage_clears')::text`).Scan(&table); err != nil {
		db.Close()
		return nil, fmt.Errorf("check schema: %w", err)
	}
	if !table.Valid {
		db.Close()
		return nil, fmt.Errorf("table stage_clears is missing; run migrations/001_initial.up.sql")
	}
	return db, nil
}
