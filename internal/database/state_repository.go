package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/masterybot/internal/engine"
)

// StateRepository stores engine states as JSON documents, one row per device
type StateRepository struct {
	db *sqlx.DB
}

// NewStateRepository creates a new repository instance. A nil db uses DB.
func NewStateRepository(db *sqlx.DB) *StateRepository {
	if db == nil {
		db = DB
	}
	return &StateRepository{db: db}
}

type stateRow struct {
	DeviceID  string    `db:"device_id"`
	Version   int       `db:"version"`
	State     string    `db:"state"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Load returns the state of deviceID or engine.ErrStateMissing
func (r *StateRepository) Load(ctx context.Context, deviceID string) (*engine.EngineState, error) {
	var row stateRow
	query := r.db.Rebind(`SELECT device_id, version, state, updated_at FROM engine_states WHERE device_id = ?`)
	err := r.db.GetContext(ctx, &row, query, deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrStateMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get engine state: %w", err)
	}

	var state engine.EngineState
	if err := json.Unmarshal([]byte(row.State), &state); err != nil {
		return nil, fmt.Errorf("failed to decode engine state: %w", err)
	}
	return &state, nil
}

// Save inserts or replaces the state row of the device
func (r *StateRepository) Save(ctx context.Context, state *engine.EngineState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode engine state: %w", err)
	}
	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query := r.db.Rebind(`
		INSERT INTO engine_states (device_id, version, state, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (device_id) DO UPDATE
		SET version = excluded.version, state = excluded.state, updated_at = excluded.updated_at
	`)
	if _, err := r.db.ExecContext(ctx, query, state.DeviceID, state.Version, string(data), updatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to save engine state: %w", err)
	}
	return nil
}

// DeviceIDs returns the ids of all stored devices
func (r *StateRepository) DeviceIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT device_id FROM engine_states ORDER BY device_id`); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return ids, nil
}
