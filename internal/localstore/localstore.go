// Package localstore persists per-store JSON snapshots in a local
// sqlite database, one row per store name. Every mutation of a session
// store overwrites its row; process start rehydrates from whatever is
// there.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/RanFeng/ilog"
	_ "modernc.org/sqlite"
)

// SchemaVersion guards rehydration: a snapshot written by a different
// layout is treated as absent rather than half-parsed.
const SchemaVersion = 1

var ErrNotFound = errors.New("snapshot not found")

type Store struct {
	db *sql.DB
}

type snapshot struct {
	SchemaVersion int             `json:"schemaVersion"`
	Data          json.RawMessage `json:"data"`
}

// Open creates or opens the snapshot database at path. Use ":memory:"
// for throwaway stores.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		name TEXT PRIMARY KEY,
		payload TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init state db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save overwrites the named slot with v serialized as JSON.
func (s *Store) Save(name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", name, err)
	}
	payload, err := json.Marshal(snapshot{SchemaVersion: SchemaVersion, Data: data})
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", name, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO snapshots (name, payload) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET payload = excluded.payload`,
		name, string(payload))
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", name, err)
	}
	return nil
}

// Load rehydrates the named slot into v. A missing row or one written
// under another schema version yields ErrNotFound.
func (s *Store) Load(name string, v interface{}) error {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM snapshots WHERE name = ?`, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load snapshot %s: %w", name, err)
	}
	var snap snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", name, err)
	}
	if snap.SchemaVersion != SchemaVersion {
		ilog.EventWarn(context.Background(), "snapshot_version_mismatch",
			"name", name, "got", snap.SchemaVersion, "want", SchemaVersion)
		return ErrNotFound
	}
	return json.Unmarshal(snap.Data, v)
}

// Clear removes the named slot.
func (s *Store) Clear(name string) error {
	_, err := s.db.Exec(`DELETE FROM snapshots WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("clear snapshot %s: %w", name, err)
	}
	return nil
}
