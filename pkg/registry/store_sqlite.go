package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vikashloomba/mcp-toolhub-go/pkg/mcpmgr"
)

const sqliteStoreSchema = `
CREATE TABLE IF NOT EXISTS servers (
	name TEXT PRIMARY KEY,
	position INTEGER NOT NULL,
	payload BLOB NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS templates (
	name TEXT PRIMARY KEY,
	payload BLOB NOT NULL,
	updated_at TEXT NOT NULL
);`

// SQLiteStoreConfig configures a SQLiteStore.
type SQLiteStoreConfig struct {
	DSN string
}

// SQLiteStore keeps a Snapshot in a SQLite database, one row per server and
// template.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database and its schema.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("registry: sqlite store dsn is required")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("registry: sqlite open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("registry: sqlite set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteStoreSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("registry: sqlite create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load reads servers in stored order and templates by name.
func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM servers ORDER BY position ASC, name ASC`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("registry: sqlite list servers: %w", err)
	}
	err = scanPayloads(rows, func(payload []byte) error {
		var cfg mcpmgr.ServerConfig
		if err := json.Unmarshal(payload, &cfg); err != nil {
			return fmt.Errorf("registry: sqlite decode server: %w", err)
		}
		snap.Servers = append(snap.Servers, cfg)
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT payload FROM templates ORDER BY name ASC`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("registry: sqlite list templates: %w", err)
	}
	err = scanPayloads(rows, func(payload []byte) error {
		var t mcpmgr.Template
		if err := json.Unmarshal(payload, &t); err != nil {
			return fmt.Errorf("registry: sqlite decode template: %w", err)
		}
		snap.Templates = append(snap.Templates, t)
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func scanPayloads(rows *sql.Rows, fn func([]byte) error) error {
	defer rows.Close()
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("registry: sqlite scan: %w", err)
		}
		if err := fn(payload); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("registry: sqlite rows: %w", err)
	}
	return nil
}

// Save replaces every row inside one transaction.
func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: sqlite begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM servers`); err != nil {
		return fmt.Errorf("registry: sqlite clear servers: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM templates`); err != nil {
		return fmt.Errorf("registry: sqlite clear templates: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for i, cfg := range snap.Servers {
		payload, merr := json.Marshal(cfg)
		if merr != nil {
			return fmt.Errorf("registry: sqlite encode server %q: %w", cfg.Name, merr)
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO servers (name, position, payload, updated_at) VALUES (?, ?, ?, ?)`,
			cfg.Name, i, payload, now); err != nil {
			return fmt.Errorf("registry: sqlite insert server %q: %w", cfg.Name, err)
		}
	}
	for _, t := range snap.Templates {
		payload, merr := json.Marshal(t)
		if merr != nil {
			return fmt.Errorf("registry: sqlite encode template %q: %w", t.Name, merr)
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO templates (name, payload, updated_at) VALUES (?, ?, ?)`,
			t.Name, payload, now); err != nil {
			return fmt.Errorf("registry: sqlite insert template %q: %w", t.Name, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("registry: sqlite commit: %w", err)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
