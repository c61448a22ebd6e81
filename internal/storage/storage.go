package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lotas/tabgruppen/internal/types"
)

// Action is a recorded engine action that may be undone.
type Action struct {
	ID        string
	Kind      string // types.UndoUngroup for grouping actions
	Title     string
	Message   string
	TabIDs    []int
	CreatedAt time.Time
	UndoneAt  *time.Time
}

// migration is a numbered schema change. Migrations are applied in order
// and tracked in the schema_migrations table so each runs exactly once.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "create counters table",
		SQL: `
CREATE TABLE IF NOT EXISTS counters (
    name        TEXT PRIMARY KEY,
    value       INTEGER NOT NULL DEFAULT 0,
    updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);`,
	},
	{
		Version:     2,
		Description: "create actions table",
		SQL: `
CREATE TABLE IF NOT EXISTS actions (
    id          TEXT PRIMARY KEY,
    kind        TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    message     TEXT NOT NULL DEFAULT '',
    tab_ids     TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    undone_at   DATETIME
);
CREATE INDEX IF NOT EXISTS idx_actions_created ON actions(created_at);`,
	},
}

// OpenDB opens (or creates) a SQLite database at the given path.
// It creates parent directories if needed, enables WAL mode,
// and runs any pending migrations.
func OpenDB(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrency.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// runMigrations ensures the schema_migrations table exists and applies
// any pending migrations in order.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if exists > 0 {
			continue
		}

		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// DefaultDBPath returns the default database file path:
// ~/.local/share/tabgruppen/tabgruppen.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "tabgruppen", "tabgruppen.db"), nil
}

// IncrementCounter adds one to the named counter, creating it at zero if
// needed, and returns the new value.
func IncrementCounter(ctx context.Context, db *sql.DB, name string) (int64, error) {
	var value int64
	err := db.QueryRowContext(ctx, `
INSERT INTO counters (name, value) VALUES (?, 1)
ON CONFLICT(name) DO UPDATE SET value = value + 1, updated_at = CURRENT_TIMESTAMP
RETURNING value`, name).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", name, err)
	}
	return value, nil
}

// Counters returns every counter by name.
func Counters(ctx context.Context, db *sql.DB) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx, "SELECT name, value FROM counters")
	if err != nil {
		return nil, fmt.Errorf("query counters: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var name string
		var value int64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan counter: %w", err)
		}
		out[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counters: %w", err)
	}
	return out, nil
}

// LoadStats reads the two engine counters. Missing counters are zero.
func LoadStats(ctx context.Context, db *sql.DB) (types.Stats, error) {
	c, err := Counters(ctx, db)
	if err != nil {
		return types.Stats{}, err
	}
	return types.Stats{
		GroupsCreated:    c[types.CounterGroupsCreated],
		TabsDeduplicated: c[types.CounterTabsDeduplicated],
	}, nil
}

// RecordAction stores an action. CreatedAt defaults to now.
func RecordAction(ctx context.Context, db *sql.DB, a Action) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := db.ExecContext(ctx,
		"INSERT INTO actions (id, kind, title, message, tab_ids, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		a.ID, a.Kind, a.Title, a.Message, joinIDs(a.TabIDs), a.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert action %s: %w", a.ID, err)
	}
	return nil
}

// MarkActionUndone sets undone_at on an action. Returns an error if the
// action does not exist or was already undone.
func MarkActionUndone(ctx context.Context, db *sql.DB, id string) error {
	res, err := db.ExecContext(ctx,
		"UPDATE actions SET undone_at = ? WHERE id = ? AND undone_at IS NULL",
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark action undone: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("action %s not found or already undone", id)
	}
	return nil
}

// ListActions returns the most recent actions, newest first. limit <= 0
// returns all of them.
func ListActions(ctx context.Context, db *sql.DB, limit int) ([]Action, error) {
	q := "SELECT id, kind, title, message, tab_ids, created_at, undone_at FROM actions ORDER BY created_at DESC, rowid DESC"
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var result []Action
	for rows.Next() {
		var a Action
		var ids string
		var undone sql.NullTime
		if err := rows.Scan(&a.ID, &a.Kind, &a.Title, &a.Message, &ids, &a.CreatedAt, &undone); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.TabIDs = splitIDs(ids)
		if undone.Valid {
			t := undone.Time
			a.UndoneAt = &t
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return result, nil
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

func splitIDs(s string) []int {
	if s == "" {
		return nil
	}
	var out []int
	for _, p := range strings.Split(s, ",") {
		if id, err := strconv.Atoi(p); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// Store binds the package functions to one database for components that
// take narrow interfaces.
type Store struct {
	DB *sql.DB
}

// Increment implements the counter interface used by grouping and dedup.
func (s *Store) Increment(ctx context.Context, name string) (int64, error) {
	return IncrementCounter(ctx, s.DB, name)
}

// Stats returns the engine counters.
func (s *Store) Stats(ctx context.Context) (types.Stats, error) {
	return LoadStats(ctx, s.DB)
}

// RecordAction stores an undoable action.
func (s *Store) RecordAction(ctx context.Context, a Action) error {
	return RecordAction(ctx, s.DB, a)
}

// MarkActionUndone marks a stored action as undone.
func (s *Store) MarkActionUndone(ctx context.Context, id string) error {
	return MarkActionUndone(ctx, s.DB, id)
}
