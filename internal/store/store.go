// Package store provides SQLite-based archival for constellations. Finished
// constellations are archived, never deleted: the full persistence document
// is kept alongside indexed summary columns for listing and lookup.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/orbitalworks/constellation/pkg/models"
)

// DB wraps an SQLite database connection with archive operations.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultDBPath returns the path to the default archive database.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "constellation", "archive.db")
}

// Open opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	db := &DB{
		conn: conn,
		path: path,
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Archives},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Archives = `
CREATE TABLE IF NOT EXISTS archives (
	constellation_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	state TEXT NOT NULL,
	task_count INTEGER NOT NULL DEFAULT 0,
	failed_count INTEGER NOT NULL DEFAULT 0,
	llm_source TEXT,
	document TEXT NOT NULL,
	archived_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_archives_state ON archives(state);
CREATE INDEX IF NOT EXISTS idx_archives_archived_at ON archives(archived_at);
`

// ArchiveEntry summarizes one archived constellation for listing.
type ArchiveEntry struct {
	ConstellationID string
	Name            string
	State           models.ConstellationState
	TaskCount       int
	FailedCount     int
	LLMSource       string
	ArchivedAt      time.Time
}

// Archive stores a constellation's full persistence document. Re-archiving
// the same constellation id replaces the previous document; history lives in
// the document itself, so the latest snapshot wins.
func (db *DB) Archive(c *models.Constellation) error {
	doc, err := c.MarshalJSONDoc()
	if err != nil {
		return err
	}

	failed := 0
	for _, t := range c.Tasks {
		if t.Status == models.TaskStatusFailed {
			failed++
		}
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	_, err = db.conn.Exec(`
		INSERT INTO archives (constellation_id, name, state, task_count, failed_count, llm_source, document, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(constellation_id) DO UPDATE SET
			name = excluded.name,
			state = excluded.state,
			task_count = excluded.task_count,
			failed_count = excluded.failed_count,
			llm_source = excluded.llm_source,
			document = excluded.document,
			archived_at = excluded.archived_at
	`, c.ConstellationID, c.Name, string(c.State), len(c.Tasks), failed, c.LLMSource,
		string(doc), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("archive constellation %s: %w", c.ConstellationID, err)
	}
	return nil
}

// List returns archive summaries, newest first.
func (db *DB) List() ([]ArchiveEntry, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT constellation_id, name, state, task_count, failed_count, COALESCE(llm_source, ''), archived_at
		FROM archives ORDER BY archived_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	defer rows.Close()

	var entries []ArchiveEntry
	for rows.Next() {
		var e ArchiveEntry
		var state, archivedAt string
		if err := rows.Scan(&e.ConstellationID, &e.Name, &state, &e.TaskCount, &e.FailedCount, &e.LLMSource, &archivedAt); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		e.State = models.ConstellationState(state)
		if t, err := parseTime(archivedAt); err == nil {
			e.ArchivedAt = t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Load reconstructs an archived constellation from its stored document. A
// malformed document fails the whole load.
func (db *DB) Load(constellationID string) (*models.Constellation, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var doc string
	row := db.conn.QueryRow("SELECT document FROM archives WHERE constellation_id = ?", constellationID)
	if err := row.Scan(&doc); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("constellation %s not archived", constellationID)
		}
		return nil, fmt.Errorf("load archive %s: %w", constellationID, err)
	}

	return models.ParseConstellation([]byte(doc))
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
