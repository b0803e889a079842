// Package storage persists rules, the bounded reply log, and processing
// state as JSON blobs in a SQLite database. The blob layout mirrors a flat
// key-value store so the data model stays portable: readers get a fallback
// when a key is absent, writers replace the whole value.
package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/mailpilot/mailpilot/internal/rules"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Logical blob keys.
const (
	rulesKey = "rules.json"
	logsKey  = "logs.json"
	stateKey = "state.json"
)

// MaxLogEntries bounds the reply log; appending beyond it evicts the oldest
// entry.
const MaxLogEntries = 200

// Store wraps a SQLite database holding the rule set, reply log, and
// processing state.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "mailpilot.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't
// been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Blob primitives ---

// readBlob unmarshals the value stored under key into out. A missing key
// leaves out untouched, so callers pre-populate it with the fallback value.
func (s *Store) readBlob(key string, out any) error {
	var value string
	err := s.db.QueryRow("SELECT value FROM blobs WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading blob %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		return fmt.Errorf("decoding blob %q: %w", key, err)
	}
	return nil
}

func (s *Store) writeBlob(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding blob %q: %w", key, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO blobs (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, string(data),
	)
	if err != nil {
		return fmt.Errorf("writing blob %q: %w", key, err)
	}
	return nil
}

// --- Rules ---

// Rules returns the stored rule set in stored order. An empty store yields
// an empty slice.
func (s *Store) Rules() ([]rules.Rule, error) {
	rs := []rules.Rule{}
	if err := s.readBlob(rulesKey, &rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// SaveRules replaces the stored rule set.
func (s *Store) SaveRules(rs []rules.Rule) error {
	if rs == nil {
		rs = []rules.Rule{}
	}
	return s.writeBlob(rulesKey, rs)
}

// --- Logs ---

// Logs returns the reply log, newest first.
func (s *Store) Logs() ([]LogEntry, error) {
	logs := []LogEntry{}
	if err := s.readBlob(logsKey, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// AppendLog prepends entry to the reply log, evicting the oldest entries
// beyond MaxLogEntries.
func (s *Store) AppendLog(entry LogEntry) error {
	logs, err := s.Logs()
	if err != nil {
		return err
	}
	logs = append([]LogEntry{entry}, logs...)
	if len(logs) > MaxLogEntries {
		logs = logs[:MaxLogEntries]
	}
	return s.writeBlob(logsKey, logs)
}

// --- Processing state ---

type processingState struct {
	HistoryID string `json:"historyId,omitempty"`
}

// HistoryCursor returns the last persisted mailbox history cursor, or ""
// when none has been recorded. The cursor is a forward-compatibility hook;
// nothing consumes it yet.
func (s *Store) HistoryCursor() (string, error) {
	var st processingState
	if err := s.readBlob(stateKey, &st); err != nil {
		return "", err
	}
	return st.HistoryID, nil
}

// SetHistoryCursor persists the mailbox history cursor.
func (s *Store) SetHistoryCursor(id string) error {
	return s.writeBlob(stateKey, processingState{HistoryID: id})
}
