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
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding conversation threads and the
// document vector table.
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
		dsn = filepath.Join(dataDir, "obi.db")
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

// DB exposes the underlying connection for the vector store.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate applies embedded SQL migration files that have not run yet.
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

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
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

// ReplaceThread stores the full message list for a thread, overwriting any
// previous version. Idempotent under retry: replaying the same message list
// leaves the stored thread unchanged.
func (s *Store) ReplaceThread(threadID string, messages []ThreadMessage) error {
	if threadID == "" {
		return fmt.Errorf("thread id is required")
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshalling messages for thread %s: %w", threadID, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO chat_threads (thread_id, messages_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET messages_json = excluded.messages_json, updated_at = excluded.updated_at`,
		threadID, string(payload), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("storing thread %s: %w", threadID, err)
	}
	return nil
}

// GetThread returns a stored thread by id.
func (s *Store) GetThread(threadID string) (Thread, error) {
	var payload, updatedAt string
	err := s.db.QueryRow(
		"SELECT messages_json, updated_at FROM chat_threads WHERE thread_id = ?", threadID,
	).Scan(&payload, &updatedAt)
	if err == sql.ErrNoRows {
		return Thread{}, ErrNotFound
	}
	if err != nil {
		return Thread{}, err
	}

	t := Thread{ThreadID: threadID}
	if err := json.Unmarshal([]byte(payload), &t.Messages); err != nil {
		return Thread{}, fmt.Errorf("decoding messages for thread %s: %w", threadID, err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Thread{}, fmt.Errorf("parsing updated_at for thread %s: %w", threadID, err)
	}
	return t, nil
}

// ListThreads returns the most recently updated threads, newest first.
func (s *Store) ListThreads(limit int) ([]Thread, error) {
	rows, err := s.db.Query(
		"SELECT thread_id, messages_json, updated_at FROM chat_threads ORDER BY updated_at DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []Thread
	for rows.Next() {
		var t Thread
		var payload, updatedAt string
		if err := rows.Scan(&t.ThreadID, &payload, &updatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &t.Messages); err != nil {
			return nil, fmt.Errorf("decoding messages for thread %s: %w", t.ThreadID, err)
		}
		if t.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at for thread %s: %w", t.ThreadID, err)
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// DeleteThread removes a stored thread.
func (s *Store) DeleteThread(threadID string) error {
	res, err := s.db.Exec("DELETE FROM chat_threads WHERE thread_id = ?", threadID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
