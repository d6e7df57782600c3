package journal

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	runID   int64
	closed  bool
	writeMu sync.Mutex
}

// NewSQLiteStore creates a new SQLite run journal and opens a run record
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=60000", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := store.beginRun(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to begin run: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		objects INTEGER DEFAULT 0,
		containers INTEGER DEFAULT 0,
		succeeded INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS failures (
		run_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		container TEXT NOT NULL,
		key TEXT,
		message TEXT NOT NULL,
		recorded_at DATETIME NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_failures_run_id ON failures(run_id);
	`

	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteStore) beginRun() error {
	result, err := s.db.Exec(`INSERT INTO runs (started_at) VALUES (?)`, time.Now())
	if err != nil {
		return err
	}
	s.runID, err = result.LastInsertId()
	return err
}

// RecordFailure persists one delete failure with retry on busy database
func (s *SQLiteStore) RecordFailure(failure Failure) error {
	if s.closed {
		return fmt.Errorf("journal store is closed")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		_, err := s.db.Exec(`
		INSERT INTO failures (run_id, kind, container, key, message, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
			s.runID, string(failure.Kind), failure.Container, failure.Key,
			failure.Message, time.Now())
		return err
	})
}

// FinishRun closes out the current run record
func (s *SQLiteStore) FinishRun(objects, containers int64, succeeded bool) error {
	if s.closed {
		return fmt.Errorf("journal store is closed")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		_, err := s.db.Exec(`
		UPDATE runs SET finished_at = ?, objects = ?, containers = ?, succeeded = ?
		WHERE id = ?`,
			time.Now(), objects, containers, boolToInt(succeeded), s.runID)
		return err
	})
}

// ListFailures returns the failures recorded for the current run
func (s *SQLiteStore) ListFailures() ([]Failure, error) {
	if s.closed {
		return nil, fmt.Errorf("journal store is closed")
	}

	rows, err := s.db.Query(`
	SELECT kind, container, key, message, recorded_at
	FROM failures WHERE run_id = ? ORDER BY recorded_at`, s.runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var failures []Failure
	for rows.Next() {
		var f Failure
		var kind string
		var key sql.NullString
		if err := rows.Scan(&kind, &f.Container, &key, &f.Message, &f.RecordedAt); err != nil {
			return nil, err
		}
		f.Kind = FailureKind(kind)
		if key.Valid {
			f.Key = key.String
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// retryOnBusy retries a write when SQLite reports a locked database
func (s *SQLiteStore) retryOnBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		err = fn()
		if err == nil || !isBusyError(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	return err
}

func isBusyError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
