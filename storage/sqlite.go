// Package storage persists log file records, anomalies, provider keys, and
// webhooks. SQLite is the default metadata backend; MongoDB is an alternative,
// and ClickHouse optionally archives raw parsed entries.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite holds the SQLite database connections for metadata storage.
// Separate read and write pools leverage WAL mode's concurrent read model:
// one writer, many readers.
type SQLite struct {
	WriteDB *sql.DB // single-writer pool (MaxOpenConns=1)
	ReadDB  *sql.DB // concurrent read pool
	Path    string
	Logger  *zap.SugaredLogger
}

// configureSQLiteConnection sets up WAL mode, foreign keys, and busy timeout
// for a pool.
func configureSQLiteConnection(db *sql.DB, dbPath string) error {
	// PRAGMA statements are applied explicitly; connection string params are
	// not reliable across drivers.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite disables foreign keys by default.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	// In-memory databases report "memory" journal mode, not "wal".
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	if dbPath != ":memory:" && journalMode != "wal" {
		return fmt.Errorf("WAL mode not enabled (got: %s)", journalMode)
	}

	return nil
}

// NewSQLite opens the database and creates tables.
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	if err := validateDatabasePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// In-memory databases need shared cache so both pools see the same data;
	// without it each sql.Open(":memory:") is a separate empty database.
	actualPath := dbPath
	if dbPath == ":memory:" {
		actualPath = "file::memory:?cache=shared"
	}

	writeDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite write database: %w", err)
	}
	if err := configureSQLiteConnection(writeDB, dbPath); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to configure write connection: %w", err)
	}

	// WAL mode allows exactly one writer at a time.
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)
	writeDB.SetConnMaxIdleTime(10 * time.Minute)

	readDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to open SQLite read database: %w", err)
	}
	if err := configureSQLiteConnection(readDB, dbPath); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to configure read connection: %w", err)
	}

	// Enforce read-only access on the read pool at the SQLite level.
	if _, err := readDB.Exec("PRAGMA query_only=ON"); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to enable query_only mode on read pool: %w", err)
	}

	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	readDB.SetConnMaxIdleTime(10 * time.Minute)

	sqlite := &SQLite{
		WriteDB: writeDB,
		ReadDB:  readDB,
		Path:    dbPath,
		Logger:  logger,
	}

	if err := sqlite.createTables(); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Infow("SQLite database initialized", "path", dbPath)

	return sqlite, nil
}

// WithTransaction executes fn inside a transaction, rolling back on error or
// panic.
func (s *SQLite) WithTransaction(fn func(*sql.Tx) error) error {
	tx, err := s.WriteDB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to rollback transaction (original error: %w, rollback error: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (s *SQLite) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS log_files (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		original_name TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		uploaded_at TIMESTAMP NOT NULL,
		processed_at TIMESTAMP,
		total_entries INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS anomalies (
		id TEXT PRIMARY KEY,
		log_file_id TEXT REFERENCES log_files(id) ON DELETE CASCADE,
		timestamp TIMESTAMP NOT NULL,
		anomaly_type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		risk_score REAL NOT NULL DEFAULT 0,
		detection_method TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		source_data TEXT, -- JSON
		raw_log_entry TEXT NOT NULL DEFAULT '',
		log_line_number INTEGER NOT NULL DEFAULT 0,
		ai_analysis TEXT, -- JSON
		priority TEXT NOT NULL DEFAULT '',
		analyst_notes TEXT NOT NULL DEFAULT '',
		reviewed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_anomalies_log_file ON anomalies(log_file_id);
	CREATE INDEX IF NOT EXISTS idx_anomalies_status ON anomalies(status);
	CREATE INDEX IF NOT EXISTS idx_anomalies_risk ON anomalies(risk_score);

	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL UNIQUE,
		key TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS webhooks (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		secret TEXT NOT NULL DEFAULT '',
		events TEXT NOT NULL, -- JSON array
		enabled INTEGER NOT NULL DEFAULT 1,
		min_risk_score REAL NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);
	`

	if _, err := s.WriteDB.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes both connection pools.
func (s *SQLite) Close() error {
	var firstErr error
	if err := s.WriteDB.Close(); err != nil {
		firstErr = err
	}
	if err := s.ReadDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// validateDatabasePath rejects paths that would let a hostile config reach
// outside the data directory or hit device files.
func validateDatabasePath(dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("database path is empty")
	}
	if dbPath == ":memory:" {
		return nil
	}
	if strings.ContainsRune(dbPath, 0) {
		return fmt.Errorf("database path contains null byte")
	}
	cleaned := filepath.Clean(dbPath)
	if strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) || cleaned == ".." {
		return fmt.Errorf("database path escapes working directory: %s", dbPath)
	}
	if strings.HasPrefix(cleaned, "/dev/") || strings.HasPrefix(cleaned, "/proc/") || strings.HasPrefix(cleaned, "/sys/") {
		return fmt.Errorf("database path points at a device file: %s", dbPath)
	}
	return nil
}
