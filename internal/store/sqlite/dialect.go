package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/loykin/piperun/internal/store/connector"
	_ "modernc.org/sqlite"
)

// Dialect implements SQL dialect for SQLite
type Dialect struct{}

// NewDialect creates a new SQLite dialect
func NewDialect() *Dialect {
	return &Dialect{}
}

// GetPlaceholder returns SQLite-style placeholders (?)
func (s *Dialect) GetPlaceholder(int) string {
	return "?"
}

// ConvertBoolToStorage converts bool to SQLite storage format (integer 0/1)
func (s *Dialect) ConvertBoolToStorage(b bool) interface{} {
	if b {
		return 1
	}
	return 0
}

// timeLayout is fixed width so stored text sorts chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ConvertTimeToStorage stores times as UTC text in timeLayout.
func (s *Dialect) ConvertTimeToStorage(t time.Time) interface{} {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// ConvertBoolFromStorage converts SQLite integer storage to bool
func (s *Dialect) ConvertBoolFromStorage(val interface{}) bool {
	switch v := val.(type) {
	case int64:
		return v != 0
	case int:
		return v != 0
	case bool:
		return v
	}
	return false
}

// ConvertTimeFromStorage parses RFC3339Nano text. Empty text is the zero time.
func (s *Dialect) ConvertTimeFromStorage(val interface{}) (time.Time, error) {
	var str string
	switch v := val.(type) {
	case nil:
		return time.Time{}, nil
	case string:
		str = v
	case []byte:
		str = string(v)
	case time.Time:
		return v.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("sqlite: unexpected time value %T", val)
	}
	if str == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, str)
}

// Connect establishes a connection to SQLite with connection pooling
func (s *Dialect) Connect(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(10 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return db, nil
}

// GetEnsureStatements returns SQLite-specific table creation statements
func (s *Dialect) GetEnsureStatements(th connector.TableNames) []string {
	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (run_id TEXT PRIMARY KEY, source_ref TEXT NOT NULL DEFAULT '', status TEXT NOT NULL, outcome TEXT NOT NULL, started_at TEXT NOT NULL, finished_at TEXT NOT NULL, report_path TEXT NOT NULL DEFAULT '')", th.Runs),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (run_id TEXT NOT NULL, seq INTEGER NOT NULL, name TEXT NOT NULL, status TEXT NOT NULL, isolation TEXT NOT NULL, exit_code INTEGER NOT NULL, duration_ms INTEGER NOT NULL, error TEXT NOT NULL DEFAULT '', started_at TEXT NOT NULL, log_path TEXT NOT NULL DEFAULT '', PRIMARY KEY(run_id, seq))", th.Stages),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY AUTOINCREMENT, run_id TEXT NOT NULL, stage TEXT NOT NULL, pattern TEXT NOT NULL, path TEXT NOT NULL DEFAULT '', location TEXT NOT NULL DEFAULT '', archived INTEGER NOT NULL DEFAULT 0, sha256 TEXT NOT NULL DEFAULT '', size INTEGER NOT NULL DEFAULT 0, error TEXT NOT NULL DEFAULT '')", th.Artifacts),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_run_idx ON %s(run_id)", th.Artifacts, th.Artifacts),
	}
}

// GetDriverName returns the driver name for logging
func (s *Dialect) GetDriverName() string {
	return "sqlite"
}
