package connector

import (
	"database/sql"
	"time"
)

// RunRecord is one finished pipeline run as kept in the audit history.
type RunRecord struct {
	RunID      string
	SourceRef  string
	Status     string // lifecycle state at the time of recording
	Outcome    string // Completed or Aborted
	StartedAt  time.Time
	FinishedAt time.Time
	ReportPath string
	Stages     []StageRecord
	Artifacts  []ArtifactRecord
}

// StageRecord is one row of stage_results.
type StageRecord struct {
	Seq        int
	Name       string
	Status     string
	Isolation  string
	ExitCode   int
	DurationMS int64
	Error      string
	StartedAt  time.Time
	LogPath    string
}

// ArtifactRecord is one row of artifacts.
type ArtifactRecord struct {
	Stage    string
	Pattern  string
	Path     string
	Location string
	Archived bool
	SHA256   string
	Size     int64
	Error    string
}

// TableNames represents database table names
type TableNames struct {
	Runs      string
	Stages    string
	Artifacts string
}

// Dialect hides the SQL differences between drivers.
type Dialect interface {
	// GetPlaceholder returns the bind marker for the 1-based argument index.
	GetPlaceholder(index int) string
	GetDriverName() string
	Connect(dsn string) (*sql.DB, error)
	GetEnsureStatements(th TableNames) []string
	ConvertBoolToStorage(b bool) interface{}
	ConvertBoolFromStorage(val interface{}) bool
	ConvertTimeToStorage(t time.Time) interface{}
	ConvertTimeFromStorage(val interface{}) (time.Time, error)
}

// Connector is a configured database backend.
type Connector interface {
	Load(config map[string]interface{}) error
	Validate() error
	DSN() string
	Dialect() Dialect
}
