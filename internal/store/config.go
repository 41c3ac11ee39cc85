package store

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/loykin/piperun/internal/retry"
	"github.com/loykin/piperun/internal/store/connector"
	"github.com/loykin/piperun/internal/store/postgresql"
	"github.com/loykin/piperun/internal/store/sqlite"
)

const (
	DriverSqlite     = "sqlite"
	DriverPostgresql = "postgresql"

	// DbFileName is the default SQLite file inside the artifact root.
	DbFileName = "piperun.db"
)

// TableNames re-exports the connector type for callers of this package.
type TableNames = connector.TableNames

// SqliteConfig and PostgresConfig are the per-driver settings.
type (
	SqliteConfig   = sqlite.Config
	PostgresConfig = postgresql.Config
)

type DriverConfig interface {
	ToMap() map[string]interface{}
}

type Config struct {
	Driver       string `mapstructure:"driver"`
	TablePrefix  string `mapstructure:"table_prefix"`
	DriverConfig DriverConfig
	Retry        *retry.Config
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DefaultTableNames returns the unprefixed table names.
func DefaultTableNames() TableNames {
	return TableNames{Runs: "pipeline_runs", Stages: "stage_results", Artifacts: "artifacts"}
}

// TableNamesFor applies prefix to the default names and checks that the
// result is a safe SQL identifier.
func TableNamesFor(prefix string) (TableNames, error) {
	prefix = strings.TrimSpace(prefix)
	th := DefaultTableNames()
	if prefix == "" {
		return th, nil
	}
	if !identRe.MatchString(prefix) {
		return TableNames{}, fmt.Errorf("store: invalid table prefix %q", prefix)
	}
	th.Runs = prefix + "_" + th.Runs
	th.Stages = prefix + "_" + th.Stages
	th.Artifacts = prefix + "_" + th.Artifacts
	return th, nil
}

func newConnector(cfg Config) (connector.Connector, error) {
	var c connector.Connector
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverSqlite:
		c = sqlite.NewConnector()
	case DriverPostgresql, "postgres", "pg":
		c = postgresql.NewConnector()
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Driver)
	}
	var m map[string]interface{}
	if cfg.DriverConfig != nil {
		m = cfg.DriverConfig.ToMap()
	}
	if err := c.Load(m); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
