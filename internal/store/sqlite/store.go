package sqlite

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/piperun/internal/store/connector"
)

// Connector is the SQLite backend of the run store.
type Connector struct {
	dialect *Dialect
	dsn     string
}

// NewConnector returns an unconfigured SQLite connector.
func NewConnector() *Connector {
	return &Connector{dialect: NewDialect()}
}

// Load accepts either "dsn" or "path". With neither the database is in memory.
// The parent directory of path is created.
func (c *Connector) Load(config map[string]interface{}) error {
	if dsn, ok := config["dsn"].(string); ok && strings.TrimSpace(dsn) != "" {
		c.dsn = dsn
		return nil
	}
	if path, ok := config["path"].(string); ok && strings.TrimSpace(path) != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		c.dsn = FileDSN(path)
	}
	return nil
}

func (c *Connector) Validate() error {
	if strings.Contains(c.dsn, "\x00") {
		return errors.New("sqlite: invalid path")
	}
	return nil
}

func (c *Connector) DSN() string {
	if c.dsn == "" {
		return ":memory:"
	}
	return c.dsn
}

func (c *Connector) Dialect() connector.Dialect { return c.dialect }
