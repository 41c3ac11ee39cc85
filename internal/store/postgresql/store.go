package postgresql

import (
	"errors"
	"strings"

	"github.com/loykin/piperun/internal/store/connector"
)

// Connector is the PostgreSQL backend of the run store.
type Connector struct {
	dialect *Dialect
	dsn     string
}

// NewConnector returns an unconfigured PostgreSQL connector.
func NewConnector() *Connector {
	return &Connector{dialect: NewDialect()}
}

// Load loads configuration into the PostgreSQL connector
func (p *Connector) Load(config map[string]interface{}) error {
	if dsn, ok := config["dsn"].(string); ok {
		p.dsn = strings.TrimSpace(dsn)
	}
	return nil
}

func (p *Connector) Validate() error {
	if p.dsn == "" {
		return errors.New("postgresql: dsn or host is required")
	}
	return nil
}

func (p *Connector) DSN() string { return p.dsn }

func (p *Connector) Dialect() connector.Dialect { return p.dialect }
