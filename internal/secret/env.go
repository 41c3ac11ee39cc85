package secret

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/loykin/piperun/pkg/stage"
)

// EnvConfig configures the process environment provider. A secret id maps to
// Prefix + ID in upper snake case ("registry-creds" -> PIPERUN_SECRET_REGISTRY_CREDS).
// Credentials are read from the _USERNAME/_PASSWORD suffixed variables.
type EnvConfig struct {
	Prefix string            `mapstructure:"prefix"`
	Names  map[string]string `mapstructure:"names"` // explicit id -> variable overrides
}

type envProvider struct {
	c      EnvConfig
	lookup func(string) (string, bool)
}

// NewEnvProvider returns a Provider reading the process environment.
func NewEnvProvider(c EnvConfig) Provider {
	if strings.TrimSpace(c.Prefix) == "" && len(c.Names) == 0 {
		c.Prefix = "PIPERUN_SECRET_"
	}
	return &envProvider{c: c, lookup: os.LookupEnv}
}

func (p *envProvider) Resolve(_ context.Context, id string) (Secret, error) {
	name, ok := p.c.Names[id]
	if !ok {
		name = p.c.Prefix + stage.Secret{ID: id}.EnvName()
	}
	if v, ok := p.lookup(name); ok {
		return Secret{Value: v}, nil
	}
	user, uok := p.lookup(name + "_USERNAME")
	pass, pok := p.lookup(name + "_PASSWORD")
	if uok || pok {
		return Secret{Username: user, Password: pass}, nil
	}
	return Secret{}, fmt.Errorf("%w: variable %s is not set", ErrNotFound, name)
}
