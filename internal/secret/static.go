package secret

import (
	"context"
	"fmt"
)

// StaticConfig holds literal secrets. Meant for local runs and tests.
type StaticConfig struct {
	Values      map[string]string `mapstructure:"values"`
	Credentials map[string]struct {
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
	} `mapstructure:"credentials"`
}

// Static is an in-memory Provider.
type Static map[string]Secret

// NewStatic builds a Static provider from config.
func NewStatic(c StaticConfig) Static {
	s := Static{}
	for id, v := range c.Values {
		s[id] = Secret{Value: v}
	}
	for id, cr := range c.Credentials {
		s[id] = Secret{Username: cr.Username, Password: cr.Password}
	}
	return s
}

func (s Static) Resolve(_ context.Context, id string) (Secret, error) {
	v, ok := s[id]
	if !ok {
		return Secret{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return v, nil
}
