package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

// FileConfig configures a provider reading a JSON document from disk. Each
// secret id is a gjson path into the document unless Paths overrides it.
// A string at the path is a value; an object with username/password fields
// is a credential.
type FileConfig struct {
	Path  string            `mapstructure:"path"`
	Paths map[string]string `mapstructure:"paths"`
}

type fileProvider struct{ c FileConfig }

// NewFileProvider returns a Provider reading c.Path on every Resolve.
func NewFileProvider(c FileConfig) (Provider, error) {
	if strings.TrimSpace(c.Path) == "" {
		return nil, errors.New("secret file: path is required")
	}
	return &fileProvider{c: c}, nil
}

func (p *fileProvider) Resolve(_ context.Context, id string) (Secret, error) {
	b, err := os.ReadFile(p.c.Path)
	if err != nil {
		return Secret{}, fmt.Errorf("secret file: %w", err)
	}
	if !gjson.ValidBytes(b) {
		return Secret{}, fmt.Errorf("secret file %s: invalid JSON", p.c.Path)
	}
	path := id
	if alt, ok := p.c.Paths[id]; ok && alt != "" {
		path = alt
	}
	r := gjson.GetBytes(b, path)
	switch {
	case !r.Exists():
		return Secret{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	case r.IsObject():
		user, pass := r.Get("username"), r.Get("password")
		if !user.Exists() && !pass.Exists() {
			if v := r.Get("value"); v.Exists() {
				return Secret{Value: v.String()}, nil
			}
			return Secret{}, fmt.Errorf("secret file: %s is an object without username/password/value", id)
		}
		return Secret{Username: user.String(), Password: pass.String()}, nil
	default:
		return Secret{Value: r.String()}, nil
	}
}
