// Package secret resolves stage secrets through pluggable providers and
// scopes them to a single stage invocation.
package secret

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by a Provider that does not know the requested id.
var ErrNotFound = errors.New("secret not found")

// Secret is either a single value or a username/password pair.
type Secret struct {
	Value    string
	Username string
	Password string
}

// IsCredential reports whether s is a username/password pair.
func (s Secret) IsCredential() bool { return s.Username != "" || s.Password != "" }

// Empty reports whether s carries nothing.
func (s Secret) Empty() bool { return s.Value == "" && !s.IsCredential() }

// values returns every sensitive string in s.
func (s Secret) values() []string {
	var out []string
	for _, v := range []string{s.Value, s.Password} {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Provider resolves a secret id. Implementations must not cache resolved
// values beyond the call.
type Provider interface {
	Resolve(ctx context.Context, id string) (Secret, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, id string) (Secret, error)

func (f ProviderFunc) Resolve(ctx context.Context, id string) (Secret, error) { return f(ctx, id) }

// Chain asks each provider in order and returns the first hit. Providers that
// answer ErrNotFound are skipped; any other error stops the lookup.
type Chain []Provider

func (c Chain) Resolve(ctx context.Context, id string) (Secret, error) {
	for _, p := range c {
		s, err := p.Resolve(ctx, id)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Secret{}, err
		}
	}
	return Secret{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// ResolveError wraps a provider failure with the secret id.
type ResolveError struct {
	ID  string
	Err error
}

func (e *ResolveError) Error() string { return fmt.Sprintf("resolve secret %q: %v", e.ID, e.Err) }
func (e *ResolveError) Unwrap() error { return e.Err }
