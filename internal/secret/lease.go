package secret

import (
	"context"
	"sync"

	"github.com/loykin/piperun/internal/common"
	"github.com/loykin/piperun/pkg/stage"
)

// Lease holds the secrets resolved for one stage invocation. Values are
// registered with the log masker while the lease is held and dropped on
// Release, which is safe to call more than once.
type Lease struct {
	mu       sync.Mutex
	env      map[string]string
	byID     map[string]Secret
	masker   *common.Masker
	masked   []string
	released bool
}

// Acquire resolves every requested secret through p. On any failure the
// secrets acquired so far are released and a *ResolveError is returned.
// A nil masker means the global one.
func Acquire(ctx context.Context, p Provider, reqs []stage.Secret, masker *common.Masker) (*Lease, error) {
	if masker == nil {
		masker = common.GetGlobalMasker()
	}
	l := &Lease{env: map[string]string{}, byID: map[string]Secret{}, masker: masker}
	if len(reqs) == 0 {
		return l, nil
	}
	if p == nil {
		return nil, &ResolveError{ID: reqs[0].ID, Err: ErrNotFound}
	}
	for _, req := range reqs {
		s, ok := l.byID[req.ID]
		if !ok {
			var err error
			s, err = p.Resolve(ctx, req.ID)
			if err != nil {
				l.Release()
				return nil, &ResolveError{ID: req.ID, Err: err}
			}
			l.hold(req.ID, s)
		}
		name := req.EnvName()
		if s.IsCredential() {
			l.env[name+"_USERNAME"] = s.Username
			l.env[name+"_PASSWORD"] = s.Password
		} else {
			l.env[name] = s.Value
		}
	}
	return l, nil
}

func (l *Lease) hold(id string, s Secret) {
	l.byID[id] = s
	for _, v := range s.values() {
		l.masker.AddSecret(v)
		l.masked = append(l.masked, v)
	}
}

// Env returns a copy of the environment entries carried by the lease. After
// Release it is empty.
func (l *Lease) Env() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.env))
	for k, v := range l.env {
		out[k] = v
	}
	return out
}

// Get returns the secret resolved for id while the lease is held.
func (l *Lease) Get(id string) (Secret, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.byID[id]
	return s, ok
}

// Released reports whether Release has run.
func (l *Lease) Released() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

// Release drops every value and unregisters them from the masker.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	for k := range l.env {
		l.env[k] = ""
		delete(l.env, k)
	}
	for id := range l.byID {
		l.byID[id] = Secret{}
		delete(l.byID, id)
	}
	for _, v := range l.masked {
		l.masker.RemoveSecret(v)
	}
	l.masked = nil
}
