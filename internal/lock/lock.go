// Package lock provides run-level mutual exclusion over an artifact area.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileName is the lock file created in the guarded directory.
const FileName = ".piperun.lock"

// ErrLocked is returned when another run holds the lock.
var ErrLocked = errors.New("artifact area is locked by another run")

// Owner is written into the lock file for diagnostics.
type Owner struct {
	RunID    string    `json:"run_id"`
	PID      int       `json:"pid"`
	Host     string    `json:"host"`
	Acquired time.Time `json:"acquired"`
}

// Lock is a held lock. Release removes the lock file.
type Lock struct {
	path string
	once sync.Once
	err  error
}

// Acquire creates the lock file in dir exclusively. When the file already
// exists the returned error wraps ErrLocked and names the holder when known.
func Acquire(dir, runID string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lock: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			if o, rerr := ReadOwner(dir); rerr == nil && o.RunID != "" {
				return nil, fmt.Errorf("%w: run %s (pid %d on %s since %s)", ErrLocked, o.RunID, o.PID, o.Host, o.Acquired.Format(time.RFC3339))
			}
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("lock: %w", err)
	}
	host, _ := os.Hostname()
	enc := json.NewEncoder(f)
	werr := enc.Encode(Owner{RunID: runID, PID: os.Getpid(), Host: host, Acquired: time.Now().UTC()})
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("lock: write owner: %w", err)
	}
	return &Lock{path: path}, nil
}

// ReadOwner returns the owner recorded in dir's lock file.
func ReadOwner(dir string) (Owner, error) {
	var o Owner
	b, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return o, err
	}
	err = json.Unmarshal(b, &o)
	return o, err
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release removes the lock file. Calling it again returns the first result.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() {
		if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			l.err = fmt.Errorf("lock: release: %w", err)
		}
	})
	return l.err
}
