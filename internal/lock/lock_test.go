package lock

import (
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
)

func TestAcquire_Exclusive(t *testing.T) {
	dir := t.TempDir()
	l, err := Acquire(dir, "run-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	_, err = Acquire(dir, "run-2")
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if !strings.Contains(err.Error(), "run-1") {
		t.Fatalf("error should name the holder: %v", err)
	}
	o, err := ReadOwner(dir)
	if err != nil || o.RunID != "run-1" || o.PID != os.Getpid() {
		t.Fatalf("owner = %+v %v", o, err)
	}

	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if _, err := os.Stat(l.Path()); !os.IsNotExist(err) {
		t.Fatalf("lock file still present: %v", err)
	}
	l2, err := Acquire(dir, "run-3")
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	_ = l2.Release()
}

func TestAcquire_ConcurrentOnlyOneWins(t *testing.T) {
	dir := t.TempDir()
	const n = 16
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wins  int
		locks []*Lock
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := Acquire(dir, "r")
			if err == nil {
				mu.Lock()
				wins++
				locks = append(locks, l)
				mu.Unlock()
			} else if !errors.Is(err, ErrLocked) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d", wins)
	}
	for _, l := range locks {
		_ = l.Release()
	}
}

func TestAcquire_CreatesDir(t *testing.T) {
	dir := t.TempDir() + "/nested/area"
	l, err := Acquire(dir, "r")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = l.Release() }()
	if _, err := os.Stat(dir); err != nil {
		t.Fatal(err)
	}
}
