package pipeline

import (
	"errors"
	"fmt"

	"github.com/loykin/piperun/pkg/stage"
)

var (
	// ErrBusy is returned when Run is called while the Engine is running.
	ErrBusy = errors.New("pipeline engine is already running")
	// ErrNonZeroExit marks a stage whose command exited with a nonzero code.
	ErrNonZeroExit = errors.New("command exited with nonzero status")
)

// StageExecutionError is a failed stage. It escalates to the run only when
// the stage is strict.
type StageExecutionError struct {
	Stage     string
	Isolation stage.Isolation
	ExitCode  int
	Err       error
}

func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("stage %s (%s) failed with exit code %d: %v", e.Stage, e.Isolation, e.ExitCode, e.Err)
}

func (e *StageExecutionError) Unwrap() error { return e.Err }

// Escalates reports whether the failure aborts the run.
func (e *StageExecutionError) Escalates() bool { return e.Isolation == stage.Strict }
