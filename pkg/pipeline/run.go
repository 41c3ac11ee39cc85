package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/loykin/piperun/internal/artifact"
	"github.com/loykin/piperun/pkg/stage"
)

// Status is the lifecycle state of a Run.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusAborted   Status = "Aborted"
	StatusReported  Status = "Reported"
	StatusNotified  Status = "Notified"
)

// StageStatus is the resolution of one stage.
type StageStatus string

const (
	StageSuccess StageStatus = "success"
	StageFailed  StageStatus = "failed"
	StageSkipped StageStatus = "skipped"
)

// SkippedExitCode is recorded for stages that never ran.
const SkippedExitCode = -1

var transitions = map[Status][]Status{
	StatusPending:   {StatusRunning},
	StatusRunning:   {StatusCompleted, StatusAborted},
	StatusCompleted: {StatusReported},
	StatusAborted:   {StatusReported},
	StatusReported:  {StatusNotified},
}

// ErrIllegalTransition is wrapped by Transition for a move the lifecycle
// does not allow.
var ErrIllegalTransition = errors.New("illegal run state transition")

// StageResult is the recorded resolution of one stage.
type StageResult struct {
	Stage     string          `json:"stage"`
	Isolation stage.Isolation `json:"isolation"`
	Status    StageStatus     `json:"status"`
	ExitCode  int             `json:"exit_code"`
	Duration  time.Duration   `json:"duration"`
	StartedAt time.Time       `json:"started_at,omitempty"`
	Error     string          `json:"error,omitempty"`
	LogPath   string          `json:"log_path,omitempty"` // relative to the run directory

	Err error `json:"-"`
}

// Run is one execution of the pipeline. It is mutated only by the Engine;
// readers get copies.
type Run struct {
	ID        string
	SourceRef string

	mu         sync.RWMutex
	stages     []stage.Stage
	status     Status
	outcome    Status
	startedAt  time.Time
	finishedAt time.Time
	results    []StageResult
	artifacts  []artifact.Ref
	reportPath string
	notified   bool
}

func newRun(id, ref string, stages []stage.Stage) *Run {
	return &Run{ID: id, SourceRef: ref, stages: stages, status: StatusPending}
}

// Transition moves the run to next, rejecting moves the lifecycle forbids.
func (r *Run) Transition(next Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ok := range transitions[r.status] {
		if ok == next {
			r.status = next
			if next == StatusCompleted || next == StatusAborted {
				r.outcome = next
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, r.status, next)
}

func (r *Run) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Outcome is Completed or Aborted once stage progression has ended, and
// empty before.
func (r *Run) Outcome() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.outcome
}

// Stages returns the stage snapshot the run executes.
func (r *Run) Stages() []stage.Stage {
	out := make([]stage.Stage, len(r.stages))
	for i, s := range r.stages {
		out[i] = s.Clone()
	}
	return out
}

func (r *Run) Results() []StageResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]StageResult(nil), r.results...)
}

func (r *Run) Artifacts() []artifact.Ref {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]artifact.Ref(nil), r.artifacts...)
}

// ReportPath is the absolute path of summary.html, empty when the report
// could not be written.
func (r *Run) ReportPath() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reportPath
}

func (r *Run) StartedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.startedAt
}

func (r *Run) FinishedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.finishedAt
}

// Failures returns the execution errors of failed stages in order.
func (r *Run) Failures() []*StageExecutionError {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*StageExecutionError
	for _, res := range r.results {
		var se *StageExecutionError
		if errors.As(res.Err, &se) {
			out = append(out, se)
		}
	}
	return out
}

func (r *Run) appendResult(res StageResult) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

func (r *Run) appendArtifacts(refs []artifact.Ref) {
	r.mu.Lock()
	r.artifacts = append(r.artifacts, refs...)
	r.mu.Unlock()
}

func (r *Run) setTimes(start, end time.Time) {
	r.mu.Lock()
	if !start.IsZero() {
		r.startedAt = start
	}
	if !end.IsZero() {
		r.finishedAt = end
	}
	r.mu.Unlock()
}

func (r *Run) setReportPath(p string) {
	r.mu.Lock()
	r.reportPath = p
	r.mu.Unlock()
}

// markNotified records the single dispatch; it reports false when the run
// was already notified.
func (r *Run) markNotified() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.notified {
		return false
	}
	r.notified = true
	return true
}

// Snapshot is a plain copy of a Run for encoding.
type Snapshot struct {
	ID         string         `json:"id"`
	SourceRef  string         `json:"source_ref,omitempty"`
	Status     Status         `json:"status"`
	Outcome    Status         `json:"outcome,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Results    []StageResult  `json:"results"`
	Artifacts  []artifact.Ref `json:"artifacts"`
	ReportPath string         `json:"report_path,omitempty"`
}

func (r *Run) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		ID:         r.ID,
		SourceRef:  r.SourceRef,
		Status:     r.status,
		Outcome:    r.outcome,
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
		Results:    append([]StageResult(nil), r.results...),
		Artifacts:  append([]artifact.Ref(nil), r.artifacts...),
		ReportPath: r.reportPath,
	}
}
