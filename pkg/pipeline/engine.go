// Package pipeline runs an ordered stage list against a workspace, isolates
// stage failures by policy, archives artifacts, writes the run summary and
// sends the terminal notification.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/piperun/internal/artifact"
	"github.com/loykin/piperun/internal/command"
	"github.com/loykin/piperun/internal/common"
	"github.com/loykin/piperun/internal/lock"
	"github.com/loykin/piperun/internal/notify"
	"github.com/loykin/piperun/internal/push"
	"github.com/loykin/piperun/internal/report"
	"github.com/loykin/piperun/internal/secret"
	"github.com/loykin/piperun/internal/store"
	"github.com/loykin/piperun/internal/telemetry"
	"github.com/loykin/piperun/pkg/env"
	"github.com/loykin/piperun/pkg/stage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// LogDir is the run-directory subfolder holding one log file per stage.
const LogDir = "_logs"

// Recorder persists finished runs. *store.Store implements it.
type Recorder interface {
	RecordRun(ctx context.Context, r store.RunRecord) error
}

// Options wires an Engine. Stages, Workspace and ArtifactRoot are required.
type Options struct {
	Stages       []stage.Stage
	Workspace    string
	ArtifactRoot string
	BaseEnv      *env.Env
	DashboardURL string // text/template over RunID and SourceRef

	Runner     command.Runner
	Secrets    secret.Provider
	Pusher     push.Pusher
	Dispatcher *notify.Dispatcher
	Recorder   Recorder
	Masker     *common.Masker
	// Output additionally receives every stage's masked output.
	Output io.Writer
}

// Trigger starts a run.
type Trigger struct {
	SourceRef string
	// RunID overrides the generated UUID.
	RunID string
}

// Engine executes runs one at a time.
type Engine struct {
	registry   *stage.Registry
	opts       Options
	base       *env.Env
	collector  *artifact.Collector
	aggregator *report.Aggregator
	tracer     trace.Tracer
	logger     *common.Logger
	now        func() time.Time
	newID      func() string

	running chan struct{}
}

// New validates the stage list and returns an Engine. A *stage.ConfigError
// means no run can start.
func New(opts Options) (*Engine, error) {
	reg, err := stage.NewRegistry(opts.Stages...)
	if err != nil {
		return nil, err
	}
	if opts.Workspace == "" {
		return nil, errors.New("pipeline: workspace is required")
	}
	if opts.ArtifactRoot == "" {
		return nil, errors.New("pipeline: artifact root is required")
	}
	if opts.Runner == nil {
		opts.Runner = command.NewExecRunner()
	}
	if opts.Pusher == nil {
		opts.Pusher = push.NewDocker(opts.Runner)
	}
	if opts.Masker == nil {
		opts.Masker = common.GetGlobalMasker()
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher, err = notify.NewDispatcher(notify.NewLog(), nil, notify.Templates{})
		if err != nil {
			return nil, err
		}
	}
	base := opts.BaseEnv
	if base == nil {
		base = env.NewBase(nil)
	}
	if !base.Sealed() {
		base = base.Clone()
		base.Seal()
	}
	return &Engine{
		registry:   reg,
		opts:       opts,
		base:       base,
		collector:  artifact.NewCollector(opts.ArtifactRoot),
		aggregator: report.NewAggregator(),
		tracer:     telemetry.Tracer(),
		logger:     common.GetLogger().WithComponent("pipeline"),
		now:        time.Now,
		newID:      uuid.NewString,
		running:    make(chan struct{}, 1),
	}, nil
}

// Registry returns the validated stage registry.
func (e *Engine) Registry() *stage.Registry { return e.registry }

// RunDir returns where artifacts, logs and the summary of runID live.
func (e *Engine) RunDir(runID string) string { return e.collector.RunDir(runID) }

// Run executes every stage in order and then reports and notifies. The
// returned error covers only conditions that prevented the run from
// starting (engine busy, artifact area locked); stage failures are recorded
// on the Run. Cancelling ctx kills the running stage and aborts the run, but
// the report and notification are still produced.
func (e *Engine) Run(ctx context.Context, trig Trigger) (*Run, error) {
	select {
	case e.running <- struct{}{}:
		defer func() { <-e.running }()
	default:
		return nil, ErrBusy
	}

	id := trig.RunID
	if id == "" {
		id = e.newID()
	}
	run := newRun(id, trig.SourceRef, e.registry.Stages())
	logger := e.logger.WithRun(id)

	lk, err := lock.Acquire(e.opts.ArtifactRoot, id)
	if err != nil {
		return run, err
	}
	defer func() {
		if err := lk.Release(); err != nil {
			logger.Warn("lock release failed", "error", err)
		}
	}()

	ctx, span := e.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("piperun.run_id", id),
		attribute.String("piperun.source_ref", trig.SourceRef),
		attribute.Int("piperun.stages", len(run.stages)),
	))
	defer span.End()

	if err := run.Transition(StatusRunning); err != nil {
		return run, err
	}
	run.setTimes(e.now(), time.Time{})
	logger.Info("pipeline run started", "source_ref", trig.SourceRef, "stages", len(run.stages))

	aborted := e.execute(ctx, run)

	outcome := StatusCompleted
	if aborted {
		outcome = StatusAborted
	}
	run.setTimes(time.Time{}, e.now())
	if err := run.Transition(outcome); err != nil {
		return run, err
	}
	span.SetAttributes(attribute.String("piperun.outcome", string(outcome)))
	if aborted {
		span.SetStatus(codes.Error, "run aborted")
	}
	logger.Info("stage progression finished", "outcome", outcome)

	post := context.WithoutCancel(ctx)
	e.report(post, run)
	if err := run.Transition(StatusReported); err != nil {
		return run, err
	}
	e.notify(post, run)
	if err := run.Transition(StatusNotified); err != nil {
		return run, err
	}
	e.record(post, run)
	return run, nil
}

// execute runs the stages and reports whether the run was aborted.
func (e *Engine) execute(ctx context.Context, run *Run) bool {
	aborted := false
	for _, st := range run.stages {
		if !aborted && ctx.Err() != nil {
			aborted = true
			e.logger.WithRun(run.ID).Warn("run cancelled before stage", "stage", st.Name)
		}
		if aborted {
			run.appendResult(StageResult{Stage: st.Name, Isolation: st.Isolation, Status: StageSkipped, ExitCode: SkippedExitCode})
			continue
		}
		res := e.runStage(ctx, run, st)
		run.appendResult(res)
		e.collect(ctx, run, st)
		if res.Status == StageFailed && (st.Isolation == stage.Strict || cancelled(res.Err)) {
			aborted = true
		}
	}
	if !aborted && ctx.Err() != nil {
		e.logger.WithRun(run.ID).Warn("run cancelled during the last stage")
		aborted = true
	}
	return aborted
}

func cancelled(err error) bool {
	return errors.Is(err, command.ErrCancelled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) workDir(st stage.Stage) string {
	return filepath.Join(e.opts.Workspace, filepath.FromSlash(st.WorkDir))
}

func (e *Engine) runStage(ctx context.Context, run *Run, st stage.Stage) (res StageResult) {
	logger := e.logger.WithRun(run.ID).WithStage(st.Name)
	ctx, span := e.tracer.Start(ctx, "stage "+st.Name, trace.WithAttributes(
		attribute.String("piperun.stage", st.Name),
		attribute.String("piperun.isolation", st.Isolation.String()),
	))
	started := e.now()
	res = StageResult{Stage: st.Name, Isolation: st.Isolation, StartedAt: started}
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("panic: %v", p)
			res.ExitCode = -1
		}
		if res.Err != nil || res.ExitCode != 0 {
			cause := res.Err
			if cause == nil {
				cause = ErrNonZeroExit
			}
			res.Status = StageFailed
			res.Err = &StageExecutionError{Stage: st.Name, Isolation: st.Isolation, ExitCode: res.ExitCode, Err: cause}
			res.Error = res.Err.Error()
			span.SetStatus(codes.Error, res.Error)
			logger.Error("stage failed", "exit_code", res.ExitCode, "isolation", st.Isolation, "duration", res.Duration, "error", cause)
		} else {
			res.Status = StageSuccess
			logger.Info("stage succeeded", "duration", res.Duration)
		}
		span.SetAttributes(attribute.Int("piperun.exit_code", res.ExitCode))
		span.End()
	}()

	logPath, logw, closeLog, err := e.openLog(run.ID, st.Name)
	if err != nil {
		res.ExitCode = -1
		res.Err = err
		return res
	}
	res.LogPath = logPath
	defer closeLog()

	lease, err := secret.Acquire(ctx, e.opts.Secrets, st.Secrets, e.opts.Masker)
	if err != nil {
		res.ExitCode = -1
		res.Err = err
		res.Duration = e.now().Sub(started)
		return res
	}
	defer lease.Release()

	stageEnv := e.base.WithStage(st.Env).WithSecrets(lease.Env())
	logger.Info("stage started", "command", st.Describe(), "workdir", e.workDir(st))

	var out command.Result
	if st.IsPush() {
		out, err = e.push(ctx, st, stageEnv, logw)
	} else {
		inv := command.Invocation{Env: stageEnv.Environ(), Dir: e.workDir(st), Output: logw}
		if len(st.Command) > 0 {
			inv.Name, inv.Args = st.Command[0], st.Command[1:]
		} else {
			inv.Shell = st.Run
		}
		out, err = e.opts.Runner.Run(ctx, inv)
	}
	res.ExitCode = out.ExitCode
	res.Duration = out.Duration
	if res.Duration == 0 {
		res.Duration = e.now().Sub(started)
	}
	res.Err = err
	return res
}

func (e *Engine) push(ctx context.Context, st stage.Stage, stageEnv *env.Env, out io.Writer) (command.Result, error) {
	creds, err := secret.Acquire(ctx, e.opts.Secrets, []stage.Secret{{ID: st.Push.Credentials}}, e.opts.Masker)
	if err != nil {
		return command.Result{ExitCode: -1}, err
	}
	defer creds.Release()
	sec, _ := creds.Get(st.Push.Credentials)
	if !sec.IsCredential() {
		return command.Result{ExitCode: -1}, fmt.Errorf("push: secret %q is not a username/password credential", st.Push.Credentials)
	}
	ref, tag := push.RefFor(*st.Push)
	return e.opts.Pusher.Push(ctx, ref, tag, push.Session{
		Username: sec.Username,
		Password: sec.Password,
		Env:      stageEnv.Environ(),
		Dir:      e.workDir(st),
		Output:   out,
	})
}

// openLog creates the stage log file. The returned writer masks secrets and
// tees into Options.Output.
func (e *Engine) openLog(runID, stageName string) (string, io.Writer, func(), error) {
	rel := filepath.ToSlash(filepath.Join(LogDir, artifact.DirName(stageName)+".log"))
	path := filepath.Join(e.RunDir(runID), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", nil, nil, fmt.Errorf("stage log: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", nil, nil, fmt.Errorf("stage log: %w", err)
	}
	var w io.Writer = f
	if e.opts.Output != nil {
		w = io.MultiWriter(f, e.opts.Output)
	}
	mw := newMaskingWriter(w, e.opts.Masker)
	return rel, mw, func() {
		_ = mw.Flush()
		_ = f.Close()
	}, nil
}

// collect archives st's artifacts. It runs for every executed stage, even
// after cancellation.
func (e *Engine) collect(ctx context.Context, run *Run, st stage.Stage) {
	if !st.DeclaresArtifacts() {
		return
	}
	refs, err := e.collector.Collect(context.WithoutCancel(ctx), run.ID, st, e.workDir(st))
	run.appendArtifacts(refs)
	if err != nil {
		e.logger.WithRun(run.ID).WithStage(st.Name).Warn("artifact collection incomplete", "error", err)
	}
}

func (e *Engine) report(ctx context.Context, run *Run) {
	snap := run.Snapshot()
	in := report.Input{
		RunID:      snap.ID,
		SourceRef:  snap.SourceRef,
		Outcome:    string(snap.Outcome),
		StartedAt:  snap.StartedAt,
		FinishedAt: snap.FinishedAt,
		Artifacts:  snap.Artifacts,
	}
	url, err := report.RunURL(e.opts.DashboardURL, report.URLData{RunID: snap.ID, SourceRef: snap.SourceRef})
	if err != nil {
		e.logger.WithRun(run.ID).Warn("dashboard url not rendered", "error", err)
	}
	in.DashboardURL = url
	for i, st := range run.stages {
		r := snap.Results[i]
		in.Stages = append(in.Stages, report.StageInput{
			Stage:    st,
			Status:   string(r.Status),
			ExitCode: r.ExitCode,
			Duration: r.Duration,
			Error:    r.Error,
			LogPath:  r.LogPath,
		})
	}
	_, paths, err := e.aggregator.Write(ctx, e.RunDir(run.ID), in)
	if err != nil {
		e.logger.WithRun(run.ID).Error("summary not written", "error", err)
		return
	}
	run.setReportPath(paths.HTML)
}

func (e *Engine) notify(ctx context.Context, run *Run) {
	if !run.markNotified() {
		return
	}
	snap := run.Snapshot()
	url, _ := report.RunURL(e.opts.DashboardURL, report.URLData{RunID: snap.ID, SourceRef: snap.SourceRef})
	nc := notify.Context{
		RunID:      snap.ID,
		RunURL:     url,
		Outcome:    string(snap.Outcome),
		SourceRef:  snap.SourceRef,
		ReportPath: snap.ReportPath,
		StartedAt:  snap.StartedAt,
		FinishedAt: snap.FinishedAt,
	}
	for _, r := range snap.Results {
		nc.Stages = append(nc.Stages, notify.StageLine{Name: r.Stage, Status: string(r.Status), ExitCode: r.ExitCode, Duration: r.Duration})
	}
	// failures are logged by the dispatcher and never change the outcome
	_, _ = e.opts.Dispatcher.Dispatch(ctx, nc)
}

func (e *Engine) record(ctx context.Context, run *Run) {
	if e.opts.Recorder == nil {
		return
	}
	if err := e.opts.Recorder.RecordRun(ctx, ToRecord(run.Snapshot())); err != nil {
		e.logger.WithRun(run.ID).Error("run history not recorded", "error", err)
	}
}

// ToRecord converts a snapshot into the run store's record.
func ToRecord(s Snapshot) store.RunRecord {
	rec := store.RunRecord{
		RunID:      s.ID,
		SourceRef:  s.SourceRef,
		Status:     string(s.Status),
		Outcome:    string(s.Outcome),
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		ReportPath: s.ReportPath,
	}
	for i, r := range s.Results {
		rec.Stages = append(rec.Stages, store.StageRecord{
			Seq:        i + 1,
			Name:       r.Stage,
			Status:     string(r.Status),
			Isolation:  r.Isolation.String(),
			ExitCode:   r.ExitCode,
			DurationMS: r.Duration.Milliseconds(),
			Error:      r.Error,
			StartedAt:  r.StartedAt,
			LogPath:    r.LogPath,
		})
	}
	for _, a := range s.Artifacts {
		rec.Artifacts = append(rec.Artifacts, store.ArtifactRecord{
			Stage:    a.Stage,
			Pattern:  a.Pattern,
			Path:     a.Path,
			Location: a.Location,
			Archived: a.Archived,
			SHA256:   a.SHA256,
			Size:     a.Size,
			Error:    a.Error,
		})
	}
	return rec
}
