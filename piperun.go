package piperun

import (
	"context"
	"errors"
	"io"

	"github.com/loykin/piperun/internal/common"
	"github.com/loykin/piperun/internal/config"
	"github.com/loykin/piperun/internal/secret"
	"github.com/loykin/piperun/internal/store"
	"github.com/loykin/piperun/internal/telemetry"
	"github.com/loykin/piperun/pkg/pipeline"
	"github.com/loykin/piperun/pkg/stage"
)

// Re-export commonly used types for public API

type Document = config.Document

type Stage = stage.Stage

type Isolation = stage.Isolation

const (
	Strict   = stage.Strict
	Tolerant = stage.Tolerant
)

type Engine = pipeline.Engine

type Run = pipeline.Run

type Trigger = pipeline.Trigger

type Store = store.Store

// SecretProvider resolves stage secrets.
type SecretProvider = secret.Provider

// RegisterSecretProvider exposes custom secret provider registration for
// library users.
func RegisterSecretProvider(typ string, f secret.Factory) { secret.Register(typ, f) }

// Load reads and schema-validates a pipeline document.
func Load(path string) (*Document, error) { return config.Load(path) }

// Pipeline is an Engine assembled from a document together with the
// resources it owns.
type Pipeline struct {
	Engine *Engine
	// Store is nil when the run store is disabled.
	Store *Store

	shutdown func(context.Context) error
}

// Open assembles an Engine from doc: base environment, secret providers,
// notification transport, run store and tracing. out, when non-nil,
// additionally receives masked stage output.
func Open(ctx context.Context, doc *Document, out io.Writer) (*Pipeline, error) {
	if _, err := doc.Registry(); err != nil {
		return nil, err
	}
	base, err := doc.BaseEnv()
	if err != nil {
		return nil, err
	}
	provider, err := doc.SecretProvider()
	if err != nil {
		return nil, err
	}
	dispatcher, err := doc.Dispatcher()
	if err != nil {
		return nil, err
	}
	p := &Pipeline{shutdown: func(context.Context) error { return nil }}
	if doc.Telemetry.Enabled {
		p.shutdown, err = telemetry.InitTracer(telemetry.Options{
			ServiceName: doc.Telemetry.ServiceName,
			Exporter:    doc.Telemetry.Exporter,
		})
		if err != nil {
			return nil, err
		}
	}
	opts := pipeline.Options{
		Stages:       doc.Stages,
		Workspace:    doc.Workspace,
		ArtifactRoot: doc.ArtifactRoot,
		BaseEnv:      base,
		DashboardURL: doc.DashboardURL,
		Secrets:      provider,
		Dispatcher:   dispatcher,
		Output:       out,
	}
	if cfg := doc.StoreConfig(); cfg != nil {
		p.Store, err = store.Open(ctx, *cfg)
		if err != nil {
			_ = p.shutdown(ctx)
			return nil, err
		}
		opts.Recorder = p.Store
	}
	p.Engine, err = pipeline.New(opts)
	if err != nil {
		_ = p.Close(ctx)
		return nil, err
	}
	return p, nil
}

// Run starts one run on the assembled Engine.
func (p *Pipeline) Run(ctx context.Context, ref string) (*Run, error) {
	return p.Engine.Run(ctx, pipeline.Trigger{SourceRef: ref})
}

// Close flushes traces and closes the store.
func (p *Pipeline) Close(ctx context.Context) error {
	var errs []error
	if p.Store != nil {
		errs = append(errs, p.Store.Close())
	}
	if err := p.shutdown(ctx); err != nil {
		common.GetLogger().WithComponent("piperun").Warn("tracer shutdown failed", "error", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// OpenStore opens the run store described by doc for read access. It
// returns nil when the store is disabled.
func OpenStore(ctx context.Context, doc *Document) (*Store, error) {
	cfg := doc.StoreConfig()
	if cfg == nil {
		return nil, nil
	}
	return store.Open(ctx, *cfg)
}
