// Package telemetry sets up OpenTelemetry tracing for pipeline runs.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/loykin/piperun/internal/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of engine spans.
const TracerName = "github.com/loykin/piperun"

// Options configures InitTracer.
type Options struct {
	ServiceName string
	// Exporter is "stdout" or "none".
	Exporter string
	// Writer receives stdout exporter output. Defaults to os.Stderr.
	Writer io.Writer
}

// InitTracer installs a global tracer provider and returns its shutdown
// function. With the "none" exporter the global no-op provider is kept.
func InitTracer(opts Options) (func(context.Context) error, error) {
	logger := common.GetLogger().WithComponent("telemetry")
	switch strings.ToLower(strings.TrimSpace(opts.Exporter)) {
	case "", "none":
		return func(context.Context) error { return nil }, nil
	case "stdout":
	default:
		return nil, fmt.Errorf("telemetry: unsupported exporter %q", opts.Exporter)
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", semconv.ServiceName(opts.ServiceName)),
	)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	logger.Info("OpenTelemetry initialized", "service", opts.ServiceName, "exporter", "stdout")
	return tp.Shutdown, nil
}

// Tracer returns the engine tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
