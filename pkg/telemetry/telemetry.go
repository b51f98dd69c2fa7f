// pkg/telemetry/telemetry.go

package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	cerr "github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	tracer   trace.Tracer
	initOnce sync.Once
)

func enabled() bool {
	v := strings.ToLower(os.Getenv("TENANTCTL_TELEMETRY"))
	return v == "1" || v == "true" || v == "on"
}

// Init configures OpenTelemetry; call this early in main(). Tracing is opt-in
// via TENANTCTL_TELEMETRY; otherwise a noop provider is installed.
func Init(service string) error {
	var initErr error
	initOnce.Do(func() {
		if !enabled() {
			tp := noop.NewTracerProvider()
			otel.SetTracerProvider(tp)
			tracer = tp.Tracer(service)
			return
		}

		dir := filepath.Join(os.Getenv("HOME"), ".tenantctl", "telemetry")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			initErr = cerr.Wrap(err, "failed to create telemetry directory")
			return
		}

		file, err := os.OpenFile(filepath.Join(dir, "telemetry.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			initErr = cerr.Wrap(err, "failed to open telemetry file")
			return
		}

		exp, err := stdouttrace.New(
			stdouttrace.WithWriter(file),
			stdouttrace.WithoutTimestamps(),
		)
		if err != nil {
			_ = file.Close()
			initErr = cerr.Wrap(err, "failed to create telemetry exporter")
			return
		}

		res, err := sdkresource.New(context.Background(),
			sdkresource.WithAttributes(semconv.ServiceName(service)),
		)
		if err != nil {
			initErr = cerr.Wrap(err, "failed to build telemetry resource")
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		tracer = tp.Tracer(service)
	})
	return initErr
}

// Start opens a span under the configured tracer. Safe to call before Init;
// spans are then noops.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		tp := noop.NewTracerProvider()
		tracer = tp.Tracer("tenantctl")
	}
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}
