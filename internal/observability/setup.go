package observability

import (
	"context"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
)

// Telemetry bundles the installed providers of a process.
type Telemetry struct {
	// MetricsHandler serves the Prometheus exposition format.
	MetricsHandler http.Handler
	shutdown       []func(context.Context) error
}

// Setup installs metrics and, when otlpEndpoint is set, trace export. attrs
// are attached to the trace resource.
func Setup(ctx context.Context, serviceName, otlpEndpoint string, attrs ...attribute.KeyValue) (*Telemetry, error) {
	handler, shutdownMetrics, err := InitMetrics()
	if err != nil {
		return nil, err
	}
	t := &Telemetry{MetricsHandler: handler, shutdown: []func(context.Context) error{shutdownMetrics}}

	if otlpEndpoint != "" {
		res, err := NewResource(ctx, serviceName, attrs...)
		if err != nil {
			_ = shutdownMetrics(ctx)
			return nil, err
		}
		shutdownTracer, err := InitTracer(ctx, otlpEndpoint, res)
		if err != nil {
			_ = shutdownMetrics(ctx)
			return nil, err
		}
		t.shutdown = append(t.shutdown, shutdownTracer)
	}
	return t, nil
}

// Shutdown flushes and stops every provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(t.shutdown) - 1; i >= 0; i-- {
		errs = append(errs, t.shutdown[i](ctx))
	}
	return errors.Join(errs...)
}
