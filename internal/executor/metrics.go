package executor

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	submitted metric.Int64Counter
	succeeded metric.Int64Counter
	failed    metric.Int64Counter
	rounds    metric.Int64Counter
	attrs     metric.MeasurementOption
	gauge     metric.Registration
}

func newMetrics(plugin string, active *atomic.Int64) (*metrics, error) {
	meter := otel.Meter("snakeplane/executor")
	attrs := metric.WithAttributes(attribute.String("executor", plugin))

	m := &metrics{attrs: attrs}
	var err error
	if m.submitted, err = meter.Int64Counter("snakeplane_jobs_submitted_total",
		metric.WithDescription("Jobs handed to the executor backend")); err != nil {
		return nil, fmt.Errorf("failed to create submitted counter: %w", err)
	}
	if m.succeeded, err = meter.Int64Counter("snakeplane_jobs_succeeded_total",
		metric.WithDescription("Jobs reported as finished successfully")); err != nil {
		return nil, fmt.Errorf("failed to create succeeded counter: %w", err)
	}
	if m.failed, err = meter.Int64Counter("snakeplane_jobs_failed_total",
		metric.WithDescription("Jobs reported as failed")); err != nil {
		return nil, fmt.Errorf("failed to create failed counter: %w", err)
	}
	if m.rounds, err = meter.Int64Counter("snakeplane_status_check_rounds_total",
		metric.WithDescription("Status check rounds sent to the executor backend")); err != nil {
		return nil, fmt.Errorf("failed to create rounds counter: %w", err)
	}

	gauge, err := meter.Int64ObservableGauge("snakeplane_jobs_active",
		metric.WithDescription("Jobs submitted and not yet finished"))
	if err != nil {
		return nil, fmt.Errorf("failed to create active jobs gauge: %w", err)
	}
	m.gauge, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, active.Load(), attrs)
		return nil
	}, gauge)
	if err != nil {
		return nil, fmt.Errorf("failed to register active jobs callback: %w", err)
	}
	return m, nil
}

func (m *metrics) close() {
	_ = m.gauge.Unregister()
}
