// Package observability wires OpenTelemetry tracing and metrics for execplane binaries.
package observability

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"execplane/internal/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(
		metric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// StatusCounter counts executions per status.
type StatusCounter interface {
	CountExecutionsByStatus(ctx context.Context) (map[store.ExecutionStatus]int64, error)
}

// RegisterInFlightGauge registers execplane.executions.in_flight, observed per active
// status from the store only when scraped.
func RegisterInFlightGauge(meter otelmetric.Meter, counter StatusCounter) error {
	_, err := meter.Int64ObservableGauge("execplane.executions.in_flight",
		otelmetric.WithDescription("Executions that have not reached a terminal status"),
		otelmetric.WithInt64Callback(func(ctx context.Context, obs otelmetric.Int64Observer) error {
			counts, err := counter.CountExecutionsByStatus(ctx)
			if err != nil {
				log.Printf("observability: failed to count executions: %v", err)
				return nil // a failed count must not break the scrape
			}
			for _, st := range store.ActiveStatuses {
				obs.Observe(counts[st], otelmetric.WithAttributes(attribute.String("status", string(st))))
			}
			return nil
		}),
	)
	return err
}
