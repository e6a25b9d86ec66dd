package metrics

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Provider is a meter provider that must be shut down to flush.
type Provider struct {
	*sdkmetric.MeterProvider
}

// NewStdoutProvider exports to w every interval.
func NewStdoutProvider(w io.Writer, interval time.Duration) (*Provider, error) {
	exporter, err := stdoutmetric.New(
		stdoutmetric.WithWriter(w),
		stdoutmetric.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
	}

	opts := []sdkmetric.PeriodicReaderOption{}
	if interval > 0 {
		opts = append(opts, sdkmetric.WithInterval(interval))
	}
	reader := sdkmetric.NewPeriodicReader(exporter, opts...)

	return &Provider{MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))}, nil
}

// Shutdown flushes pending measurements.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.MeterProvider == nil {
		return nil
	}
	return p.MeterProvider.Shutdown(ctx)
}
