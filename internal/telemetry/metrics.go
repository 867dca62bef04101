package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const MeterName = "unified-planner"

// Provider owns the meter provider. When metrics are disabled it hands out no-op meters.
type Provider struct {
	MeterProvider metric.MeterProvider
	Meter         metric.Meter
	reader        *sdkmetric.ManualReader
	shutdown      func(context.Context) error
}

// NewProvider builds a meter provider backed by an in-process manual reader, so counters
// can be read back with Collect for the serve shutdown log.
func NewProvider(enabled bool) *Provider {
	if !enabled {
		mp := noop.NewMeterProvider()
		return &Provider{
			MeterProvider: mp,
			Meter:         mp.Meter(MeterName),
			shutdown:      func(context.Context) error { return nil },
		}
	}
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return &Provider{
		MeterProvider: mp,
		Meter:         mp.Meter(MeterName),
		reader:        reader,
		shutdown:      mp.Shutdown,
	}
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// Collect sums every int64 counter by instrument name and attribute set, e.g.
// "planner.backups{outcome=success}". It returns nil when metrics are disabled.
func (p *Provider) Collect(ctx context.Context) (map[string]int64, error) {
	if p.reader == nil {
		return nil, nil
	}
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				out[seriesName(m.Name, dp.Attributes)] += dp.Value
			}
		}
	}
	return out, nil
}

func seriesName(name string, attrs attribute.Set) string {
	if attrs.Len() == 0 {
		return name
	}
	s := name + "{"
	iter := attrs.Iter()
	first := true
	for iter.Next() {
		kv := iter.Attribute()
		if !first {
			s += ","
		}
		first = false
		s += string(kv.Key) + "=" + kv.Value.Emit()
	}
	return s + "}"
}

// Metrics are the counters the store, cache and services record into.
type Metrics struct {
	CacheLookups  metric.Int64Counter
	StoreWrites   metric.Int64Counter
	Backups       metric.Int64Counter
	RepairActions metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	cacheLookups, err := meter.Int64Counter("planner.cache.lookups",
		metric.WithDescription("Query cache lookups by result (hit, miss, stale)."))
	if err != nil {
		return nil, fmt.Errorf("create cache counter: %w", err)
	}
	storeWrites, err := meter.Int64Counter("planner.store.writes",
		metric.WithDescription("Committed or failed write transactions."))
	if err != nil {
		return nil, fmt.Errorf("create store counter: %w", err)
	}
	backups, err := meter.Int64Counter("planner.backups",
		metric.WithDescription("Snapshot attempts by outcome."))
	if err != nil {
		return nil, fmt.Errorf("create backup counter: %w", err)
	}
	repairs, err := meter.Int64Counter("planner.integrity.repairs",
		metric.WithDescription("Integrity repair actions applied."))
	if err != nil {
		return nil, fmt.Errorf("create repair counter: %w", err)
	}
	return &Metrics{
		CacheLookups:  cacheLookups,
		StoreWrites:   storeWrites,
		Backups:       backups,
		RepairActions: repairs,
	}, nil
}

// NoopMetrics is used when no provider is wired, mostly in tests.
func NoopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(MeterName))
	return m
}

func (m *Metrics) Add(ctx context.Context, c metric.Int64Counter, key, value string) {
	if m == nil || c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attribute.String(key, value)))
}
