package record

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentedStore records operation counts, errors and latency for an
// inner Store using the global OpenTelemetry meter provider.
type InstrumentedStore struct {
	Store
	ops      metric.Int64Counter
	errs     metric.Int64Counter
	duration metric.Float64Histogram
}

func Instrument(inner Store) *InstrumentedStore {
	meter := otel.Meter("focusroom/record")
	ops, _ := meter.Int64Counter("record_ops_total",
		metric.WithDescription("Total record store operations"))
	errs, _ := meter.Int64Counter("record_op_errors_total",
		metric.WithDescription("Record store operations that returned an error"))
	duration, _ := meter.Float64Histogram("record_op_duration_seconds",
		metric.WithDescription("Duration of record store operations"))
	return &InstrumentedStore{Store: inner, ops: ops, errs: errs, duration: duration}
}

func (s *InstrumentedStore) observe(ctx context.Context, op string, t Type, start time.Time, err error) {
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("type", string(t)),
	)
	s.ops.Add(ctx, 1, attrs)
	s.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		s.errs.Add(ctx, 1, attrs)
	}
}

func (s *InstrumentedStore) Insert(ctx context.Context, rec Record) (Record, error) {
	start := time.Now()
	out, err := s.Store.Insert(ctx, rec)
	s.observe(ctx, "insert", rec.Type, start, err)
	return out, err
}

func (s *InstrumentedStore) Upsert(ctx context.Context, rec Record) (Record, error) {
	start := time.Now()
	out, err := s.Store.Upsert(ctx, rec)
	s.observe(ctx, "upsert", rec.Type, start, err)
	return out, err
}

func (s *InstrumentedStore) Update(ctx context.Context, rec Record) (Record, error) {
	start := time.Now()
	out, err := s.Store.Update(ctx, rec)
	s.observe(ctx, "update", rec.Type, start, err)
	return out, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, f Filter) (int, error) {
	start := time.Now()
	n, err := s.Store.Delete(ctx, f)
	s.observe(ctx, "delete", f.Type, start, err)
	return n, err
}

func (s *InstrumentedStore) Select(ctx context.Context, f Filter) ([]Record, error) {
	start := time.Now()
	out, err := s.Store.Select(ctx, f)
	s.observe(ctx, "select", f.Type, start, err)
	return out, err
}
