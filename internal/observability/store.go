package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/hive/internal/storage"
)

// --- InstrumentedStore ---

// InstrumentedStore wraps a storage.Store with metrics and tracing.
type InstrumentedStore struct {
	inner   storage.Store
	metrics *MetricsCollector
	tracer  trace.Tracer
}

var _ storage.Store = (*InstrumentedStore)(nil)

// NewInstrumentedStore wraps a snapshot store with observability.
func NewInstrumentedStore(inner storage.Store, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedStore {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedStore{inner: inner, metrics: metrics, tracer: tracer}
}

func (s *InstrumentedStore) Save(ctx context.Context, name string, data []byte) error {
	ctx, end := s.start(ctx, "storage.save", name)
	start := time.Now()
	err := s.inner.Save(ctx, name, data)
	s.record(ctx, "save", start, err, len(data))
	end()
	return err
}

func (s *InstrumentedStore) Load(ctx context.Context, name string) ([]byte, error) {
	ctx, end := s.start(ctx, "storage.load", name)
	start := time.Now()
	data, err := s.inner.Load(ctx, name)
	s.record(ctx, "load", start, err, len(data))
	end()
	return data, err
}

func (s *InstrumentedStore) Driver() string { return s.inner.Driver() }

func (s *InstrumentedStore) Close() error { return s.inner.Close() }

// Unwrap returns the wrapped store.
func (s *InstrumentedStore) Unwrap() storage.Store { return s.inner }

func (s *InstrumentedStore) start(ctx context.Context, op, name string) (context.Context, func()) {
	if s.tracer == nil {
		return ctx, func() {}
	}
	ctx, span := s.tracer.Start(ctx, op,
		trace.WithAttributes(
			attribute.String("storage.driver", s.inner.Driver()),
			attribute.String("storage.name", name),
		))
	return ctx, func() { span.End() }
}

func (s *InstrumentedStore) record(ctx context.Context, op string, start time.Time, err error, size int) {
	status := "success"
	if err != nil {
		status = "error"
		if s.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	if s.metrics == nil {
		return
	}
	driver := s.inner.Driver()
	s.metrics.StateOpsTotal.WithLabelValues(op, driver, status).Inc()
	s.metrics.StateOpDuration.WithLabelValues(op, driver).Observe(time.Since(start).Seconds())
	if err == nil {
		s.metrics.StateBytes.WithLabelValues(op).Set(float64(size))
	}
}
