package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"ratelimitd/internal/models"
	"ratelimitd/internal/store"
)

// InstrumentedStore wraps a store.Store implementation with OpenTelemetry
// tracing and metrics instrumentation. Decisions are the service's hot path,
// so the wrapper records per-operation latency, allow/deny counts, and
// coordination errors.
type InstrumentedStore struct {
	inner     store.Store
	tracer    trace.Tracer
	duration  metric.Float64Histogram
	decisions metric.Int64Counter
	errors    metric.Int64Counter
}

// NewInstrumentedStore creates a store wrapper that records trace spans,
// operation latency histograms, decision counters, and error counters for
// every store call.
func NewInstrumentedStore(inner store.Store) (*InstrumentedStore, error) {
	tracer := otel.Tracer("ratelimitd/store")
	meter := otel.Meter("ratelimitd/store")

	duration, err := meter.Float64Histogram(
		"store.operation.duration",
		metric.WithDescription("Duration of counter store operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	decisions, err := meter.Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Number of rate limit decisions by verdict"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"store.operation.errors",
		metric.WithDescription("Number of counter store operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStore{
		inner:     inner,
		tracer:    tracer,
		duration:  duration,
		decisions: decisions,
		errors:    errCounter,
	}, nil
}

func (s *InstrumentedStore) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "store."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("store.operation", operation),
		}, attrs...)...),
	)
	return ctx, span
}

func (s *InstrumentedStore) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStore) Apply(ctx context.Context, key string, policy models.Policy, now time.Time, cost int64) (models.CounterState, bool, error) {
	ctx, span := s.startSpan(ctx, "Apply",
		attribute.String("ratelimit.algorithm", string(policy.Algorithm)),
		attribute.Int64("ratelimit.cost", cost),
	)
	start := time.Now()
	state, allowed, err := s.inner.Apply(ctx, key, policy, now, cost)
	if err == nil {
		span.SetAttributes(attribute.Bool("ratelimit.allowed", allowed))
		verdict := "deny"
		if allowed {
			verdict = "allow"
		}
		s.decisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("verdict", verdict),
			attribute.String("algorithm", string(policy.Algorithm)),
		))
	}
	s.record(ctx, span, "Apply", start, err)
	return state, allowed, err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}

// DeleteExpired forwards to the inner store when it supports purging, so
// wrapping does not hide the capability from the cleanup loop.
func (s *InstrumentedStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	purger, ok := s.inner.(store.ExpiryPurger)
	if !ok {
		return 0, nil
	}
	ctx, span := s.startSpan(ctx, "DeleteExpired")
	start := time.Now()
	purged, err := purger.DeleteExpired(ctx, before)
	s.record(ctx, span, "DeleteExpired", start, err)
	return purged, err
}
