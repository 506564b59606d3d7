package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/storysync/storysync/internal/storage"
	"github.com/storysync/storysync/internal/types"
)

const storageScopeName = "github.com/storysync/storysync/storage"

// InstrumentedStorage wraps storage.Storage with OTel tracing and metrics.
// Every method gets a span and is counted in storysync.storage.* metrics.
// Use WrapStorage to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStorage struct {
	inner  storage.Storage
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

var _ storage.Storage = (*InstrumentedStorage)(nil)

// WrapStorage returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is with zero overhead.
func WrapStorage(s storage.Storage) storage.Storage {
	if !Enabled() {
		return s
	}
	return newInstrumentedStorage(s)
}

func newInstrumentedStorage(s storage.Storage) *InstrumentedStorage {
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("storysync.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("storysync.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("storysync.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	return &InstrumentedStorage{
		inner:  s,
		tracer: Tracer(storageScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStorage) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStorage) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

// ── Tasks ───────────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) GetTask(ctx context.Context, id string) (*types.Task, error) {
	attrs := []attribute.KeyValue{attribute.String("storysync.task.id", id)}
	ctx, span, t := s.op(ctx, "GetTask", attrs...)
	v, err := s.inner.GetTask(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) GetTaskByRemoteKey(ctx context.Context, key string) (*types.Task, error) {
	attrs := []attribute.KeyValue{attribute.String("storysync.remote.key", key)}
	ctx, span, t := s.op(ctx, "GetTaskByRemoteKey", attrs...)
	v, err := s.inner.GetTaskByRemoteKey(ctx, key)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) UpsertTask(ctx context.Context, task *types.Task) (*types.Task, error) {
	attrs := []attribute.KeyValue{
		attribute.String("storysync.task.id", task.ID),
		attribute.Bool("storysync.task.retroactive", task.Retroactive),
	}
	ctx, span, t := s.op(ctx, "UpsertTask", attrs...)
	v, err := s.inner.UpsertTask(ctx, task)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) ClaimRemoteKey(ctx context.Context, taskID, key string, expectedVersion int64) (*types.Task, error) {
	attrs := []attribute.KeyValue{
		attribute.String("storysync.task.id", taskID),
		attribute.String("storysync.remote.key", key),
		attribute.Int64("storysync.task.version", expectedVersion),
	}
	ctx, span, t := s.op(ctx, "ClaimRemoteKey", attrs...)
	v, err := s.inner.ClaimRemoteKey(ctx, taskID, key, expectedVersion)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) ReserveCreate(ctx context.Context, taskID string, expectedVersion int64) (*types.Task, error) {
	attrs := []attribute.KeyValue{
		attribute.String("storysync.task.id", taskID),
		attribute.Int64("storysync.task.version", expectedVersion),
	}
	ctx, span, t := s.op(ctx, "ReserveCreate", attrs...)
	v, err := s.inner.ReserveCreate(ctx, taskID, expectedVersion)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) ListTasks(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error) {
	ctx, span, t := s.op(ctx, "ListTasks")
	v, err := s.inner.ListTasks(ctx, filter)
	span.SetAttributes(attribute.Int("storysync.result.count", len(v)))
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) ListTasksStale(ctx context.Context, forceAll bool, ids []string) ([]*types.Task, error) {
	attrs := []attribute.KeyValue{
		attribute.Bool("storysync.force", forceAll),
		attribute.Int("storysync.filter.ids", len(ids)),
	}
	ctx, span, t := s.op(ctx, "ListTasksStale", attrs...)
	v, err := s.inner.ListTasksStale(ctx, forceAll, ids)
	span.SetAttributes(attribute.Int("storysync.result.count", len(v)))
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) ListTasksByPrefix(ctx context.Context, prefix string) ([]*types.Task, error) {
	attrs := []attribute.KeyValue{attribute.String("storysync.prefix", prefix)}
	ctx, span, t := s.op(ctx, "ListTasksByPrefix", attrs...)
	v, err := s.inner.ListTasksByPrefix(ctx, prefix)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Logs ────────────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) AppendSyncLog(ctx context.Context, entry *types.SyncLogEntry) error {
	attrs := []attribute.KeyValue{
		attribute.String("storysync.sync.type", string(entry.SyncType)),
		attribute.String("storysync.sync.outcome", string(entry.Outcome)),
	}
	ctx, span, t := s.op(ctx, "AppendSyncLog", attrs...)
	err := s.inner.AppendSyncLog(ctx, entry)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) ListSyncLog(ctx context.Context, filter types.SyncLogFilter) ([]*types.SyncLogEntry, error) {
	ctx, span, t := s.op(ctx, "ListSyncLog")
	v, err := s.inner.ListSyncLog(ctx, filter)
	s.done(ctx, span, t, err)
	return v, err
}

func (s *InstrumentedStorage) AppendChangeLogEntry(ctx context.Context, entry *types.ChangeLogEntry) (bool, error) {
	attrs := []attribute.KeyValue{attribute.String("storysync.task.id", entry.TaskID)}
	ctx, span, t := s.op(ctx, "AppendChangeLogEntry", attrs...)
	v, err := s.inner.AppendChangeLogEntry(ctx, entry)
	span.SetAttributes(attribute.Bool("storysync.inserted", v))
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) AggregateChangeLogForTask(ctx context.Context, taskID string) ([]*types.ChangeLogEntry, error) {
	attrs := []attribute.KeyValue{attribute.String("storysync.task.id", taskID)}
	ctx, span, t := s.op(ctx, "AggregateChangeLogForTask", attrs...)
	v, err := s.inner.AggregateChangeLogForTask(ctx, taskID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) ListTaskIDsWithChanges(ctx context.Context) ([]string, error) {
	ctx, span, t := s.op(ctx, "ListTaskIDsWithChanges")
	v, err := s.inner.ListTaskIDsWithChanges(ctx)
	s.done(ctx, span, t, err)
	return v, err
}

// ── Lifecycle ───────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}

// Unwrap returns the underlying storage.
func (s *InstrumentedStorage) Unwrap() storage.Storage {
	return s.inner
}
