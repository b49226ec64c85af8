package selection

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"compass/internal/classifier"
	compasserrors "compass/internal/errors"
	"compass/internal/observability"
	"compass/internal/registry"
	"compass/internal/shared/logging"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ErrTimeout is returned by SelectWithin when the deadline passes first.
var ErrTimeout = errors.New("selection timed out")

// Classifier labels an instruction.
type Classifier interface {
	Classify(text string) classifier.Result
}

// Resolver maps a context to its ordered directive ids.
type Resolver interface {
	Resolve(ctx registry.Context) ([]string, error)
}

// ContentSource serves directive bodies, normally a *cache.Cache.
type ContentSource interface {
	GetOrLoad(ctx context.Context, id string) (string, error)
	ResidentBytes() int64
}

// Recorder receives selection metrics. *observability.Metrics implements it.
type Recorder interface {
	RecordClassification(method, context string)
	RecordSelection(context string, elapsed time.Duration)
	RecordFailure(kind string)
}

type nopRecorder struct{}

func (nopRecorder) RecordClassification(string, string) {}
func (nopRecorder) RecordSelection(string, time.Duration) {}
func (nopRecorder) RecordFailure(string) {}

// Option configures a Builder.
type Option func(*Builder)

// WithHistoryCapacity bounds the number of retained summaries.
func WithHistoryCapacity(n int) Option {
	return func(b *Builder) { b.history = newHistory(n) }
}

// WithLogger sets the builder logger.
func WithLogger(logger logging.Logger) Option {
	return func(b *Builder) { b.logger = logging.OrNop(logger) }
}

// WithRecorder routes metrics to r.
func WithRecorder(r Recorder) Option {
	return func(b *Builder) {
		if r != nil {
			b.recorder = r
		}
	}
}

// WithTracer sets the tracer used for the per-selection span.
func WithTracer(t trace.Tracer) Option {
	return func(b *Builder) {
		if t != nil {
			b.tracer = t
		}
	}
}

// WithClock overrides the source of CreatedAt timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// Builder runs Classify, Resolve, and cache lookups for each request. It is
// safe for concurrent use; the only mutable state is the history ring.
type Builder struct {
	classifier Classifier
	resolver   Resolver
	content    ContentSource
	logger     logging.Logger
	recorder   Recorder
	tracer     trace.Tracer
	now        func() time.Time
	history    *history

	total    atomic.Uint64
	failures atomic.Uint64
}

// New wires a Builder.
func New(c Classifier, r Resolver, content ContentSource, opts ...Option) *Builder {
	b := &Builder{
		classifier: c,
		resolver:   r,
		content:    content,
		logger:     logging.Nop(),
		recorder:   nopRecorder{},
		tracer:     noop.NewTracerProvider().Tracer(observability.TracerName),
		now:        time.Now,
		history:    newHistory(DefaultHistoryCapacity),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Classify exposes the classification step alone.
func (b *Builder) Classify(text string) classifier.Result {
	return b.classifier.Classify(text)
}

// Select classifies text and resolves every directive of the chosen context.
// If any directive cannot be loaded the call fails and no Selection is
// produced or recorded.
func (b *Builder) Select(ctx context.Context, text string) (*Selection, error) {
	ctx, span := b.tracer.Start(ctx, observability.SpanSelect)
	defer span.End()

	start := time.Now()
	res := b.classifier.Classify(text)
	b.recorder.RecordClassification(res.Method.String(), res.Context.String())
	span.SetAttributes(
		attribute.String(observability.AttrContext, res.Context.String()),
		attribute.String(observability.AttrMethod, res.Method.String()),
	)

	ids, err := b.resolver.Resolve(res.Context)
	if err != nil {
		return nil, b.fail(ctx, span, res, err)
	}

	resolved := make(map[string]string, len(ids))
	var contentBytes int64
	for _, id := range ids {
		body, err := b.content.GetOrLoad(ctx, id)
		if err != nil {
			return nil, b.fail(ctx, span, res, err)
		}
		resolved[id] = body
		contentBytes += int64(len(body))
	}
	elapsed := time.Since(start)

	sel := &Selection{
		ID:                 uuid.NewString(),
		Context:            res.Context,
		Method:             res.Method,
		Matched:            append([]string(nil), res.Matched...),
		DirectiveIDs:       ids,
		ResolvedContent:    resolved,
		DirectiveCount:     len(ids),
		ResolutionTime:     elapsed,
		CacheBytesResident: b.content.ResidentBytes(),
		ContentBytes:       contentBytes,
		CreatedAt:          b.now(),
	}
	b.history.append(sel.Summary())
	b.total.Add(1)
	b.recorder.RecordSelection(res.Context.String(), elapsed)
	span.SetAttributes(observability.SelectionAttrs(res.Context.String(), res.Method.String(), sel.DirectiveCount, contentBytes)...)
	b.logger.Debug("selected %s via %s: %d directives in %s", sel.Context, sel.Method, sel.DirectiveCount, elapsed)
	return sel, nil
}

func (b *Builder) fail(ctx context.Context, span trace.Span, res classifier.Result, err error) error {
	kind := compasserrors.GetErrorType(err).String()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		kind = "canceled"
	}
	b.failures.Add(1)
	b.recorder.RecordFailure(kind)

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String(observability.AttrErrorKind, kind))
	if id, ok := compasserrors.DirectiveID(err); ok {
		span.SetAttributes(attribute.String(observability.AttrDirectiveID, id))
	}

	observability.WithTrace(ctx, b.logger).Warn("selection for %s failed (%s): %v", res.Context, kind, err)
	return err
}

// SelectWithin runs Select with a deadline. When d elapses first it returns
// ErrTimeout; the running Select is not interrupted and its result, if any,
// still lands in history.
func (b *Builder) SelectWithin(ctx context.Context, text string, d time.Duration) (*Selection, error) {
	if d <= 0 {
		return b.Select(ctx, text)
	}
	type outcome struct {
		sel *Selection
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		sel, err := b.Select(context.WithoutCancel(ctx), text)
		done <- outcome{sel: sel, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case out := <-done:
		return out.sel, out.err
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s", ErrTimeout, d)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// History returns the retained summaries, oldest first.
func (b *Builder) History() []Summary {
	return b.history.snapshot()
}

// Stats aggregates the retained history plus lifetime counters.
func (b *Builder) Stats() HistoryStats {
	stats := aggregate(b.history.snapshot(), b.history.capacity())
	stats.Total = b.total.Load()
	stats.Failures = b.failures.Load()
	return stats
}
