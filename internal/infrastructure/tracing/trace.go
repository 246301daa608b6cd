package tracing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/telesim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/telesim/internal/shared/id"
)

// TraceID identifies every span of one job.
type TraceID string

// SpanID identifies a single span.
type SpanID string

const spanPrefix = "span"

// defaultBuffer is the number of finished spans held before dropping.
const defaultBuffer = 1024

// Span represents a single traced operation.
type Span struct {
	TraceID  TraceID
	SpanID   SpanID
	ParentID SpanID
	Name     string
	Service  string
	Start    time.Time
	Duration time.Duration
	Tags     map[string]string
	Err      error
}

// Finish records the span duration.
func (s *Span) Finish() {
	s.Duration = time.Since(s.Start)
}

// SetTag adds a tag to the span.
func (s *Span) SetTag(key, value string) {
	s.Tags[key] = value
}

// SetError records the failure of the operation.
func (s *Span) SetError(err error) {
	s.Err = err
}

// Tracer collects finished spans and writes them to the log.
type Tracer struct {
	service string
	logger  *logging.Logger
	spans   chan *Span
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// New creates a tracer and starts its collector.
func New(service string, logger *logging.Logger) *Tracer {
	return NewWithBuffer(service, logger, defaultBuffer)
}

// NewWithBuffer creates a tracer holding at most size pending spans.
func NewWithBuffer(service string, logger *logging.Logger, size int) *Tracer {
	if logger == nil {
		logger = logging.Nop()
	}
	if size < 1 {
		size = 1
	}
	t := &Tracer{
		service: service,
		logger:  logger.Named("tracing"),
		spans:   make(chan *Span, size),
		done:    make(chan struct{}),
	}
	go t.collect()
	return t
}

// StartSpan opens a span under the trace and span carried by ctx. A context
// without a trace starts a new one.
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID := TraceIDFrom(ctx)
	if traceID == "" {
		traceID = TraceID(id.Default().GenerateWithPrefix("trace"))
	}
	span := &Span{
		TraceID:  traceID,
		SpanID:   SpanID(id.Default().GenerateWithPrefix(spanPrefix)),
		ParentID: SpanIDFrom(ctx),
		Name:     name,
		Service:  t.service,
		Start:    time.Now(),
		Tags:     make(map[string]string),
	}
	return span, WithSpan(WithTrace(ctx, traceID), span.SpanID)
}

// Submit hands a finished span to the collector. Spans submitted after Close
// or while the buffer is full are dropped.
func (t *Tracer) Submit(span *Span) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.spans <- span:
	default:
		t.logger.Warn("Span buffer full, dropping span",
			zap.String("trace_id", string(span.TraceID)),
			zap.String("operation", span.Name),
		)
	}
}

// Close flushes pending spans and stops the collector.
func (t *Tracer) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.spans)
	t.mu.Unlock()
	<-t.done
}

func (t *Tracer) collect() {
	defer close(t.done)
	for span := range t.spans {
		t.emit(span)
	}
}

func (t *Tracer) emit(span *Span) {
	fields := []zap.Field{
		zap.String("trace_id", string(span.TraceID)),
		zap.String("span_id", string(span.SpanID)),
		zap.String("operation", span.Name),
		zap.String("service", span.Service),
		zap.Duration("duration", span.Duration),
	}
	if span.ParentID != "" {
		fields = append(fields, zap.String("parent_id", string(span.ParentID)))
	}
	for k, v := range span.Tags {
		fields = append(fields, zap.String(k, v))
	}
	if span.Err != nil {
		t.logger.Warn("Span failed", append(fields, zap.Error(span.Err))...)
		return
	}
	t.logger.Debug("Span completed", fields...)
}

type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	spanIDKey  contextKey = "span_id"
)

// WithTrace returns ctx carrying the trace id.
func WithTrace(ctx context.Context, trace TraceID) context.Context {
	return context.WithValue(ctx, traceIDKey, trace)
}

// WithSpan returns ctx carrying the current span id.
func WithSpan(ctx context.Context, span SpanID) context.Context {
	return context.WithValue(ctx, spanIDKey, span)
}

// TraceIDFrom returns the trace id carried by ctx.
func TraceIDFrom(ctx context.Context) TraceID {
	v, _ := ctx.Value(traceIDKey).(TraceID)
	return v
}

// SpanIDFrom returns the span id carried by ctx.
func SpanIDFrom(ctx context.Context) SpanID {
	v, _ := ctx.Value(spanIDKey).(SpanID)
	return v
}
