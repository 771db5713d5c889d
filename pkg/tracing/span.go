// Package tracing times pipeline runs. A run (ingestion, backfill, reference
// refresh) is a root span carrying the admin job id as its trace id, and each
// stage of the run is a child span. When the root finishes, the whole tree is
// logged as one line so a run can be read back from the logs in one place.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type contextKey struct{}

// Span is one timed run or stage.
type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	Duration  time.Duration
	Err       error

	mu       sync.Mutex
	children []*Span
	attrs    map[string]any
	logger   *slog.Logger
}

// StartSpan starts the root span of a run. The job id becomes the trace id;
// runs without one get a fresh id.
func StartSpan(ctx context.Context, name, jobID string) (context.Context, *Span) {
	if jobID == "" {
		jobID = uuid.NewString()
	}
	span := &Span{
		Name:      name,
		TraceID:   jobID,
		StartTime: time.Now(),
		attrs:     make(map[string]any),
		logger:    slog.Default().With("component", "tracing"),
	}
	return context.WithValue(ctx, contextKey{}, span), span
}

// StartChildSpan starts a stage under the span in ctx. Without a parent the
// stage is timed but never logged.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	child := &Span{
		Name:      name,
		StartTime: time.Now(),
		attrs:     make(map[string]any),
	}
	if parent := SpanFromContext(ctx); parent != nil {
		child.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, child)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, contextKey{}, child), child
}

// SpanFromContext returns the current span of ctx, or nil.
func SpanFromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(contextKey{}).(*Span)
	return span
}

// SetAttr attaches a count or label to the span.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs[key] = value
	s.mu.Unlock()
}

// Fail marks the span failed. The first error wins.
func (s *Span) Fail(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.Err == nil {
		s.Err = err
	}
	s.mu.Unlock()
}

// End stops the span's clock.
func (s *Span) End() {
	s.mu.Lock()
	if s.Duration == 0 {
		s.Duration = time.Since(s.StartTime)
	}
	s.mu.Unlock()
}

// Children returns the stages started under s.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// Attr returns an attribute set on s.
func (s *Span) Attr(key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attrs[key]
}

// Finish ends a root span and logs the run: one line with the run's
// attributes and a group per stage. A run with a failed span logs at Warn.
func (s *Span) Finish() {
	s.End()
	level := slog.LevelInfo
	args := []any{"trace_id", s.TraceID, "run", s.Name}
	args = append(args, s.fields(&level)...)
	for _, child := range s.Children() {
		child.End()
		args = append(args, slog.Group(child.Name, child.fields(&level)...))
	}
	s.logger.Log(context.Background(), level, "run finished", args...)
}

// fields renders duration, outcome and attributes, raising level to Warn
// when the span failed.
func (s *Span) fields(level *slog.Level) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []any{"duration_ms", s.Duration.Milliseconds()}
	if s.Err != nil {
		*level = slog.LevelWarn
		out = append(out, "error", s.Err.Error())
	}
	for k, v := range s.attrs {
		out = append(out, k, v)
	}
	return out
}
