package observability

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Span ends a traced operation.
type Span interface {
	End(err error)
}

// Tracer starts spans.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, Span)
}

// TraceEntry is one serialized span.
type TraceEntry struct {
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTracer writes spans as JSON lines and keeps the most recent ones for
// inspection.
type JSONTracer struct {
	mu      sync.Mutex
	entries []TraceEntry
	limit   int
	enc     *json.Encoder
}

// NewJSONTracer writes to w, which may be nil. limit caps retained entries;
// zero keeps 1024.
func NewJSONTracer(w io.Writer, limit int) *JSONTracer {
	var enc *json.Encoder
	if w != nil {
		enc = json.NewEncoder(w)
	}
	if limit <= 0 {
		limit = 1024
	}
	return &JSONTracer{enc: enc, limit: limit}
}

// Entries returns a copy of the retained spans.
func (t *JSONTracer) Entries() []TraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Start implements Tracer.
func (t *JSONTracer) Start(ctx context.Context, operation string) (context.Context, Span) {
	return ctx, &jsonSpan{tracer: t, operation: operation, started: time.Now().UTC()}
}

type jsonSpan struct {
	tracer    *JSONTracer
	operation string
	started   time.Time
}

func (s *jsonSpan) End(err error) {
	status := "success"
	var msg string
	if err != nil {
		status = "error"
		msg = err.Error()
	}
	ended := time.Now().UTC()
	entry := TraceEntry{
		Operation:  s.operation,
		Status:     status,
		DurationMS: float64(ended.Sub(s.started)) / float64(time.Millisecond),
		Error:      msg,
		StartedAt:  s.started,
		EndedAt:    ended,
	}
	t := s.tracer
	t.mu.Lock()
	t.entries = append(t.entries, entry)
	if over := len(t.entries) - t.limit; over > 0 {
		t.entries = append(t.entries[:0:0], t.entries[over:]...)
	}
	if t.enc != nil {
		_ = t.enc.Encode(entry)
	}
	t.mu.Unlock()
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// Instrument fans an operation out to a tracer and any number of recorders.
// The zero value does nothing.
type Instrument struct {
	Tracer    Tracer
	Recorders []Recorder
}

// Track starts op and returns the function that finishes it.
func (in Instrument) Track(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	var span Span = noopSpan{}
	if in.Tracer != nil {
		ctx, span = in.Tracer.Start(ctx, op)
	}
	return ctx, func(err error) {
		span.End(err)
		d := time.Since(start)
		for _, r := range in.Recorders {
			r.Observe(ctx, op, err == nil, d)
		}
	}
}
