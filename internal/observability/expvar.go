package observability

import (
	"context"
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq atomic.Uint64

// ExpvarRecorder counts operation outcomes under /debug/vars for
// deployments that do not scrape Prometheus. Each operation is a nested map:
//
//	{"label": {"success": 12, "error": 1, "duration_ms": 3.4}}
type ExpvarRecorder struct {
	name string
	ops  *expvar.Map
	mu   sync.Mutex // guards creation of per-operation maps
}

// NewExpvarRecorder publishes a recorder under name. expvar names are
// process-global, so an empty name gets a numbered one.
func NewExpvarRecorder(name string) *ExpvarRecorder {
	if name == "" {
		name = fmt.Sprintf("segtag_operations_%d", expvarSeq.Add(1))
	}
	return &ExpvarRecorder{name: name, ops: expvar.NewMap(name)}
}

func (r *ExpvarRecorder) Name() string { return r.name }

func (r *ExpvarRecorder) operation(op string) *expvar.Map {
	if m, ok := r.ops.Get(op).(*expvar.Map); ok {
		return m
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.ops.Get(op).(*expvar.Map); ok {
		return m
	}
	m := new(expvar.Map).Init()
	r.ops.Set(op, m)
	return m
}

// Observe implements Recorder.
func (r *ExpvarRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	m := r.operation(operation)
	if success {
		m.Add("success", 1)
	} else {
		m.Add("error", 1)
	}
	m.AddFloat("duration_ms", float64(duration)/float64(time.Millisecond))
}

// Count returns how many operations ended with status "success" or "error".
func (r *ExpvarRecorder) Count(operation, status string) int64 {
	m, ok := r.ops.Get(operation).(*expvar.Map)
	if !ok {
		return 0
	}
	if v, ok := m.Get(status).(*expvar.Int); ok {
		return v.Value()
	}
	return 0
}

// DurationMS returns the accumulated time spent in operation.
func (r *ExpvarRecorder) DurationMS(operation string) float64 {
	m, ok := r.ops.Get(operation).(*expvar.Map)
	if !ok {
		return 0
	}
	if v, ok := m.Get("duration_ms").(*expvar.Float); ok {
		return v.Value()
	}
	return 0
}
