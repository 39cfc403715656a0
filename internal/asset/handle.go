package asset

import (
	"sync"
	"sync/atomic"

	"segtag/internal/blob"
)

// Handle is a transient, caller-owned reference to asset bytes.
type Handle struct {
	key     string
	info    blob.Info
	tracker *Tracker

	mu       sync.Mutex
	data     []byte
	released bool
}

func newHandle(key string, info blob.Info, data []byte, tracker *Tracker) *Handle {
	tracker.opened()
	return &Handle{key: key, info: info, data: data, tracker: tracker}
}

// Key is the store key the handle was resolved from.
func (h *Handle) Key() string { return h.key }

// Info returns the blob metadata captured at resolution.
func (h *Handle) Info() blob.Info { return h.info }

// Bytes returns the asset content, or nil once released. The slice must not be
// modified.
func (h *Handle) Bytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.data
}

// Released reports whether Release has been called.
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Release frees the handle. Only the first call succeeds.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrReleased
	}
	h.released = true
	h.data = nil
	h.tracker.released()
	return nil
}

// Tracker counts handles across resolvers. The zero value is ready to use and
// a nil *Tracker ignores updates.
type Tracker struct {
	open     atomic.Int64
	total    atomic.Uint64
	releases atomic.Uint64
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker { return &Tracker{} }

func (t *Tracker) opened() {
	if t == nil {
		return
	}
	t.open.Add(1)
	t.total.Add(1)
}

func (t *Tracker) released() {
	if t == nil {
		return
	}
	t.open.Add(-1)
	t.releases.Add(1)
}

// Outstanding is the number of handles resolved but not yet released.
func (t *Tracker) Outstanding() int64 {
	if t == nil {
		return 0
	}
	return t.open.Load()
}

// Resolved is the number of handles ever handed out.
func (t *Tracker) Resolved() uint64 {
	if t == nil {
		return 0
	}
	return t.total.Load()
}

// Releases is the number of successful releases.
func (t *Tracker) Releases() uint64 {
	if t == nil {
		return 0
	}
	return t.releases.Load()
}
