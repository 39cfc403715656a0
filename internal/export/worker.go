// Package export writes dataset artifacts to a blob store in the background.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"segtag/internal/blob"
	"segtag/internal/labelset"
	"segtag/internal/progress"
)

// Status describes the lifecycle stage of an export request.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Kind selects what an artifact contains.
type Kind string

const (
	// KindDocument is the full labeled document.
	KindDocument Kind = "document"
	// KindTags is the flat "<image>/<split>/<mask>": category map.
	KindTags Kind = "tags"
	// KindProgress is the per-image, per-split progress summary.
	KindProgress Kind = "progress"
)

// Artifact file names.
const (
	DocumentFile = "tagged_data.json"
	TagsFile     = "tags.json"
	ProgressFile = "progress.json"
)

// ErrQueueFull is returned by Enqueue when the worker is saturated.
var ErrQueueFull = errors.New("export queue full")

// ErrStopped is returned by Enqueue after Stop and recorded on exports that
// were still queued when the worker stopped.
var ErrStopped = errors.New("export worker stopped")

// ErrEmptyTags fails a tags artifact when nothing is labeled.
var ErrEmptyTags = errors.New("no tags to export")

// Artifact is one stored export file.
type Artifact struct {
	Kind        Kind      `json:"kind"`
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

// Record tracks an export request and its artifacts.
type Record struct {
	ID          string     `json:"id"`
	Kinds       []Kind     `json:"kinds"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	Images      int        `json:"images"`
	RequestedBy string     `json:"requested_by,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Input is an enqueue request. Dataset is captured as is; later labels do
// not affect a queued export.
type Input struct {
	Dataset     *labelset.Dataset
	Kinds       []Kind
	RequestedBy string
	Reason      string
}

// AuditLogger records export audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry captures one status transition.
type AuditEntry struct {
	ID         string         `json:"id"`
	ExportID   string         `json:"export_id"`
	Action     string         `json:"action"`
	Actor      string         `json:"actor,omitempty"`
	Status     Status         `json:"status"`
	Reason     string         `json:"reason,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Worker renders queued exports on a small pool of goroutines.
type Worker struct {
	store blob.Store
	audit AuditLogger
	log   *slog.Logger

	queue chan task
	mu    sync.RWMutex
	jobs  map[string]*Record

	ctx     context.Context
	stop    context.CancelFunc
	group   *errgroup.Group
	workers int
}

type task struct {
	id      string
	dataset *labelset.Dataset
}

const (
	queueDepth     = 32
	defaultWorkers = 2
)

// NewWorker constructs a worker writing to store. audit and logger may be nil.
func NewWorker(store blob.Store, audit AuditLogger, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Worker{
		store:   store,
		audit:   audit,
		log:     logger.With("component", "export"),
		queue:   make(chan task, queueDepth),
		jobs:    make(map[string]*Record),
		ctx:     ctx,
		stop:    stop,
		group:   new(errgroup.Group),
		workers: defaultWorkers,
	}
}

// Start launches the consumers. Call it once.
func (w *Worker) Start() {
	for i := 0; i < w.workers; i++ {
		w.group.Go(func() error {
			for {
				select {
				case <-w.ctx.Done():
					return nil
				case t := <-w.queue:
					w.process(t)
				}
			}
		})
	}
}

// Stop cancels the consumers and waits for the running exports to finish
// or ctx to expire. Exports still queued are failed with ErrStopped.
func (w *Worker) Stop(ctx context.Context) error {
	w.stop()
	done := make(chan struct{})
	go func() {
		_ = w.group.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	for {
		select {
		case t := <-w.queue:
			w.fail(t.id, ErrStopped.Error())
		default:
			return nil
		}
	}
}

// Enqueue validates input and schedules it. The returned record is a copy.
func (w *Worker) Enqueue(ctx context.Context, input Input) (Record, error) {
	switch {
	case w.store == nil:
		return Record{}, errors.New("export store not configured")
	case input.Dataset == nil:
		return Record{}, errors.New("no dataset to export")
	case w.ctx.Err() != nil:
		return Record{}, ErrStopped
	}
	kinds, err := normalizeKinds(input.Kinds)
	if err != nil {
		return Record{}, err
	}
	now := time.Now().UTC()
	rec := &Record{
		ID:          uuid.NewString(),
		Kinds:       kinds,
		Status:      StatusQueued,
		Images:      input.Dataset.Len(),
		RequestedBy: input.RequestedBy,
		Reason:      input.Reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	w.mu.Lock()
	w.jobs[rec.ID] = rec
	queued := rec.copy()
	w.mu.Unlock()
	w.auditStatus(ctx, queued, nil)

	select {
	case w.queue <- task{id: rec.ID, dataset: input.Dataset}:
		return queued, nil
	default:
		w.fail(rec.ID, ErrQueueFull.Error())
		return Record{}, ErrQueueFull
	}
}

// normalizeKinds defaults to the document and drops duplicates, keeping the
// first occurrence.
func normalizeKinds(kinds []Kind) ([]Kind, error) {
	if len(kinds) == 0 {
		return []Kind{KindDocument}, nil
	}
	out := make([]Kind, 0, len(kinds))
	for _, k := range kinds {
		if _, ok := fileFor(k); !ok {
			return nil, fmt.Errorf("export kind %q not supported", k)
		}
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out, nil
}

// Get returns a copy of the record with id.
func (w *Worker) Get(id string) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if rec, ok := w.jobs[id]; ok {
		return rec.copy(), true
	}
	return Record{}, false
}

func (w *Worker) process(t task) {
	rec, ok := w.transition(t.id, StatusRunning, nil)
	if !ok {
		return
	}
	artifacts := make([]Artifact, 0, len(rec.Kinds))
	for _, kind := range rec.Kinds {
		a, err := w.write(t.id, kind, t.dataset)
		if err != nil {
			w.fail(t.id, err.Error())
			return
		}
		artifacts = append(artifacts, a)
	}
	w.transition(t.id, StatusSucceeded, func(r *Record) {
		r.Artifacts = artifacts
		at := r.UpdatedAt
		r.CompletedAt = &at
	})
	w.log.Info("export succeeded", "id", t.id, "artifacts", len(artifacts))
}

// write renders one kind and stores it under exports/<id>/<file>.
func (w *Worker) write(id string, kind Kind, ds *labelset.Dataset) (Artifact, error) {
	payload, err := materialize(kind, ds)
	if err != nil {
		return Artifact{}, fmt.Errorf("render %s: %w", kind, err)
	}
	name, _ := fileFor(kind)
	key := path.Join("exports", id, name)
	const contentType = "application/json"
	info, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{ContentType: contentType})
	if err != nil {
		return Artifact{}, fmt.Errorf("store %s: %w", key, err)
	}
	a := Artifact{Kind: kind, Key: key, ContentType: contentType, SizeBytes: info.Size, CreatedAt: info.ModTime}
	if a.SizeBytes == 0 {
		a.SizeBytes = int64(len(payload))
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return a, nil
}

func fileFor(kind Kind) (string, bool) {
	switch kind {
	case KindDocument:
		return DocumentFile, true
	case KindTags:
		return TagsFile, true
	case KindProgress:
		return ProgressFile, true
	default:
		return "", false
	}
}

func materialize(kind Kind, ds *labelset.Dataset) ([]byte, error) {
	switch kind {
	case KindDocument:
		return labelset.Export(ds)
	case KindTags:
		tags := labelset.Tags(ds)
		if len(tags) == 0 {
			return nil, ErrEmptyTags
		}
		return json.MarshalIndent(tags, "", labelset.ExportIndent)
	case KindProgress:
		return json.MarshalIndent(progress.Summarize(ds), "", labelset.ExportIndent)
	default:
		return nil, fmt.Errorf("export kind %s not supported", kind)
	}
}

func (w *Worker) fail(id, reason string) {
	w.transition(id, StatusFailed, func(r *Record) {
		r.Error = reason
		at := r.UpdatedAt
		r.CompletedAt = &at
	})
	w.log.Warn("export failed", "id", id, "error", reason)
}

// transition moves a record to status, lets change adjust it under the lock
// and audits the result. It reports false for unknown ids.
func (w *Worker) transition(id string, status Status, change func(*Record)) (Record, bool) {
	w.mu.Lock()
	rec, ok := w.jobs[id]
	if !ok {
		w.mu.Unlock()
		return Record{}, false
	}
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	if change != nil {
		change(rec)
	}
	snapshot := rec.copy()
	w.mu.Unlock()

	var meta map[string]any
	switch status {
	case StatusSucceeded:
		meta = map[string]any{"artifacts": len(snapshot.Artifacts)}
	case StatusFailed:
		meta = map[string]any{"error": snapshot.Error}
	}
	w.auditStatus(context.WithoutCancel(w.ctx), snapshot, meta)
	return snapshot, true
}

func (w *Worker) auditStatus(ctx context.Context, rec Record, meta map[string]any) {
	if w.audit == nil {
		return
	}
	w.audit.Record(ctx, AuditEntry{
		ID:         uuid.NewString(),
		ExportID:   rec.ID,
		Action:     "dataset_export",
		Actor:      rec.RequestedBy,
		Status:     rec.Status,
		Reason:     rec.Reason,
		Metadata:   meta,
		OccurredAt: rec.UpdatedAt,
	})
}

func (r Record) copy() Record {
	dup := r
	dup.Kinds = slices.Clone(r.Kinds)
	dup.Artifacts = slices.Clone(r.Artifacts)
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		dup.CompletedAt = &at
	}
	return dup
}
