package export

import (
	"context"
	"log/slog"
	"sync"
)

// MemoryAuditLog captures audit entries in memory.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Record stores an audit entry.
func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a copy of recorded audit entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// SlogAuditLog writes audit entries to a structured logger.
type SlogAuditLog struct {
	Logger *slog.Logger
}

// Record logs entry at info level.
func (l SlogAuditLog) Record(ctx context.Context, entry AuditEntry) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "export audit",
		"export_id", entry.ExportID,
		"action", entry.Action,
		"actor", entry.Actor,
		"status", string(entry.Status),
		"occurred_at", entry.OccurredAt)
}
