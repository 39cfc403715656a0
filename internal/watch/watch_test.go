package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"segtag/internal/session"
)

func TestWatcherReloadsAndClamps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	first := []byte(`{"img": {"split_1": {"mask_0": {}, "mask_1": {}, "mask_2": {}}}}`)
	if err := os.WriteFile(path, first, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	ctx := context.Background()
	s := session.New(session.Options{})
	t.Cleanup(s.Close)
	if _, err := s.LoadDocument(ctx, first); err != nil {
		t.Fatalf("load: %v", err)
	}
	s.Next(ctx)
	s.Next(ctx)

	results := make(chan session.Selection, 4)
	w, err := New(path, s, Options{Debounce: 20 * time.Millisecond, OnReload: func(sel session.Selection, err error) {
		if err == nil {
			results <- sel
		}
	}})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	w.Start(ctx)
	t.Cleanup(w.Stop)

	if err := os.WriteFile(path, []byte(`{"img": {"split_1": {"mask_0": {}}}}`), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	select {
	case sel := <-results:
		if sel.ImageKey != "img" || sel.Position != 0 {
			t.Fatalf("position not clamped: %+v", sel)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for reload")
	}
	if w.Reloads() == 0 {
		t.Fatalf("reload counter not updated")
	}
}

func TestWatcherRequiresDirectory(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "missing", "data.json"), nil, Options{}); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}
