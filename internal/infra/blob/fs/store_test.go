package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"segtag/internal/blob/core"
)

func seed(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func TestServesPlainDirectoryTree(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	seed(t, root, map[string]string{
		"img1/split_1/split_1.jpg": "main",
		"img1/split_1/mask_0.jpg":  "m0",
		"img1/split_2/split_2.jpg": "other",
	})
	s, err := Open(root)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	info, rc, err := s.Get(ctx, "img1/split_1/split_1.jpg")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "main" || info.Size != 4 || info.ContentType != "image/jpeg" {
		t.Fatalf("get = %q %+v", body, info)
	}
	if _, err := s.Stat(ctx, "img1/split_1/mask_7.jpg"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("missing stat = %v", err)
	}
	if _, _, err := s.Get(ctx, "img1/split_1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("directories are not objects: %v", err)
	}

	list, err := s.List(ctx, "img1/split_1/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "img1/split_1/mask_0.jpg" || list[1].Key != "img1/split_1/split_1.jpg" {
		t.Fatalf("list = %+v", list)
	}
	if list, err := s.List(ctx, "img9/"); err != nil || len(list) != 0 {
		t.Fatalf("missing prefix = %v %v", list, err)
	}
	all, err := s.List(ctx, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("list all = %d %v", len(all), err)
	}
}

func TestPutIsCreateOnly(t *testing.T) {
	ctx := context.Background()
	s, err := New(filepath.Join(t.TempDir(), "artifacts"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	info, err := s.Put(ctx, "exports/1/tagged_data.json", strings.NewReader("{}"), core.PutOptions{})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 2 || info.ContentType != "application/json" || info.ModTime.Location().String() != "UTC" {
		t.Fatalf("info = %+v", info)
	}
	if _, err := s.Put(ctx, "exports/1/tagged_data.json", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("second put = %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(s.Root(), "exports", "1"))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestPutReadErrorLeavesNothing(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.Put(context.Background(), "a/b.json", failingReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected read error")
	}
	if _, err := s.Stat(context.Background(), "a/b.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("failed put left an object: %v", err)
	}
}

func TestKeysCannotEscapeRoot(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, key := range []string{"../x.jpg", "/etc/passwd", "a/../../x"} {
		if _, _, err := s.Get(ctx, key); !errors.Is(err, core.ErrInvalidKey) {
			t.Fatalf("get %q = %v", key, err)
		}
		if _, err := s.Put(ctx, key, bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
			t.Fatalf("put %q = %v", key, err)
		}
	}
	if _, err := s.List(ctx, "../"); !errors.Is(err, core.ErrInvalidKey) {
		t.Fatalf("list outside root = %v", err)
	}
}

func TestOpenAndNewValidateRoot(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("missing root = %v", err)
	}
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(file); err == nil {
		t.Fatalf("file root should be rejected")
	}
	if _, err := Open(" "); err == nil {
		t.Fatalf("blank root should be rejected")
	}
	if _, err := New(""); err == nil {
		t.Fatalf("blank root should be rejected")
	}
}

func TestCancelledContext(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := s.Get(ctx, "a.jpg"); !errors.Is(err, context.Canceled) {
		t.Fatalf("get = %v", err)
	}
	if _, err := s.Put(ctx, "a.jpg", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("put = %v", err)
	}
}
