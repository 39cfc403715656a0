package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"segtag/internal/infra/blob/s3/s3test"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	mem, err := Open(ctx, Config{Driver: DriverMemory})
	if err != nil || mem.Driver() != DriverMemory {
		t.Fatalf("memory: %v", err)
	}
	dir := filepath.Join(t.TempDir(), "artifacts")
	created, err := Open(ctx, Config{Root: dir, Create: true})
	if err != nil || created.Driver() != DriverFilesystem {
		t.Fatalf("fs create: %v", err)
	}
	if _, err := Open(ctx, Config{Driver: DriverFilesystem, Root: filepath.Join(t.TempDir(), "missing")}); !IsNotFound(err) {
		t.Fatalf("expected missing root to be not found, got %v", err)
	}
	if _, err := Open(ctx, Config{Driver: "ftp"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected s3 error without bucket")
	}
}

func TestDriversAgreeOnNotFound(t *testing.T) {
	ctx := context.Background()
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("fs: %v", err)
	}
	srv := s3test.NewServer()
	defer srv.Close()
	s3Store, err := NewS3(ctx, S3Config{Bucket: "assets", Endpoint: srv.URL, PathStyle: true, AccessKeyID: "k", SecretAccessKey: "s"})
	if err != nil {
		t.Fatalf("s3: %v", err)
	}
	for _, store := range []Store{NewMemory(), fsStore, s3Store} {
		if _, _, err := store.Get(ctx, "img1/split_3/mask_2.jpg"); !IsNotFound(err) {
			t.Fatalf("%s: expected not found, got %v", store.Driver(), err)
		}
		if _, err := store.Put(ctx, "img1/split_3/mask_2.jpg", bytes.NewReader([]byte("m")), PutOptions{ContentType: "image/jpeg"}); err != nil {
			t.Fatalf("%s: put: %v", store.Driver(), err)
		}
		if _, err := store.Put(ctx, "img1/split_3/mask_2.jpg", bytes.NewReader([]byte("m")), PutOptions{}); !errors.Is(err, ErrExists) {
			t.Fatalf("%s: expected exists, got %v", store.Driver(), err)
		}
		_, rc, err := store.Get(ctx, "img1/split_3/mask_2.jpg")
		if err != nil {
			t.Fatalf("%s: get: %v", store.Driver(), err)
		}
		b, _ := io.ReadAll(rc)
		_ = rc.Close()
		if string(b) != "m" {
			t.Fatalf("%s: body %q", store.Driver(), b)
		}
	}
}
