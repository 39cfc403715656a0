package asset

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"segtag/internal/blob"
)

func seed(t *testing.T, keys ...string) blob.Store {
	t.Helper()
	store := blob.NewMemory()
	for _, k := range keys {
		if _, err := store.Put(context.Background(), k, bytes.NewReader([]byte(k)), blob.PutOptions{ContentType: "image/jpeg"}); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}
	return store
}

func TestResolverPathScenario(t *testing.T) {
	tracker := NewTracker()
	r := NewResolver(seed(t, "img1/split_3/split_3.jpg"), 1, tracker)
	key, err := r.Key(MaskRef("img1", 3, 2))
	if err != nil || key != "img1/split_3/mask_2.jpg" {
		t.Fatalf("key = %q, %v", key, err)
	}
	_, err = r.Resolve(context.Background(), MaskRef("img1", 3, 2))
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.ExpectedPath != "/img1/split_3/mask_2.jpg" {
		t.Fatalf("expected NotFoundError with path, got %v", err)
	}
	if !blob.IsNotFound(err) {
		t.Fatalf("NotFoundError should unwrap to the store error")
	}
	h, err := r.Resolve(context.Background(), MainRef("img1", 3))
	if err != nil {
		t.Fatalf("resolve main: %v", err)
	}
	if string(h.Bytes()) != "img1/split_3/split_3.jpg" || h.Info().Size == 0 {
		t.Fatalf("unexpected handle %q %+v", h.Bytes(), h.Info())
	}
	if tracker.Outstanding() != 1 {
		t.Fatalf("outstanding = %d", tracker.Outstanding())
	}
	if err := h.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := h.Release(); !errors.Is(err, ErrReleased) {
		t.Fatalf("second release = %v", err)
	}
	if h.Bytes() != nil || !h.Released() {
		t.Fatalf("released handle still exposes bytes")
	}
	if tracker.Outstanding() != 0 || tracker.Releases() != 1 || tracker.Resolved() != 1 {
		t.Fatalf("tracker mismatch: %d %d %d", tracker.Outstanding(), tracker.Releases(), tracker.Resolved())
	}
}

func TestResolverSplitBase(t *testing.T) {
	r := NewResolver(nil, 0, nil)
	key, err := r.Key(MainRef("a", 1))
	if err != nil || key != "a/split_0/split_0.jpg" {
		t.Fatalf("legacy key = %q %v", key, err)
	}
	for _, ref := range []Ref{MainRef("", 1), MainRef("a", 0), MaskRef("a", 1, -1)} {
		if _, err := r.Key(ref); err == nil {
			t.Fatalf("expected error for %+v", ref)
		}
	}
}

func TestResolverWithoutRoot(t *testing.T) {
	var nilResolver *Resolver
	if _, err := nilResolver.Resolve(context.Background(), MainRef("a", 1)); !errors.Is(err, ErrNoRoot) {
		t.Fatalf("nil resolver: %v", err)
	}
	if _, err := NewResolver(nil, 1, nil).Resolve(context.Background(), MainRef("a", 1)); !errors.Is(err, ErrNoRoot) {
		t.Fatalf("no store: %v", err)
	}
}

func TestResolverStatAndInventory(t *testing.T) {
	r := NewResolver(seed(t, "img1/split_2/split_2.jpg", "img1/split_2/mask_1.jpg", "img1/split_20/mask_0.jpg", "img2/split_2/mask_0.jpg"), 1, nil)
	info, err := r.Stat(context.Background(), MaskRef("img1", 2, 1))
	if err != nil || info.Size != int64(len("img1/split_2/mask_1.jpg")) {
		t.Fatalf("stat = %+v %v", info, err)
	}
	_, err = r.Stat(context.Background(), MaskRef("img1", 2, 9))
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.ExpectedPath != "/img1/split_2/mask_9.jpg" {
		t.Fatalf("expected not found, got %v", err)
	}
	infos, err := r.Inventory(context.Background(), "img1", 2)
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "img1/split_2/mask_1.jpg" || infos[1].Key != "img1/split_2/split_2.jpg" {
		t.Fatalf("inventory leaked other folders: %+v", infos)
	}
	if _, err := NewResolver(nil, 1, nil).Inventory(context.Background(), "img1", 2); !errors.Is(err, ErrNoRoot) {
		t.Fatalf("expected ErrNoRoot, got %v", err)
	}
}

type failingStore struct{ blob.Store }

func (failingStore) Get(context.Context, string) (blob.Info, io.ReadCloser, error) {
	return blob.Info{}, nil, errors.New("disk on fire")
}

func TestResolverWrapsBackendErrors(t *testing.T) {
	_, err := NewResolver(failingStore{blob.NewMemory()}, 1, nil).Resolve(context.Background(), MainRef("a", 1))
	if err == nil || IsNotFound(err) || !strings.Contains(err.Error(), "a/split_1/split_1.jpg") {
		t.Fatalf("unexpected error %v", err)
	}
}

// gatedStore blocks Get for keys registered in gates until the gate closes.
type gatedStore struct {
	blob.Store
	mu    sync.Mutex
	gates map[string]chan struct{}
	hits  map[string]chan struct{}
}

func (g *gatedStore) Get(ctx context.Context, key string) (blob.Info, io.ReadCloser, error) {
	g.mu.Lock()
	gate := g.gates[key]
	hit := g.hits[key]
	g.mu.Unlock()
	if hit != nil {
		close(hit)
	}
	if gate != nil {
		<-gate
	}
	return g.Store.Get(ctx, key)
}

func TestLoaderDiscardsStaleResults(t *testing.T) {
	tracker := NewTracker()
	gate := make(chan struct{})
	hit := make(chan struct{})
	store := &gatedStore{
		Store: seed(t, "a/split_1/split_1.jpg", "a/split_1/mask_0.jpg", "b/split_1/split_1.jpg", "b/split_1/mask_4.jpg"),
		gates: map[string]chan struct{}{"a/split_1/split_1.jpg": gate},
		hits:  map[string]chan struct{}{"a/split_1/split_1.jpg": hit},
	}
	r := NewResolver(store, 1, tracker)
	l := NewLoader(nil)
	var applied []Selection
	l.OnApply(func(res Result) { applied = append(applied, res.Selection) })

	stale := Selection{ImageKey: "a", SplitIndex: 1, MaskKey: "mask_0"}
	fresh := Selection{ImageKey: "b", SplitIndex: 1, MaskKey: "mask_4"}
	l.Request(r, stale)
	<-hit
	res, ok := l.Load(context.Background(), r, fresh)
	if !ok || res.Main.Status() != "ready" || res.Mask.Status() != "ready" {
		t.Fatalf("fresh load not applied: %+v", res)
	}
	close(gate)
	l.Wait()

	cur, ok := l.Current()
	if !ok || cur.Selection != fresh {
		t.Fatalf("stale result replaced current: %+v", cur.Selection)
	}
	if st := l.Stats(); st.Stale != 1 || st.Applied != 1 || st.Requested != 2 {
		t.Fatalf("stats = %+v", st)
	}
	if len(applied) != 1 || applied[0] != fresh {
		t.Fatalf("applied callbacks = %+v", applied)
	}
	if tracker.Outstanding() != 2 {
		t.Fatalf("only the current pair should be held, outstanding = %d", tracker.Outstanding())
	}
	l.Close()
	if tracker.Outstanding() != 0 {
		t.Fatalf("close leaked %d handles", tracker.Outstanding())
	}
}

func TestLoaderSupersessionReleasesPrevious(t *testing.T) {
	tracker := NewTracker()
	r := NewResolver(seed(t, "a/split_1/split_1.jpg", "a/split_1/mask_0.jpg", "a/split_1/mask_1.jpg"), 1, tracker)
	l := NewLoader(nil)
	first, ok := l.Load(context.Background(), r, Selection{ImageKey: "a", SplitIndex: 1, MaskKey: "mask_0"})
	if !ok {
		t.Fatalf("first load not applied")
	}
	if _, ok := l.Load(context.Background(), r, Selection{ImageKey: "a", SplitIndex: 1, MaskKey: "mask_1"}); !ok {
		t.Fatalf("second load not applied")
	}
	if !first.Main.Handle.Released() || !first.Mask.Handle.Released() {
		t.Fatalf("superseded handles must be released")
	}
	if tracker.Outstanding() != 2 {
		t.Fatalf("outstanding = %d", tracker.Outstanding())
	}
	l.Clear()
	if _, ok := l.Current(); ok || tracker.Outstanding() != 0 {
		t.Fatalf("clear should drop the current result, outstanding = %d", tracker.Outstanding())
	}
	l.Close()
	l.Close()
	if gen := l.Request(r, Selection{ImageKey: "a", SplitIndex: 1}); gen != 0 {
		t.Fatalf("closed loader accepted a request")
	}
}

func TestLoaderSlotStatuses(t *testing.T) {
	r := NewResolver(seed(t, "a/split_1/split_1.jpg"), 1, nil)
	l := NewLoader(nil)
	defer l.Close()
	res, _ := l.Load(context.Background(), r, Selection{ImageKey: "a", SplitIndex: 1, MaskKey: "mask_7"})
	if res.Main.Status() != "ready" || res.Mask.Status() != "missing" || res.Mask.Key != "a/split_1/mask_7.jpg" {
		t.Fatalf("statuses = %s %s %s", res.Main.Status(), res.Mask.Status(), res.Mask.Key)
	}
	res, _ = l.Load(context.Background(), r, Selection{ImageKey: "a", SplitIndex: 1})
	if res.Mask.Status() != "none" {
		t.Fatalf("no mask selected should be none, got %s", res.Mask.Status())
	}
	res, _ = l.Load(context.Background(), NewResolver(nil, 1, nil), Selection{ImageKey: "a", SplitIndex: 1, MaskKey: "mask_x"})
	if res.Main.Status() != "no-root" || res.Mask.Status() != "error" {
		t.Fatalf("statuses = %s %s", res.Main.Status(), res.Mask.Status())
	}
}

func TestLoaderReadServesOnlyInstalledSelection(t *testing.T) {
	tracker := NewTracker()
	r := NewResolver(seed(t, "a/split_1/split_1.jpg", "a/split_1/mask_0.jpg"), 1, tracker)
	l := NewLoader(nil)
	defer l.Close()

	first := Selection{ImageKey: "a", SplitIndex: 1, MaskKey: "mask_0"}
	second := Selection{ImageKey: "a", SplitIndex: 1, MaskKey: "mask_9"}
	if _, ok, _ := l.Read(first, false); ok {
		t.Fatalf("nothing is installed yet")
	}
	l.Load(context.Background(), r, first)
	c, ok, err := l.Read(first, true)
	if !ok || err != nil || string(c.Data) != "a/split_1/mask_0.jpg" || c.Key != "a/split_1/mask_0.jpg" {
		t.Fatalf("read = %+v %v %v", c, ok, err)
	}
	if _, ok, _ := l.Read(second, true); ok {
		t.Fatalf("read served another selection's bytes")
	}

	l.Load(context.Background(), r, second)
	if _, ok, _ := l.Read(first, true); ok {
		t.Fatalf("superseded selection still readable")
	}
	if _, ok, err := l.Read(second, true); !ok || !IsNotFound(err) {
		t.Fatalf("missing mask should report its error, got %v %v", ok, err)
	}
	if string(c.Data) != "a/split_1/mask_0.jpg" {
		t.Fatalf("copied bytes changed after release")
	}
	if tracker.Outstanding() != 1 {
		t.Fatalf("outstanding = %d", tracker.Outstanding())
	}
}
