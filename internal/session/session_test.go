package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"segtag/internal/asset"
	"segtag/internal/blob"
	"segtag/internal/geometry"
	"segtag/internal/labelset"
	"segtag/internal/persistence"
	"segtag/internal/traverse"
)

const doc = `{
  "img1": {
    "split_1": {
      "mask_0": {"bbox": [10, 10, 30, 50]},
      "mask_1": {},
      "mask_2": {"label": "Wood"}
    },
    "split_2": {"mask_0": {}}
  },
  "img2": {"split_1": {"mask_5": {}}}
}`

func newSession(t *testing.T, opts Options) *Session {
	t.Helper()
	s := New(opts)
	t.Cleanup(s.Close)
	if _, err := s.LoadDocument(context.Background(), []byte(doc)); err != nil {
		t.Fatalf("load: %v", err)
	}
	return s
}

func current(t *testing.T, s *Session) string {
	t.Helper()
	v := s.View()
	if v.Mask == nil {
		return ""
	}
	return v.Mask.Key
}

func TestLoadSelectsFirstImage(t *testing.T) {
	s := newSession(t, Options{})
	v := s.View()
	if !v.Loaded || v.Images != 2 {
		t.Fatalf("unexpected view %+v", v)
	}
	if v.Selection != (Selection{ImageKey: "img1", SplitIndex: 1, Position: 0}) {
		t.Fatalf("selection = %+v", v.Selection)
	}
	if strings.Join(v.Order, ",") != "mask_0,mask_1,mask_2" {
		t.Fatalf("order = %v", v.Order)
	}
	if v.Progress.Tagged != 1 || v.Progress.Total != 3 {
		t.Fatalf("progress = %+v", v.Progress)
	}
}

func TestLabelAdvancesThroughUnlabeled(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, Options{})
	res, err := s.Label(ctx, "Glass")
	if err != nil || !res.Applied || res.Mask != "mask_0" || res.AllTagged {
		t.Fatalf("first label = %+v %v", res, err)
	}
	if got := current(t, s); got != "mask_1" {
		t.Fatalf("next unlabeled mask should slide in, got %q", got)
	}
	res, err = s.Label(ctx, "🔩 Metal")
	if err != nil || res.Category != "Metal" {
		t.Fatalf("display string should resolve: %+v %v", res, err)
	}
	if !res.AllTagged || res.Notice != NoticeAllTagged || res.Progress.Percentage != 100 {
		t.Fatalf("expected all tagged: %+v", res)
	}
	if v := s.View(); v.Notice != NoticeAllTagged || v.Selection.Position != 0 {
		t.Fatalf("view after completion = %+v", v)
	}
	if s.Stats().Labels != 2 {
		t.Fatalf("labels counter = %d", s.Stats().Labels)
	}
}

func TestLabelInvalidIsNoop(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, Options{})
	before := s.Dataset()
	if _, err := s.Label(ctx, "Unobtainium"); !errors.Is(err, labelset.ErrUnknownCategory) {
		t.Fatalf("expected unknown category, got %v", err)
	}
	if s.Dataset() != before {
		t.Fatalf("dataset replaced by a rejected label")
	}
	if _, err := s.SelectSplit(ctx, 7); err != nil {
		t.Fatalf("select missing split: %v", err)
	}
	if v := s.View(); len(v.Order) != 0 || v.Mask != nil {
		t.Fatalf("missing split should have an empty order: %+v", v)
	}
	if _, err := s.Label(ctx, "Glass"); !errors.Is(err, ErrNoMask) {
		t.Fatalf("expected ErrNoMask, got %v", err)
	}
	if _, err := s.SelectSplit(ctx, 0); !errors.Is(err, ErrInvalidSplit) {
		t.Fatalf("expected ErrInvalidSplit, got %v", err)
	}
	if _, err := s.SelectImage(ctx, "nope"); !errors.Is(err, ErrImageNotFound) {
		t.Fatalf("expected ErrImageNotFound, got %v", err)
	}
}

func TestNavigationBounds(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, Options{})
	if s.Prev(ctx) {
		t.Fatalf("prev at start must not move")
	}
	if !s.Next(ctx) || !s.Next(ctx) {
		t.Fatalf("next should move twice")
	}
	if s.Next(ctx) {
		t.Fatalf("next at end must not wrap")
	}
	if s.Selection().Position != 2 {
		t.Fatalf("position = %d", s.Selection().Position)
	}
	sel, err := s.SelectImage(ctx, "img2")
	if err != nil || sel.Position != 0 || sel.SplitIndex != 1 {
		t.Fatalf("image change should reset position: %+v %v", sel, err)
	}
}

func TestUnlabeledOnlyPolicy(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, Options{Policy: traverse.PolicyUnlabeledOnly})
	if v := s.View(); strings.Join(v.Order, ",") != "mask_0,mask_1" || v.Policy != "unlabeled" {
		t.Fatalf("filtered order = %v (%s)", v.Order, v.Policy)
	}
	for i := 0; i < 2; i++ {
		if _, err := s.Label(ctx, "Paper"); err != nil {
			t.Fatalf("label %d: %v", i, err)
		}
	}
	v := s.View()
	if len(v.Order) != 0 || v.Mask != nil || !v.Progress.Done() {
		t.Fatalf("fully labeled split should leave no current item: %+v", v)
	}
	s.SetPolicy(ctx, traverse.PolicyAll)
	if v := s.View(); len(v.Order) != 3 {
		t.Fatalf("policy change not applied: %v", v.Order)
	}
}

func TestLoadFailureKeepsDataset(t *testing.T) {
	s := newSession(t, Options{})
	before := s.Dataset()
	_, err := s.LoadDocument(context.Background(), []byte(`[1]`))
	var le *labelset.LoadError
	if !errors.As(err, &le) || le.Reason != labelset.ReasonNotAnObject {
		t.Fatalf("expected not-an-object, got %v", err)
	}
	if s.Dataset() != before || s.Selection().ImageKey != "img1" {
		t.Fatalf("failed load replaced state")
	}
}

func TestReloadClampsPosition(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, Options{})
	s.Next(ctx)
	s.Next(ctx)
	sel, err := s.ReloadDocument(ctx, []byte(`{"img1": {"split_1": {"mask_0": {}, "mask_1": {}}}}`))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if sel.ImageKey != "img1" || sel.Position != 1 {
		t.Fatalf("reload should clamp to the last item: %+v", sel)
	}
	sel, err = s.ReloadDocument(ctx, []byte(`{"other": {"split_1": {"mask_0": {}}}}`))
	if err != nil || sel.ImageKey != "other" || sel.Position != 0 {
		t.Fatalf("vanished image should fall back to the first one: %+v %v", sel, err)
	}
}

func TestDisplayMapsBox(t *testing.T) {
	s := newSession(t, Options{})
	if v := s.View(); v.Mask == nil || v.Mask.Rect != nil {
		t.Fatalf("box must not map before the display is known: %+v", v.Mask)
	}
	scale, err := s.SetDisplay(geometry.Size{Width: 100, Height: 100}, geometry.Size{Width: 50, Height: 50})
	if err != nil || scale != (geometry.Scale{X: 0.5, Y: 0.5}) {
		t.Fatalf("scale = %+v %v", scale, err)
	}
	v := s.View()
	if v.Mask.Rect == nil || *v.Mask.Rect != (geometry.Rect{Left: 5, Top: 5, Width: 10, Height: 20}) {
		t.Fatalf("rect = %+v", v.Mask.Rect)
	}
	if _, err := s.SetDisplay(geometry.Size{Width: -1}, geometry.Size{}); !errors.Is(err, ErrInvalidDisplay) {
		t.Fatalf("expected ErrInvalidDisplay, got %v", err)
	}
	if _, err := s.SelectSplit(context.Background(), 2); err != nil {
		t.Fatalf("select split: %v", err)
	}
	if v := s.View(); v.Mask == nil || v.Mask.Rect != nil {
		t.Fatalf("split change should drop the display scale")
	}
}

func TestExportAndTags(t *testing.T) {
	ctx := context.Background()
	s := New(Options{})
	t.Cleanup(s.Close)
	if _, err := s.Export(); !errors.Is(err, ErrNoDataset) {
		t.Fatalf("expected ErrNoDataset, got %v", err)
	}
	if _, err := s.LoadDocument(ctx, []byte(`{"a": {"split_1": {"mask_0": {}}}}`)); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := s.ExportTags(); !errors.Is(err, ErrNoTags) {
		t.Fatalf("expected ErrNoTags, got %v", err)
	}
	if _, err := s.Label(ctx, "Stone"); err != nil {
		t.Fatalf("label: %v", err)
	}
	out, err := s.ExportTags()
	if err != nil {
		t.Fatalf("export tags: %v", err)
	}
	var tags map[string]string
	if err := json.Unmarshal(out, &tags); err != nil || tags["a/split_1/mask_0"] != "Stone" {
		t.Fatalf("tags = %s %v", out, err)
	}
	full, err := s.Export()
	if err != nil || !bytes.Contains(full, []byte(`"label": "Stone"`)) {
		t.Fatalf("export = %s %v", full, err)
	}
}

func TestMergeTags(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, Options{})
	report, err := s.MergeTags(ctx, []byte(`{"img1/split_1/mask_1": "Fabric", "img1/split_1/mask_9": "Fabric"}`))
	if err != nil || report.Applied != 1 || len(report.Skipped) != 1 {
		t.Fatalf("merge = %+v %v", report, err)
	}
	if got, _ := s.Dataset().Label("img1", "split_1", "mask_1"); got != "Fabric" {
		t.Fatalf("merge not applied: %q", got)
	}
	if v := s.View(); v.Notice != NoticeTagsLoaded {
		t.Fatalf("notice = %q", v.Notice)
	}
	if _, err := s.MergeTags(ctx, []byte(`[]`)); err == nil {
		t.Fatalf("expected parse error for non-object tag file")
	}
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	store, err := persistence.Open(ctx, persistence.Config{Driver: persistence.DriverMemory}, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	s := newSession(t, Options{Store: store})
	if _, err := s.Label(ctx, "Glass"); err != nil {
		t.Fatalf("label: %v", err)
	}
	s.Next(ctx)
	if s.Stats().Saves == 0 || s.Stats().SaveFailures != 0 {
		t.Fatalf("expected saves: %+v", s.Stats())
	}
	want := s.Selection()

	restored := New(Options{Store: store})
	t.Cleanup(restored.Close)
	ok, err := restored.Restore(ctx)
	if err != nil || !ok {
		t.Fatalf("restore: %v %v", ok, err)
	}
	if restored.Selection() != want {
		t.Fatalf("selection = %+v want %+v", restored.Selection(), want)
	}
	if got, _ := restored.Dataset().Label("img1", "split_1", "mask_0"); got != "Glass" {
		t.Fatalf("label not restored: %q", got)
	}
	if ok, err := New(Options{}).Restore(ctx); ok || err != nil {
		t.Fatalf("restore without store should report false: %v %v", ok, err)
	}
}

func seedRoot(t *testing.T, keys ...string) blob.Store {
	t.Helper()
	store := blob.NewMemory()
	for _, k := range keys {
		if _, err := store.Put(context.Background(), k, strings.NewReader(k), blob.PutOptions{ContentType: "image/jpeg"}); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}
	return store
}

func TestAssetsFollowSelection(t *testing.T) {
	ctx := context.Background()
	tracker := asset.NewTracker()
	s := New(Options{Tracker: tracker})
	if _, err := s.LoadDocument(ctx, []byte(doc)); err != nil {
		t.Fatalf("load: %v", err)
	}
	s.WaitAssets()
	if v := s.View(); v.Assets.RootSelected || v.Assets.Main.Status != "no-root" || v.Assets.Main.Message == "" {
		t.Fatalf("no root should be a placeholder state: %+v", v.Assets)
	}

	s.SetRoot(seedRoot(t, "img1/split_1/split_1.jpg", "img1/split_1/mask_0.jpg"), "mem")
	s.WaitAssets()
	v := s.View()
	if v.Assets.Main.Status != "ready" || v.Assets.Mask.Status != "ready" || v.Assets.Root != "mem" {
		t.Fatalf("assets not ready: %+v", v.Assets)
	}
	if tracker.Outstanding() != 2 {
		t.Fatalf("outstanding = %d", tracker.Outstanding())
	}

	if _, err := s.Label(ctx, "Glass"); err != nil {
		t.Fatalf("label: %v", err)
	}
	s.WaitAssets()
	v = s.View()
	if v.Assets.Mask.Status != "missing" || v.Assets.Mask.ExpectedPath != "/img1/split_1/mask_1.jpg" {
		t.Fatalf("missing mask should carry its path: %+v", v.Assets.Mask)
	}
	if tracker.Outstanding() != 1 {
		t.Fatalf("superseded handles not released: %d", tracker.Outstanding())
	}

	data, info, err := s.ReadAsset(ctx, AssetMain)
	if err != nil || string(data) != "img1/split_1/split_1.jpg" || info.ContentType != "image/jpeg" {
		t.Fatalf("read main = %q %+v %v", data, info, err)
	}
	if _, _, err := s.ReadAsset(ctx, AssetMask); !asset.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}

	s.ClearRoot()
	s.WaitAssets()
	if v := s.View(); v.Assets.RootSelected || v.Assets.Main.Status != "no-root" {
		t.Fatalf("cleared root = %+v", v.Assets)
	}
	s.Close()
	if tracker.Outstanding() != 0 {
		t.Fatalf("leaked %d handles", tracker.Outstanding())
	}
}

func TestChangesSignalsStateUpdates(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, Options{})
	changes, cancel := s.Changes()

	if !s.Next(ctx) {
		t.Fatalf("expected to advance")
	}
	s.Next(ctx)
	s.WaitAssets()
	select {
	case <-changes:
	default:
		t.Fatalf("expected a change signal")
	}
	select {
	case <-changes:
		t.Fatalf("pending signals should coalesce")
	default:
	}
	if got := s.View().Selection.Position; got != 2 {
		t.Fatalf("position = %d", got)
	}

	cancel()
	cancel()
	if _, open := <-changes; open {
		t.Fatalf("channel should be closed after cancel")
	}
	s.Prev(ctx)
}

func TestLabelWithoutStore(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, Options{})
	res, err := s.Label(ctx, "Wood")
	if err != nil || !res.Applied || res.Mask != "mask_0" {
		t.Fatalf("label = %+v %v", res, err)
	}
	if got, _ := s.Dataset().Label("img1", "split_1", "mask_0"); got != "Wood" {
		t.Fatalf("label not stored: %q", got)
	}
	if st := s.Stats(); st.Saves != 0 {
		t.Fatalf("no store configured, saves = %d", st.Saves)
	}
}

// slowRoot blocks every Get of key until release is closed and reports each
// entry on entered.
type slowRoot struct {
	blob.Store
	key     string
	entered chan struct{}
	release chan struct{}
}

func (r *slowRoot) Get(ctx context.Context, key string) (blob.Info, io.ReadCloser, error) {
	if key == r.key {
		r.entered <- struct{}{}
		<-r.release
	}
	return r.Store.Get(ctx, key)
}

func TestReadAssetServesLoadedBytesOnly(t *testing.T) {
	ctx := context.Background()
	tracker := asset.NewTracker()
	s := newSession(t, Options{Tracker: tracker})
	root := &slowRoot{
		Store:   seedRoot(t, "img1/split_1/split_1.jpg", "img1/split_1/mask_0.jpg", "img1/split_1/mask_1.jpg"),
		key:     "img1/split_1/mask_0.jpg",
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	s.SetRoot(root, "slow")
	<-root.entered

	type read struct {
		data []byte
		err  error
	}
	done := make(chan read, 1)
	go func() {
		data, _, err := s.ReadAsset(ctx, AssetMask)
		done <- read{data, err}
	}()
	<-root.entered
	if !s.Next(ctx) {
		t.Fatalf("expected to advance")
	}
	close(root.release)
	got := <-done
	if !errors.Is(got.err, ErrSelectionChanged) || got.data != nil {
		t.Fatalf("superseded bytes served: %q %v", got.data, got.err)
	}

	s.WaitAssets()
	before := tracker.Resolved()
	data, info, err := s.ReadAsset(ctx, AssetMask)
	if err != nil || string(data) != "img1/split_1/mask_1.jpg" || info.Key != "img1/split_1/mask_1.jpg" {
		t.Fatalf("read mask = %q %+v %v", data, info, err)
	}
	if tracker.Resolved() != before {
		t.Fatalf("loaded asset was resolved again")
	}
}

func TestRestoreRefusesOtherSplitBase(t *testing.T) {
	ctx := context.Background()
	store, err := persistence.Open(ctx, persistence.Config{Driver: persistence.DriverMemory}, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	legacy := 0
	s := New(Options{Store: store, SplitBase: &legacy})
	t.Cleanup(s.Close)
	if _, err := s.LoadDocument(ctx, []byte(`{"img1": {"split_0": {"mask_0": {}}}}`)); err != nil {
		t.Fatalf("load: %v", err)
	}

	current := New(Options{Store: store})
	t.Cleanup(current.Close)
	if ok, err := current.Restore(ctx); ok || !errors.Is(err, ErrSplitBaseMismatch) {
		t.Fatalf("restore under another base = %v %v", ok, err)
	}
	if current.Dataset() != nil {
		t.Fatalf("refused snapshot must not be installed")
	}

	same := New(Options{Store: store, SplitBase: &legacy})
	t.Cleanup(same.Close)
	if ok, err := same.Restore(ctx); !ok || err != nil {
		t.Fatalf("restore under the same base = %v %v", ok, err)
	}
	if v := same.View(); v.SplitKey != "split_0" || len(v.Order) != 1 {
		t.Fatalf("unexpected view %+v", v)
	}

	if err := store.Save(ctx, persistence.Snapshot{Document: []byte(`{}`), Selection: persistence.Selection{SplitIndex: 1}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ok, err := same.Restore(ctx); ok || !errors.Is(err, ErrSplitBaseMismatch) {
		t.Fatalf("unrecorded base should be refused: %v %v", ok, err)
	}
}
