package core

import (
	"errors"
	"testing"
	"time"
)

func TestBucketsRoundTrip(t *testing.T) {
	base := 0
	snap := Snapshot{
		SplitBase:       &base,
		Document:        []byte("{\n  \"b\": {},\n  \"a\": {}\n}\n"),
		Selection:       Selection{ImageKey: "b", SplitIndex: 2, Position: 3},
		CategoryVersion: "v2",
		SavedAt:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	buckets, err := EncodeBuckets(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, ok, err := DecodeBuckets(buckets)
	if err != nil || !ok {
		t.Fatalf("decode: %v %v", ok, err)
	}
	if string(got.Document) != string(snap.Document) || got.Selection != snap.Selection || !got.SavedAt.Equal(snap.SavedAt) || got.CategoryVersion != "v2" || got.SplitBase == nil || *got.SplitBase != 0 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestDecodeBucketsEmptyAndCorrupt(t *testing.T) {
	if _, ok, err := DecodeBuckets(map[string][]byte{}); ok || err != nil {
		t.Fatalf("empty buckets: %v %v", ok, err)
	}
	if _, _, err := DecodeBuckets(map[string][]byte{BucketSession: []byte("{")}); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected corrupt error, got %v", err)
	}
}
