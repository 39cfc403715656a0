// Package traverse derives the navigation order of masks within one split and
// tracks the cursor that walks it.
package traverse

import (
	"sort"

	"segtag/internal/labelset"
)

// Policy selects which masks participate in the order.
type Policy int

const (
	// PolicyAll orders every mask, unlabeled first.
	PolicyAll Policy = iota
	// PolicyUnlabeledOnly keeps only masks still carrying the sentinel label.
	PolicyUnlabeledOnly
)

func (p Policy) String() string {
	switch p {
	case PolicyUnlabeledOnly:
		return "unlabeled"
	default:
		return "all"
	}
}

// ParsePolicy maps a configuration string onto a Policy.
func ParsePolicy(s string) (Policy, bool) {
	switch s {
	case "", "all":
		return PolicyAll, true
	case "unlabeled", "unlabeled-only":
		return PolicyUnlabeledOnly, true
	default:
		return PolicyAll, false
	}
}

// Order returns the mask keys of a split: unlabeled masks first, then labeled
// ones, each group by ascending numeric suffix. The result is a pure function of
// its inputs and is recomputed from scratch on every call. A missing image or
// split yields an empty order.
func Order(ds *labelset.Dataset, imageKey, splitKey string) []string {
	return Filter(ds, imageKey, splitKey, PolicyAll)
}

// Filter is Order restricted by policy.
func Filter(ds *labelset.Dataset, imageKey, splitKey string, policy Policy) []string {
	keys := ds.Masks(imageKey, splitKey)
	type entry struct {
		key      string
		labeled  bool
		num      int
		numbered bool
	}
	entries := make([]entry, 0, len(keys))
	for _, k := range keys {
		m, ok := ds.Mask(imageKey, splitKey, k)
		if !ok {
			continue
		}
		if policy == PolicyUnlabeledOnly && m.Labeled() {
			continue
		}
		n, numbered := labelset.MaskNumber(k)
		entries = append(entries, entry{key: k, labeled: m.Labeled(), num: n, numbered: numbered})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.labeled != b.labeled {
			return !a.labeled
		}
		if a.numbered != b.numbered {
			return a.numbered
		}
		if a.numbered && a.num != b.num {
			return a.num < b.num
		}
		return a.key < b.key
	})
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.key
	}
	return out
}
