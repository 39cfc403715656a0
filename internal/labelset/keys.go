package labelset

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	splitPrefix = "split_"
	maskPrefix  = "mask_"
)

// SplitKey converts a 1-based UI split index into the document/folder key.
// base is the number used for the first split on disk: 1 for current
// datasets (split_1 is the first split) and 0 for legacy zero-based datasets.
func SplitKey(index, base int) string {
	return fmt.Sprintf("%s%d", splitPrefix, index-1+base)
}

// SplitIndex is the inverse of SplitKey.
func SplitIndex(key string, base int) (int, bool) {
	n, ok := suffixNumber(key, splitPrefix)
	if !ok {
		return 0, false
	}
	index := n + 1 - base
	if index < 1 {
		return 0, false
	}
	return index, true
}

// MaskKey formats a mask key.
func MaskKey(n int) string { return fmt.Sprintf("%s%d", maskPrefix, n) }

// MaskNumber parses the numeric suffix of a mask key.
func MaskNumber(key string) (int, bool) { return suffixNumber(key, maskPrefix) }

// IsSplitKey reports whether key names a split member: "split_" followed by
// digits only. Other members, "split_meta" included, are metadata.
func IsSplitKey(key string) bool {
	_, ok := suffixNumber(key, splitPrefix)
	return ok
}

// IsMaskKey reports whether key names a mask member: "mask_" followed by
// digits only.
func IsMaskKey(key string) bool {
	_, ok := suffixNumber(key, maskPrefix)
	return ok
}

func suffixNumber(key, prefix string) (int, bool) {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok || rest == "" {
		return 0, false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}
