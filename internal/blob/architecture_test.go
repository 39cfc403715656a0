package blob

import (
	"testing"

	"segtag/testutil"
)

// Only this package wraps the infra-backed stores; everything else depends on
// blob.Store.
func TestOnlyBlobPackageImportsInfra(t *testing.T) {
	testutil.AssertBoundary(t, "segtag/...", testutil.Boundary{
		Guarded: "segtag/internal/infra/blob",
		Allowed: []string{"segtag/internal/blob"},
	})
}
