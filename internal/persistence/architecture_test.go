package persistence

import (
	"testing"

	"segtag/testutil"
)

func TestOnlyPersistencePackageImportsInfra(t *testing.T) {
	testutil.AssertBoundary(t, "segtag/...", testutil.Boundary{
		Guarded: "segtag/internal/infra/persistence",
		Allowed: []string{"segtag/internal/persistence"},
	})
}
