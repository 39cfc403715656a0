package progress

import (
	"testing"

	"segtag/testutil"
)

func TestNoStatefulImports(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.StatefulImport, "progress must stay a pure document-model package")
}
