// Package testutil provides import-boundary checks shared by package tests.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// Boundary guards a package tree: only Allowed trees (and Guarded itself)
// may import anything under Guarded.
type Boundary struct {
	Guarded string
	Allowed []string
}

func under(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func (b Boundary) permits(pkgPath string) bool {
	if under(pkgPath, b.Guarded) {
		return true
	}
	for _, a := range b.Allowed {
		if under(pkgPath, a) {
			return true
		}
	}
	return false
}

var loadPackages = func(pattern string) ([]*packages.Package, error) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	return packages.Load(cfg, pattern)
}

// BoundaryViolations loads pattern, test variants included, and lists every
// import that crosses b.
func BoundaryViolations(pattern string, b Boundary) ([]string, error) {
	pkgs, err := loadPackages(pattern)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		if b.permits(pkg.PkgPath) {
			continue
		}
		for importPath := range pkg.Imports {
			if under(importPath, b.Guarded) {
				seen[filepath.Join(pkg.PkgPath, "...")+": "+importPath] = struct{}{}
			}
		}
	}
	viols := make([]string, 0, len(seen))
	for v := range seen {
		viols = append(viols, v)
	}
	sort.Strings(viols)
	return viols, nil
}

// AssertBoundary fails t when any package matching pattern crosses b.
func AssertBoundary(t testing.TB, pattern string, b Boundary) {
	t.Helper()
	viols, err := BoundaryViolations(pattern, b)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	failIfViolations(t, "import of "+b.Guarded, viols)
}

// AssertNoDirectImports scans the non-test .go files in dir and fails if any
// import satisfies forbidden. Build tags are not evaluated.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	failIfViolations(t, reason, viols)
}

// StatefulImport matches the module packages that carry I/O or session state.
// The document model packages must stay free of them.
func StatefulImport(path string) bool {
	for _, p := range []string{
		"segtag/internal/session",
		"segtag/internal/httpapi",
		"segtag/internal/blob",
		"segtag/internal/persistence",
		"segtag/internal/infra",
		"segtag/internal/asset",
		"segtag/internal/export",
		"segtag/internal/watch",
	} {
		if under(path, p) {
			return true
		}
	}
	return false
}

func directImportViolations(dir string, forbidden func(importPath string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range file.Imports {
			ip := strings.Trim(imp.Path.Value, "\"")
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfViolations(t fatalLogger, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("forbidden imports detected (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}
