// Package testutil provides testing helpers that enforce the plugin API
// boundary: plugins may depend on the public contract packages only.
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

// ModulePath is the import path prefix of this module.
const ModulePath = "mixinhost"

// ContractPackages are the packages a plugin may import from this module.
var ContractPackages = []string{
	ModulePath + "/pkg/mixinapi",
	ModulePath + "/pkg/transform",
	ModulePath + "/pkg/classfile",
}

// InternalImportForbidden matches any import path with an /internal/ segment.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/")
}

// OutsideContractForbidden matches module packages that are not part of the
// plugin contract. Standard library and third-party paths never match.
func OutsideContractForbidden(path string) bool {
	if path != ModulePath && !strings.HasPrefix(path, ModulePath+"/") {
		return false
	}
	for _, allowed := range ContractPackages {
		if path == allowed {
			return false
		}
	}
	return true
}

// AssertNoDirectImports scans the non-test .go files of dir (not recursing)
// and fails if an import satisfies forbidden.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	failIfViolations(t, "forbidden direct imports detected", reason, viols)
}

// AssertNoTransitiveDependency loads pattern with its full import graph and
// fails if any reachable package satisfies forbidden. The loaded packages
// themselves are not checked.
func AssertNoTransitiveDependency(t testing.TB, dir, pattern string, forbidden func(path string) bool, reason string) {
	t.Helper()
	viols, err := transitiveViolations(dir, pattern, forbidden)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	failIfViolations(t, "forbidden transitive dependency detected", reason, viols)
}

var loadPackages = func(dir, pattern string) ([]*packages.Package, error) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps, Dir: dir}
	return packages.Load(cfg, pattern)
}

func transitiveViolations(dir, pattern string, forbidden func(path string) bool) ([]string, error) {
	roots, err := loadPackages(dir, pattern)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	found := map[string]bool{}
	var visit func(p *packages.Package)
	visit = func(p *packages.Package) {
		for path, dep := range p.Imports {
			if forbidden(path) {
				found[path] = true
			}
			if seen[path] {
				continue
			}
			seen[path] = true
			visit(dep)
		}
	}
	for _, p := range roots {
		visit(p)
	}
	viols := make([]string, 0, len(found))
	for path := range found {
		viols = append(viols, path)
	}
	sort.Strings(viols)
	return viols, nil
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
		f, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range f.Imports {
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

func failIfViolations(t fatalLogger, what, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("%s (%s):\n%s", what, reason, strings.Join(viols, "\n"))
	}
}
