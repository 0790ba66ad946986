// Package testutil holds import guards shared by layering tests.
package testutil

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// Module is the module path of this repository.
const Module = "obsstore"

// StorageDriverImport matches the database and object storage SDKs that only
// infrastructure packages may reach.
func StorageDriverImport(path string) bool {
	for _, prefix := range []string{
		"modernc.org/sqlite",
		"github.com/jackc/pgx",
		"github.com/aws/aws-sdk-go-v2",
	} {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// InternalImport matches any package of this module under internal/.
func InternalImport(path string) bool {
	return strings.HasPrefix(path, Module+"/internal/")
}

// AssertImportsWithin fails when a non-test file in dir imports a package of
// this module that is not listed in allowed. Imports outside the module are
// ignored.
func AssertImportsWithin(t testing.TB, dir string, allowed ...string) {
	t.Helper()
	ok := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		ok[a] = struct{}{}
	}
	viols, err := directImports(dir, func(path string) bool {
		if path != Module && !strings.HasPrefix(path, Module+"/") {
			return false
		}
		_, listed := ok[path]
		return !listed
	})
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	report(t, "unexpected module imports in "+dir, viols)
}

// AssertNoDirectImport fails when a non-test file in dir imports a path
// matching forbidden.
func AssertNoDirectImport(t testing.TB, dir string, forbidden func(string) bool, reason string) {
	t.Helper()
	viols, err := directImports(dir, forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	report(t, reason, viols)
}

// AssertNoTransitiveDependency fails when a package in the dependency closure
// of pattern matches forbidden.
func AssertNoTransitiveDependency(t testing.TB, pattern string, forbidden func(string) bool, reason string) {
	t.Helper()
	out, err := listDeps(pattern)
	if err != nil {
		t.Fatalf("go list -deps %s: %v\n%s", pattern, err, out)
	}
	var viols []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" && forbidden(line) {
			viols = append(viols, line)
		}
	}
	report(t, reason, viols)
}

var listDeps = func(pattern string) ([]byte, error) {
	return exec.Command("go", "list", "-deps", pattern).CombinedOutput()
}

func directImports(dir string, match func(string) bool) ([]string, error) {
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
			path := strings.Trim(imp.Path.Value, `"`)
			if match(path) {
				viols = append(viols, fmt.Sprintf("%s (%s)", path, name))
			}
		}
	}
	sort.Strings(viols)
	return viols, nil
}

type fatalf interface {
	Fatalf(format string, args ...any)
}

func report(t fatalf, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("%s:\n%s", reason, strings.Join(viols, "\n"))
	}
}
