// Package validation enforces code conventions that the compiler cannot.
package validation

import (
	"errors"
	"fmt"
	"go/ast"
	"go/constant"
	"go/token"
	"go/types"
	"sort"
	"strings"

	"golang.org/x/tools/go/packages"
)

// Error is one convention violation.
type Error struct {
	File    string
	Line    int
	Message string
	Code    string
}

func (e Error) String() string {
	return fmt.Sprintf("%s:%d: %s [%s]", e.File, e.Line, e.Message, e.Code)
}

// CodeKindSwitch marks a switch over the value kind that misses kinds.
const CodeKindSwitch = "KIND001"

// DefaultKindType is the enumeration switches are checked against.
const DefaultKindType = "obsstore/pkg/domain.Kind"

// KindSwitchConfig selects the packages to check.
type KindSwitchConfig struct {
	// Dir is the directory patterns are resolved from.
	Dir      string
	Patterns []string
	// KindType is the qualified name of the enumeration, package path and
	// type name joined by a dot. Defaults to DefaultKindType.
	KindType string
	Tests    bool
}

// ValidateKindSwitches reports every expression switch over the kind
// enumeration that has no default clause and does not name all declared
// kinds.
func ValidateKindSwitches(cfg KindSwitchConfig) ([]Error, error) {
	if len(cfg.Patterns) == 0 {
		return nil, errors.New("no package patterns provided")
	}
	kindType := cfg.KindType
	if kindType == "" {
		kindType = DefaultKindType
	}
	dot := strings.LastIndex(kindType, ".")
	if dot <= 0 || dot == len(kindType)-1 {
		return nil, fmt.Errorf("malformed kind type %q", kindType)
	}
	kindPkg, kindName := kindType[:dot], kindType[dot+1:]

	pcfg := &packages.Config{
		Mode:  packages.NeedName | packages.NeedFiles | packages.NeedSyntax | packages.NeedTypes | packages.NeedTypesInfo,
		Dir:   cfg.Dir,
		Tests: cfg.Tests,
	}
	pkgs, err := packages.Load(pcfg, cfg.Patterns...)
	if err != nil {
		return nil, fmt.Errorf("load packages: %w", err)
	}
	var loadErrs []error
	packages.Visit(pkgs, nil, func(p *packages.Package) {
		for _, e := range p.Errors {
			loadErrs = append(loadErrs, e)
		}
	})
	if len(loadErrs) > 0 {
		return nil, fmt.Errorf("load packages: %w", errors.Join(loadErrs...))
	}

	var violations []Error
	seen := make(map[token.Position]struct{})
	for _, p := range pkgs {
		for _, file := range p.Syntax {
			ast.Inspect(file, func(n ast.Node) bool {
				sw, ok := n.(*ast.SwitchStmt)
				if !ok || sw.Tag == nil {
					return true
				}
				named := kindOf(p.TypesInfo.TypeOf(sw.Tag), kindPkg, kindName)
				if named == nil {
					return true
				}
				missing := missingKinds(sw, p.TypesInfo, named)
				if len(missing) == 0 {
					return true
				}
				pos := p.Fset.Position(sw.Pos())
				if _, dup := seen[pos]; dup {
					return true
				}
				seen[pos] = struct{}{}
				violations = append(violations, Error{
					File:    pos.Filename,
					Line:    pos.Line,
					Message: fmt.Sprintf("switch on %s misses %s and has no default", kindName, strings.Join(missing, ", ")),
					Code:    CodeKindSwitch,
				})
				return true
			})
		}
	}
	sort.Slice(violations, func(i, j int) bool {
		if violations[i].File != violations[j].File {
			return violations[i].File < violations[j].File
		}
		return violations[i].Line < violations[j].Line
	})
	return violations, nil
}

func kindOf(t types.Type, pkgPath, name string) *types.Named {
	named, ok := t.(*types.Named)
	if !ok {
		return nil
	}
	obj := named.Obj()
	if obj.Pkg() == nil || obj.Pkg().Path() != pkgPath || obj.Name() != name {
		return nil
	}
	return named
}

// declaredKinds maps constant value to constant name for every constant of
// the named type in its package.
func declaredKinds(named *types.Named) map[string]string {
	out := make(map[string]string)
	scope := named.Obj().Pkg().Scope()
	for _, name := range scope.Names() {
		c, ok := scope.Lookup(name).(*types.Const)
		if !ok || !types.Identical(c.Type(), named) {
			continue
		}
		out[c.Val().ExactString()] = name
	}
	return out
}

func missingKinds(sw *ast.SwitchStmt, info *types.Info, named *types.Named) []string {
	covered := make(map[string]struct{})
	for _, stmt := range sw.Body.List {
		clause, ok := stmt.(*ast.CaseClause)
		if !ok {
			continue
		}
		if clause.List == nil {
			return nil
		}
		for _, expr := range clause.List {
			tv, ok := info.Types[expr]
			if !ok || tv.Value == nil || tv.Value.Kind() != constant.String {
				continue
			}
			covered[tv.Value.ExactString()] = struct{}{}
		}
	}
	var missing []string
	for val, name := range declaredKinds(named) {
		if _, ok := covered[val]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
