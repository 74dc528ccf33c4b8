// Package linker implements the Linker & Visibility Checker (spec component
// C3): enforcing the module.name naming convention, cross-module call
// visibility, global name uniqueness, and the reserved stream-pipe helper
// namespace. It runs twice in the pipeline — once on the raw module graph,
// and again after monomorphization/stream-pipe elaboration to re-check the
// specialized names those passes introduce.
//
// Grounded on the teacher's internal/link/module_linker.go (a linker type
// wrapping a loader, with suggestion-bearing structured errors) and on
// original_source/crates/x07c/src/compile.rs's visibility and
// forbid_reserved_helper_function_names checks, which supply the exact
// reserved prefix and the export/import membership rules.
package linker

import (
	"sort"
	"strings"

	"github.com/sunholo/x07c/internal/astdoc"
	"github.com/sunholo/x07c/internal/errors"
	"github.com/sunholo/x07c/internal/modgraph"
)

// ReservedPipePrefix is the compiler-only helper-name fragment the Stream-
// Pipe Elaborator (C7) uses for its synthetic step functions; user code may
// never define a name containing it.
const ReservedPipePrefix = ".__std_stream_pipe_v1_"

// LinkedProgram is the fully visibility-checked module set, ready for the
// lint engine and typechecker.
type LinkedProgram struct {
	Graph *modgraph.Graph

	// Defined is every fully-qualified function name across the whole
	// program (sync, async, extern groups merged), used by C3's global-
	// uniqueness rule.
	Defined map[string]bool
}

// Link runs the full C3 rule set over a loaded module graph.
func Link(g *modgraph.Graph) (*LinkedProgram, error) {
	lp := &LinkedProgram{Graph: g, Defined: make(map[string]bool)}

	ids := sortedModuleIDs(g)
	for _, id := range ids {
		f := g.Files[id]
		if err := checkModulePrefix(f); err != nil {
			return nil, err
		}
		if err := checkReservedNames(f); err != nil {
			return nil, err
		}
		if err := lp.registerGlobalNames(f); err != nil {
			return nil, err
		}
	}
	for _, id := range ids {
		f := g.Files[id]
		if err := lp.checkCallVisibility(f, g); err != nil {
			return nil, err
		}
	}
	return lp, nil
}

// Recheck re-runs only the visibility pass (not redeclaration of globals),
// used after C6/C7 introduce specialized call sites that must still resolve
// within the existing export/import closure (spec §4.3, §4.7).
func Recheck(lp *LinkedProgram) error {
	ids := sortedModuleIDs(lp.Graph)
	for _, id := range ids {
		f := lp.Graph.Files[id]
		if err := lp.checkCallVisibility(f, lp.Graph); err != nil {
			return err
		}
	}
	return nil
}

func sortedModuleIDs(g *modgraph.Graph) []string {
	ids := make([]string, 0, len(g.Files))
	for id := range g.Files {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// checkModulePrefix enforces that every defined function name starts with
// its module id (spec §4.3).
func checkModulePrefix(f *astdoc.AstFile) error {
	prefix := f.ModuleID + "."
	for _, d := range f.Decls {
		if d.Kind != astdoc.DeclDefn && d.Kind != astdoc.DeclDefAsync && d.Kind != astdoc.DeclExtern {
			continue
		}
		if !strings.HasPrefix(d.Name, prefix) {
			return errors.WrapReport(errors.New(errors.MOD001, errors.SeverityError, "link",
				"function "+d.Name+" does not start with module id "+f.ModuleID, &errors.Loc{Pointer: string(d.Pointer)}))
		}
	}
	return nil
}

// checkReservedNames forbids user code from defining a name containing the
// stream-pipe helper prefix (spec §4.3).
func checkReservedNames(f *astdoc.AstFile) error {
	for _, d := range f.Decls {
		if d.Name != "" && strings.Contains(d.Name, ReservedPipePrefix) {
			return errors.WrapReport(errors.New(errors.MOD005, errors.SeverityError, "link",
				"reserved function name: "+d.Name, &errors.Loc{Pointer: string(d.Pointer)}))
		}
	}
	return nil
}

// registerGlobalNames enforces global uniqueness across sync, async, and
// extern declaration groups (spec §4.3): the three groups share one
// namespace, so a name defined in one group may not reappear in another.
func (lp *LinkedProgram) registerGlobalNames(f *astdoc.AstFile) error {
	for _, d := range f.Decls {
		if d.Kind != astdoc.DeclDefn && d.Kind != astdoc.DeclDefAsync && d.Kind != astdoc.DeclExtern {
			continue
		}
		if lp.Defined[d.Name] {
			return errors.WrapReport(errors.New(errors.MOD004, errors.SeverityError, "link",
				"duplicate name across declaration groups: "+d.Name, &errors.Loc{Pointer: string(d.Pointer)}))
		}
		lp.Defined[d.Name] = true
	}
	return nil
}

// checkCallVisibility walks every expression in f looking for cross-module
// call heads (heads containing a '.' whose module prefix differs from f's
// own module id) and verifies the target is both in the caller's imports
// and in the callee's exports (spec §4.3).
func (lp *LinkedProgram) checkCallVisibility(f *astdoc.AstFile, g *modgraph.Graph) error {
	imports := make(map[string]bool, len(f.Imports))
	for _, imp := range f.Imports {
		imports[imp] = true
	}

	var walk func(e *astdoc.Expr) error
	walk = func(e *astdoc.Expr) error {
		if e == nil || !e.IsList {
			return nil
		}
		if err := checkHead(f, e, imports, g); err != nil {
			return err
		}
		for _, a := range e.Args {
			if err := walk(a); err != nil {
				return err
			}
		}
		return nil
	}

	for _, d := range f.Decls {
		if err := walk(d.Body); err != nil {
			return err
		}
		for _, c := range d.Requires {
			if err := walk(c); err != nil {
				return err
			}
		}
		for _, c := range d.Ensures {
			if err := walk(c); err != nil {
				return err
			}
		}
		for _, c := range d.Invariant {
			if err := walk(c); err != nil {
				return err
			}
		}
	}
	return walk(f.Solve)
}

func checkHead(f *astdoc.AstFile, e *astdoc.Expr, imports map[string]bool, g *modgraph.Graph) error {
	head := e.Head
	idx := strings.LastIndex(head, ".")
	if idx < 0 {
		return nil
	}
	mod := head[:idx]
	if mod == f.ModuleID {
		return nil
	}
	if _, ok := g.Infos[mod]; !ok {
		return nil
	}
	if !imports[mod] {
		return errors.WrapReport(errors.New(errors.MOD003, errors.SeverityError, "link",
			"call to "+head+" but "+f.ModuleID+" does not import "+mod, &errors.Loc{Pointer: string(e.Pointer)}))
	}
	info, ok := g.Infos[mod]
	if !ok || !info.Exports[head] {
		return errors.WrapReport(errors.New(errors.MOD006, errors.SeverityError, "link",
			"call to "+head+" is not exported by module "+mod, &errors.Loc{Pointer: string(e.Pointer)}))
	}
	return nil
}
