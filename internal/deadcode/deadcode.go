// Package deadcode implements the Dead-Code Eliminator (spec component
// C8): computing the reachability closure from the entry solve expression
// and retaining only defns, async defns, and externs transitively called
// from it, sorted by name for deterministic output.
//
// Grounded on the teacher's internal/planning package's reachability-style
// pruning pass, generalized from a single-module closure to x07c's
// cross-module call graph (collected via modgraph.Graph).
package deadcode

import (
	"sort"

	"github.com/sunholo/x07c/internal/astdoc"
)

// Retained is the reachability result: the set of fully-qualified decl
// names still live across all modules, and a flattened list of the decls
// themselves, sorted by name, ready for emission.
type Retained struct {
	Names map[string]bool // fully-qualified name -> retained
	Decls []*astdoc.Decl  // sorted by name, across all modules
}

// Eliminate computes the reachability closure from entry's solve
// expression across every file in files, keyed by module id, and returns
// the retained set.
func Eliminate(files map[string]*astdoc.AstFile, entryModuleID string) *Retained {
	byName := make(map[string]*astdoc.Decl)
	for _, f := range files {
		for _, d := range f.Decls {
			if d.Kind == astdoc.DeclDefn || d.Kind == astdoc.DeclDefAsync || d.Kind == astdoc.DeclExtern {
				byName[d.Name] = d
			}
		}
	}

	reachable := make(map[string]bool)
	var visit func(name string)
	visit = func(name string) {
		if reachable[name] {
			return
		}
		d, ok := byName[name]
		if !ok {
			return
		}
		reachable[name] = true
		var walk func(e *astdoc.Expr)
		walk = func(e *astdoc.Expr) {
			if e == nil {
				return
			}
			if e.IsList {
				if _, ok := byName[e.Head]; ok {
					visit(e.Head)
				}
				for _, a := range e.Args {
					walk(a)
				}
			}
		}
		walk(d.Body)
		for _, c := range d.Requires {
			walk(c)
		}
		for _, c := range d.Ensures {
			walk(c)
		}
		for _, c := range d.Invariant {
			walk(c)
		}
	}

	entry, ok := files[entryModuleID]
	if !ok || entry.Solve == nil {
		return &Retained{Names: reachable}
	}
	var walkSolve func(e *astdoc.Expr)
	walkSolve = func(e *astdoc.Expr) {
		if e == nil || !e.IsList {
			return
		}
		if _, ok := byName[e.Head]; ok {
			visit(e.Head)
		}
		for _, a := range e.Args {
			walkSolve(a)
		}
	}
	walkSolve(entry.Solve)

	var decls []*astdoc.Decl
	for name := range reachable {
		decls = append(decls, byName[name])
	}
	sort.Slice(decls, func(i, j int) bool { return decls[i].Name < decls[j].Name })

	return &Retained{Names: reachable, Decls: decls}
}
