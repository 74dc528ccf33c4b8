// Package modgraph implements the Module Graph Loader (spec component C2):
// deterministic resolution of a program's import closure across an ordered
// list of filesystem roots, with cycle detection and a built-in-module root
// that standalone worlds must not see for the std.world.* namespace.
//
// Grounded on the teacher's internal/module/loader.go (Loader with a cache,
// a load-stack for cycle detection, and structured ModuleError codes),
// adapted from AILANG's surface-syntax resolver to x07c's one-file-per-module
// JSON layout, and on original_source/crates/x07c/src/compile.rs's
// load_module_recursive (DFS "currently-visiting" set, is_builtin handling).
package modgraph

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sunholo/x07c/internal/astdoc"
	"github.com/sunholo/x07c/internal/errors"
	"github.com/sunholo/x07c/internal/worlds"
)

// Info is the per-module bookkeeping the linker (C3) and later passes
// consult: its declared imports, its derived exports, and whether it was
// located in the built-in root rather than user-supplied roots.
type Info struct {
	ModuleID  string
	Imports   []string
	Exports   map[string]bool
	IsBuiltin bool
}

// Graph is the resolved module closure for a compilation: every module
// reachable from the entry file's imports, keyed by module id.
type Graph struct {
	Files map[string]*astdoc.AstFile
	Infos map[string]*Info

	// Order is the module ids in the order they finished loading (children
	// before parents), convenient for passes that want a deterministic
	// bottom-up walk without recomputing a topological sort.
	Order []string
}

// Loader resolves module ids to parsed files across an ordered root list,
// with a dedicated built-in root searched ahead of (or excluded from,
// depending on world) user roots.
type Loader struct {
	Roots       []string
	BuiltinRoot string
	World       worlds.World
	MaxBudget   int

	mu        sync.Mutex
	cache     map[string]loadResult
	visiting  map[string]bool
	fuelUsed  int
}

type loadResult struct {
	file *astdoc.AstFile
	info *Info
}

// NewLoader constructs a Loader for a compilation. maxBudget caps the total
// decoded-node count across every module in the closure (spec §4.1's budget,
// extended across the whole graph rather than one file).
func NewLoader(roots []string, builtinRoot string, world worlds.World, maxBudget int) *Loader {
	return &Loader{
		Roots:       roots,
		BuiltinRoot: builtinRoot,
		World:       world,
		MaxBudget:   maxBudget,
		cache:       make(map[string]loadResult),
		visiting:    make(map[string]bool),
	}
}

// Load resolves the full import closure reachable from entryID and returns
// the assembled Graph, or the first structural error encountered.
func (l *Loader) Load(entryID string) (*Graph, error) {
	if err := l.loadRecursive(entryID); err != nil {
		return nil, err
	}
	g := &Graph{
		Files: make(map[string]*astdoc.AstFile, len(l.cache)),
		Infos: make(map[string]*Info, len(l.cache)),
	}
	for id, r := range l.cache {
		g.Files[id] = r.file
		g.Infos[id] = r.info
	}
	g.Order = l.order()
	return g, nil
}

// LoadEntry seeds the loader's cache with an already-decoded entry document
// (the bytes the CLI was invoked with, decoded once by C1 rather than
// re-read from a module root) and then resolves its import closure the same
// way Load does for a module file located on disk. The entry is keyed in
// the returned Graph under its own module_id (conventionally "main").
func (l *Loader) LoadEntry(file *astdoc.AstFile) (*Graph, error) {
	l.mu.Lock()
	if _, ok := l.cache[file.ModuleID]; !ok {
		exports := make(map[string]bool, len(file.Exports))
		for _, e := range file.Exports {
			exports[e] = true
		}
		l.cache[file.ModuleID] = loadResult{
			file: file,
			info: &Info{
				ModuleID: file.ModuleID,
				Imports:  append([]string(nil), file.Imports...),
				Exports:  exports,
			},
		}
		l.fuelUsed += nodeCount(file)
	}
	l.mu.Unlock()

	for _, dep := range file.Imports {
		if err := l.loadRecursive(dep); err != nil {
			return nil, err
		}
	}

	g := &Graph{
		Files: make(map[string]*astdoc.AstFile, len(l.cache)),
		Infos: make(map[string]*Info, len(l.cache)),
	}
	for id, r := range l.cache {
		g.Files[id] = r.file
		g.Infos[id] = r.info
	}
	g.Order = l.order()
	return g, nil
}

// order reconstructs load-finish order from the cache in a stable way by
// re-running a DFS over the now-fully-populated import graph.
func (l *Loader) order() []string {
	visited := make(map[string]bool, len(l.cache))
	var out []string
	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		if info, ok := l.cache[id]; ok {
			for _, dep := range info.info.Imports {
				visit(dep)
			}
		}
		out = append(out, id)
	}
	ids := make([]string, 0, len(l.cache))
	for id := range l.cache {
		ids = append(ids, id)
	}
	sortStrings(ids)
	for _, id := range ids {
		visit(id)
	}
	return out
}

func sortStrings(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}

func (l *Loader) loadRecursive(moduleID string) error {
	l.mu.Lock()
	if _, ok := l.cache[moduleID]; ok {
		l.mu.Unlock()
		return nil
	}
	if l.visiting[moduleID] {
		l.mu.Unlock()
		return errors.WrapReport(errors.New(errors.LDR002, errors.SeverityError, "load",
			"circular module dependency detected at module "+moduleID, nil))
	}
	l.visiting[moduleID] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.visiting, moduleID)
		l.mu.Unlock()
	}()

	src, isBuiltin, err := l.resolveSource(moduleID)
	if err != nil {
		return err
	}

	file, err := astdoc.Decode(src, 0)
	if err != nil {
		return err
	}
	if file.ModuleID != moduleID {
		return errors.WrapReport(errors.New(errors.MOD005, errors.SeverityError, "load",
			"module file for "+moduleID+" declares module_id "+file.ModuleID, nil))
	}
	if !isBuiltin && worlds.IsStandalone(l.World) {
		if err := forbidInternalOnlyHeads(file); err != nil {
			return err
		}
	}

	l.mu.Lock()
	l.fuelUsed += nodeCount(file)
	overBudget := l.MaxBudget > 0 && l.fuelUsed > l.MaxBudget
	l.mu.Unlock()
	if overBudget {
		return errors.WrapReport(errors.New(errors.BUDGET002, errors.SeverityError, "load",
			"module graph exceeds node budget", nil))
	}

	for _, dep := range file.Imports {
		if err := l.loadRecursive(dep); err != nil {
			return err
		}
	}

	exports := make(map[string]bool, len(file.Exports))
	for _, e := range file.Exports {
		exports[e] = true
	}

	l.mu.Lock()
	l.cache[moduleID] = loadResult{
		file: file,
		info: &Info{ModuleID: moduleID, Imports: append([]string(nil), file.Imports...), Exports: exports, IsBuiltin: isBuiltin},
	}
	l.mu.Unlock()
	return nil
}

// resolveSource searches the built-in root (when the world permits it) and
// then the ordered user roots, returning the first hit. Built-in modules are
// preferred in eval worlds; the std.world.* namespace is forbidden from the
// built-in root in standalone worlds (spec §4.2) so run-os/run-os-sandboxed
// can substitute their own adapter without a naming collision.
func (l *Loader) resolveSource(moduleID string) ([]byte, bool, error) {
	rel := filepath.Join(strings.Split(moduleID, ".")...) + ".x07.json"

	isWorldBuiltin := strings.HasPrefix(moduleID, "std.world.")
	builtinForbidden := isWorldBuiltin && worlds.IsStandalone(l.World)

	if l.BuiltinRoot != "" && !builtinForbidden {
		path := filepath.Join(l.BuiltinRoot, rel)
		if data, err := os.ReadFile(path); err == nil {
			return data, true, nil
		}
	}
	for _, root := range l.Roots {
		path := filepath.Join(root, rel)
		data, err := os.ReadFile(path)
		if err == nil {
			return data, false, nil
		}
	}
	return nil, false, errors.WrapReport(errors.New(errors.LDR001, errors.SeverityError, "load",
		"module "+moduleID+" not found in any root", nil))
}

// forbidInternalOnlyHeads rejects user modules that reference the reserved
// std.world.* built-in root directly in a standalone world (spec §4.2): the
// substitute adapter for run-os/run-os-sandboxed lives under a different
// name and user code must not reach around it.
func forbidInternalOnlyHeads(file *astdoc.AstFile) error {
	for _, imp := range file.Imports {
		if strings.HasPrefix(imp, "std.world.") {
			return errors.WrapReport(errors.New(errors.MOD005, errors.SeverityError, "load",
				"module "+file.ModuleID+" may not import "+imp+" directly", nil))
		}
	}
	return nil
}

func nodeCount(f *astdoc.AstFile) int {
	n := 0
	var walk func(e *astdoc.Expr)
	walk = func(e *astdoc.Expr) {
		if e == nil {
			return
		}
		n++
		for _, a := range e.Args {
			walk(a)
		}
	}
	for _, d := range f.Decls {
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
	walk(f.Solve)
	return n
}
