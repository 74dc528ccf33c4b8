// Package pipeline provides a unified compilation pipeline for x07c,
// wiring components C1-C9 into the single ordered invocation
// spec §2 describes: decode, load the import closure, link, lint,
// typecheck, monomorphize, elaborate stream pipes, re-link, eliminate dead
// code, and emit C.
//
// Grounded on the teacher's internal/pipeline/pipeline.go (a Config/Source/
// Result/Artifacts shape with a PhaseTimings map recording milliseconds per
// stage), adapted from AILANG's single-file-or-module REPL/file split to
// x07c's always-module-graph compilation (every compile resolves an import
// closure, even a program with no imports).
package pipeline

import (
	"os"
	"sort"
	"time"

	"github.com/sunholo/x07c/internal/astdoc"
	"github.com/sunholo/x07c/internal/cemit"
	"github.com/sunholo/x07c/internal/ctypes"
	"github.com/sunholo/x07c/internal/deadcode"
	"github.com/sunholo/x07c/internal/errors"
	"github.com/sunholo/x07c/internal/linker"
	"github.com/sunholo/x07c/internal/lint"
	"github.com/sunholo/x07c/internal/modgraph"
	"github.com/sunholo/x07c/internal/mono"
	"github.com/sunholo/x07c/internal/policy"
	"github.com/sunholo/x07c/internal/streampipe"
	"github.com/sunholo/x07c/internal/worlds"
)

// solveParamName is the identifier the synthesized entry wrapper binds its
// single argument to; every entry `solve` expression refers to its input
// under this name (spec §4.9's length-prefixed input framing).
const solveParamName = "input"

// Config mirrors the core-facing options bundle from spec §6. Only the
// fields C1-C9 actually consult live here; C10 (the sandbox runner) takes
// its own runner.Options built from a policy.Policy at the CLI layer.
type Config struct {
	World        worlds.World
	EnableFS     bool
	EnableRR     bool
	EnableKV     bool
	ModuleRoots  []string
	ArchRoot     string // built-in std.* module root; empty disables it

	// SuppressMain is the negation of spec §6's emit_main (zero value keeps
	// the historical default of emitting `int main`; set true for an
	// embedder that links x07_solve_main into its own main). Freestanding
	// mirrors spec §6's freestanding option directly: drop the libc runtime
	// in favor of host-provided hooks.
	SuppressMain bool
	Freestanding bool
	ContractMode cemit.ContractMode

	// Policy, when set, is consulted by the C Emitter (C9) to statically
	// gate os.process.run_capture_v1 at compile time rather than leaving
	// the sandboxed capability check to the emitted runtime (spec §8
	// scenario 2). nil is appropriate for solve-pure/eval/run-os builds.
	Policy *policy.Policy

	// AllowUnsafe/AllowFFI further restrict (never raise) the world's
	// capability ceiling when set; nil means "use the world's ceiling
	// unmodified" (spec §6: both fields are optional).
	AllowUnsafe *bool
	AllowFFI    *bool

	MaxSourceBytes int
	MaxASTNodes    int
	MaxCBytes      int
	MaxGraphNodes  int
}

// Source is a single compilation's input: either raw entry bytes (the CLI
// already read them) or a path pipeline.Run should read itself.
type Source struct {
	EntryPath  string
	EntryBytes []byte
}

// Artifacts captures the intermediate representations a caller may want to
// inspect (e.g. `x07c check` reports the module count from Graph),
// mirroring the teacher's Artifacts struct.
type Artifacts struct {
	Entry    *astdoc.AstFile
	Graph    *modgraph.Graph
	Linked   *linker.LinkedProgram
	Mono     *mono.Result
	Retained *deadcode.Retained
}

// Result is the pipeline's output: the accumulated diagnostics (possibly
// non-empty even on success, if only warnings survived), the emitted C
// source and native-requires manifest on success, and per-phase timings.
type Result struct {
	Diagnostics    []*errors.Report
	CSource        string
	NativeRequires cemit.NativeRequires
	MonoMap        []mono.Entry
	Artifacts      Artifacts
	PhaseTimings   map[string]int64
}

// Run executes the full C1->C9 pipeline for a single compilation. It
// returns as soon as an error-severity diagnostic or a hard error halts
// lowering (spec §7); result.Diagnostics and result.Artifacts are populated
// with whatever was produced up to that point so CLI collaborators can
// still report partial progress.
func Run(cfg Config, src Source) (Result, error) {
	result := Result{PhaseTimings: make(map[string]int64)}

	timed := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		result.PhaseTimings[name] = time.Since(start).Milliseconds()
		return err
	}

	if !worlds.Valid(cfg.World) {
		rep := errors.New(errors.INTERNAL001, errors.SeverityError, "pipeline",
			"unknown world \""+string(cfg.World)+"\"", nil)
		result.Diagnostics = append(result.Diagnostics, rep)
		return result, errors.WrapReport(rep)
	}
	caps, _ := worlds.Lookup(cfg.World)
	allowUnsafe := caps.AllowUnsafe
	if cfg.AllowUnsafe != nil {
		allowUnsafe = allowUnsafe && *cfg.AllowUnsafe
	}
	allowFFI := caps.AllowFFI
	if cfg.AllowFFI != nil {
		allowFFI = allowFFI && *cfg.AllowFFI
	}

	var entry *astdoc.AstFile
	if err := timed("decode", func() error {
		data := src.EntryBytes
		if data == nil {
			d, rerr := os.ReadFile(src.EntryPath)
			if rerr != nil {
				return rerr
			}
			data = d
		}
		f, derr := astdoc.Decode(data, cfg.MaxSourceBytes)
		if derr != nil {
			return derr
		}
		entry = f
		return nil
	}); err != nil {
		appendIfReport(&result, err)
		return result, err
	}
	result.Artifacts.Entry = entry

	var graph *modgraph.Graph
	if err := timed("load", func() error {
		loader := modgraph.NewLoader(cfg.ModuleRoots, cfg.ArchRoot, cfg.World, cfg.MaxGraphNodes)
		g, lerr := loader.LoadEntry(entry)
		if lerr != nil {
			return lerr
		}
		graph = g
		return nil
	}); err != nil {
		appendIfReport(&result, err)
		return result, err
	}
	result.Artifacts.Graph = graph

	var lp *linker.LinkedProgram
	if err := timed("link", func() error {
		linked, lerr := linker.Link(graph)
		if lerr != nil {
			return lerr
		}
		lp = linked
		return nil
	}); err != nil {
		appendIfReport(&result, err)
		return result, err
	}
	result.Artifacts.Linked = lp

	lintOpts := lint.Options{
		World:       cfg.World,
		AllowUnsafe: allowUnsafe,
		AllowFFI:    allowFFI,
		EnableFS:    cfg.EnableFS,
		EnableRR:    cfg.EnableRR,
		EnableKV:    cfg.EnableKV,
	}
	var lintDiags []*errors.Report
	_ = timed("lint", func() error {
		for _, id := range sortedFileIDs(graph) {
			lintDiags = append(lintDiags, lint.Lint(graph.Files[id], lintOpts)...)
		}
		errors.SortReports(lintDiags)
		return nil
	})
	result.Diagnostics = append(result.Diagnostics, lintDiags...)
	if rep := firstError(lintDiags); rep != nil {
		return result, errors.WrapReport(rep)
	}

	table := ctypes.NewTable()
	for _, id := range sortedFileIDs(graph) {
		f := graph.Files[id]
		for _, d := range f.Decls {
			if isCallable(d) {
				table.Declare(d.Name, d.Params, d.Result)
			}
		}
	}
	checker := ctypes.NewChecker(table)
	var tcDiags []*errors.Report
	_ = timed("typecheck", func() error {
		for _, id := range sortedFileIDs(graph) {
			f := graph.Files[id]
			for _, d := range f.Decls {
				if d.Kind == astdoc.DeclDefn || d.Kind == astdoc.DeclDefAsync {
					tcDiags = append(tcDiags, checker.CheckDecl(d)...)
				}
			}
		}
		errors.SortReports(tcDiags)
		return nil
	})
	result.Diagnostics = append(result.Diagnostics, tcDiags...)
	if rep := firstError(tcDiags); rep != nil {
		return result, errors.WrapReport(rep)
	}

	var monoResult *mono.Result
	if err := timed("monomorphize", func() error {
		mr, merr := mono.Monomorphize(graph.Files)
		if merr != nil {
			return merr
		}
		monoResult = mr
		return nil
	}); err != nil {
		appendIfReport(&result, err)
		return result, err
	}
	for modID, decls := range monoResult.Generated {
		graph.Files[modID].Decls = append(graph.Files[modID].Decls, decls...)
	}
	result.Artifacts.Mono = monoResult
	result.MonoMap = monoResult.MonoMap

	if err := timed("elaborate", func() error {
		return streampipe.Elaborate(graph.Files)
	}); err != nil {
		appendIfReport(&result, err)
		return result, err
	}

	if err := timed("recheck", func() error {
		return linker.Recheck(lp)
	}); err != nil {
		appendIfReport(&result, err)
		return result, err
	}

	// Synthesize the solve wrapper: the entry's `solve` expression is not
	// itself a decl, but C8/C9 operate over callable decls, so it is bound
	// here to a reserved name and typechecked against the same signature
	// table before being folded into the retained set (spec §4.9's "solve
	// entry" reads/writes the length-prefixed frame around exactly this
	// expression).
	solveDecl := &astdoc.Decl{
		Kind: astdoc.DeclDefn,
		Name: entry.ModuleID + ".__solve_entry",
		Params: []astdoc.Param{
			{Name: solveParamName, Type: &astdoc.TypeRef{Named: "bytes_view"}},
		},
		Result: &astdoc.TypeRef{Named: "bytes"},
		Body:   entry.Solve,
	}
	if solveTC := checker.CheckDecl(solveDecl); len(solveTC) > 0 {
		errors.SortReports(solveTC)
		result.Diagnostics = append(result.Diagnostics, solveTC...)
		if rep := firstError(solveTC); rep != nil {
			return result, errors.WrapReport(rep)
		}
	}

	var retained *deadcode.Retained
	_ = timed("deadcode", func() error {
		retained = deadcode.Eliminate(graph.Files, entry.ModuleID)
		if retained.Names == nil {
			retained.Names = make(map[string]bool)
		}
		retained.Names[solveDecl.Name] = true
		retained.Decls = append(retained.Decls, solveDecl)
		sort.Slice(retained.Decls, func(i, j int) bool { return retained.Decls[i].Name < retained.Decls[j].Name })
		return nil
	})
	result.Artifacts.Retained = retained

	contractMode := cfg.ContractMode
	if contractMode == "" {
		contractMode = cemit.RuntimeTrap
	}
	var emitResult *cemit.Result
	if err := timed("emit", func() error {
		er, eerr := cemit.Emit(entry.ModuleID, retained.Decls, string(cfg.World), cemit.Options{
			ContractMode: contractMode,
			MaxCBytes:    cfg.MaxCBytes,
			MaxASTNodes:  cfg.MaxASTNodes,
			EntryHead:    solveDecl.Name,
			NoMain:       cfg.SuppressMain,
			Freestanding: cfg.Freestanding,
			Policy:       cfg.Policy,
		})
		if eerr != nil {
			return eerr
		}
		emitResult = er
		return nil
	}); err != nil {
		appendIfReport(&result, err)
		return result, err
	}
	result.CSource = emitResult.CSource
	result.NativeRequires = emitResult.NativeRequires

	return result, nil
}

func isCallable(d *astdoc.Decl) bool {
	return d.Kind == astdoc.DeclDefn || d.Kind == astdoc.DeclDefAsync || d.Kind == astdoc.DeclExtern
}

func sortedFileIDs(g *modgraph.Graph) []string {
	ids := make([]string, 0, len(g.Files))
	for id := range g.Files {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func firstError(diags []*errors.Report) *errors.Report {
	for _, d := range diags {
		if d.Severity == errors.SeverityError {
			return d
		}
	}
	return nil
}

func appendIfReport(result *Result, err error) {
	if rep, ok := errors.AsReport(err); ok {
		result.Diagnostics = append(result.Diagnostics, rep)
	}
}
