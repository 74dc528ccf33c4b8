// Package streampipe implements the Stream-Pipe Elaborator (spec component
// C7): expanding std.stream.pipe_v1(cfg, src, chain, sink) descriptors into
// ordinary defns with compiler-reserved helper names, each step
// parameterized by the fuel/allocation budgets carried in cfg.
//
// Grounded on the teacher's internal/elaborate package (a pass that lowers
// one high-level construct into several ordinary defns reachable from the
// same call site) and on original_source/crates/x07c/src/compile.rs's
// reserved helper prefix ".__std_stream_pipe_v1_", which this package
// reuses verbatim (exported from internal/linker) so the post-elaboration
// visibility recheck in C3 accepts the synthesized names.
package streampipe

import (
	"fmt"

	"github.com/sunholo/x07c/internal/astdoc"
	"github.com/sunholo/x07c/internal/errors"
	"github.com/sunholo/x07c/internal/linker"
)

// Descriptor is a decoded std.stream.pipe_v1(cfg, src, chain, sink) call
// site: cfg supplies fuel/allocation budgets, chain is the ordered list of
// operator heads to apply between src and sink.
type Descriptor struct {
	Call  *astdoc.Expr
	Cfg   *astdoc.Expr
	Src   *astdoc.Expr
	Chain []*astdoc.Expr
	Sink  *astdoc.Expr
}

// Step is one synthesized helper defn for a chain operator.
type Step struct {
	Decl *astdoc.Decl
}

// Elaborate scans every module for std.stream.pipe_v1 call sites and
// rewrites each one in place into a call to its first synthesized step,
// returning only an error. The chain argument is a list whose head is a
// tag and whose arguments are the operators, e.g. ["chain", ["op"]]. Module
// files are mutated in place: the
// generated decls are appended to f.Decls and, when the call site's
// enclosing defn is exported, nothing further is published — stream-pipe
// helpers are compiler-internal and never exported (spec §4.7, §4.3).
func Elaborate(files map[string]*astdoc.AstFile) error {
	for id, f := range files {
		var newDecls []*astdoc.Decl
		var walk func(e *astdoc.Expr) (*astdoc.Expr, error)
		walk = func(e *astdoc.Expr) (*astdoc.Expr, error) {
			if e == nil || !e.IsList {
				return e, nil
			}
			for i, a := range e.Args {
				rewritten, err := walk(a)
				if err != nil {
					return nil, err
				}
				e.Args[i] = rewritten
			}
			if e.Head != "std.stream.pipe_v1" {
				return e, nil
			}
			desc, err := parseDescriptor(e)
			if err != nil {
				return nil, err
			}
			steps, entryCall, err := lower(id, desc, len(newDecls))
			if err != nil {
				return nil, err
			}
			newDecls = append(newDecls, steps...)
			return entryCall, nil
		}

		for _, d := range f.Decls {
			rewritten, err := walk(d.Body)
			if err != nil {
				return err
			}
			d.Body = rewritten
		}
		rewrittenSolve, err := walk(f.Solve)
		if err != nil {
			return err
		}
		f.Solve = rewrittenSolve
		f.Decls = append(f.Decls, newDecls...)
	}
	return nil
}

func parseDescriptor(e *astdoc.Expr) (*Descriptor, error) {
	if len(e.Args) != 4 {
		return nil, errors.WrapReport(errors.New(errors.PIPE002, errors.SeverityError, "streampipe",
			"std.stream.pipe_v1 requires exactly 4 arguments (cfg, src, chain, sink)", &errors.Loc{Pointer: string(e.Pointer)}))
	}
	cfg, src, chainExpr, sink := e.Args[0], e.Args[1], e.Args[2], e.Args[3]
	if !chainExpr.IsList {
		return nil, errors.WrapReport(errors.New(errors.PIPE002, errors.SeverityError, "streampipe",
			"std.stream.pipe_v1 chain argument must be a list of operators", &errors.Loc{Pointer: string(chainExpr.Pointer)}))
	}
	return &Descriptor{Call: e, Cfg: cfg, Src: src, Chain: chainExpr.Args, Sink: sink}, nil
}

// Default fuel/allocation budgets used when a pipe's cfg argument supplies
// no explicit override (spec §4.7: "parameterized by fuel/allocation
// budgets drawn from cfg" -- a bare `cfg.default` still carries budgets,
// just the package's own defaults rather than call-site-literal ones).
const (
	defaultPipeFuelBudget  int32 = 1_000_000
	defaultPipeAllocBudget int32 = 1_000_000
)

// pipeBudgets reads the fuel/allocation budget pair out of a cfg
// descriptor's own argument list -- `["cfg.make", fuel, max_alloc]` -- so
// two pipe_v1 call sites with different literal cfg arguments elaborate to
// steps carrying different budget parameters. A cfg with fewer than two
// integer arguments (including the bare `["cfg.default"]` form) falls back
// to the package defaults for whichever slot is missing.
func pipeBudgets(cfg *astdoc.Expr) (fuel, maxAlloc int32) {
	fuel, maxAlloc = defaultPipeFuelBudget, defaultPipeAllocBudget
	if cfg == nil || !cfg.IsList {
		return
	}
	if len(cfg.Args) > 0 && cfg.Args[0].IsInt {
		fuel = cfg.Args[0].Int
	}
	if len(cfg.Args) > 1 && cfg.Args[1].IsInt {
		maxAlloc = cfg.Args[1].Int
	}
	return
}

// lower expands a descriptor's chain into one step defn per operator,
// threading fuel/allocation budgets drawn from cfg (spec §4.7), and returns
// the call expression that replaces the original descriptor: a call to the
// first step, which itself calls onward through the chain to the sink.
func lower(moduleID string, desc *Descriptor, stepOffset int) ([]*astdoc.Decl, *astdoc.Expr, error) {
	n := len(desc.Chain)
	if n == 0 {
		return nil, nil, errors.WrapReport(errors.New(errors.PIPE002, errors.SeverityError, "streampipe",
			"std.stream.pipe_v1 chain must not be empty", &errors.Loc{Pointer: string(desc.Call.Pointer)}))
	}

	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("%s%s%d_%d", moduleID, linker.ReservedPipePrefix, stepOffset, i)
	}

	fuel, maxAlloc := pipeBudgets(desc.Cfg)
	params := []astdoc.Param{
		{Name: "acc", Type: &astdoc.TypeRef{Named: "bytes"}},
		{Name: "fuel", Type: &astdoc.TypeRef{Named: "i32"}},
		{Name: "max_alloc", Type: &astdoc.TypeRef{Named: "i32"}},
	}

	var decls []*astdoc.Decl
	for i := n - 1; i >= 0; i-- {
		var next *astdoc.Expr
		if i == n-1 {
			next = desc.Sink
		} else {
			next = callExpr(names[i+1], []*astdoc.Expr{identExpr("acc"), identExpr("fuel"), identExpr("max_alloc")})
		}
		body := callExpr(desc.Chain[i].Head, append(append([]*astdoc.Expr{}, desc.Chain[i].Args...), next))
		decls = append(decls, &astdoc.Decl{
			Kind:   astdoc.DeclDefn,
			Name:   names[i],
			Result: &astdoc.TypeRef{Named: "bytes"},
			Params: params,
			Body:   body,
		})
	}

	entry := callExpr(names[0], []*astdoc.Expr{desc.Src, intExpr(fuel), intExpr(maxAlloc)})
	return decls, entry, nil
}

func callExpr(head string, args []*astdoc.Expr) *astdoc.Expr {
	return &astdoc.Expr{IsList: true, Head: head, Args: args}
}

func identExpr(name string) *astdoc.Expr {
	return &astdoc.Expr{IsIdent: true, Ident: name}
}

func intExpr(v int32) *astdoc.Expr {
	return &astdoc.Expr{IsInt: true, Int: v}
}
