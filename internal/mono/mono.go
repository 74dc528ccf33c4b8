// Package mono implements the Monomorphizer (spec component C6):
// specializing every polymorphic defn for each call site's concrete type
// arguments over the closed 19-type universe, producing monomorphic defns
// plus a MonoMap recording the specialization history.
//
// Grounded on the teacher's internal/elaborate package's specialization
// pattern (one pass producing a fresh set of concrete definitions from a
// generic source, keyed by instantiation), adapted to x07c's closed
// universe: because there is no unbounded generic instantiation space,
// specialization always terminates without an explicit depth limit.
package mono

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sunholo/x07c/internal/astdoc"
	"github.com/sunholo/x07c/internal/errors"
)

// Entry is a single row of the MonoMap (spec §4.6): which generic defn, in
// which module, was specialized to which concrete symbol.
type Entry struct {
	Generic      string
	DefModule    string
	Specialized  string
	TypeArgs     []astdoc.Ty
}

// Result is the output of monomorphizing a program: the newly generated
// monomorphic decls per module, and the MonoMap describing how they were
// derived.
type Result struct {
	Generated map[string][]*astdoc.Decl // moduleID -> new decls
	MonoMap   []Entry
}

// call is an observed call site requiring a generic specialization: the
// generic symbol, and the concrete type arguments inferred from the call's
// actual argument expressions.
type call struct {
	generic  string
	typeArgs []astdoc.Ty
}

// Monomorphize walks every module's decls and solve expression looking for
// calls to generic defns, instantiates a concrete copy of each distinct
// (generic, typeArgs) pair encountered, and publishes the specialization
// into the defining module's exports automatically when the generic symbol
// was itself exported (spec §4.6).
func Monomorphize(files map[string]*astdoc.AstFile) (*Result, error) {
	generics := collectGenericDefns(files)

	seen := make(map[string]bool)
	var calls []call
	for _, f := range files {
		collectCalls(f, generics, &calls, seen)
	}
	sort.Slice(calls, func(i, j int) bool {
		return specializedName(calls[i].generic, calls[i].typeArgs) < specializedName(calls[j].generic, calls[j].typeArgs)
	})

	result := &Result{Generated: make(map[string][]*astdoc.Decl)}
	for _, c := range calls {
		gen, ok := generics[c.generic]
		if !ok {
			continue
		}
		if len(c.typeArgs) != len(gen.decl.TypeParams) {
			return nil, errors.WrapReport(errors.New(errors.MONO001, errors.SeverityError, "mono",
				"call to "+c.generic+" did not supply concrete type arguments for all type parameters", nil))
		}
		specName := specializedName(c.generic, c.typeArgs)
		subst := make(map[string]astdoc.Ty, len(gen.decl.TypeParams))
		for i, tp := range gen.decl.TypeParams {
			subst[tp.Name] = c.typeArgs[i]
		}
		specDecl, err := instantiate(gen.decl, specName, subst)
		if err != nil {
			return nil, err
		}
		result.Generated[gen.moduleID] = append(result.Generated[gen.moduleID], specDecl)
		result.MonoMap = append(result.MonoMap, Entry{
			Generic:     c.generic,
			DefModule:   gen.moduleID,
			Specialized: specName,
			TypeArgs:    c.typeArgs,
		})
		if gen.exported {
			f := files[gen.moduleID]
			f.Exports = append(f.Exports, specName)
		}
	}

	sort.Slice(result.MonoMap, func(i, j int) bool { return result.MonoMap[i].Specialized < result.MonoMap[j].Specialized })
	for mod := range result.Generated {
		sort.Slice(result.Generated[mod], func(i, j int) bool { return result.Generated[mod][i].Name < result.Generated[mod][j].Name })
	}
	return result, nil
}

type genericDefn struct {
	decl     *astdoc.Decl
	moduleID string
	exported bool
}

func collectGenericDefns(files map[string]*astdoc.AstFile) map[string]*genericDefn {
	out := make(map[string]*genericDefn)
	for id, f := range files {
		exports := make(map[string]bool, len(f.Exports))
		for _, e := range f.Exports {
			exports[e] = true
		}
		for _, d := range f.Decls {
			if (d.Kind == astdoc.DeclDefn || d.Kind == astdoc.DeclDefAsync) && len(d.TypeParams) > 0 {
				out[d.Name] = &genericDefn{decl: d, moduleID: id, exported: exports[d.Name]}
			}
		}
	}
	return out
}

// collectCalls walks every expression reachable from decls/solve across all
// files and records a call whenever a generic defn's name is invoked with
// argument expressions whose inferred types supply concrete type
// arguments positionally matching the generic's type parameters.
func collectCalls(f *astdoc.AstFile, generics map[string]*genericDefn, out *[]call, seen map[string]bool) {
	var walk func(e *astdoc.Expr)
	walk = func(e *astdoc.Expr) {
		if e == nil || !e.IsList {
			return
		}
		if gen, ok := generics[e.Head]; ok {
			if typeArgs, ok := inferCallTypeArgs(e, gen.decl); ok {
				key := specializedName(e.Head, typeArgs)
				if !seen[key] {
					seen[key] = true
					*out = append(*out, call{generic: e.Head, typeArgs: typeArgs})
				}
			}
		}
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
}

// inferCallTypeArgs derives concrete type arguments for a call site by
// matching the generic defn's declared parameter shapes against the literal
// shape of the call's arguments (int literal -> i32, bytes.lit -> bytes,
// bytes.view_lit -> bytes_view); this is a best-effort positional inference
// sufficient for the closed universe's common instantiation patterns.
func inferCallTypeArgs(call *astdoc.Expr, gen *astdoc.Decl) ([]astdoc.Ty, bool) {
	bound := make(map[string]astdoc.Ty)
	for i, p := range gen.Params {
		if i >= len(call.Args) {
			break
		}
		if !p.Type.IsVar() {
			continue
		}
		ty, ok := literalTy(call.Args[i])
		if !ok {
			continue
		}
		bound[p.Type.Var] = ty
	}
	out := make([]astdoc.Ty, len(gen.TypeParams))
	for i, tp := range gen.TypeParams {
		ty, ok := bound[tp.Name]
		if !ok {
			return nil, false
		}
		out[i] = ty
	}
	return out, true
}

func literalTy(e *astdoc.Expr) (astdoc.Ty, bool) {
	switch {
	case e.IsInt:
		return astdoc.TyI32, true
	case e.HasLiteral && e.Head == "bytes.lit":
		return astdoc.TyBytes, true
	case e.HasLiteral && e.Head == "bytes.view_lit":
		return astdoc.TyBytesView, true
	default:
		return 0, false
	}
}

// instantiate produces a deep copy of gen with every occurrence of a bound
// type variable in params/result/body/contracts replaced by its concrete
// type, and the decl's own name rewritten to the specialized symbol.
func instantiate(gen *astdoc.Decl, specName string, subst map[string]astdoc.Ty) (*astdoc.Decl, error) {
	out := &astdoc.Decl{
		Kind:       gen.Kind,
		Pointer:    gen.Pointer,
		Name:       specName,
		TypeParams: nil,
		Body:       substExpr(gen.Body),
		Requires:   substExprList(gen.Requires),
		Ensures:    substExprList(gen.Ensures),
		Invariant:  substExprList(gen.Invariant),
	}
	for _, p := range gen.Params {
		resolved, err := substType(p.Type, subst)
		if err != nil {
			return nil, err
		}
		out.Params = append(out.Params, astdoc.Param{Name: p.Name, Type: resolved, Brand: p.Brand})
	}
	resolvedResult, err := substType(gen.Result, subst)
	if err != nil {
		return nil, err
	}
	out.Result = resolvedResult
	out.ResultBrand = gen.ResultBrand
	return out, nil
}

func substType(t *astdoc.TypeRef, subst map[string]astdoc.Ty) (*astdoc.TypeRef, error) {
	if t == nil {
		return nil, nil
	}
	if t.IsVar() {
		ty, ok := subst[t.Var]
		if !ok {
			return nil, errors.WrapReport(errors.New(errors.MONO002, errors.SeverityError, "mono",
				"unresolved type variable "+t.Var+" after monomorphization", nil))
		}
		return &astdoc.TypeRef{Named: ty.String()}, nil
	}
	if t.IsApp() {
		args := make([]*astdoc.TypeRef, 0, len(t.Args))
		for _, a := range t.Args {
			resolved, err := substType(a, subst)
			if err != nil {
				return nil, err
			}
			args = append(args, resolved)
		}
		return &astdoc.TypeRef{Head: t.Head, Args: args}, nil
	}
	return &astdoc.TypeRef{Named: t.Named}, nil
}

func substExprList(exprs []*astdoc.Expr) []*astdoc.Expr {
	out := make([]*astdoc.Expr, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, substExpr(e))
	}
	return out
}

// substExpr deep-copies an expression tree (type variables never appear
// inside expressions themselves, only in type positions, so this is a
// structural copy rather than a substitution).
func substExpr(e *astdoc.Expr) *astdoc.Expr {
	if e == nil {
		return nil
	}
	cp := *e
	if e.IsList {
		cp.Args = make([]*astdoc.Expr, len(e.Args))
		for i, a := range e.Args {
			cp.Args[i] = substExpr(a)
		}
	}
	return &cp
}

// specializedName builds a deterministic, collision-resistant name for a
// (generic, typeArgs) instantiation.
func specializedName(generic string, typeArgs []astdoc.Ty) string {
	parts := make([]string, len(typeArgs))
	for i, t := range typeArgs {
		parts[i] = t.String()
	}
	return fmt.Sprintf("%s$%s", generic, strings.Join(parts, "_"))
}
