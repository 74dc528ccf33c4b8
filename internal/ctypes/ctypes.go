// Package ctypes implements the Typechecker / Contract Checker (spec
// component C5): a local Hindley-Milner-like check over the closed
// monomorphic type universe, contract-clause typing, and the __result
// reserved identifier. Brands are not tracked: inference works on plain
// types only, and Sig.Brand is neither set nor consulted by the checker.
//
// Grounded on the teacher's internal/types package for the shape of a
// signature table and unification-style error reporting, adapted from a
// full HM inference engine to a check over a fixed 19-type universe where
// type variables are left opaque until monomorphization (C6) substitutes
// them.
package ctypes

import (
	"github.com/sunholo/x07c/internal/astdoc"
	"github.com/sunholo/x07c/internal/errors"
)

// Sig is a head's recorded signature: parameter types and a result type.
// Builtins and user-defined functions share this table.
type Sig struct {
	Params []astdoc.Ty
	Result astdoc.Ty
	Brand  string // non-empty if Result carries a fixed brand
}

// Table is the central signature table consulted during checking (spec
// §4.5: "every head has a signature recorded in a central table").
type Table struct {
	sigs map[string]Sig
}

// NewTable seeds a Table with the builtin core-form and std.* signatures
// the checker needs to make progress; user defns are added via Declare as
// the program's own decls are discovered.
func NewTable() *Table {
	t := &Table{sigs: make(map[string]Sig)}
	t.seedBuiltins()
	return t
}

func (t *Table) seedBuiltins() {
	b := astdoc.TyBytes
	bv := astdoc.TyBytesView
	i32 := astdoc.TyI32
	t.sigs["view.to_bytes"] = Sig{Params: []astdoc.Ty{bv}, Result: b}
	t.sigs["bytes.view"] = Sig{Params: []astdoc.Ty{b}, Result: bv}
	t.sigs["bytes.subview"] = Sig{Params: []astdoc.Ty{b, i32, i32}, Result: bv}
	t.sigs["bytes.concat"] = Sig{Params: []astdoc.Ty{b, b}, Result: b}
	t.sigs["bytes.alloc"] = Sig{Params: []astdoc.Ty{i32}, Result: b}
	t.sigs["vec_u8.as_view"] = Sig{Params: []astdoc.Ty{astdoc.TyVecU8}, Result: bv}

	// Sandboxed-world intrinsics lowered specially by C9 (cemit): both
	// always produce a structured doc framed as bytes, whatever their
	// argument shape, so only the result type is recorded here -- no
	// Params, so inferCall skips arg-type checking for these heads the
	// way it already does for any head outside this table.
	t.sigs["os.process.run_capture_v1"] = Sig{Result: b}
	t.sigs["std.os.net.http_request"] = Sig{Result: b}

	// std.fs.* intrinsics lowered by C9 against real stdio calls (gated by
	// the world's EnableFS capability at lint time, spec §4.4): both
	// signatures are pinned precisely since their argument shapes are fixed.
	t.sigs["std.fs.read_file_v1"] = Sig{Params: []astdoc.Ty{bv}, Result: b}
	t.sigs["std.fs.write_file_v1"] = Sig{Params: []astdoc.Ty{bv, bv}, Result: b}
}

// Declare records a user-defined function's signature, resolving its
// TypeRefs to the closed universe where possible. Type-parameterized
// signatures (still carrying Var refs) are recorded with TyNever as a
// placeholder; the monomorphizer substitutes concrete types before the
// post-C6 recheck needs an exact signature.
func (t *Table) Declare(qualifiedName string, params []astdoc.Param, result *astdoc.TypeRef) {
	sig := Sig{}
	for _, p := range params {
		ty, ok := p.Type.AsMonoTy()
		if !ok {
			ty = astdoc.TyNever
		}
		sig.Params = append(sig.Params, ty)
	}
	if ty, ok := result.AsMonoTy(); ok {
		sig.Result = ty
	} else {
		sig.Result = astdoc.TyNever
	}
	t.sigs[qualifiedName] = sig
}

// Lookup returns the recorded signature for head, if any.
func (t *Table) Lookup(head string) (Sig, bool) {
	s, ok := t.sigs[head]
	return s, ok
}

// env is the local typing environment: identifier -> type, with __result
// injected only while checking an ensures clause.
type env struct {
	vars map[string]astdoc.Ty
}

func newEnv() *env { return &env{vars: make(map[string]astdoc.Ty)} }

func (e *env) child() *env {
	c := newEnv()
	for k, v := range e.vars {
		c.vars[k] = v
	}
	return c
}

// Checker runs C5 over a single function decl against a shared signature
// Table.
type Checker struct {
	table *Table
}

// NewChecker constructs a Checker bound to table.
func NewChecker(table *Table) *Checker {
	return &Checker{table: table}
}

// maxReportedErrors caps the number of typing diagnostics surfaced before
// truncation (spec §4.5: "a configurable number (<=8)").
const maxReportedErrors = 8

// CheckDecl typechecks a single defn/defasync decl's body and contract
// clauses, returning up to maxReportedErrors diagnostics.
func (c *Checker) CheckDecl(d *astdoc.Decl) []*errors.Report {
	var reports []*errors.Report
	report := func(r *errors.Report) {
		if len(reports) < maxReportedErrors {
			reports = append(reports, r)
		}
	}

	resultTy, _ := d.Result.AsMonoTy()

	e := newEnv()
	for _, p := range d.Params {
		ty, ok := p.Type.AsMonoTy()
		if ok {
			e.vars[p.Name] = ty
		}
	}

	if d.Body != nil {
		bodyTy, err := c.infer(d.Body, e, resultTy, false)
		if err != nil {
			report(err)
		} else if bodyTy != astdoc.TyNever && bodyTy != resultTy {
			report(errors.New(errors.TC006, errors.SeverityError, "typecheck",
				"function "+d.Name+" returns "+bodyTy.String()+", declared result is "+resultTy.String(),
				&errors.Loc{Pointer: string(d.Pointer)}))
		}
	}
	for _, clause := range d.Requires {
		c.checkContractClause(clause, e, &reports, report)
	}
	for _, clause := range d.Ensures {
		ee := e.child()
		ee.vars["__result"] = resultTy
		ty, err := c.infer(clause, ee, astdoc.TyI32, true)
		if err != nil {
			report(err)
			continue
		}
		if ty != astdoc.TyI32 {
			report(errors.New(errors.TC003, errors.SeverityError, "typecheck",
				"ensures clause must be i32", &errors.Loc{Pointer: string(clause.Pointer)}))
		}
	}
	for _, clause := range d.Invariant {
		c.checkContractClause(clause, e, &reports, report)
	}
	return reports
}

func (c *Checker) checkContractClause(clause *astdoc.Expr, e *env, reports *[]*errors.Report, report func(*errors.Report)) {
	ty, err := c.infer(clause, e, astdoc.TyI32, false)
	if err != nil {
		report(err)
		return
	}
	if ty != astdoc.TyI32 {
		report(errors.New(errors.TC003, errors.SeverityError, "typecheck",
			"contract clause must be i32", &errors.Loc{Pointer: string(clause.Pointer)}))
	}
}

// infer walks e, recording a type for every node. expect, when >= 0, is the
// type the caller wants e to unify with (used for "for" bodies and
// "return"); pass -1 to just infer without a target.
func (c *Checker) infer(e *astdoc.Expr, env *env, expect astdoc.Ty, inEnsures bool) (astdoc.Ty, *errors.Report) {
	if e == nil {
		return astdoc.TyNever, nil
	}
	switch {
	case e.IsInt:
		return astdoc.TyI32, nil
	case e.IsIdent:
		if e.Ident == "__result" && !inEnsures {
			return 0, errors.New(errors.TC004, errors.SeverityError, "typecheck",
				"__result used outside ensures", &errors.Loc{Pointer: string(e.Pointer)})
		}
		if ty, ok := env.vars[e.Ident]; ok {
			return ty, nil
		}
		return 0, errors.New(errors.TC002, errors.SeverityError, "typecheck",
			"unbound identifier "+e.Ident, &errors.Loc{Pointer: string(e.Pointer)})
	case e.HasLiteral:
		if e.Head == "bytes.lit" {
			return astdoc.TyBytes, nil
		}
		return astdoc.TyBytesView, nil
	case e.IsList:
		return c.inferList(e, env, expect, inEnsures)
	default:
		return astdoc.TyNever, nil
	}
}

func (c *Checker) inferList(e *astdoc.Expr, env *env, expect astdoc.Ty, inEnsures bool) (astdoc.Ty, *errors.Report) {
	switch e.Head {
	case "if":
		if len(e.Args) != 3 {
			return 0, errors.New(errors.TC005, errors.SeverityError, "typecheck", "if requires 3 arguments", &errors.Loc{Pointer: string(e.Pointer)})
		}
		if _, err := c.infer(e.Args[0], env, astdoc.TyI32, inEnsures); err != nil {
			return 0, err
		}
		thenTy, err := c.infer(e.Args[1], env, expect, inEnsures)
		if err != nil {
			return 0, err
		}
		elseTy, err := c.infer(e.Args[2], env, expect, inEnsures)
		if err != nil {
			return 0, err
		}
		if thenTy != elseTy {
			return 0, errors.New(errors.TC005, errors.SeverityError, "typecheck",
				"if branches do not unify: "+thenTy.String()+" vs "+elseTy.String(), &errors.Loc{Pointer: string(e.Pointer)})
		}
		return thenTy, nil
	case "for":
		if len(e.Args) != 3 {
			return 0, errors.New(errors.TC005, errors.SeverityError, "typecheck", "for requires 3 arguments", &errors.Loc{Pointer: string(e.Pointer)})
		}
		if _, err := c.infer(e.Args[2], env, astdoc.TyI32, inEnsures); err != nil {
			return 0, err
		}
		return astdoc.TyI32, nil
	case "begin":
		var last astdoc.Ty
		for _, a := range e.Args {
			ty, err := c.infer(a, env, -1, inEnsures)
			if err != nil {
				return 0, err
			}
			last = ty
		}
		return last, nil
	case "unsafe":
		var last astdoc.Ty
		for _, a := range e.Args {
			ty, err := c.infer(a, env, -1, inEnsures)
			if err != nil {
				return 0, err
			}
			last = ty
		}
		return last, nil
	case "let":
		if len(e.Args) != 2 {
			return 0, errors.New(errors.TC005, errors.SeverityError, "typecheck", "let requires 2 arguments", &errors.Loc{Pointer: string(e.Pointer)})
		}
		if !e.Args[0].IsIdent {
			return 0, errors.New(errors.TC001, errors.SeverityError, "typecheck", "let binder must be an identifier", &errors.Loc{Pointer: string(e.Pointer)})
		}
		ty, err := c.infer(e.Args[1], env, -1, inEnsures)
		if err != nil {
			return 0, err
		}
		env.vars[e.Args[0].Ident] = ty
		return ty, nil
	case "return":
		if len(e.Args) != 1 {
			return 0, errors.New(errors.TC005, errors.SeverityError, "typecheck", "return requires 1 argument", &errors.Loc{Pointer: string(e.Pointer)})
		}
		return c.infer(e.Args[0], env, expect, inEnsures)
	default:
		return c.inferCall(e, env, inEnsures)
	}
}

func (c *Checker) inferCall(e *astdoc.Expr, env *env, inEnsures bool) (astdoc.Ty, *errors.Report) {
	sig, ok := c.table.Lookup(e.Head)
	if !ok {
		return astdoc.TyI32, nil // unknown head: resolved later by C6/C9; not a typing failure here
	}
	for i, a := range e.Args {
		argTy, err := c.infer(a, env, -1, inEnsures)
		if err != nil {
			return 0, err
		}
		if i < len(sig.Params) && sig.Params[i] != astdoc.TyNever && argTy != sig.Params[i] {
			return 0, errors.New(errors.TC001, errors.SeverityError, "typecheck",
				"argument "+a.Ident+" to "+e.Head+" has type "+argTy.String()+", want "+sig.Params[i].String(),
				&errors.Loc{Pointer: string(e.Pointer)})
		}
	}
	return sig.Result, nil
}
