package astdoc

import (
	"encoding/json"
	"sort"
)

// Encode serializes an AstFile back to canonical JSON: object keys sorted by
// raw bytes, arrays in their existing order. This is what downstream passes
// hash and what the Roundtrip property (spec §8) re-decodes.
func Encode(f *AstFile) ([]byte, error) {
	doc := map[string]any{
		"schema_version": f.SchemaVersion,
		"kind":           string(f.AstKind),
		"module_id":      f.ModuleID,
	}
	if len(f.Imports) > 0 {
		imports := append([]string(nil), f.Imports...)
		sort.Strings(imports)
		doc["imports"] = imports
	}
	decls := make([]any, 0, len(f.Decls))
	for _, d := range f.Decls {
		decls = append(decls, encodeDecl(d))
	}
	doc["decls"] = decls
	if f.AstKind == KindEntry && f.Solve != nil {
		doc["solve"] = encodeExpr(f.Solve)
	}
	if len(f.Meta) > 0 {
		doc["meta"] = f.Meta
	}
	return marshalSorted(doc)
}

// Canonicalize decodes and re-encodes a document, producing the canonical
// byte form used for hashing and for the Roundtrip testable property.
func Canonicalize(data []byte, maxBytes int) ([]byte, error) {
	f, err := Decode(data, maxBytes)
	if err != nil {
		return nil, err
	}
	return Encode(f)
}

func encodeDecl(d *Decl) map[string]any {
	switch d.Kind {
	case DeclExport:
		names := append([]string(nil), d.Names...)
		return map[string]any{"decl": "export", "names": names}
	case DeclExtern:
		m := map[string]any{
			"decl": "extern", "abi": d.ABI, "name": d.Name, "link_name": d.LinkName,
			"params": encodeParams(d.Params),
		}
		if d.Result != nil {
			m["result"] = encodeTypeRef(d.Result)
		}
		return m
	default:
		tag := "defn"
		if d.Kind == DeclDefAsync {
			tag = "defasync"
		}
		m := map[string]any{
			"decl": tag, "name": d.Name,
			"type_params": encodeTypeParams(d.TypeParams),
			"params":      encodeParams(d.Params),
			"result":      encodeTypeRef(d.Result),
			"body":        encodeExpr(d.Body),
		}
		if d.ResultBrand != nil {
			m["result_brand"] = d.ResultBrand.Name
		}
		if len(d.Requires) > 0 {
			m["requires"] = encodeExprList(d.Requires)
		}
		if len(d.Ensures) > 0 {
			m["ensures"] = encodeExprList(d.Ensures)
		}
		if len(d.Invariant) > 0 {
			m["invariant"] = encodeExprList(d.Invariant)
		}
		return m
	}
}

func encodeParams(params []Param) []any {
	out := make([]any, 0, len(params))
	for _, p := range params {
		m := map[string]any{"name": p.Name, "type": encodeTypeRef(p.Type)}
		if p.Brand != nil {
			m["brand"] = p.Brand.Name
		}
		out = append(out, m)
	}
	return out
}

func encodeTypeParams(tps []TypeParam) []any {
	out := make([]any, 0, len(tps))
	for _, tp := range tps {
		if tp.Bound == "" {
			out = append(out, tp.Name)
		} else {
			out = append(out, map[string]any{"name": tp.Name, "bound": tp.Bound})
		}
	}
	return out
}

func encodeTypeRef(t *TypeRef) any {
	if t == nil {
		return nil
	}
	if t.IsNamed() {
		return t.Named
	}
	if t.IsVar() {
		return []any{"t", t.Var}
	}
	args := make([]any, 0, len(t.Args)+1)
	args = append(args, t.Head)
	for _, a := range t.Args {
		args = append(args, encodeTypeRef(a))
	}
	return args
}

func encodeExprList(exprs []*Expr) []any {
	out := make([]any, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, encodeExpr(e))
	}
	return out
}

func encodeExpr(e *Expr) any {
	if e == nil {
		return nil
	}
	switch {
	case e.IsInt:
		return e.Int
	case e.IsIdent:
		return e.Ident
	case e.HasLiteral:
		return []any{e.Head, string(e.LiteralPayload)}
	case e.IsList:
		out := make([]any, 0, len(e.Args)+1)
		out = append(out, e.Head)
		for _, a := range e.Args {
			out = append(out, encodeExpr(a))
		}
		return out
	default:
		return nil
	}
}

// marshalSorted produces deterministic JSON: Go's json.Marshal already sorts
// map[string]any keys by raw bytes, so a single Marshal call suffices for
// the canonical-JSON requirement in spec §5.
func marshalSorted(v any) ([]byte, error) {
	return json.Marshal(v)
}
