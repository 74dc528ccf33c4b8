package astdoc

import (
	"testing"

	"github.com/sunholo/x07c/internal/errors"
)

func echoEntryJSON() []byte {
	return []byte(`{
		"schema_version": "x07ast/0.5.0",
		"kind": "entry",
		"module_id": "main",
		"imports": [],
		"decls": [],
		"solve": ["view.to_bytes", "input"]
	}`)
}

func TestDecodeEchoProgram(t *testing.T) {
	f, err := Decode(echoEntryJSON(), 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.AstKind != KindEntry {
		t.Errorf("AstKind = %v, want entry", f.AstKind)
	}
	if f.ModuleID != "main" {
		t.Errorf("ModuleID = %q, want main", f.ModuleID)
	}
	if f.Solve == nil || f.Solve.Head != "view.to_bytes" {
		t.Fatalf("Solve = %+v, want head view.to_bytes", f.Solve)
	}
	if len(f.Solve.Args) != 1 || f.Solve.Args[0].Ident != "input" {
		t.Errorf("Solve.Args = %+v", f.Solve.Args)
	}
}

func TestDecodeRejectsNonObject(t *testing.T) {
	_, err := Decode([]byte(`[1,2,3]`), 0)
	if err == nil {
		t.Fatal("expected error for non-object document")
	}
	rep, ok := errors.AsReport(err)
	if !ok || rep.Code != errors.AST001 {
		t.Errorf("got %v, want AST001 report", err)
	}
}

func TestDecodeRejectsUnsupportedSchemaVersion(t *testing.T) {
	_, err := Decode([]byte(`{"schema_version":"x07ast/9.9.9","kind":"entry","module_id":"main","decls":[],"solve":1}`), 0)
	rep, ok := errors.AsReport(err)
	if !ok || rep.Code != errors.AST002 {
		t.Fatalf("got %v, want AST002 report", err)
	}
}

func TestDecodeRejectsBudgetOverrun(t *testing.T) {
	_, err := Decode(echoEntryJSON(), 4)
	rep, ok := errors.AsReport(err)
	if !ok || rep.Code != errors.BUDGET002 {
		t.Fatalf("got %v, want BUDGET002 report", err)
	}
}

func TestCanonicalizeRoundtrip(t *testing.T) {
	canon1, err := Canonicalize(echoEntryJSON(), 0)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	canon2, err := Canonicalize(canon1, 0)
	if err != nil {
		t.Fatalf("Canonicalize (pass 2): %v", err)
	}
	if string(canon1) != string(canon2) {
		t.Errorf("roundtrip mismatch:\n%s\n%s", canon1, canon2)
	}
}

func TestDecodeBrandRequiresBytesLike(t *testing.T) {
	doc := []byte(`{
		"schema_version": "x07ast/0.5.0",
		"kind": "module",
		"module_id": "m",
		"decls": [
			{"decl":"defn","name":"m.f","type_params":[],
			 "params":[{"name":"x","type":"i32","brand":"validated"}],
			 "result":"i32","body":["x"]}
		]
	}`)
	_, err := Decode(doc, 0)
	rep, ok := errors.AsReport(err)
	if !ok || rep.Code != errors.AST005 {
		t.Fatalf("got %v, want AST005 report", err)
	}
}
