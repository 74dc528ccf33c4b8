package ctypes

import (
	"testing"

	"github.com/sunholo/x07c/internal/astdoc"
	"github.com/sunholo/x07c/internal/errors"
)

func decodeModule(t *testing.T, doc string) *astdoc.Decl {
	t.Helper()
	f, err := astdoc.Decode([]byte(doc), 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for _, d := range f.Decls {
		if d.Kind == astdoc.DeclDefn || d.Kind == astdoc.DeclDefAsync {
			return d
		}
	}
	t.Fatal("no defn found")
	return nil
}

func TestCheckDeclAcceptsSimpleFunction(t *testing.T) {
	d := decodeModule(t, `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"m","decls":[
		{"decl":"defn","name":"m.f","type_params":[],"params":[{"name":"x","type":"i32"}],"result":"i32","body":"x"}
	]}`)
	table := NewTable()
	reports := NewChecker(table).CheckDecl(d)
	if len(reports) != 0 {
		t.Fatalf("expected no diagnostics, got %+v", reports)
	}
}

func TestCheckDeclRejectsUnboundIdentifier(t *testing.T) {
	d := decodeModule(t, `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"m","decls":[
		{"decl":"defn","name":"m.f","type_params":[],"params":[],"result":"i32","body":"y"}
	]}`)
	reports := NewChecker(NewTable()).CheckDecl(d)
	if len(reports) != 1 || reports[0].Code != errors.TC002 {
		t.Fatalf("got %+v, want a single TC002 report", reports)
	}
}

func TestResultReservedToEnsures(t *testing.T) {
	d := decodeModule(t, `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"m","decls":[
		{"decl":"defn","name":"m.f","type_params":[],"params":[{"name":"x","type":"i32"}],"result":"i32","body":"x",
		 "ensures":[["=","__result","x"]]}
	]}`)
	reports := NewChecker(NewTable()).CheckDecl(d)
	if len(reports) != 0 {
		t.Fatalf("expected ensures clause referencing __result to typecheck, got %+v", reports)
	}
}

func TestResultOutsideEnsuresRejected(t *testing.T) {
	d := decodeModule(t, `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"m","decls":[
		{"decl":"defn","name":"m.f","type_params":[],"params":[{"name":"x","type":"i32"}],"result":"i32","body":"__result"}
	]}`)
	reports := NewChecker(NewTable()).CheckDecl(d)
	if len(reports) != 1 || reports[0].Code != errors.TC004 {
		t.Fatalf("got %+v, want a single TC004 report", reports)
	}
}

func TestIfBranchesMustUnify(t *testing.T) {
	d := decodeModule(t, `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"m","decls":[
		{"decl":"defn","name":"m.f","type_params":[],"params":[{"name":"x","type":"i32"},{"name":"bv","type":"bytes_view"}],
		 "result":"i32","body":["if","x","x","bv"]}
	]}`)
	reports := NewChecker(NewTable()).CheckDecl(d)
	if len(reports) != 1 || reports[0].Code != errors.TC005 {
		t.Fatalf("got %+v, want a single TC005 report", reports)
	}
}
