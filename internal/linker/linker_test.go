package linker

import (
	"testing"

	"github.com/sunholo/x07c/internal/astdoc"
	"github.com/sunholo/x07c/internal/errors"
	"github.com/sunholo/x07c/internal/modgraph"
)

func mustDecode(t *testing.T, doc string) *astdoc.AstFile {
	t.Helper()
	f, err := astdoc.Decode([]byte(doc), 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return f
}

func graphOf(t *testing.T, modules map[string]string) *modgraph.Graph {
	t.Helper()
	g := &modgraph.Graph{Files: map[string]*astdoc.AstFile{}, Infos: map[string]*modgraph.Info{}}
	for id, doc := range modules {
		f := mustDecode(t, doc)
		exports := make(map[string]bool, len(f.Exports))
		for _, e := range f.Exports {
			exports[e] = true
		}
		g.Files[id] = f
		g.Infos[id] = &modgraph.Info{ModuleID: id, Imports: f.Imports, Exports: exports}
	}
	return g
}

func TestLinkAllowsVisibleCrossModuleCall(t *testing.T) {
	g := graphOf(t, map[string]string{
		"a": `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"a","imports":["b"],
			"decls":[{"decl":"export","names":["a.f"]},
				{"decl":"defn","name":"a.f","type_params":[],"params":[],"result":"i32","body":["b.g"]}]}`,
		"b": `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"b","imports":[],
			"decls":[{"decl":"export","names":["b.g"]},
				{"decl":"defn","name":"b.g","type_params":[],"params":[],"result":"i32","body":1}]}`,
	})
	if _, err := Link(g); err != nil {
		t.Fatalf("Link: %v", err)
	}
}

func TestLinkRejectsMismatchedModulePrefix(t *testing.T) {
	g := graphOf(t, map[string]string{
		"a": `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"a","imports":[],
			"decls":[{"decl":"defn","name":"b.f","type_params":[],"params":[],"result":"i32","body":1}]}`,
	})
	_, err := Link(g)
	rep, ok := errors.AsReport(err)
	if !ok || rep.Code != errors.MOD001 {
		t.Fatalf("got %v, want MOD001 report", err)
	}
}

func TestLinkRejectsCallNotImported(t *testing.T) {
	g := graphOf(t, map[string]string{
		"a": `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"a","imports":[],
			"decls":[{"decl":"defn","name":"a.f","type_params":[],"params":[],"result":"i32","body":["b.g"]}]}`,
		"b": `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"b","imports":[],
			"decls":[{"decl":"export","names":["b.g"]},
				{"decl":"defn","name":"b.g","type_params":[],"params":[],"result":"i32","body":1}]}`,
	})
	_, err := Link(g)
	rep, ok := errors.AsReport(err)
	if !ok || rep.Code != errors.MOD003 {
		t.Fatalf("got %v, want MOD003 report", err)
	}
}

func TestLinkRejectsCallNotExported(t *testing.T) {
	g := graphOf(t, map[string]string{
		"a": `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"a","imports":["b"],
			"decls":[{"decl":"defn","name":"a.f","type_params":[],"params":[],"result":"i32","body":["b.g"]}]}`,
		"b": `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"b","imports":[],
			"decls":[{"decl":"defn","name":"b.g","type_params":[],"params":[],"result":"i32","body":1}]}`,
	})
	_, err := Link(g)
	rep, ok := errors.AsReport(err)
	if !ok || rep.Code != errors.MOD006 {
		t.Fatalf("got %v, want MOD006 report", err)
	}
}

func TestLinkRejectsDuplicateGlobalName(t *testing.T) {
	g := graphOf(t, map[string]string{
		"a": `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"a","imports":[],
			"decls":[
				{"decl":"defn","name":"a.f","type_params":[],"params":[],"result":"i32","body":1},
				{"decl":"defasync","name":"a.f","type_params":[],"params":[],"result":"i32","body":2}
			]}`,
	})
	_, err := Link(g)
	rep, ok := errors.AsReport(err)
	if !ok || rep.Code != errors.MOD004 {
		t.Fatalf("got %v, want MOD004 report", err)
	}
}

func TestLinkRejectsReservedPipeName(t *testing.T) {
	g := graphOf(t, map[string]string{
		"a": `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"a","imports":[],
			"decls":[{"decl":"defn","name":"a.__std_stream_pipe_v1_step0","type_params":[],"params":[],"result":"i32","body":1}]}`,
	})
	_, err := Link(g)
	if err == nil {
		t.Fatal("expected rejection of reserved pipe helper name")
	}
}
