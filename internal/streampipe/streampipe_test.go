package streampipe

import (
	"strings"
	"testing"

	"github.com/sunholo/x07c/internal/astdoc"
)

func TestElaborateExpandsPipeDescriptor(t *testing.T) {
	f, err := astdoc.Decode([]byte(`{
		"schema_version":"x07ast/0.5.0","kind":"entry","module_id":"main","imports":[],"decls":[],
		"solve": ["std.stream.pipe_v1",
			["cfg.default"],
			"input",
			["chain", ["xform.upper"]],
			["sink.write"]
		]
	}`), 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	files := map[string]*astdoc.AstFile{"main": f}
	if err := Elaborate(files); err != nil {
		t.Fatalf("Elaborate: %v", err)
	}
	if len(f.Decls) != 1 {
		t.Fatalf("expected 1 synthesized decl, got %d", len(f.Decls))
	}
	if !strings.Contains(f.Decls[0].Name, ".__std_stream_pipe_v1_") {
		t.Errorf("synthesized decl name %q missing reserved prefix", f.Decls[0].Name)
	}
	if f.Solve == nil || !f.Solve.IsList || f.Solve.Head != f.Decls[0].Name {
		t.Errorf("solve expression = %+v, want call to synthesized step", f.Solve)
	}
}

func TestElaborateRejectsEmptyChain(t *testing.T) {
	f, err := astdoc.Decode([]byte(`{
		"schema_version":"x07ast/0.5.0","kind":"entry","module_id":"main","imports":[],"decls":[],
		"solve": ["std.stream.pipe_v1", ["cfg.default"], "input", ["chain"], ["sink.write"]]
	}`), 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	err = Elaborate(map[string]*astdoc.AstFile{"main": f})
	if err == nil {
		t.Fatal("expected error for empty chain")
	}
}
