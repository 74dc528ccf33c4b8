package modgraph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sunholo/x07c/internal/errors"
	"github.com/sunholo/x07c/internal/worlds"
)

func writeModule(t *testing.T, root, id, body string) {
	t.Helper()
	rel := filepath.Join(splitID(id)...) + ".x07.json"
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func splitID(id string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(id); i++ {
		if id[i] == '.' {
			parts = append(parts, id[start:i])
			start = i + 1
		}
	}
	parts = append(parts, id[start:])
	return parts
}

func TestLoadResolvesImportClosure(t *testing.T) {
	root := t.TempDir()
	writeModule(t, root, "a", `{
		"schema_version":"x07ast/0.5.0","kind":"module","module_id":"a",
		"imports":["b"],
		"decls":[{"decl":"export","names":["a.f"]},
			{"decl":"defn","name":"a.f","type_params":[],"params":[],"result":"i32","body":["b.g"]}]
	}`)
	writeModule(t, root, "b", `{
		"schema_version":"x07ast/0.5.0","kind":"module","module_id":"b",
		"imports":[],
		"decls":[{"decl":"export","names":["b.g"]},
			{"decl":"defn","name":"b.g","type_params":[],"params":[],"result":"i32","body":1}]
	}`)

	l := NewLoader([]string{root}, "", worlds.SolvePure, 0)
	g, err := l.Load("a")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(g.Files) != 2 {
		t.Fatalf("want 2 modules loaded, got %d", len(g.Files))
	}
	if !g.Infos["b"].Exports["b.g"] {
		t.Error("expected b.g in b's exports")
	}
}

func TestLoadDetectsCycle(t *testing.T) {
	root := t.TempDir()
	writeModule(t, root, "a", `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"a","imports":["b"],"decls":[]}`)
	writeModule(t, root, "b", `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"b","imports":["a"],"decls":[]}`)

	l := NewLoader([]string{root}, "", worlds.SolvePure, 0)
	_, err := l.Load("a")
	rep, ok := errors.AsReport(err)
	if !ok || rep.Code != errors.LDR002 {
		t.Fatalf("got %v, want LDR002 report", err)
	}
}

func TestLoadMissingModule(t *testing.T) {
	root := t.TempDir()
	l := NewLoader([]string{root}, "", worlds.SolvePure, 0)
	_, err := l.Load("missing")
	rep, ok := errors.AsReport(err)
	if !ok || rep.Code != errors.LDR001 {
		t.Fatalf("got %v, want LDR001 report", err)
	}
}

func TestStandaloneWorldForbidsWorldBuiltinImport(t *testing.T) {
	root := t.TempDir()
	builtin := t.TempDir()
	writeModule(t, builtin, "std.world.clock", `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"std.world.clock","imports":[],"decls":[{"decl":"export","names":["std.world.clock.now"]},{"decl":"defn","name":"std.world.clock.now","type_params":[],"params":[],"result":"i32","body":0}]}`)
	writeModule(t, root, "app", `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"app","imports":["std.world.clock"],"decls":[]}`)

	l := NewLoader([]string{root}, builtin, worlds.RunOS, 0)
	_, err := l.Load("app")
	rep, ok := errors.AsReport(err)
	if !ok || rep.Code != errors.MOD005 {
		t.Fatalf("got %v, want MOD005 report", err)
	}
}
