package deadcode

import "github.com/sunholo/x07c/internal/astdoc"
import "testing"

func decode(t *testing.T, doc string) *astdoc.AstFile {
	t.Helper()
	f, err := astdoc.Decode([]byte(doc), 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return f
}

func TestEliminateKeepsOnlyReachable(t *testing.T) {
	main := decode(t, `{"schema_version":"x07ast/0.5.0","kind":"entry","module_id":"main","imports":["lib"],
		"decls":[],"solve":["lib.used"]}`)
	lib := decode(t, `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"lib","imports":[],
		"decls":[
			{"decl":"export","names":["lib.used","lib.unused"]},
			{"decl":"defn","name":"lib.used","type_params":[],"params":[],"result":"i32","body":1},
			{"decl":"defn","name":"lib.unused","type_params":[],"params":[],"result":"i32","body":2}
		]}`)
	files := map[string]*astdoc.AstFile{"main": main, "lib": lib}
	ret := Eliminate(files, "main")
	if !ret.Names["lib.used"] {
		t.Error("expected lib.used to be retained")
	}
	if ret.Names["lib.unused"] {
		t.Error("expected lib.unused to be eliminated")
	}
	if len(ret.Decls) != 1 || ret.Decls[0].Name != "lib.used" {
		t.Fatalf("got %+v", ret.Decls)
	}
}

func TestEliminateFollowsTransitiveCalls(t *testing.T) {
	main := decode(t, `{"schema_version":"x07ast/0.5.0","kind":"entry","module_id":"main","imports":["lib"],
		"decls":[],"solve":["lib.a"]}`)
	lib := decode(t, `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"lib","imports":[],
		"decls":[
			{"decl":"export","names":["lib.a","lib.b"]},
			{"decl":"defn","name":"lib.a","type_params":[],"params":[],"result":"i32","body":["lib.b"]},
			{"decl":"defn","name":"lib.b","type_params":[],"params":[],"result":"i32","body":1}
		]}`)
	files := map[string]*astdoc.AstFile{"main": main, "lib": lib}
	ret := Eliminate(files, "main")
	if !ret.Names["lib.a"] || !ret.Names["lib.b"] {
		t.Errorf("expected both lib.a and lib.b retained, got %+v", ret.Names)
	}
}
