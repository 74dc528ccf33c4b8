package cemit

import (
	"strings"
	"testing"

	"github.com/sunholo/x07c/internal/astdoc"
	"github.com/sunholo/x07c/internal/policy"
	"github.com/sunholo/x07c/testutil"
)

func decl(t *testing.T, doc string) *astdoc.Decl {
	t.Helper()
	f, err := astdoc.Decode([]byte(doc), 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(f.Decls) != 1 {
		t.Fatalf("expected exactly 1 decl, got %d", len(f.Decls))
	}
	return f.Decls[0]
}

func decls(t *testing.T, doc string) []*astdoc.Decl {
	t.Helper()
	f, err := astdoc.Decode([]byte(doc), 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return f.Decls
}

func TestEmitProducesRuntimeHeaderAndFunction(t *testing.T) {
	d := decl(t, `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"main","imports":[],
		"decls":[{"decl":"defn","name":"main.id","type_params":[],
			"params":[{"name":"x","type":"i32"}],"result":"i32","body":"x"}]}`)

	res, err := Emit("main", []*astdoc.Decl{d}, "solve-pure", Options{ContractMode: RuntimeTrap, EntryHead: "main.id"})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !strings.Contains(res.CSource, "typedef struct { uint8_t *data; size_t len; size_t cap; } bytes_t;") {
		t.Error("missing bytes_t runtime type")
	}
	if !strings.Contains(res.CSource, "x07_main_id(ctx_t *ctx, int32_t x07_x)") {
		t.Errorf("missing emitted function signature, got:\n%s", res.CSource)
	}
	if !strings.Contains(res.CSource, "int x07_solve_main(void)") {
		t.Error("missing solve entry point")
	}
	if res.NativeRequires.SchemaVersion == "" {
		t.Error("expected non-empty native-requires schema version")
	}
	if res.NativeRequires.World != "solve-pure" {
		t.Errorf("NativeRequires.World = %q, want solve-pure", res.NativeRequires.World)
	}
}

func TestEmitLowersRequiresAsRuntimeTrap(t *testing.T) {
	d := decl(t, `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"main","imports":[],
		"decls":[{"decl":"defn","name":"main.f","type_params":[],
			"params":[{"name":"x","type":"i32"}],"result":"i32","body":"x",
			"requires":[["gt0", "x"]]}]}`)

	res, err := Emit("main", []*astdoc.Decl{d}, "solve-pure", Options{ContractMode: RuntimeTrap, EntryHead: "main.f"})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !strings.Contains(res.CSource, `x07_trap("requires violated")`) {
		t.Errorf("expected RuntimeTrap lowering of requires clause, got:\n%s", res.CSource)
	}
	if strings.Contains(res.CSource, "__CPROVER_assume") {
		t.Error("RuntimeTrap mode must not emit __CPROVER_assume")
	}
}

func TestEmitLowersContractsAsVerifyBmc(t *testing.T) {
	d := decl(t, `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"main","imports":[],
		"decls":[{"decl":"defn","name":"main.f","type_params":[],
			"params":[{"name":"x","type":"i32"}],"result":"i32","body":"x",
			"requires":[["gt0", "x"]],"ensures":[["gt0", "__result"]]}]}`)

	res, err := Emit("main", []*astdoc.Decl{d}, "solve-pure", Options{ContractMode: VerifyBmc, EntryHead: "main.f"})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !strings.Contains(res.CSource, "__CPROVER_assume(") {
		t.Error("expected __CPROVER_assume for requires in VerifyBmc mode")
	}
	if !strings.Contains(res.CSource, "__CPROVER_assert(") {
		t.Error("expected __CPROVER_assert for ensures in VerifyBmc mode")
	}
}

func TestEmitCollectsNativeRequirements(t *testing.T) {
	d := decl(t, `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"main","imports":[],
		"decls":[{"decl":"defn","name":"main.f","type_params":[],
			"params":[],"result":"bytes","body":["os.process.run_capture_v1"]}]}`)

	res, err := Emit("main", []*astdoc.Decl{d}, "run-os-sandboxed", Options{ContractMode: RuntimeTrap, EntryHead: "main.f"})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(res.NativeRequires.Requires) != 1 || res.NativeRequires.Requires[0].Head != "os.process.run_capture_v1" {
		t.Fatalf("expected 1 native requirement for os.process.run_capture_v1, got %+v", res.NativeRequires.Requires)
	}
}

func TestEmitEnforcesByteBudget(t *testing.T) {
	d := decl(t, `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"main","imports":[],
		"decls":[{"decl":"defn","name":"main.id","type_params":[],
			"params":[{"name":"x","type":"i32"}],"result":"i32","body":"x"}]}`)

	_, err := Emit("main", []*astdoc.Decl{d}, "solve-pure", Options{ContractMode: RuntimeTrap, EntryHead: "main.id", MaxCBytes: 10})
	if err == nil {
		t.Fatal("expected budget error for an unreasonably small MaxCBytes cap")
	}
}

func TestEmitNativeRequiresManifestMatchesGolden(t *testing.T) {
	d := decl(t, `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"main","imports":[],
		"decls":[{"decl":"defn","name":"main.f","type_params":[],
			"params":[],"result":"bytes","body":["os.process.run_capture_v1"]}]}`)

	res, err := Emit("main", []*astdoc.Decl{d}, "run-os-sandboxed", Options{ContractMode: RuntimeTrap, EntryHead: "main.f"})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	testutil.CompareWithGolden(t, "cemit", "native_requires_run_capture", res.NativeRequires)
}

func TestEmitNoMainSuppressesWrapper(t *testing.T) {
	d := decl(t, `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"main","imports":[],
		"decls":[{"decl":"defn","name":"main.id","type_params":[],
			"params":[{"name":"x","type":"i32"}],"result":"i32","body":"x"}]}`)

	res, err := Emit("main", []*astdoc.Decl{d}, "solve-pure", Options{ContractMode: RuntimeTrap, EntryHead: "main.id", NoMain: true})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if strings.Contains(res.CSource, "int main(void)") {
		t.Error("NoMain must suppress the generated main wrapper")
	}
	if !strings.Contains(res.CSource, "int x07_solve_main(void)") {
		t.Error("NoMain must still emit x07_solve_main for the embedder to link against")
	}
}

// TestEmitDeniesProcessSpawnWithoutPolicy covers spec §8 scenario 2: a
// sandboxed program invoking os.process.run_capture_v1 with no policy (or
// one whose process.allow_spawn is false) statically lowers to the 9-byte
// POLICY_DENIED error doc rather than ever attempting to fork/exec.
func TestEmitDeniesProcessSpawnWithoutPolicy(t *testing.T) {
	d := decl(t, `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"main","imports":[],
		"decls":[{"decl":"defn","name":"main.f","type_params":[],
			"params":[],"result":"bytes","body":["os.process.run_capture_v1"]}]}`)

	denyPolicy := policy.Default()
	denyPolicy.Process.Enabled = true
	denyPolicy.Process.AllowSpawn = false

	for name, opts := range map[string]Options{
		"nil policy":  {ContractMode: RuntimeTrap, EntryHead: "main.f"},
		"deny policy": {ContractMode: RuntimeTrap, EntryHead: "main.f", Policy: &denyPolicy},
	} {
		t.Run(name, func(t *testing.T) {
			res, err := Emit("main", []*astdoc.Decl{d}, "run-os-sandboxed", opts)
			if err != nil {
				t.Fatalf("Emit: %v", err)
			}
			if !strings.Contains(res.CSource, "x07_err_doc(ctx, 1)") {
				t.Errorf("expected POLICY_DENIED (code 1) error-doc lowering, got:\n%s", res.CSource)
			}
			if strings.Contains(res.CSource, "fork()") {
				t.Error("a denied policy must never emit the fork/exec helper")
			}
		})
	}
}

// TestEmitAllowsProcessSpawnWithPolicy covers the allow_spawn=true half of
// spec §4.9 supplement 3: a policy that enables process spawning lowers to
// the real fork/exec/capture helper instead of the error doc.
func TestEmitAllowsProcessSpawnWithPolicy(t *testing.T) {
	d := decl(t, `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"main","imports":[],
		"decls":[{"decl":"defn","name":"main.f","type_params":[],
			"params":[{"name":"cmd","type":"bytes_view"}],"result":"bytes",
			"body":["os.process.run_capture_v1","cmd"]}]}`)

	allowPolicy := policy.Default()
	allowPolicy.Process.Enabled = true
	allowPolicy.Process.AllowSpawn = true

	res, err := Emit("main", []*astdoc.Decl{d}, "run-os-sandboxed", Options{
		ContractMode: RuntimeTrap, EntryHead: "main.f", Policy: &allowPolicy,
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !strings.Contains(res.CSource, "x07_os_process_run_capture_v1(ctx") {
		t.Errorf("expected real spawn-helper call site, got:\n%s", res.CSource)
	}
	if !strings.Contains(res.CSource, "static bytes_t x07_os_process_run_capture_v1(ctx_t *ctx, bytes_view_t cmd)") {
		t.Error("expected the spawn helper function definition to be emitted")
	}
	if !strings.Contains(res.CSource, "#include <unistd.h>") {
		t.Error("expected unistd.h to be pulled in for the spawn helper")
	}
}

// TestEmitProcessSpawnUnsupportedOnFreestanding covers the Freestanding x
// Policy interaction: even an allow_spawn=true policy cannot fork/exec on a
// freestanding target with no POSIX process model, so it falls back to a
// distinct UNSUPPORTED_ON_FREESTANDING error doc rather than either
// silently succeeding or reusing the unrelated POLICY_DENIED code.
func TestEmitProcessSpawnUnsupportedOnFreestanding(t *testing.T) {
	d := decl(t, `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"main","imports":[],
		"decls":[{"decl":"defn","name":"main.f","type_params":[],
			"params":[],"result":"bytes","body":["os.process.run_capture_v1"]}]}`)

	allowPolicy := policy.Default()
	allowPolicy.Process.Enabled = true
	allowPolicy.Process.AllowSpawn = true

	res, err := Emit("main", []*astdoc.Decl{d}, "run-os-sandboxed", Options{
		ContractMode: RuntimeTrap, EntryHead: "main.f", Policy: &allowPolicy, Freestanding: true,
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !strings.Contains(res.CSource, "x07_err_doc(ctx, 3)") {
		t.Errorf("expected UNSUPPORTED_ON_FREESTANDING (code 3) error-doc lowering, got:\n%s", res.CSource)
	}
	if strings.Contains(res.CSource, "fork()") {
		t.Error("freestanding output must never emit the POSIX spawn helper")
	}
}

// TestEmitNetHttpRequestAlwaysTraps covers the Open Question from spec §9:
// std.os.net.http_request always lowers to a structured NET_UNIMPLEMENTED
// doc, never a real networking call, regardless of policy or world.
func TestEmitNetHttpRequestAlwaysTraps(t *testing.T) {
	d := decl(t, `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"main","imports":[],
		"decls":[{"decl":"defn","name":"main.f","type_params":[],
			"params":[],"result":"bytes","body":["std.os.net.http_request"]}]}`)

	res, err := Emit("main", []*astdoc.Decl{d}, "run-os-sandboxed", Options{ContractMode: RuntimeTrap, EntryHead: "main.f"})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !strings.Contains(res.CSource, "x07_err_doc(ctx, 2)") {
		t.Errorf("expected NET_UNIMPLEMENTED (code 2) error-doc lowering, got:\n%s", res.CSource)
	}
}

func TestEmitFreestandingDropsLibc(t *testing.T) {
	d := decl(t, `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"main","imports":[],
		"decls":[{"decl":"defn","name":"main.id","type_params":[],
			"params":[{"name":"x","type":"i32"}],"result":"i32","body":"x"}]}`)

	res, err := Emit("main", []*astdoc.Decl{d}, "solve-pure", Options{ContractMode: RuntimeTrap, EntryHead: "main.id", Freestanding: true})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	for _, forbidden := range []string{"#include <stdio.h>", "#include <stdlib.h>", "#include <string.h>", "malloc(", "fprintf(", "fread(", "fwrite("} {
		if strings.Contains(res.CSource, forbidden) {
			t.Errorf("freestanding output must not reference %q, got:\n%s", forbidden, res.CSource)
		}
	}
	if !strings.Contains(res.CSource, "extern void *x07_host_alloc(size_t n);") {
		t.Error("expected a host allocator hook declaration")
	}
	if !strings.Contains(res.CSource, "x07_host_write_metrics(g_ctx.fuel_used") {
		t.Error("expected the solve entry to report metrics via the host hook")
	}
}

// TestEmitExternForwardDeclaresAndCallsFFISymbol covers an allow_ffi defn
// that calls an extern: the extern must lower to a C forward declaration
// with no body and no ctx_t, and call sites must invoke it directly by its
// link_name rather than the usual ctx-prefixed x07_ wrapper convention.
func TestEmitExternForwardDeclaresAndCallsFFISymbol(t *testing.T) {
	ds := decls(t, `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"main","imports":[],
		"decls":[
			{"decl":"extern","abi":"C","name":"main.sqrt_i32","link_name":"c_sqrt_i32",
				"params":[{"name":"x","type":"i32"}],"result":"i32"},
			{"decl":"defn","name":"main.f","type_params":[],
				"params":[{"name":"x","type":"i32"}],"result":"i32","body":["main.sqrt_i32","x"]}
		]}`)

	res, err := Emit("main", ds, "run-os", Options{ContractMode: RuntimeTrap, EntryHead: "main.f"})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !strings.Contains(res.CSource, "extern int32_t c_sqrt_i32(int32_t);") {
		t.Errorf("expected a bare forward declaration for the extern, got:\n%s", res.CSource)
	}
	if !strings.Contains(res.CSource, "c_sqrt_i32(x07_x)") {
		t.Errorf("expected the call site to invoke the link_name directly with no ctx, got:\n%s", res.CSource)
	}
	if strings.Contains(res.CSource, "c_sqrt_i32(ctx") {
		t.Error("extern calls must not be passed ctx_t, unlike ordinary defn calls")
	}
}

// TestEmitExternWithoutLinkNameFallsBackToDerivedSymbol covers an extern
// decl that omits link_name: the forward declaration and its call sites must
// agree on the same derived C identifier.
func TestEmitExternWithoutLinkNameFallsBackToDerivedSymbol(t *testing.T) {
	ds := decls(t, `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"main","imports":[],
		"decls":[
			{"decl":"extern","abi":"C","name":"main.native_id",
				"params":[{"name":"x","type":"i32"}],"result":"i32"},
			{"decl":"defn","name":"main.f","type_params":[],
				"params":[{"name":"x","type":"i32"}],"result":"i32","body":["main.native_id","x"]}
		]}`)

	res, err := Emit("main", ds, "run-os", Options{ContractMode: RuntimeTrap, EntryHead: "main.f"})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !strings.Contains(res.CSource, "extern int32_t x07_main_native_id(int32_t);") {
		t.Errorf("expected a derived forward declaration when link_name is absent, got:\n%s", res.CSource)
	}
	if !strings.Contains(res.CSource, "x07_main_native_id(x07_x)") {
		t.Errorf("expected the call site to agree with the derived declaration, got:\n%s", res.CSource)
	}
}

// TestEmitFSReadWriteLowerToRealStdioHelpers covers the std.fs.read_file_v1
// / write_file_v1 intrinsics (spec §4.4's EnableFS-gated namespace): both
// must lower to real fopen/fread/fwrite helpers on a hosted target, not a
// bare undefined-symbol function call.
func TestEmitFSReadWriteLowerToRealStdioHelpers(t *testing.T) {
	d := decl(t, `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"main","imports":[],
		"decls":[{"decl":"defn","name":"main.f","type_params":[],
			"params":[{"name":"p","type":"bytes_view"},{"name":"c","type":"bytes_view"}],"result":"bytes",
			"body":["begin",["std.fs.read_file_v1","p"],["std.fs.write_file_v1","p","c"]]}]}`)

	res, err := Emit("main", []*astdoc.Decl{d}, "run-os", Options{ContractMode: RuntimeTrap, EntryHead: "main.f"})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !strings.Contains(res.CSource, "static bytes_t x07_std_fs_read_file_v1(ctx_t *ctx, bytes_view_t pathv) {") {
		t.Errorf("expected the read_file_v1 helper definition, got:\n%s", res.CSource)
	}
	if !strings.Contains(res.CSource, "static bytes_t x07_std_fs_write_file_v1(ctx_t *ctx, bytes_view_t pathv, bytes_view_t content) {") {
		t.Errorf("expected the write_file_v1 helper definition, got:\n%s", res.CSource)
	}
	if !strings.Contains(res.CSource, "x07_std_fs_read_file_v1(ctx, x07_p)") {
		t.Errorf("expected the read_file_v1 call site, got:\n%s", res.CSource)
	}
	if !strings.Contains(res.CSource, "fopen(pathbuf,") {
		t.Error("expected a real fopen-based lowering, not a bare call to an undefined symbol")
	}
}

// TestEmitFSPathAllowlistIsBakedInAtCompileTime covers a Policy whose
// fs.allow_paths restricts which prefixes std.fs.read_file_v1 may open: the
// allow-list is known at compile time, so the check is baked directly into
// the generated x07_fs_path_allowed helper rather than deferred to runtime
// policy parsing.
func TestEmitFSPathAllowlistIsBakedInAtCompileTime(t *testing.T) {
	d := decl(t, `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"main","imports":[],
		"decls":[{"decl":"defn","name":"main.f","type_params":[],
			"params":[{"name":"p","type":"bytes_view"}],"result":"bytes",
			"body":["std.fs.read_file_v1","p"]}]}`)

	pol := policy.Default()
	pol.FS.SandboxRoot = "/sandbox"
	pol.FS.AllowPaths = []string{"data/", "tmp/"}

	res, err := Emit("main", []*astdoc.Decl{d}, "run-os-sandboxed", Options{
		ContractMode: RuntimeTrap, EntryHead: "main.f", Policy: &pol,
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !strings.Contains(res.CSource, `strncmp(path, "data/", 5) == 0`) {
		t.Errorf("expected the data/ prefix baked into the allow-path check, got:\n%s", res.CSource)
	}
	if !strings.Contains(res.CSource, `strncmp(path, "tmp/", 4) == 0`) {
		t.Errorf("expected the tmp/ prefix baked into the allow-path check, got:\n%s", res.CSource)
	}
}

// TestEmitFSUnsupportedOnFreestanding covers the Freestanding interaction:
// std.fs.* has no POSIX file API to target without a hosted libc, so it
// lowers to the UNSUPPORTED_ON_FREESTANDING error doc instead of emitting
// fopen/fread calls the freestanding runtime has no way to satisfy.
func TestEmitFSUnsupportedOnFreestanding(t *testing.T) {
	d := decl(t, `{"schema_version":"x07ast/0.5.0","kind":"module","module_id":"main","imports":[],
		"decls":[{"decl":"defn","name":"main.f","type_params":[],
			"params":[{"name":"p","type":"bytes_view"}],"result":"bytes",
			"body":["std.fs.read_file_v1","p"]}]}`)

	res, err := Emit("main", []*astdoc.Decl{d}, "run-os", Options{
		ContractMode: RuntimeTrap, EntryHead: "main.f", Freestanding: true,
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !strings.Contains(res.CSource, "x07_err_doc(ctx, 3)") {
		t.Errorf("expected UNSUPPORTED_ON_FREESTANDING (code 3) error-doc lowering, got:\n%s", res.CSource)
	}
	if strings.Contains(res.CSource, "fopen(") {
		t.Error("freestanding output must never emit the stdio-based fs helpers")
	}
}
