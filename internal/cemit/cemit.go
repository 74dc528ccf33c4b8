// Package cemit implements the C Emitter (spec component C9): lowering the
// linked, monomorphized, dead-code-eliminated program to a single
// freestanding C translation unit, plus a native-requires manifest for the
// host toolchain.
//
// Grounded on the teacher's text/template-free string-builder style for
// code generation (internal/eval_harness's report writers build output via
// strings.Builder rather than a template engine) and on
// original_source/crates/x07c's c_emit module's high-level shape: a
// runtime header, one function per retained defn, a solve entry point, and
// a NativeRequires manifest keyed by head names encountered during
// emission.
package cemit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sunholo/x07c/internal/astdoc"
	"github.com/sunholo/x07c/internal/errors"
	"github.com/sunholo/x07c/internal/policy"
)

// ContractMode selects how requires/ensures/invariant clauses lower to C
// (spec §4.9, §6).
type ContractMode string

const (
	RuntimeTrap ContractMode = "RuntimeTrap"
	VerifyBmc   ContractMode = "VerifyBmc"
)

// Options configures emission (spec §6's options bundle, the slice of it
// relevant to C9).
type Options struct {
	ContractMode ContractMode
	MaxCBytes    int
	MaxASTNodes  int
	EntryHead    string // the solve expression's call head, used to name the generated solve() wrapper

	// NoMain suppresses the generated `int main(void)` wrapper around
	// x07_solve_main (spec §6's emit_main=false: the host links
	// x07_solve_main into its own main rather than getting one for free).
	NoMain bool

	// Freestanding drops the libc runtime (malloc/stdio) from the emitted
	// translation unit in favor of host-provided hooks the embedder links
	// in (spec §6's freestanding option), for targets without a hosted C
	// library.
	Freestanding bool

	// Policy is the sandboxed world's data-driven restriction document
	// (spec §3/§6), consulted at emission time (not run time) for the one
	// capability a `run-os-sandboxed` program can statically fail closed
	// on without any runtime policy parsing in the freestanding target:
	// os.process.run_capture_v1's allow_spawn gate (spec §8 scenario 2).
	// nil means "no policy document" (solve-pure/eval/run-os) -- process
	// spawning is then lowered unconditionally deny for sandboxed callers
	// that forgot to supply one, never silently allowed.
	Policy *policy.Policy

	// externSyms maps an extern decl's qualified name to the raw C symbol
	// call sites must invoke (its link_name, or a derived name when absent).
	// Populated internally by Emit from the decl set; callers never set it.
	externSyms map[string]string
}

// Structured error-doc codes (spec §8 scenario 2's "error doc"): a fixed
// 9-byte wire shape, tag(1 byte, 0x00=Err) + code(int32 LE) + reserved
// trailing length(int32 LE, always 0 -- no message payload for these
// codes), written by x07_err_doc in the generated runtime header.
const (
	errCodePolicyDenied      = 1
	errCodeNetUnimplemented  = 2
	errCodeUnsupportedTarget = 3
	errCodeSpawnFailed       = 4
	errCodeFSDenied          = 5
	errCodeFSError           = 6
)

// allowsProcessSpawn reports whether the emitted translation unit may lower
// os.process.run_capture_v1 to a real fork/exec/capture helper: only when
// not freestanding (no POSIX process model to target) and a Policy both
// enables the process namespace and its allow_spawn toggle (spec §8
// scenario 2; spec §4.9 supplement 3).
func (o Options) allowsProcessSpawn() bool {
	return !o.Freestanding && o.Policy != nil && o.Policy.Process.Enabled && o.Policy.Process.AllowSpawn
}

// allowsFS reports whether the emitted translation unit may lower
// std.fs.read_file_v1/write_file_v1 to real POSIX stdio calls: only when
// hosted (freestanding has no file API to target). The world/lint EnableFS
// gate (spec §4.4) has already rejected these heads entirely when FS access
// is not permitted at all, so reaching C9 with one means it is allowed;
// emission here only needs to decide whether the *target* can honor it.
func (o Options) allowsFS() bool {
	return !o.Freestanding
}

// usesHead reports whether any retained decl's body/contracts contains a
// call to head, transitively.
func usesHead(decls []*astdoc.Decl, head string) bool {
	var walk func(e *astdoc.Expr) bool
	walk = func(e *astdoc.Expr) bool {
		if e == nil {
			return false
		}
		if e.IsList && e.Head == head {
			return true
		}
		for _, a := range e.Args {
			if walk(a) {
				return true
			}
		}
		return false
	}
	for _, d := range decls {
		if walk(d.Body) {
			return true
		}
		for _, c := range d.Requires {
			if walk(c) {
				return true
			}
		}
		for _, c := range d.Ensures {
			if walk(c) {
				return true
			}
		}
		for _, c := range d.Invariant {
			if walk(c) {
				return true
			}
		}
	}
	return false
}

// NativeRequires is the structured compile/link requirement manifest (spec
// §4.9): a list of system headers/libraries keyed by the head names that
// triggered them.
type NativeRequires struct {
	SchemaVersion string              `json:"schema_version"`
	World         string              `json:"world,omitempty"`
	Requires      []NativeRequirement `json:"requires"`
}

type NativeRequirement struct {
	Head     string   `json:"head"`
	Headers  []string `json:"headers,omitempty"`
	Libs     []string `json:"libs,omitempty"`
}

// nativeTable maps a handful of well-known extern/os heads to the system
// headers/libraries a C toolchain must supply; unrecognized heads emit no
// requirement (they are assumed to be pure core forms or library-internal
// calls resolved entirely within the emitted translation unit).
var nativeTable = map[string]NativeRequirement{
	"os.process.run_capture_v1": {Headers: []string{"unistd.h", "sys/wait.h"}},
	"std.fs.read_file_v1":       {Headers: []string{"stdio.h"}},
	"std.fs.write_file_v1":      {Headers: []string{"stdio.h"}},
}

// Result is the output of a successful emission.
type Result struct {
	CSource        string
	NativeRequires NativeRequires
	ASTNodeCount   int
}

// Emit lowers retained to a single C translation unit.
func Emit(moduleID string, decls []*astdoc.Decl, world string, opts Options) (*Result, error) {
	needsSpawnHelper := opts.allowsProcessSpawn() && usesHead(decls, "os.process.run_capture_v1")
	needsFSHelpers := opts.allowsFS() && (usesHead(decls, "std.fs.read_file_v1") || usesHead(decls, "std.fs.write_file_v1"))

	externSyms := make(map[string]string)
	for _, d := range decls {
		if d.Kind == astdoc.DeclExtern {
			sym := d.LinkName
			if sym == "" {
				sym = cIdent(d.Name)
			}
			externSyms[d.Name] = sym
		}
	}
	opts.externSyms = externSyms

	var b strings.Builder
	writeRuntimeHeader(&b, opts, needsSpawnHelper, needsFSHelpers)

	seen := make(map[string]bool)
	var reqs []NativeRequirement
	nodeCount := 0

	for _, d := range decls {
		nodeCount += countNodes(d)
		if err := emitDecl(&b, d, opts); err != nil {
			return nil, err
		}
		collectRequirements(d.Body, &reqs, seen)
	}

	writeSolveEntry(&b, opts.EntryHead, opts.Freestanding, opts.NoMain)

	sort.Slice(reqs, func(i, j int) bool { return reqs[i].Head < reqs[j].Head })

	src := b.String()
	if opts.MaxCBytes > 0 && len(src) > opts.MaxCBytes {
		return nil, errors.WrapReport(errors.New(errors.BUDGET001, errors.SeverityError, "emit",
			fmt.Sprintf("emitted C source exceeds %d byte cap (got %d); override with MAX_C_BYTES", opts.MaxCBytes, len(src)), nil))
	}
	if opts.MaxASTNodes > 0 && nodeCount > opts.MaxASTNodes {
		return nil, errors.WrapReport(errors.New(errors.BUDGET002, errors.SeverityError, "emit",
			fmt.Sprintf("AST node count exceeds %d cap (got %d); override with MAX_AST_NODES", opts.MaxASTNodes, nodeCount), nil))
	}

	return &Result{
		CSource: src,
		NativeRequires: NativeRequires{
			SchemaVersion: "x07-native-requires/1",
			World:         world,
			Requires:      reqs,
		},
		ASTNodeCount: nodeCount,
	}, nil
}

func collectRequirements(e *astdoc.Expr, out *[]NativeRequirement, seen map[string]bool) {
	if e == nil || !e.IsList {
		return
	}
	if req, ok := nativeTable[e.Head]; ok && !seen[e.Head] {
		seen[e.Head] = true
		req.Head = e.Head
		*out = append(*out, req)
	}
	for _, a := range e.Args {
		collectRequirements(a, out, seen)
	}
}

func countNodes(d *astdoc.Decl) int {
	n := 0
	var walk func(e *astdoc.Expr)
	walk = func(e *astdoc.Expr) {
		if e == nil {
			return
		}
		n++
		for _, a := range e.Args {
			walk(a)
		}
	}
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
	return n
}

// x07_memcpy is re-implemented rather than pulled from
// string.h when Freestanding is set, so the translation unit has no libc
// symbol dependencies at all beyond the host hooks it declares extern.
const freestandingMemOps = `static void x07_memcpy(void *dst, const void *src, size_t n) {
    uint8_t *d = (uint8_t *)dst;
    const uint8_t *s = (const uint8_t *)src;
    for (size_t i = 0; i < n; i++) d[i] = s[i];
}

`

func writeRuntimeHeader(b *strings.Builder, opts Options, needsSpawnHelper, needsFSHelpers bool) {
	freestanding := opts.Freestanding
	b.WriteString("/* generated by x07c; do not edit by hand */\n")
	if freestanding {
		b.WriteString(`#include <stdint.h>
#include <stddef.h>

/* Freestanding target: no libc. The embedder links these in. */
extern void *x07_host_alloc(size_t n);
extern int x07_host_read_input(uint8_t *buf, size_t max, size_t *out_len);
extern void x07_host_write_output(const uint8_t *data, size_t len);
extern void x07_host_write_metrics(uint64_t fuel_used, uint64_t heap_used, uint64_t fs_calls, uint64_t rr_calls, uint64_t kv_calls);
extern void x07_host_trap(const char *clause);

`)
		b.WriteString(freestandingMemOps)
	} else {
		b.WriteString(`#include <stdint.h>
#include <stddef.h>
#include <stdio.h>
#include <stdlib.h>
#include <string.h>

`)
		if needsSpawnHelper {
			b.WriteString(`#include <unistd.h>
#include <sys/wait.h>

`)
		}
	}

	b.WriteString(`typedef struct { uint8_t *data; size_t len; size_t cap; } bytes_t;
typedef struct { const uint8_t *data; size_t len; } bytes_view_t;

typedef struct {
    uint64_t fuel_used;
    uint64_t heap_used;
    uint64_t fs_calls;
    uint64_t rr_calls;
    uint64_t kv_calls;
} ctx_t;

static ctx_t g_ctx;

`)

	allocExpr := "(uint8_t *)malloc((size_t)n)"
	copyFn := "memcpy"
	if freestanding {
		allocExpr = "(uint8_t *)x07_host_alloc((size_t)n)"
		copyFn = "x07_memcpy"
	}
	fmt.Fprintf(b, `static bytes_t x07_bytes_alloc(ctx_t *ctx, int32_t n) {
    bytes_t b;
    b.data = %s;
    b.len = (size_t)n;
    b.cap = (size_t)n;
    ctx->heap_used += (uint64_t)n;
    return b;
}

static bytes_view_t x07_bytes_view(bytes_t b) {
    bytes_view_t v;
    v.data = b.data;
    v.len = b.len;
    return v;
}

static bytes_t x07_view_to_bytes(ctx_t *ctx, bytes_view_t v) {
    bytes_t b = x07_bytes_alloc(ctx, (int32_t)v.len);
    %s(b.data, v.data, v.len);
    return b;
}

static bytes_t x07_bytes_concat(ctx_t *ctx, bytes_t a, bytes_t b) {
    bytes_t out = x07_bytes_alloc(ctx, (int32_t)(a.len + b.len));
    %s(out.data, a.data, a.len);
    %s(out.data + a.len, b.data, b.len);
    return out;
}

`, allocExpr, copyFn, copyFn, copyFn)

	if freestanding {
		b.WriteString(`static void x07_trap(const char *clause) {
    x07_host_trap(clause);
}

`)
	} else {
		b.WriteString(`static void x07_trap(const char *clause) {
    fprintf(stderr, "{\"trap\":\"%s\"}\n", clause);
    exit(1);
}

`)
	}

	b.WriteString(`/* structured error doc: tag(1B, 0x00=Err) + code(i32 LE) + reserved
 * trailing length(i32 LE, always 0) -- see cemit.Options.Policy. */
static bytes_t x07_err_doc(ctx_t *ctx, int32_t code) {
    bytes_t b = x07_bytes_alloc(ctx, 9);
    b.data[0] = 0x00;
    b.data[1] = (uint8_t)(code & 0xff);
    b.data[2] = (uint8_t)((code >> 8) & 0xff);
    b.data[3] = (uint8_t)((code >> 16) & 0xff);
    b.data[4] = (uint8_t)((code >> 24) & 0xff);
    b.data[5] = 0; b.data[6] = 0; b.data[7] = 0; b.data[8] = 0;
    return b;
}

`)

	if needsSpawnHelper {
		b.WriteString(`/* os.process.run_capture_v1, only emitted when a Policy both enables
 * the process namespace and allow_spawn (spec §4.9 supplement 3). cmd is
 * a NUL-terminated executable path; captured stdout is framed as
 * tag(0x01=Ok) + exit_code(i32 LE) + raw stdout bytes. */
static bytes_t x07_os_process_run_capture_v1(ctx_t *ctx, bytes_view_t cmd) {
    char pathbuf[4096];
    size_t n = cmd.len < sizeof(pathbuf) - 1 ? cmd.len : sizeof(pathbuf) - 1;
    memcpy(pathbuf, cmd.data, n);
    pathbuf[n] = '\0';

    int outpipe[2];
    if (pipe(outpipe) != 0) return x07_err_doc(ctx, 4);
    pid_t pid = fork();
    if (pid < 0) { close(outpipe[0]); close(outpipe[1]); return x07_err_doc(ctx, 4); }
    if (pid == 0) {
        close(outpipe[0]);
        dup2(outpipe[1], 1);
        close(outpipe[1]);
        execl(pathbuf, pathbuf, (char *)NULL);
        _exit(127);
    }
    close(outpipe[1]);

    uint8_t buf[65536];
    size_t total = 0;
    ssize_t got;
    while (total < sizeof(buf) && (got = read(outpipe[0], buf + total, sizeof(buf) - total)) > 0) {
        total += (size_t)got;
    }
    close(outpipe[0]);

    int status = 0;
    waitpid(pid, &status, 0);
    int32_t code = WIFEXITED(status) ? WEXITSTATUS(status) : -1;

    bytes_t out = x07_bytes_alloc(ctx, (int32_t)(total + 5));
    out.data[0] = 0x01;
    out.data[1] = (uint8_t)(code & 0xff);
    out.data[2] = (uint8_t)((code >> 8) & 0xff);
    out.data[3] = (uint8_t)((code >> 16) & 0xff);
    out.data[4] = (uint8_t)((code >> 24) & 0xff);
    memcpy(out.data + 5, buf, total);
    ctx->fs_calls += 1;
    return out;
}

`)
	}

	if needsFSHelpers {
		b.WriteString("static int x07_fs_path_allowed(const char *path) {\n")
		b.WriteString(fsAllowPathChecks(opts.Policy))
		b.WriteString("}\n\n")

		b.WriteString(`/* std.fs.read_file_v1/write_file_v1, only emitted when referenced and the
 * target is hosted (freestanding has no POSIX file API). path is a
 * NUL-terminated relative path checked against x07_fs_path_allowed, which
 * bakes in the compiling Policy's fs.allow_paths prefixes, if any. */
static bytes_t x07_std_fs_read_file_v1(ctx_t *ctx, bytes_view_t pathv) {
    char pathbuf[4096];
    size_t n = pathv.len < sizeof(pathbuf) - 1 ? pathv.len : sizeof(pathbuf) - 1;
    memcpy(pathbuf, pathv.data, n);
    pathbuf[n] = '\0';
    if (!x07_fs_path_allowed(pathbuf)) return x07_err_doc(ctx, 5);

    FILE *f = fopen(pathbuf, "rb");
    if (!f) return x07_err_doc(ctx, 6);
    fseek(f, 0, SEEK_END);
    long sz = ftell(f);
    if (sz < 0) { fclose(f); return x07_err_doc(ctx, 6); }
    fseek(f, 0, SEEK_SET);

    bytes_t out = x07_bytes_alloc(ctx, (int32_t)sz);
    size_t got = fread(out.data, 1, (size_t)sz, f);
    fclose(f);
    if (got != (size_t)sz) return x07_err_doc(ctx, 6);
    ctx->fs_calls += 1;
    return out;
}

static bytes_t x07_std_fs_write_file_v1(ctx_t *ctx, bytes_view_t pathv, bytes_view_t content) {
    char pathbuf[4096];
    size_t n = pathv.len < sizeof(pathbuf) - 1 ? pathv.len : sizeof(pathbuf) - 1;
    memcpy(pathbuf, pathv.data, n);
    pathbuf[n] = '\0';
    if (!x07_fs_path_allowed(pathbuf)) return x07_err_doc(ctx, 5);

    FILE *f = fopen(pathbuf, "wb");
    if (!f) return x07_err_doc(ctx, 6);
    size_t wrote = fwrite(content.data, 1, content.len, f);
    fclose(f);
    if (wrote != content.len) return x07_err_doc(ctx, 6);
    ctx->fs_calls += 1;

    bytes_t out = x07_bytes_alloc(ctx, 5);
    out.data[0] = 0x01;
    out.data[1] = (uint8_t)(wrote & 0xff);
    out.data[2] = (uint8_t)((wrote >> 8) & 0xff);
    out.data[3] = (uint8_t)((wrote >> 16) & 0xff);
    out.data[4] = (uint8_t)((wrote >> 24) & 0xff);
    return out;
}

`)
	}
}

// fsAllowPathChecks generates the body of x07_fs_path_allowed from a
// Policy's fs.allow_paths prefixes, known entirely at compile time: an empty
// or absent list means unrestricted (the sandbox_root/allow_paths document
// was not configured to narrow this build), matching policy.AllowsExec's
// empty-allow-list-means-unrestricted convention for process.exec_allow.
func fsAllowPathChecks(p *policy.Policy) string {
	if p == nil || len(p.FS.AllowPaths) == 0 {
		return "    return 1;\n"
	}
	var sb strings.Builder
	for _, prefix := range p.FS.AllowPaths {
		fmt.Fprintf(&sb, "    if (strncmp(path, %q, %d) == 0) return 1;\n", prefix, len(prefix))
	}
	sb.WriteString("    return 0;\n")
	return sb.String()
}

func emitDecl(b *strings.Builder, d *astdoc.Decl, opts Options) error {
	if d.Kind == astdoc.DeclExtern {
		emitExternDecl(b, d, opts)
		return nil
	}

	cName := cIdent(d.Name)
	resultTy, _ := d.Result.AsMonoTy()
	fmt.Fprintf(b, "static %s %s(ctx_t *ctx", cType(resultTy), cName)
	for _, p := range d.Params {
		ty, _ := p.Type.AsMonoTy()
		fmt.Fprintf(b, ", %s %s", cType(ty), cIdent(p.Name))
	}
	b.WriteString(") {\n")

	for _, clause := range d.Requires {
		emitContract(b, clause, "requires", opts.ContractMode, opts)
	}

	fmt.Fprintf(b, "    %s x07___result = ", cType(resultTy))
	if err := emitExpr(b, d.Body, opts); err != nil {
		return err
	}
	b.WriteString(";\n")

	for _, clause := range d.Ensures {
		emitContract(b, clause, "ensures", opts.ContractMode, opts)
	}
	for _, clause := range d.Invariant {
		emitContract(b, clause, "invariant", opts.ContractMode, opts)
	}
	b.WriteString("    return x07___result;\n")
	b.WriteString("}\n\n")
	return nil
}

// emitExternDecl forward-declares an FFI symbol (spec §4.1's ffi-permissible
// subset: i32, the ptr_* carriers, and iface). Unlike a defn, an extern has
// no body to lower -- the real implementation is linked in separately -- and
// its C signature carries no ctx_t, since the ffi-permissible types are
// already plain C ABI values.
func emitExternDecl(b *strings.Builder, d *astdoc.Decl, opts Options) {
	sym := opts.externSyms[d.Name]
	if sym == "" {
		sym = cIdent(d.Name)
	}
	resultTy, ok := d.Result.AsMonoTy()
	resultC := "void"
	if ok {
		resultC = cExternType(resultTy)
	}
	fmt.Fprintf(b, "extern %s %s(", resultC, sym)
	for i, p := range d.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		ty, _ := p.Type.AsMonoTy()
		b.WriteString(cExternType(ty))
	}
	if len(d.Params) == 0 {
		b.WriteString("void")
	}
	b.WriteString(");\n\n")
}

// cExternType maps a monomorphic type to its C representation in an FFI
// signature, distinct from cType's bytes_t/bytes_view_t runtime carriers
// (not ffi-permissible, so never appear here for a well-formed extern).
func cExternType(t astdoc.Ty) string {
	switch t {
	case astdoc.TyI32:
		return "int32_t"
	case astdoc.TyPtrConstU8:
		return "const uint8_t *"
	case astdoc.TyPtrMutU8:
		return "uint8_t *"
	case astdoc.TyPtrConstVoid:
		return "const void *"
	case astdoc.TyPtrMutVoid:
		return "void *"
	case astdoc.TyPtrConstI32:
		return "const int32_t *"
	case astdoc.TyPtrMutI32:
		return "int32_t *"
	case astdoc.TyIface:
		return "void *"
	default:
		return "void *"
	}
}

func emitContract(b *strings.Builder, clause *astdoc.Expr, kind string, mode ContractMode, opts Options) {
	b.WriteString("    ")
	switch mode {
	case VerifyBmc:
		if kind == "requires" {
			b.WriteString("__CPROVER_assume(")
		} else {
			b.WriteString("__CPROVER_assert(")
		}
		_ = emitExpr(b, clause, opts)
		b.WriteString(", \"contract\");\n")
	default:
		b.WriteString("if (!(")
		_ = emitExpr(b, clause, opts)
		fmt.Fprintf(b, ")) x07_trap(\"%s violated\");\n", kind)
	}
}

func emitExpr(b *strings.Builder, e *astdoc.Expr, opts Options) error {
	if e == nil {
		return errors.WrapReport(errors.New(errors.EMIT001, errors.SeverityError, "emit", "nil expression", nil))
	}
	switch {
	case e.IsInt:
		fmt.Fprintf(b, "%d", e.Int)
		return nil
	case e.IsIdent:
		b.WriteString(cIdent(e.Ident))
		return nil
	case e.HasLiteral:
		fmt.Fprintf(b, "/* literal %q */", string(e.LiteralPayload))
		return nil
	case e.IsList:
		return emitCall(b, e, opts)
	default:
		return errors.WrapReport(errors.New(errors.EMIT001, errors.SeverityError, "emit", "unsupported expression shape", &errors.Loc{Pointer: string(e.Pointer)}))
	}
}

func emitCall(b *strings.Builder, e *astdoc.Expr, opts Options) error {
	switch e.Head {
	case "if":
		b.WriteString("(")
		_ = emitExpr(b, e.Args[0], opts)
		b.WriteString(" ? ")
		_ = emitExpr(b, e.Args[1], opts)
		b.WriteString(" : ")
		_ = emitExpr(b, e.Args[2], opts)
		b.WriteString(")")
		return nil
	case "begin":
		b.WriteString("(")
		for i, a := range e.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			_ = emitExpr(b, a, opts)
		}
		b.WriteString(")")
		return nil
	case "view.to_bytes":
		b.WriteString("x07_view_to_bytes(ctx, ")
		_ = emitExpr(b, e.Args[0], opts)
		b.WriteString(")")
		return nil
	case "bytes.view":
		b.WriteString("x07_bytes_view(")
		_ = emitExpr(b, e.Args[0], opts)
		b.WriteString(")")
		return nil
	case "bytes.concat":
		b.WriteString("x07_bytes_concat(ctx, ")
		_ = emitExpr(b, e.Args[0], opts)
		b.WriteString(", ")
		_ = emitExpr(b, e.Args[1], opts)
		b.WriteString(")")
		return nil
	case "bytes.alloc":
		b.WriteString("x07_bytes_alloc(ctx, ")
		_ = emitExpr(b, e.Args[0], opts)
		b.WriteString(")")
		return nil
	case "std.os.net.http_request":
		// Open Question (spec §9): preserve the legacy trap exactly rather
		// than silently enabling networking, in every world.
		fmt.Fprintf(b, "x07_err_doc(ctx, %d)", errCodeNetUnimplemented)
		return nil
	case "os.process.run_capture_v1":
		if !opts.allowsProcessSpawn() {
			code := errCodePolicyDenied
			if opts.Freestanding && opts.Policy != nil && opts.Policy.Process.Enabled && opts.Policy.Process.AllowSpawn {
				code = errCodeUnsupportedTarget
			}
			fmt.Fprintf(b, "x07_err_doc(ctx, %d)", code)
			return nil
		}
		b.WriteString("x07_os_process_run_capture_v1(ctx")
		for _, a := range e.Args {
			b.WriteString(", ")
			_ = emitExpr(b, a, opts)
		}
		b.WriteString(")")
		return nil
	case "std.fs.read_file_v1":
		if !opts.allowsFS() {
			fmt.Fprintf(b, "x07_err_doc(ctx, %d)", errCodeUnsupportedTarget)
			return nil
		}
		b.WriteString("x07_std_fs_read_file_v1(ctx")
		for _, a := range e.Args {
			b.WriteString(", ")
			_ = emitExpr(b, a, opts)
		}
		b.WriteString(")")
		return nil
	case "std.fs.write_file_v1":
		if !opts.allowsFS() {
			fmt.Fprintf(b, "x07_err_doc(ctx, %d)", errCodeUnsupportedTarget)
			return nil
		}
		b.WriteString("x07_std_fs_write_file_v1(ctx")
		for _, a := range e.Args {
			b.WriteString(", ")
			_ = emitExpr(b, a, opts)
		}
		b.WriteString(")")
		return nil
	default:
		if sym, ok := opts.externSyms[e.Head]; ok {
			// FFI calls carry no ctx_t: the extern's own C signature is
			// already plain C ABI (see emitExternDecl).
			b.WriteString(sym)
			b.WriteString("(")
			for i, a := range e.Args {
				if i > 0 {
					b.WriteString(", ")
				}
				_ = emitExpr(b, a, opts)
			}
			b.WriteString(")")
			return nil
		}
		fmt.Fprintf(b, "%s(ctx", cIdent(e.Head))
		for _, a := range e.Args {
			b.WriteString(", ")
			_ = emitExpr(b, a, opts)
		}
		b.WriteString(")")
		return nil
	}
}

func writeSolveEntry(b *strings.Builder, entryHead string, freestanding, noMain bool) {
	if freestanding {
		fmt.Fprintf(b, `int x07_solve_main(void) {
    uint32_t len = 0;
    size_t got = 0;
    bytes_t probe = x07_bytes_alloc(&g_ctx, 4);
    if (!x07_host_read_input(probe.data, 4, &got) || got != 4) return 1;
    len = ((uint32_t)probe.data[0]) | ((uint32_t)probe.data[1] << 8) |
          ((uint32_t)probe.data[2] << 16) | ((uint32_t)probe.data[3] << 24);
    bytes_t input = x07_bytes_alloc(&g_ctx, (int32_t)len);
    if (len > 0 && (!x07_host_read_input(input.data, (size_t)len, &got) || got != (size_t)len)) return 1;

    bytes_t out = %s(&g_ctx, input);

    x07_host_write_output(out.data, out.len);
    x07_host_write_metrics(g_ctx.fuel_used, g_ctx.heap_used, g_ctx.fs_calls, g_ctx.rr_calls, g_ctx.kv_calls);
    return 0;
}
`, cIdent(entryHead))
	} else {
		fmt.Fprintf(b, `int x07_solve_main(void) {
    uint32_t len = 0;
    if (fread(&len, sizeof(len), 1, stdin) != 1) return 1;
    bytes_t input = x07_bytes_alloc(&g_ctx, (int32_t)len);
    if (len > 0 && fread(input.data, 1, len, stdin) != len) return 1;

    bytes_t out = %s(&g_ctx, input);

    uint32_t outLen = (uint32_t)out.len;
    fwrite(&outLen, sizeof(outLen), 1, stdout);
    if (outLen > 0) fwrite(out.data, 1, outLen, stdout);
    fflush(stdout);

    fprintf(stderr,
        "{\"fuel_used\":%%llu,\"heap_used\":%%llu,\"fs_calls\":%%llu,\"rr_calls\":%%llu,\"kv_calls\":%%llu}\n",
        (unsigned long long)g_ctx.fuel_used, (unsigned long long)g_ctx.heap_used,
        (unsigned long long)g_ctx.fs_calls, (unsigned long long)g_ctx.rr_calls, (unsigned long long)g_ctx.kv_calls);
    return 0;
}
`, cIdent(entryHead))
	}

	if !noMain {
		b.WriteString("\nint main(void) { return x07_solve_main(); }\n")
	}
}

func cIdent(name string) string {
	return "x07_" + strings.ReplaceAll(strings.ReplaceAll(name, ".", "_"), "$", "_")
}

func cType(t astdoc.Ty) string {
	switch t {
	case astdoc.TyI32:
		return "int32_t"
	case astdoc.TyBytes:
		return "bytes_t"
	case astdoc.TyBytesView:
		return "bytes_view_t"
	default:
		return "bytes_t"
	}
}
