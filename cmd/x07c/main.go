// Command x07c is the compiler CLI: a thin dispatcher over the internal
// pipeline package's C1-C9 compilation and the runner package's C10
// sandboxed execution, one subcommand per spec §6 entry point.
//
// Grounded on the teacher's cmd/ailang/main.go (a single flag-based
// dispatcher switching on os.Args[1], fatih/color for diagnostic output),
// adapted from AILANG's REPL/run/test surface to x07c's decode/link/lint/
// check/build/run/verify/repl commands.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/fatih/color"
	"github.com/peterh/liner"

	"github.com/sunholo/x07c/internal/astdoc"
	"github.com/sunholo/x07c/internal/cemit"
	"github.com/sunholo/x07c/internal/errors"
	"github.com/sunholo/x07c/internal/linker"
	"github.com/sunholo/x07c/internal/lint"
	"github.com/sunholo/x07c/internal/modgraph"
	"github.com/sunholo/x07c/internal/pipeline"
	"github.com/sunholo/x07c/internal/policy"
	"github.com/sunholo/x07c/internal/runner"
	"github.com/sunholo/x07c/internal/worlds"
)

// Version is set by -ldflags at release build time; "dev" covers local
// builds the same way the teacher's cmd/ailang does.
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "decode":
		err = cmdDecode(os.Args[2:])
	case "link":
		err = cmdLink(os.Args[2:])
	case "lint":
		err = cmdLint(os.Args[2:])
	case "check":
		err = cmdCheck(os.Args[2:])
	case "build":
		err = cmdBuild(os.Args[2:])
	case "run":
		err = cmdRun(os.Args[2:])
	case "verify":
		err = cmdVerify(os.Args[2:])
	case "repl":
		err = cmdRepl(os.Args[2:])
	case "version", "-version", "--version":
		fmt.Println("x07c", Version)
		return
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "x07c: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:")+" "+err.Error())
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `x07c - deterministic program-AST compiler

Usage:
  x07c decode <file.x07.json>                 shape-check an AST document
  x07c link <file.x07.json> [--root dir]...   resolve imports and check visibility
  x07c lint <file.x07.json> [options]         run the lint engine, optionally --fix
  x07c check <file.x07.json> [options]        run the full pipeline, discard the C
  x07c build <file.x07.json> [options]        compile to C (full C1-C9 pipeline)
  x07c run <binary> [options]                 execute a compiled solve binary sandboxed
  x07c verify <file.x07.json> [options]       compile with CBMC-targeted contracts
  x07c repl                                   interactive decode/lint/build loop
  x07c version`)
}

// commonFlags holds the options shared across the compile-facing
// subcommands (decode/link/lint/check/build/verify), mirroring spec §6's
// options bundle.
type commonFlags struct {
	world       string
	roots       stringList
	archRoot    string
	enableFS    bool
	enableRR    bool
	enableKV    bool
	allowUnsafe string // "", "true", "false" -- tri-state, parsed below
	allowFFI    string
	maxSrc       int
	maxNodes     int
	maxC         int
	maxGraph     int
	emitMain     *bool
	freestanding bool
}

type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

func registerCommonFlags(fs *flag.FlagSet) *commonFlags {
	cf := &commonFlags{}
	fs.StringVar(&cf.world, "world", string(worlds.SolvePure), "target world: solve-pure, eval, run-os, run-os-sandboxed")
	fs.Var(&cf.roots, "root", "module search root (repeatable)")
	fs.StringVar(&cf.archRoot, "std-root", "", "built-in std.* module root")
	fs.BoolVar(&cf.enableFS, "enable-fs", false, "enable std.fs.* effects")
	fs.BoolVar(&cf.enableRR, "enable-rr", false, "enable record/replay effects")
	fs.BoolVar(&cf.enableKV, "enable-kv", false, "enable std.kv.* effects")
	fs.StringVar(&cf.allowUnsafe, "allow-unsafe", "", "override unsafe capability: true/false (default: world ceiling)")
	fs.StringVar(&cf.allowFFI, "allow-ffi", "", "override FFI capability: true/false (default: world ceiling)")
	fs.IntVar(&cf.maxSrc, "max-source-bytes", 0, "cap on entry document size")
	fs.IntVar(&cf.maxNodes, "max-ast-nodes", envInt("MAX_AST_NODES"), "cap on emitted C's source AST node count")
	fs.IntVar(&cf.maxC, "max-c-bytes", envInt("MAX_C_BYTES"), "cap on emitted C source size")
	fs.IntVar(&cf.maxGraph, "max-graph-nodes", 0, "cap on total decoded nodes across the module graph")
	cf.emitMain = fs.Bool("emit-main", true, "emit a generated int main(void) wrapper")
	fs.BoolVar(&cf.freestanding, "freestanding", false, "drop the libc runtime in favor of host-provided hooks")
	return cf
}

// envInt reads an integer override from the environment, the way the
// teacher's loader construction reads AILANG_PATH/AILANG_STDLIB once at
// entry; 0 (meaning "no cap") if unset or unparsable.
func envInt(name string) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func triState(s string) *bool {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil
	}
	return &v
}

func (cf *commonFlags) toPipelineConfig() pipeline.Config {
	return pipeline.Config{
		World:          worlds.World(cf.world),
		EnableFS:       cf.enableFS,
		EnableRR:       cf.enableRR,
		EnableKV:       cf.enableKV,
		ModuleRoots:    cf.roots,
		ArchRoot:       cf.archRoot,
		AllowUnsafe:    triState(cf.allowUnsafe),
		AllowFFI:       triState(cf.allowFFI),
		MaxSourceBytes: cf.maxSrc,
		MaxASTNodes:    cf.maxNodes,
		MaxCBytes:      cf.maxC,
		MaxGraphNodes:  cf.maxGraph,
		SuppressMain:   cf.emitMain != nil && !*cf.emitMain,
		Freestanding:   cf.freestanding,
	}
}

// printDiagnostics renders a sorted []*errors.Report the way the teacher's
// CLI renders lints: red for errors, yellow for warnings, plain for info.
func printDiagnostics(diags []*errors.Report) {
	for _, d := range diags {
		var label string
		switch d.Severity {
		case errors.SeverityError:
			label = color.RedString("error[%s]", d.Code)
		case errors.SeverityWarn:
			label = color.YellowString("warn[%s]", d.Code)
		default:
			label = color.CyanString("info[%s]", d.Code)
		}
		loc := ""
		if d.Loc != nil && d.Loc.Pointer != "" {
			loc = " at " + d.Loc.Pointer
		}
		fmt.Fprintf(os.Stderr, "%s %s%s: %s\n", label, d.Phase, loc, d.Message)
		for _, n := range d.Notes {
			fmt.Fprintf(os.Stderr, "  note: %s\n", n)
		}
		if d.Fix != nil {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", color.GreenString("quickfix available"), d.Fix.Description)
		}
	}
}

func readEntryBytes(args []string) ([]byte, string, error) {
	if len(args) == 0 {
		return nil, "", fmt.Errorf("missing AST document path")
	}
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	return data, path, nil
}

func cmdDecode(args []string) error {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	maxBytes := fs.Int("max-source-bytes", 0, "cap on document size")
	fs.Parse(args)

	data, path, err := readEntryBytes(fs.Args())
	if err != nil {
		return err
	}
	f, err := astdoc.Decode(data, *maxBytes)
	if err != nil {
		if rep, ok := errors.AsReport(err); ok {
			printDiagnostics([]*errors.Report{rep})
			os.Exit(1)
		}
		return err
	}
	fmt.Printf("%s: schema %s, kind %s, module_id %q, %d decl(s), %d import(s)\n",
		path, f.SchemaVersion, f.AstKind, f.ModuleID, len(f.Decls), len(f.Imports))
	return nil
}

func cmdLink(args []string) error {
	fs := flag.NewFlagSet("link", flag.ExitOnError)
	cf := registerCommonFlags(fs)
	fs.Parse(args)

	data, _, err := readEntryBytes(fs.Args())
	if err != nil {
		return err
	}
	entry, err := astdoc.Decode(data, cf.maxSrc)
	if err != nil {
		return err
	}
	loader := modgraph.NewLoader(cf.roots, cf.archRoot, worlds.World(cf.world), cf.maxGraph)
	graph, err := loader.LoadEntry(entry)
	if err != nil {
		if rep, ok := errors.AsReport(err); ok {
			printDiagnostics([]*errors.Report{rep})
		}
		return err
	}
	if _, err := linker.Link(graph); err != nil {
		if rep, ok := errors.AsReport(err); ok {
			printDiagnostics([]*errors.Report{rep})
		}
		return err
	}
	fmt.Printf("linked %d module(s): %s\n", len(graph.Order), strings.Join(graph.Order, ", "))
	return nil
}

func cmdLint(args []string) error {
	fs := flag.NewFlagSet("lint", flag.ExitOnError)
	cf := registerCommonFlags(fs)
	fix := fs.Bool("fix", false, "apply available quickfixes in place")
	fs.Parse(args)

	data, path, err := readEntryBytes(fs.Args())
	if err != nil {
		return err
	}
	entry, err := astdoc.Decode(data, cf.maxSrc)
	if err != nil {
		return err
	}
	loader := modgraph.NewLoader(cf.roots, cf.archRoot, worlds.World(cf.world), cf.maxGraph)
	graph, err := loader.LoadEntry(entry)
	if err != nil {
		return err
	}
	if _, err := linker.Link(graph); err != nil {
		return err
	}

	caps, _ := worlds.Lookup(worlds.World(cf.world))
	allowUnsafe, allowFFI := caps.AllowUnsafe, caps.AllowFFI
	if v := triState(cf.allowUnsafe); v != nil {
		allowUnsafe = allowUnsafe && *v
	}
	if v := triState(cf.allowFFI); v != nil {
		allowFFI = allowFFI && *v
	}
	opts := lint.Options{
		World:       worlds.World(cf.world),
		AllowUnsafe: allowUnsafe,
		AllowFFI:    allowFFI,
		EnableFS:    cf.enableFS,
		EnableRR:    cf.enableRR,
		EnableKV:    cf.enableKV,
	}
	ids := make([]string, 0, len(graph.Files))
	for id := range graph.Files {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var diags []*errors.Report
	for _, id := range ids {
		diags = append(diags, lint.Lint(graph.Files[id], opts)...)
	}
	errors.SortReports(diags)
	printDiagnostics(diags)

	if *fix {
		// Quickfix patches are pointers into their own module's document, so
		// only the entry file's own diagnostics -- not the whole graph's --
		// are safe to apply to the entry bytes on disk.
		entryDiags := lint.Lint(entry, opts)
		fixed, n, err := applyQuickfixes(data, entryDiags)
		if err != nil {
			return fmt.Errorf("applying quickfixes: %w", err)
		}
		if n > 0 {
			if err := os.WriteFile(path, fixed, 0o644); err != nil {
				return err
			}
			fmt.Printf("applied %d quickfix(es) to %s\n", n, path)
		}
	}

	for _, d := range diags {
		if d.Severity == errors.SeverityError {
			os.Exit(1)
		}
	}
	return nil
}

// applyQuickfixes sequentially applies every diagnostic's RFC-6902 patch to
// doc using github.com/evanphx/json-patch/v5, the library the quickfixes
// are already shaped for (internal/lint's doc comment names it explicitly).
// Patches are applied one at a time so later patch paths, if expressed
// against the post-fix document, still resolve.
func applyQuickfixes(doc []byte, diags []*errors.Report) ([]byte, int, error) {
	applied := 0
	for _, d := range diags {
		if d.Fix == nil || len(d.Fix.Patch) == 0 {
			continue
		}
		opBytes, err := json.Marshal(d.Fix.Patch)
		if err != nil {
			return nil, applied, err
		}
		patch, err := jsonpatch.DecodePatch(opBytes)
		if err != nil {
			return nil, applied, fmt.Errorf("decoding quickfix for %s: %w", d.Code, err)
		}
		next, err := patch.Apply(doc)
		if err != nil {
			// A fix whose path no longer resolves (e.g. a prior fix already
			// removed the node) is skipped rather than treated as fatal.
			continue
		}
		doc = next
		applied++
	}
	return doc, applied, nil
}

func cmdCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	cf := registerCommonFlags(fs)
	fs.Parse(args)

	data, path, err := readEntryBytes(fs.Args())
	if err != nil {
		return err
	}
	// check runs the full pipeline, emission included, so an emit-stage
	// error also fails it; on success the emitted C is discarded.
	result, err := pipeline.Run(cf.toPipelineConfig(), pipeline.Source{EntryBytes: data})
	printDiagnostics(result.Diagnostics)
	if err != nil {
		return err
	}
	fmt.Printf("%s: OK (%d module(s) typechecked)\n", path, len(result.Artifacts.Graph.Files))
	return nil
}

func cmdBuild(args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	cf := registerCommonFlags(fs)
	out := fs.String("o", "", "output .c path (default: stdout)")
	nativeOut := fs.String("native-requires", "", "path to write the native-requires manifest JSON")
	policyPath := fs.String("policy", "", "path to a policy document (JSON or YAML); gates os.process.run_capture_v1 at compile time")
	fs.Parse(args)

	data, _, err := readEntryBytes(fs.Args())
	if err != nil {
		return err
	}
	cfg := cf.toPipelineConfig()
	if *policyPath != "" {
		pdata, err := os.ReadFile(*policyPath)
		if err != nil {
			return err
		}
		pol, err := policy.Parse(pdata)
		if err != nil {
			return err
		}
		cfg.Policy = &pol
	}
	result, err := pipeline.Run(cfg, pipeline.Source{EntryBytes: data})
	printDiagnostics(result.Diagnostics)
	if err != nil {
		return err
	}

	if *out == "" {
		fmt.Print(result.CSource)
	} else if err := os.WriteFile(*out, []byte(result.CSource), 0o644); err != nil {
		return err
	}
	if *nativeOut != "" {
		b, err := json.MarshalIndent(result.NativeRequires, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(*nativeOut, b, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func cmdVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	cf := registerCommonFlags(fs)
	out := fs.String("o", "", "output .c path (default: stdout)")
	fs.Parse(args)

	data, _, err := readEntryBytes(fs.Args())
	if err != nil {
		return err
	}
	cfg := cf.toPipelineConfig()
	cfg.ContractMode = cemit.VerifyBmc
	result, err := pipeline.Run(cfg, pipeline.Source{EntryBytes: data})
	printDiagnostics(result.Diagnostics)
	if err != nil {
		return err
	}
	if *out == "" {
		fmt.Print(result.CSource)
	} else if err := os.WriteFile(*out, []byte(result.CSource), 0o644); err != nil {
		return err
	}
	return nil
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	policyPath := fs.String("policy", "", "path to a policy document (JSON or YAML)")
	inputPath := fs.String("input", "-", "path to the input bytes, or - for stdin")
	timeoutMs := fs.Int64("timeout-ms", 10000, "wall-clock timeout in milliseconds")
	fs.Parse(args)

	binArgs := fs.Args()
	if len(binArgs) == 0 {
		return fmt.Errorf("missing compiled solve binary path")
	}
	binaryPath := binArgs[0]

	pol := policy.Default()
	if *policyPath != "" {
		data, err := os.ReadFile(*policyPath)
		if err != nil {
			return err
		}
		pol, err = policy.Parse(data)
		if err != nil {
			return err
		}
	}

	var input []byte
	var err error
	if *inputPath == "-" {
		input, err = io.ReadAll(os.Stdin)
	} else {
		input, err = os.ReadFile(*inputPath)
	}
	if err != nil {
		return err
	}

	res, err := runner.Run(context.Background(), binaryPath, input, runner.Options{
		Policy:  pol,
		Timeout: time.Duration(*timeoutMs) * time.Millisecond,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "%s run %s\n", color.CyanString("correlation_id"), res.CorrelationID)
	if res.Trap != runner.TrapNone {
		fmt.Fprintf(os.Stderr, "%s %s: %s\n", color.RedString("trap"), res.Trap, res.TrapMsg)
		os.Exit(1)
	}
	os.Stdout.Write(res.Stdout)
	fmt.Fprintf(os.Stderr, "%s fuel=%d heap=%d fs=%d rr=%d kv=%d\n", color.GreenString("metrics"),
		res.Metrics.FuelUsed, res.Metrics.HeapUsed, res.Metrics.FSCalls, res.Metrics.RRCalls, res.Metrics.KVCalls)
	return nil
}

// cmdRepl is a small interactive loop over peterh/liner: each line is
// treated as a path to an AST document (or, prefixed with "!", inline JSON),
// decoded/linted/built against the session's sticky world, and summarized.
// Grounded on the teacher's cmd/ailang REPL command, replacing its
// expression-evaluation loop with x07c's document-compile loop.
func cmdRepl(args []string) error {
	fs := flag.NewFlagSet("repl", flag.ExitOnError)
	cf := registerCommonFlags(fs)
	fs.Parse(args)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	stateDir := os.Getenv("X07_STATE_DIR")
	if stateDir == "" {
		stateDir = os.TempDir()
	}
	historyPath := filepath.Join(stateDir, ".x07c_history")
	if f, err := os.Open(historyPath); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyPath); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Println("x07c repl -- enter a path to an AST document, or !<json> for inline input; Ctrl-D to quit")
	cfg := cf.toPipelineConfig()
	for {
		input, err := line.Prompt("x07c> ")
		if err == io.EOF || err == liner.ErrPromptAborted {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		var src pipeline.Source
		if strings.HasPrefix(input, "!") {
			src = pipeline.Source{EntryBytes: []byte(strings.TrimPrefix(input, "!"))}
		} else {
			src = pipeline.Source{EntryPath: input}
		}
		result, err := pipeline.Run(cfg, src)
		printDiagnostics(result.Diagnostics)
		if err != nil {
			fmt.Fprintln(os.Stderr, color.RedString("compile failed:"), err)
			continue
		}
		fmt.Printf("ok: %d byte(s) of C, %d native requirement(s)\n", len(result.CSource), len(result.NativeRequires.Requires))
	}
}
