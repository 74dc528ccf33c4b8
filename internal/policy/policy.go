// Package policy implements the data-driven Policy document (spec §3/§6):
// a further restriction layered on top of a World's capability ceiling,
// applied only in sandboxed worlds, enforced both at compile time (the
// language toggles) and at run time (resource limits, allow-lists).
//
// Grounded on the teacher's internal/effects/net.go (secure-defaults struct
// + allow-lists) and internal/effects/fs.go (sandbox-root restriction),
// generalized from runtime-only enforcement to a schema-validated document
// the linter and the runner can both consult.
package policy

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Limits is the resource-limit subset of a Policy. The runner (C10) applies
// CPUMs, MemBytes, FDs, Procs and CoreDumps via per-platform setrlimit before
// exec; WallMs is validated here but not read by the runner, whose
// wall-clock deadline is runner.Options.Timeout.
type Limits struct {
	CPUMs      int64 `json:"cpu_ms" yaml:"cpu_ms"`
	WallMs     int64 `json:"wall_ms" yaml:"wall_ms"`
	MemBytes   int64 `json:"mem_bytes" yaml:"mem_bytes"`
	FDs        int64 `json:"fds" yaml:"fds"`
	Procs      int64 `json:"procs" yaml:"procs"`
	CoreDumps  bool  `json:"core_dumps" yaml:"core_dumps"`
}

// FS restricts filesystem effects to a sandbox root and an allow-list of
// relative path prefixes.
type FS struct {
	SandboxRoot string   `json:"sandbox_root" yaml:"sandbox_root"`
	AllowPaths  []string `json:"allow_paths,omitempty" yaml:"allow_paths,omitempty"`
}

// Net restricts outbound network effects (currently unused at run time per
// the Open Question in spec §9 — std.os.net.http_request always traps —
// but still schema-validated so policy documents written for a future
// networking world fail closed rather than silently passing through).
type Net struct {
	AllowedDomains []string `json:"allowed_domains,omitempty" yaml:"allowed_domains,omitempty"`
	AllowHTTP      bool     `json:"allow_http" yaml:"allow_http"`
}

// Env lists environment variable names for the child process. The runner
// does not apply it: the child inherits the runner's full environment.
type Env struct {
	Allow []string `json:"allow,omitempty" yaml:"allow,omitempty"`
}

// Time restricts clock/seed determinism toggles.
type Time struct {
	Seed int64 `json:"seed" yaml:"seed"`
}

// Process gates spawning of further child processes (spec §4.9 supplement,
// grounded on original_source's allow_spawn/max_spawns/exec allow-list).
type Process struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	AllowSpawn bool     `json:"allow_spawn" yaml:"allow_spawn"`
	MaxSpawns  int      `json:"max_spawns" yaml:"max_spawns"`
	ExecAllow  []string `json:"exec_allow,omitempty" yaml:"exec_allow,omitempty"`
}

// Language toggles the compile-time capability ceiling a Policy may impose
// in addition to (never beyond) the world's own ceiling.
type Language struct {
	AllowUnsafe bool `json:"allow_unsafe" yaml:"allow_unsafe"`
	AllowFFI    bool `json:"allow_ffi" yaml:"allow_ffi"`
}

// Policy is the full data model from spec §3.
type Policy struct {
	Limits   Limits   `json:"limits" yaml:"limits"`
	FS       FS       `json:"fs" yaml:"fs"`
	Net      Net      `json:"net" yaml:"net"`
	Env      Env      `json:"env" yaml:"env"`
	Time     Time     `json:"time" yaml:"time"`
	Process  Process  `json:"process" yaml:"process"`
	Language Language `json:"language" yaml:"language"`
	Threads  int      `json:"threads" yaml:"threads"`
}

// Default returns a conservative, deny-by-default policy: no unsafe/ffi, no
// process spawning, a 1-second CPU / 2-second wall budget.
func Default() Policy {
	return Policy{
		Limits: Limits{CPUMs: 1000, WallMs: 2000, MemBytes: 256 << 20, FDs: 32, Procs: 1, CoreDumps: false},
		Process: Process{Enabled: false, AllowSpawn: false, MaxSpawns: 0},
	}
}

// Parse validates and decodes a policy document from either JSON or YAML
// bytes (both accepted since YAML is a JSON superset and the teacher's own
// manifest tooling round-trips both, per gopkg.in/yaml.v3 usage). Unknown
// keys are rejected via yaml.v3's KnownFields-equivalent strict decode.
func Parse(data []byte) (Policy, error) {
	var p Policy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Policy{}, fmt.Errorf("invalid policy document: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks internal consistency beyond what strict decoding catches.
func (p Policy) Validate() error {
	if p.Limits.CPUMs < 0 || p.Limits.WallMs < 0 || p.Limits.MemBytes < 0 {
		return fmt.Errorf("policy: limits must be non-negative")
	}
	if p.Process.AllowSpawn && !p.Process.Enabled {
		return fmt.Errorf("policy: process.allow_spawn requires process.enabled")
	}
	if p.Process.MaxSpawns < 0 {
		return fmt.Errorf("policy: process.max_spawns must be non-negative")
	}
	return nil
}

// AllowsExec reports whether a child-process path is permitted by the
// process exec allow-list — a prefix match against each configured entry,
// matching original_source's sandboxed-exec allow-list tests.
func (p Policy) AllowsExec(path string) bool {
	if !p.Process.Enabled || !p.Process.AllowSpawn {
		return false
	}
	if len(p.Process.ExecAllow) == 0 {
		return true
	}
	for _, prefix := range p.Process.ExecAllow {
		if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
