// Package worlds implements the capability side of spec §3/§4: mapping a
// named World to the fixed capability record that the Lint Engine (C4) and
// the C Emitter (C9) gate against.
//
// This is grounded on the teacher's effect-capability model
// (internal/effects/capability.go, internal/effects/context.go) generalized
// from a runtime-granted capability set to a compile-time, world-indexed one:
// x07c worlds are closed and known at compile time rather than granted
// dynamically, so there is no Grant/Revoke API here — only a lookup table.
package worlds

// World is the closed enum of build targets (spec §3/GLOSSARY).
type World string

const (
	SolvePure       World = "solve-pure"
	Eval            World = "eval"
	RunOS           World = "run-os"
	RunOSSandboxed  World = "run-os-sandboxed"
)

// Capabilities is the per-world capability record (spec §3).
type Capabilities struct {
	AllowUnsafe bool
	AllowFFI    bool
	EnableFS    bool
	EnableRR    bool
	EnableKV    bool
	IsEvalWorld bool
}

// registry is the closed World -> Capabilities table. allow_unsafe/allow_ffi
// here are the world's ceiling; the Options bundle (spec §6) may further
// restrict them but never raise them above what the world allows.
var registry = map[World]Capabilities{
	SolvePure: {
		AllowUnsafe: false, AllowFFI: false,
		EnableFS: false, EnableRR: false, EnableKV: false,
		IsEvalWorld: false,
	},
	Eval: {
		AllowUnsafe: false, AllowFFI: false,
		EnableFS: false, EnableRR: false, EnableKV: false,
		IsEvalWorld: true,
	},
	RunOS: {
		AllowUnsafe: true, AllowFFI: true,
		EnableFS: true, EnableRR: true, EnableKV: true,
		IsEvalWorld: false,
	},
	RunOSSandboxed: {
		AllowUnsafe: true, AllowFFI: true,
		EnableFS: true, EnableRR: true, EnableKV: true,
		IsEvalWorld: false,
	},
}

// Lookup returns the capability record for a world, and false if the world
// name is not one of the closed enum values.
func Lookup(w World) (Capabilities, bool) {
	c, ok := registry[w]
	return c, ok
}

// Valid reports whether w is a recognized world.
func Valid(w World) bool {
	_, ok := registry[w]
	return ok
}

// IsStandalone reports whether w is a non-eval OS world (run-os or
// run-os-sandboxed) in which the dedicated std.world.* built-in root is
// forbidden (spec §4.2):
// run-os and run-os-sandboxed substitute their own adapters.
func IsStandalone(w World) bool {
	return w == RunOS || w == RunOSSandboxed
}

// RequiresPolicy reports whether w is gated by a Policy document at run
// time, beyond the compile-time capability ceiling.
func RequiresPolicy(w World) bool {
	return w == RunOSSandboxed
}
