//go:build !linux && !darwin

package runner

import (
	"fmt"
	"os"
)

// applyLimits has no POSIX rlimits to set on this platform; the wall-clock
// timeout in Run is still enforced regardless of platform, but CPU/memory/
// FD/proc caps are not. Refuses to proceed unless X07_ALLOW_WEAK_ISOLATION=1
// is set or no CPU/memory/FD/proc limit is requested, so a sandboxed run on
// an unsupported platform fails loud instead of silently running unconfined.
func applyLimits(l Limits) error {
	if os.Getenv("X07_ALLOW_WEAK_ISOLATION") == "1" {
		return nil
	}
	if l.CPUSeconds == 0 && l.MemBytes == 0 && l.FDs == 0 && l.Procs == 0 {
		return nil
	}
	return fmt.Errorf("runner: this platform has no POSIX rlimit support; set X07_ALLOW_WEAK_ISOLATION=1 to run unconfined")
}
