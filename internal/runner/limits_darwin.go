//go:build darwin

package runner

import "syscall"

// applyLimits sets per-resource rlimits before exec (spec §4.10: macOS skips
// the address-space limit — RLIMIT_AS is unreliable under the macOS
// allocator and commonly rejected by the kernel for the calling process).
func applyLimits(l Limits) error {
	if l.CPUSeconds > 0 {
		r := syscall.Rlimit{Cur: uint64(l.CPUSeconds), Max: uint64(l.CPUSeconds)}
		if err := syscall.Setrlimit(syscall.RLIMIT_CPU, &r); err != nil {
			return err
		}
	}
	if l.FDs > 0 {
		r := syscall.Rlimit{Cur: uint64(l.FDs), Max: uint64(l.FDs)}
		if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &r); err != nil {
			return err
		}
	}
	if !l.CoreDumps {
		r := syscall.Rlimit{Cur: 0, Max: 0}
		if err := syscall.Setrlimit(syscall.RLIMIT_CORE, &r); err != nil {
			return err
		}
	}
	return nil
}
