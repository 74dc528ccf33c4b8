//go:build linux

package runner

import "syscall"

// applyLimits sets per-resource rlimits before exec (spec §4.10: Linux uses
// per-resource setrlimit). Grounded on the pack's
// theRebelliousNerd-codenerd/internal/tactile platform_linux.go rlimit
// table, narrowed to the subset x07c's Policy actually models.
func applyLimits(l Limits) error {
	if l.CPUSeconds > 0 {
		r := syscall.Rlimit{Cur: uint64(l.CPUSeconds), Max: uint64(l.CPUSeconds)}
		if err := syscall.Setrlimit(syscall.RLIMIT_CPU, &r); err != nil {
			return err
		}
	}
	if l.MemBytes > 0 {
		r := syscall.Rlimit{Cur: uint64(l.MemBytes), Max: uint64(l.MemBytes)}
		if err := syscall.Setrlimit(syscall.RLIMIT_AS, &r); err != nil {
			return err
		}
	}
	if l.FDs > 0 {
		r := syscall.Rlimit{Cur: uint64(l.FDs), Max: uint64(l.FDs)}
		if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &r); err != nil {
			return err
		}
	}
	if l.Procs > 0 {
		r := syscall.Rlimit{Cur: uint64(l.Procs), Max: uint64(l.Procs)}
		if err := syscall.Setrlimit(syscall.RLIMIT_NPROC, &r); err != nil {
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
