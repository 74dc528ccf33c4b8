package policy

import "testing"

func TestDefaultIsDenyByDefault(t *testing.T) {
	p := Default()
	if p.Process.AllowSpawn {
		t.Error("default policy must not allow spawn")
	}
	if p.Language.AllowUnsafe || p.Language.AllowFFI {
		t.Error("default policy must not allow unsafe or ffi")
	}
	if err := p.Validate(); err != nil {
		t.Errorf("default policy must validate: %v", err)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte(`{"limits":{"cpu_ms":10},"bogus_field":true}`))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseYAML(t *testing.T) {
	doc := []byte(`
limits:
  cpu_ms: 500
  wall_ms: 1000
  mem_bytes: 1048576
  fds: 8
  procs: 1
  core_dumps: false
process:
  enabled: true
  allow_spawn: true
  max_spawns: 2
  exec_allow:
    - /usr/bin/true
language:
  allow_unsafe: false
  allow_ffi: false
threads: 1
`)
	p, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Limits.CPUMs != 500 {
		t.Errorf("CPUMs = %d, want 500", p.Limits.CPUMs)
	}
	if !p.AllowsExec("/usr/bin/true") {
		t.Error("expected /usr/bin/true to be allowed")
	}
	if p.AllowsExec("/usr/bin/rm") {
		t.Error("expected /usr/bin/rm to be denied")
	}
}

func TestValidateRejectsSpawnWithoutEnabled(t *testing.T) {
	p := Default()
	p.Process.AllowSpawn = true
	p.Process.Enabled = false
	if err := p.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestAllowsExecDeniedWhenDisabled(t *testing.T) {
	p := Default()
	if p.AllowsExec("/bin/sh") {
		t.Error("expected exec to be denied when process is disabled")
	}
}
