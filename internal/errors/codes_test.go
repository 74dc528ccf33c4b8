package errors

import "testing"

func TestErrorCodeTaxonomy(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		phase    string
		category string
	}{
		{"AST001", AST001, "decode", "structure"},
		{"LDR001", LDR001, "loader", "resolution"},
		{"LDR002", LDR002, "loader", "dependency"},
		{"MOD001", MOD001, "link", "namespace"},
		{"MOD006", MOD006, "link", "visibility"},
		{"LintBorrow", LintBorrow, "lint", "borrow"},
		{"LintMove1", LintMove1, "lint", "move"},
		{"LintWorldFFI", LintWorldFFI, "lint", "capability"},
		{"TC001", TC001, "typecheck", "type"},
		{"TC003", TC003, "typecheck", "contract"},
		{"MONO001", MONO001, "monomorphize", "instantiation"},
		{"PIPE001", PIPE001, "elaborate", "namespace"},
		{"BUDGET001", BUDGET001, "emit", "budget"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, ok := GetErrorInfo(tt.code)
			if !ok {
				t.Fatalf("code %s not registered", tt.code)
			}
			if info.Phase != tt.phase {
				t.Errorf("phase = %q, want %q", info.Phase, tt.phase)
			}
			if info.Category != tt.category {
				t.Errorf("category = %q, want %q", info.Category, tt.category)
			}
		})
	}
}

func TestIsLintError(t *testing.T) {
	if !IsLintError(LintBorrow) {
		t.Errorf("expected %s to be a lint error", LintBorrow)
	}
	if IsLintError(LDR001) {
		t.Errorf("expected %s not to be a lint error", LDR001)
	}
}

func TestIsBudgetError(t *testing.T) {
	if !IsBudgetError(BUDGET001) || !IsBudgetError(BUDGET002) {
		t.Errorf("expected BUDGET001/BUDGET002 to be budget errors")
	}
	if IsBudgetError(TC001) {
		t.Errorf("expected TC001 not to be a budget error")
	}
}

func TestErrorInfoConsistency(t *testing.T) {
	for code, info := range ErrorRegistry {
		if info.Code != code {
			t.Errorf("registry key %s has mismatched Code %s", code, info.Code)
		}
		if info.Description == "" {
			t.Errorf("empty description for %s", code)
		}
	}
}
