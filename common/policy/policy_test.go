package policy

import (
	"strings"
	"testing"
)

func TestAdmitEmptyExpressionAllowsEverything(t *testing.T) {
	e := NewEvaluator("")

	allowed, err := e.Admit(Request{Instructions: "anything at all"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Errorf("empty expression should admit")
	}
	if e.CacheSize() != 0 {
		t.Errorf("empty expression should not be compiled, cache size = %d", e.CacheSize())
	}
}

func TestAdmitExpressions(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		request    Request
		want       bool
	}{
		{
			name:       "instruction length cap allows short",
			expression: `request.instructions.size() < 100`,
			request:    Request{Instructions: "tighten the intro"},
			want:       true,
		},
		{
			name:       "instruction length cap denies long",
			expression: `request.instructions.size() < 10`,
			request:    Request{Instructions: "this instruction is far too long"},
			want:       false,
		},
		{
			name:       "keyword block",
			expression: `!request.instructions.contains("delete")`,
			request:    Request{Instructions: "delete everything"},
			want:       false,
		},
		{
			name:       "user allowlist",
			expression: `request.user_id == "user-1"`,
			request:    Request{Instructions: "rewrite", UserID: "user-1"},
			want:       true,
		},
		{
			name:       "context file scoping",
			expression: `request.context_file_path == "" || request.context_file_path.startsWith("docs/")`,
			request:    Request{Instructions: "rewrite", ContextFilePath: "secrets/keys.md"},
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEvaluator(tt.expression)

			allowed, err := e.Admit(tt.request)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if allowed != tt.want {
				t.Errorf("allowed = %v, want %v", allowed, tt.want)
			}
		})
	}
}

func TestAdmitNonBooleanResult(t *testing.T) {
	e := NewEvaluator(`request.instructions`)

	_, err := e.Admit(Request{Instructions: "rewrite"})
	if err == nil {
		t.Fatalf("expected error for non-boolean expression result")
	}
	if !strings.Contains(err.Error(), "boolean") {
		t.Errorf("error should mention boolean result, got: %v", err)
	}
}

func TestAdmitCompileError(t *testing.T) {
	e := NewEvaluator(`request.instructions ==`)

	_, err := e.Admit(Request{Instructions: "rewrite"})
	if err == nil {
		t.Fatalf("expected compilation error")
	}
}

func TestCompiledExpressionCache(t *testing.T) {
	e := NewEvaluator(`request.instructions != ""`)

	for i := 0; i < 3; i++ {
		if _, err := e.Admit(Request{Instructions: "rewrite"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if e.CacheSize() != 1 {
		t.Errorf("cache size = %d, want 1", e.CacheSize())
	}

	e.ClearCache()
	if e.CacheSize() != 0 {
		t.Errorf("cache size after clear = %d, want 0", e.CacheSize())
	}

	if _, err := e.Admit(Request{Instructions: "rewrite"}); err != nil {
		t.Fatalf("unexpected error after cache clear: %v", err)
	}
	if e.CacheSize() != 1 {
		t.Errorf("cache size = %d, want 1 after recompile", e.CacheSize())
	}
}
