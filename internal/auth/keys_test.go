package auth

import (
	"strings"
	"testing"
)

func TestHashKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name:     "whitespace only is empty",
			input:    "  \t",
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HashKey(tt.input); got != tt.expected {
				t.Errorf("HashKey() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestHashKey_TrimsWhitespace(t *testing.T) {
	if HashKey("  test-api-key  ") != HashKey("test-api-key") {
		t.Error("expected surrounding whitespace to be ignored")
	}
	if len(HashKey("test-api-key")) != 64 {
		t.Error("expected a 64 char hex digest")
	}
}

func TestHashKey_DifferentInputsDifferentOutputs(t *testing.T) {
	if HashKey("key1") == HashKey("key2") {
		t.Error("Different keys produced same hash")
	}
}

func TestMatch(t *testing.T) {
	hashes := []string{HashKey("other"), " " + strings.ToUpper(HashKey("gateway-token")) + " "}

	if !Match("gateway-token", hashes) {
		t.Error("expected token to match its hash")
	}
	if Match("wrong", hashes) {
		t.Error("expected unknown token to be rejected")
	}
	if Match("gateway-token", nil) {
		t.Error("expected no match against an empty list")
	}
}

func TestPrincipal(t *testing.T) {
	p := Principal("gateway-token")
	if !strings.HasPrefix(p, "tok:") || len(p) != 16 {
		t.Errorf("unexpected principal %q", p)
	}
	if p != Principal(" gateway-token ") {
		t.Error("expected principal to be stable across whitespace")
	}
}
