package httpserver

import (
	"strings"
	"testing"
)

func TestValidateJobID(t *testing.T) {
	cases := []struct {
		name     string
		jobID    string
		valid    bool
		wantCode string
	}{
		{"ulid", "01J2X3Y4Z5A6B7C8D9E0F1G2H3", true, ""},
		{"idempotency key", "submit-order:alice:cart-9", true, ""},
		{"dotted", "sync.orders.2024", true, ""},
		{"empty", "", false, "REQUIRED"},
		{"too long", strings.Repeat("a", 201), false, "TOO_LONG"},
		{"shell chars", "job;rm -rf", false, "INVALID_FORMAT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := ValidateJobID(tc.jobID)
			if res.Valid != tc.valid {
				t.Fatalf("valid: want %v, got %v", tc.valid, res.Valid)
			}
			if !tc.valid && res.Errors[0].Code != tc.wantCode {
				t.Fatalf("code: want %s, got %s", tc.wantCode, res.Errors[0].Code)
			}
		})
	}
}

func TestValidateAgentID(t *testing.T) {
	if res := ValidateAgentID("agente.rossi"); !res.Valid {
		t.Fatalf("expected valid, got %+v", res.Errors)
	}
	if res := ValidateAgentID(""); res.Valid {
		t.Fatalf("expected empty agent id to be rejected")
	}
	if res := ValidateAgentID(strings.Repeat("x", 101)); res.Valid {
		t.Fatalf("expected over-long agent id to be rejected")
	}
	if res := ValidateAgentID("rossi mario"); res.Valid {
		t.Fatalf("expected whitespace to be rejected")
	}
}

func TestValidateLimit(t *testing.T) {
	if res := ValidateLimit("", 500); !res.Valid {
		t.Fatalf("empty limit should be valid")
	}
	if res := ValidateLimit("50", 500); !res.Valid {
		t.Fatalf("in-range limit should be valid")
	}
	for _, bad := range []string{"abc", "0", "-1", "501"} {
		if res := ValidateLimit(bad, 500); res.Valid {
			t.Fatalf("limit %q should be rejected", bad)
		}
	}
}
