package utils

import "testing"

func TestMatchObject(t *testing.T) {
	cases := []struct {
		object  string
		pattern string
		want    bool
	}{
		{"doc:42", "doc:42", true},
		{"doc:42", "doc:43", false},
		{"anything", "*", true},
		{"doc:42", "doc:*", true},
		{"doc:42:rev:7", "doc:*", true},
		{"document", "doc:*", false},
		{"admin:users:42", "admin:users:*", true},
		{"admin:users:42:settings", "admin:users:*", true},
		{"admin:users", "admin:users:*", true},
		{"admin:usersfoo", "admin:users:*", false},
		{"report-2026", "report-*", true},
		{"summary-2026", "report-*", false},
		{"doc:42", "doc:4*", true},
		{"a*b", "a*b", true},
	}
	for _, c := range cases {
		if got := MatchObject(c.object, c.pattern); got != c.want {
			t.Fatalf("MatchObject(%q, %q) = %v, want %v", c.object, c.pattern, got, c.want)
		}
	}
}
