package authapi

import (
	"testing"
	"time"
)

func TestLoginLimiter_BurstThenDeny(t *testing.T) {
	t.Parallel()

	l := newLoginLimiter(60, 3) // 1/s refill, burst of 3
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !l.allow("203.0.113.7", now) {
			t.Fatalf("attempt %d within burst should pass", i)
		}
	}
	if l.allow("203.0.113.7", now) {
		t.Fatalf("attempt beyond burst should be denied")
	}

	// Other clients are unaffected.
	if !l.allow("198.51.100.9", now) {
		t.Fatalf("different ip should have its own bucket")
	}

	// Tokens refill over time.
	if !l.allow("203.0.113.7", now.Add(2*time.Second)) {
		t.Fatalf("expected refill after waiting")
	}
}

func TestLoginLimiter_PrunesIdleEntries(t *testing.T) {
	t.Parallel()

	l := newLoginLimiter(10, 1)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	l.allow("203.0.113.7", now)
	l.allow("198.51.100.9", now)
	if len(l.perIP) != 2 {
		t.Fatalf("expected 2 tracked ips, got %d", len(l.perIP))
	}

	l.allow("192.0.2.1", now.Add(time.Hour))
	if len(l.perIP) != 1 {
		t.Fatalf("expected idle entries pruned, got %d", len(l.perIP))
	}
}

func TestParseForwardedIP(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"203.0.113.7", "203.0.113.7"},
		{"203.0.113.7, 10.0.0.1", "203.0.113.7"},
		{"garbage, 203.0.113.7", "203.0.113.7"},
		{"", ""},
	}
	for _, tc := range cases {
		got := parseForwardedIP(tc.in)
		if tc.want == "" {
			if got != nil {
				t.Fatalf("parseForwardedIP(%q) = %v, want nil", tc.in, got)
			}
			continue
		}
		if got == nil || got.String() != tc.want {
			t.Fatalf("parseForwardedIP(%q) = %v, want %s", tc.in, got, tc.want)
		}
	}
}
