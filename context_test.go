package abac

import (
	"math"
	"testing"
	"time"
)

func TestBuildContextDefaults(t *testing.T) {
	c := BuildContext(RawRequest{})
	if c.Department != UnknownAttribute || c.Location != UnknownAttribute || c.UserAgent != UnknownAttribute {
		t.Fatalf("missing string attributes must carry the unknown sentinel: %+v", c)
	}
	if c.SourceIP != nil {
		t.Fatalf("missing address must leave SourceIP nil")
	}
	if c.MFAVerified {
		t.Fatalf("MFA must default to unverified")
	}
	if c.RequestTime.IsZero() {
		t.Fatalf("request time must be filled")
	}
	if c.SessionAgeSeconds != math.MaxInt32 {
		t.Fatalf("unknown session start must pin the age to the maximum, got %d", c.SessionAgeSeconds)
	}
}

func TestBuildContextParsesAddress(t *testing.T) {
	c := BuildContext(RawRequest{RemoteAddr: "10.1.2.3:54321"})
	if c.SourceIP == nil || c.SourceIP.String() != "10.1.2.3" {
		t.Fatalf("host:port address should parse, got %v", c.SourceIP)
	}
	c = BuildContext(RawRequest{RemoteAddr: "192.168.1.7"})
	if c.SourceIP == nil || c.SourceIP.String() != "192.168.1.7" {
		t.Fatalf("bare address should parse, got %v", c.SourceIP)
	}
	c = BuildContext(RawRequest{RemoteAddr: "not-an-address"})
	if c.SourceIP != nil {
		t.Fatalf("garbage address must leave SourceIP nil")
	}
}

func TestBuildContextSessionAge(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	c := BuildContext(RawRequest{Time: now, SessionStartedAt: now.Add(-5 * time.Minute)})
	if c.SessionAgeSeconds != 300 {
		t.Fatalf("expected session age 300, got %d", c.SessionAgeSeconds)
	}
	c = BuildContext(RawRequest{Time: now, SessionStartedAt: now.Add(time.Hour)})
	if c.SessionAgeSeconds != math.MaxInt32 {
		t.Fatalf("session starting in the future must pin the age to the maximum")
	}
}

func TestBuildContextIsPure(t *testing.T) {
	raw := RawRequest{
		RemoteAddr:       "10.0.0.1:80",
		UserAgent:        "cli/1.0",
		Time:             time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Department:       "eng",
		Location:         "HQ",
		MFAVerified:      true,
		SessionStartedAt: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
	a, b := BuildContext(raw), BuildContext(raw)
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("same raw request must yield identical contexts")
	}
}
