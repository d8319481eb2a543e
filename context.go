package abac

import (
	"math"
	"net"
	"time"
)

// UnknownAttribute is the sentinel stored for string attributes that the
// request did not carry. Conditions compare against it like any other value,
// so absence can never satisfy an equality or membership check by accident.
const UnknownAttribute = "unknown"

// RawRequest carries the untyped request material the caller has on hand.
// Every field is optional; BuildContext fills the gaps with safe defaults.
type RawRequest struct {
	RemoteAddr       string
	UserAgent        string
	Time             time.Time
	Department       string
	Location         string
	MFAVerified      bool
	SessionStartedAt time.Time
}

// BuildContext derives the per-request attribute context. It is pure: no
// lookups, no I/O, and a given RawRequest always yields the same context.
//
// Missing material degrades toward denial, never toward allowance: an
// unparseable address leaves SourceIP nil (no ipRange condition can hold),
// and an unknown session start pins the session age to the maximum (no
// freshness ceiling can hold).
func BuildContext(r RawRequest) *AttributeContext {
	c := &AttributeContext{
		SourceIP:    parseRemoteIP(r.RemoteAddr),
		UserAgent:   orUnknown(r.UserAgent),
		RequestTime: r.Time,
		Department:  orUnknown(r.Department),
		Location:    orUnknown(r.Location),
		MFAVerified: r.MFAVerified,
	}
	if c.RequestTime.IsZero() {
		c.RequestTime = time.Now()
	}
	if r.SessionStartedAt.IsZero() || r.SessionStartedAt.After(c.RequestTime) {
		c.SessionAgeSeconds = math.MaxInt32
	} else {
		c.SessionAgeSeconds = int(c.RequestTime.Sub(r.SessionStartedAt) / time.Second)
	}
	return c
}

func parseRemoteIP(addr string) net.IP {
	if addr == "" {
		return nil
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return net.ParseIP(addr)
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownAttribute
	}
	return s
}
