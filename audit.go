package abac

import (
	"context"
	"time"
)

// AuditSink receives finished decisions off the enforcement path. A slow or
// failing sink never blocks or fails enforcement.
type AuditSink interface {
	Record(ctx context.Context, entry *AuditEntry) error
}

// AuditEntry is one decision plus the request material it was made from.
type AuditEntry struct {
	Subject    string    `json:"subject"`
	Object     string    `json:"object"`
	Action     string    `json:"action"`
	Allowed    bool      `json:"allowed"`
	Reason     string    `json:"reason"`
	PolicyIDs  []string  `json:"policy_ids"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMS int64     `json:"duration_ms"`

	SourceIP          string `json:"source_ip"`
	UserAgent         string `json:"user_agent"`
	Department        string `json:"department"`
	Location          string `json:"location"`
	MFAVerified       bool   `json:"mfa_verified"`
	SessionAgeSeconds int    `json:"session_age_seconds"`
}

// QueuePolicy selects the audit backpressure behavior when the queue is full.
type QueuePolicy string

const (
	// QueueDropOldest evicts the oldest queued entry to admit the new one.
	QueueDropOldest QueuePolicy = "drop_oldest"
	// QueueBlock waits up to the configured timeout, then drops the new entry.
	QueueBlock QueuePolicy = "block"
)

func newAuditEntry(subject, object, action string, attrs *AttributeContext, d *Decision, took time.Duration) *AuditEntry {
	entry := &AuditEntry{
		Subject:    subject,
		Object:     object,
		Action:     action,
		Allowed:    d.Allowed,
		Reason:     d.Reason,
		PolicyIDs:  d.MatchedPolicyIDs,
		Timestamp:  d.EvaluatedAt,
		DurationMS: took.Milliseconds(),
	}
	if attrs != nil {
		if attrs.SourceIP != nil {
			entry.SourceIP = attrs.SourceIP.String()
		} else {
			entry.SourceIP = UnknownAttribute
		}
		entry.UserAgent = attrs.UserAgent
		entry.Department = attrs.Department
		entry.Location = attrs.Location
		entry.MFAVerified = attrs.MFAVerified
		entry.SessionAgeSeconds = attrs.SessionAgeSeconds
	}
	return entry
}
