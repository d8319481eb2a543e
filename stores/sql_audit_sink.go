package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/abac"
)

// SQLAuditSink persists decisions to the access_logs table.
type SQLAuditSink struct {
	db *squealx.DB
}

func NewSQLAuditSink(db *squealx.DB) *SQLAuditSink {
	return &SQLAuditSink{db: db}
}

func (s *SQLAuditSink) Record(ctx context.Context, entry *abac.AuditEntry) error {
	policyIDs, _ := json.Marshal(entry.PolicyIDs)
	q := `INSERT INTO access_logs(timestamp, subject, object, action, allowed, reason, policy_ids_json, duration_ms, source_ip, user_agent, department, location, mfa_verified, session_age_seconds) VALUES(:timestamp, :subject, :object, :action, :allowed, :reason, :policy_ids_json, :duration_ms, :source_ip, :user_agent, :department, :location, :mfa_verified, :session_age_seconds)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"timestamp":           entry.Timestamp,
		"subject":             entry.Subject,
		"object":              entry.Object,
		"action":              entry.Action,
		"allowed":             boolToInt(entry.Allowed),
		"reason":              entry.Reason,
		"policy_ids_json":     string(policyIDs),
		"duration_ms":         entry.DurationMS,
		"source_ip":           entry.SourceIP,
		"user_agent":          entry.UserAgent,
		"department":          entry.Department,
		"location":            entry.Location,
		"mfa_verified":        boolToInt(entry.MFAVerified),
		"session_age_seconds": entry.SessionAgeSeconds,
	})
	return err
}

// AuditFilter narrows GetAccessLog output. Zero values mean "any".
type AuditFilter struct {
	Subject   string
	Object    string
	Action    string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

func (s *SQLAuditSink) GetAccessLog(ctx context.Context, filter AuditFilter) ([]*abac.AuditEntry, error) {
	q := `SELECT timestamp, subject, object, action, allowed, reason, policy_ids_json, duration_ms, source_ip, user_agent, department, location, mfa_verified, session_age_seconds FROM access_logs WHERE 1=1`
	params := map[string]any{}
	if filter.Subject != "" {
		q += " AND subject = :subject"
		params["subject"] = filter.Subject
	}
	if filter.Object != "" {
		q += " AND object = :object"
		params["object"] = filter.Object
	}
	if filter.Action != "" {
		q += " AND action = :action"
		params["action"] = filter.Action
	}
	if !filter.StartTime.IsZero() {
		q += " AND timestamp >= :start"
		params["start"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		q += " AND timestamp <= :end"
		params["end"] = filter.EndTime
	}
	q += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*abac.AuditEntry, 0)
	for r.Next() {
		var timestampRaw interface{}
		var policyIDsJSON string
		var allowedInt, mfaInt int
		entry := &abac.AuditEntry{}
		if err := r.Scan(&timestampRaw, &entry.Subject, &entry.Object, &entry.Action, &allowedInt, &entry.Reason, &policyIDsJSON, &entry.DurationMS, &entry.SourceIP, &entry.UserAgent, &entry.Department, &entry.Location, &mfaInt, &entry.SessionAgeSeconds); err != nil {
			return nil, err
		}
		switch v := timestampRaw.(type) {
		case time.Time:
			entry.Timestamp = v
		case string:
			if t, err := parseFlexibleTime(v); err == nil {
				entry.Timestamp = t
			}
		case []byte:
			if t, err := parseFlexibleTime(string(v)); err == nil {
				entry.Timestamp = t
			}
		}
		entry.Allowed = allowedInt != 0
		entry.MFAVerified = mfaInt != 0
		_ = json.Unmarshal([]byte(policyIDsJSON), &entry.PolicyIDs)
		out = append(out, entry)
	}
	return out, nil
}
