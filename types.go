package abac

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Policy kinds as stored in the persistence row format.
const (
	KindPermission = "p"
	KindGrouping   = "g"
)

// Policy is a single authorization rule. A permission policy grants an action
// on an object pattern to a subject pattern, optionally guarded by attribute
// conditions. A grouping policy asserts that a subject inherits another
// subject identifier (typically a role name) and carries no action or
// conditions.
type Policy struct {
	ID             string      `json:"id"`
	Kind           string      `json:"kind"`
	SubjectPattern string      `json:"subject"`
	ObjectPattern  string      `json:"object,omitempty"`
	Action         string      `json:"action,omitempty"`
	Role           string      `json:"role,omitempty"`
	Conditions     []Condition `json:"-"`
}

// Rule is a raw persistence row: kind p/g plus six positional string slots.
// For kind=p: v0=subject pattern, v1=object pattern, v2=action, v3..v5 encode
// conditions as attribute:operator:value triples (empty slot = no condition).
// For kind=g: v0=subject, v1=role.
type Rule struct {
	ID   string `json:"id" yaml:"id"`
	Kind string `json:"kind" yaml:"kind"`
	V0   string `json:"v0" yaml:"v0"`
	V1   string `json:"v1" yaml:"v1"`
	V2   string `json:"v2" yaml:"v2"`
	V3   string `json:"v3" yaml:"v3"`
	V4   string `json:"v4" yaml:"v4"`
	V5   string `json:"v5" yaml:"v5"`
}

// AttributeContext is the per-request attribute bag consumed by condition
// evaluation. It is built once per request and never shared mutably across
// concurrent evaluations.
type AttributeContext struct {
	SourceIP          net.IP    `json:"source_ip"`
	UserAgent         string    `json:"user_agent"`
	RequestTime       time.Time `json:"request_time"`
	Department        string    `json:"department"`
	Location          string    `json:"location"`
	MFAVerified       bool      `json:"mfa_verified"`
	SessionAgeSeconds int       `json:"session_age_seconds"`
}

// Fingerprint returns a stable cache-key component covering every context
// field that condition evaluation can observe. Time and session age are
// bucketed to the minute so that cache entries remain useful within the
// decision-cache TTL. UserAgent is excluded: it is carried for audit only.
func (c *AttributeContext) Fingerprint() string {
	ip := UnknownAttribute
	if c.SourceIP != nil {
		ip = c.SourceIP.String()
	}
	var b strings.Builder
	b.Grow(64)
	b.WriteString(ip)
	b.WriteByte('|')
	b.WriteString(c.Department)
	b.WriteByte('|')
	b.WriteString(c.Location)
	b.WriteByte('|')
	b.WriteString(strconv.FormatBool(c.MFAVerified))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(c.SessionAgeSeconds / 60))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(c.RequestTime.Unix()/60, 10))
	return b.String()
}

// Decision is the evaluation result handed back to the caller and to the
// audit sink. Reason is always non-empty, on allow and on deny.
type Decision struct {
	Allowed          bool      `json:"allowed"`
	MatchedPolicyIDs []string  `json:"matched_policy_ids"`
	Reason           string    `json:"reason"`
	EvaluatedAt      time.Time `json:"evaluated_at"`
	Trace            []string  `json:"trace,omitempty"`
}

// ValidatePolicy checks the Policy/condition invariants that apply before a
// policy may be persisted or matched against requests.
func ValidatePolicy(p *Policy) error {
	switch p.Kind {
	case KindPermission:
		if p.SubjectPattern == "" {
			return &ValidationError{RuleID: p.ID, Reason: "permission policy requires a subject pattern"}
		}
		if p.ObjectPattern == "" {
			return &ValidationError{RuleID: p.ID, Reason: "permission policy requires an object pattern"}
		}
		if p.Action == "" {
			return &ValidationError{RuleID: p.ID, Reason: "permission policy requires an action"}
		}
		if strings.Contains(p.Action, "*") {
			return &ValidationError{RuleID: p.ID, Reason: "action wildcards are not permitted"}
		}
		if len(p.Conditions) > maxConditionSlots {
			return &ValidationError{RuleID: p.ID, Reason: fmt.Sprintf("at most %d conditions per policy", maxConditionSlots)}
		}
	case KindGrouping:
		if p.SubjectPattern == "" || p.Role == "" {
			return &ValidationError{RuleID: p.ID, Reason: "grouping policy requires subject and role"}
		}
		if p.Action != "" || p.ObjectPattern != "" || len(p.Conditions) > 0 {
			return &ValidationError{RuleID: p.ID, Reason: "grouping policy must not carry object, action or conditions"}
		}
	default:
		return &ValidationError{RuleID: p.ID, Reason: fmt.Sprintf("unknown policy kind %q", p.Kind)}
	}
	return nil
}

// maxConditionSlots mirrors the v3..v5 slots of the persistence row format.
const maxConditionSlots = 3
