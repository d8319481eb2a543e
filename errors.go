package abac

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable indicates the backing rule store cannot be read.
	// The enforcer maps it to a denied decision, never to a caller error.
	ErrStoreUnavailable = errors.New("policy store unavailable")

	// ErrRuleNotFound is returned by stores when a rule ID does not exist.
	ErrRuleNotFound = errors.New("rule not found")
)

// ValidationError describes why a single rule row was rejected. Rejected rows
// are skipped during load; the remainder of the rule set still takes effect.
type ValidationError struct {
	RuleID string `json:"rule_id"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("rule %s: %s: %s", e.RuleID, e.Field, e.Reason)
	}
	return fmt.Sprintf("rule %s: %s", e.RuleID, e.Reason)
}
