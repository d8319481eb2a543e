package abac

import "github.com/oarkflow/abac/utils"

// ActionMatches reports whether a request action satisfies a policy action.
// Actions are matched by exact string equality only; there are no action
// wildcards.
func ActionMatches(policyAction, action string) bool {
	return action != "" && policyAction == action
}

// ObjectMatches reports whether an object identifier satisfies a policy
// object pattern (exact, trailing wildcard, or colon-segmented hierarchy).
func ObjectMatches(pattern, object string) bool {
	return object != "" && utils.MatchObject(object, pattern)
}

// SubjectMatches reports whether the subject satisfies a policy subject
// pattern, either directly or by inheriting it through the role graph.
func SubjectMatches(pattern, subject string, roles *RoleGraph) bool {
	if subject == "" {
		return false
	}
	if subject == pattern {
		return true
	}
	return roles != nil && roles.Inherits(subject, pattern)
}
