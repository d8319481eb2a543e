package utils

import "strings"

// MatchObject checks whether an object identifier matches a policy object
// pattern. Patterns are matched three ways:
//   - Exact: pattern equals the object byte for byte.
//   - Hierarchical: a pattern ending in ":*" matches any object sharing the
//     colon-segmented prefix, e.g. "admin:users:*" matches "admin:users:42"
//     and "admin:users:42:settings" but not "admin:usersfoo".
//   - Prefix: a pattern ending in a bare "*" matches any object with the
//     literal prefix before the star.
//
// A lone "*" matches everything. '*' has no special meaning anywhere but the
// tail of the pattern.
func MatchObject(object, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ":*"); ok {
		if object == prefix {
			return true
		}
		return strings.HasPrefix(object, prefix+":")
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(object, prefix)
	}
	return object == pattern
}
