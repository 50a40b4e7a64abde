package auth

import (
	"fmt"
	"slices"
	"strings"
)

// maxScopeNameLength bounds a scope tag.
const maxScopeNameLength = 64

// ValidateScopeName checks that name can travel in a space-joined scope claim.
func ValidateScopeName(name string) error {
	if name == "" || len(name) > maxScopeNameLength {
		return fmt.Errorf("%w: must be 1-%d characters", ErrInvalidScope, maxScopeNameLength)
	}
	if strings.ContainsFunc(name, func(r rune) bool { return r <= ' ' || r == 0x7f }) {
		return fmt.Errorf("%w: %q contains whitespace or control characters", ErrInvalidScope, name)
	}
	return nil
}

// NormalizeScopes returns the scopes sorted with duplicates removed. The
// result is never nil so it serialises as an empty list.
func NormalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	out = append(out, scopes...)
	slices.Sort(out)
	return slices.Compact(out)
}

// MissingScopes returns the required scopes absent from granted, normalised.
func MissingScopes(required, granted []string) []string {
	var missing []string
	for _, s := range NormalizeScopes(required) {
		if !slices.Contains(granted, s) {
			missing = append(missing, s)
		}
	}
	return missing
}

// HasScopes reports whether granted covers every required scope.
func HasScopes(granted []string, required ...string) bool {
	return len(MissingScopes(required, granted)) == 0
}

// IntersectScopes returns the scopes present in both a and b, normalised.
func IntersectScopes(a, b []string) []string {
	out := make([]string, 0, len(a))
	for _, s := range NormalizeScopes(a) {
		if slices.Contains(b, s) {
			out = append(out, s)
		}
	}
	return out
}

// joinScopes renders scopes as the space-separated wire form.
func joinScopes(scopes []string) string {
	return strings.Join(NormalizeScopes(scopes), " ")
}

// parseScopes reads the space-separated wire form.
func parseScopes(s string) []string {
	return NormalizeScopes(strings.Fields(s))
}
