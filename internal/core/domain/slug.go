package domain

import "strings"

// =============================================================================
// Slug Generation
// =============================================================================

// Slugify lowercases name and replaces every character outside [a-z0-9-]
// with a hyphen. Length is preserved, so distinct inputs of equal length
// rarely collide.
//
// This is a pure function with no side effects.
//
// Example:
//
//	Slugify("Shop App")    // returns "shop-app"
//	Slugify("api_v2.Core") // returns "api-v2-core"
func Slugify(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}
