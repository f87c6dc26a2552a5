package domain

import "strings"

// =============================================================================
// Slug Generation
// =============================================================================

// Slugify converts a name into a Compose-style project name.
//
// Letters are lowercased, digits, hyphens and underscores are kept, spaces
// and dots become hyphens, and everything else is dropped. Runs of hyphens
// collapse to one and the result never starts or ends with a hyphen or
// underscore.
//
// Example:
//
//	Slugify("Shop Backend")   // returns "shop-backend"
//	Slugify("api.v2 (beta)")  // returns "api-v2-beta"
//	Slugify("__Infra__")      // returns "infra"
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := false

	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			lastHyphen = false
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
			lastHyphen = false
		case r == '-' || r == ' ' || r == '.':
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	return strings.Trim(b.String(), "-_")
}
