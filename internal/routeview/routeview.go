// Package routeview decides whether a navigation path is a public pet
// share page or part of the authenticated application shell.
//
// Share URLs are the ones embedded in printed QR tags, so classification
// has to be forgiving about the junk that real-world scanners append
// (trailing slashes, query strings, fragments) while staying strict about
// the identifier itself.
package routeview

import "strings"

const petSegment = "/pet/"

// Route is the classification outcome for one path. A non-match is a
// normal outcome, not an error: the caller falls through to the app shell.
type Route struct {
	Matched  bool
	EntityID string
}

// Classifier matches paths of the shape [<prefix>]/pet/<uuid>, where
// prefix is an optional deployment sub-path and <uuid> is the canonical
// 36-character 8-4-4-4-12 hex form, case-insensitive.
type Classifier struct {
	prefix string
}

// NewClassifier creates a Classifier. prefix may be empty; when set it
// must start with '/' and carry no trailing slash (enforced by config
// validation).
func NewClassifier(prefix string) *Classifier {
	return &Classifier{prefix: prefix}
}

// Classify maps a navigation path to a view decision. It is a pure
// function of the path and the configured pattern: no I/O, no side
// effects, safe to call on every navigation event.
func (c *Classifier) Classify(path string) Route {
	// Query string and fragment never participate in matching.
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}

	if c.prefix != "" {
		rest, ok := strings.CutPrefix(path, c.prefix)
		if !ok {
			return Route{}
		}
		path = rest
	}

	rest, ok := strings.CutPrefix(path, petSegment)
	if !ok {
		return Route{}
	}

	// A single trailing slash after the identifier is tolerated.
	rest = strings.TrimSuffix(rest, "/")

	if !isCanonicalUUID(rest) {
		return Route{}
	}
	return Route{Matched: true, EntityID: rest}
}

// isCanonicalUUID reports whether s has the exact 8-4-4-4-12 shape.
// uuid.Parse is deliberately not used here: it also accepts braced,
// URN-prefixed, and 32-character forms that share links never carry.
func isCanonicalUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if i == 8 || i == 13 || i == 18 || i == 23 {
			if ch != '-' {
				return false
			}
			continue
		}
		if !isHexDigit(ch) {
			return false
		}
	}
	return true
}

func isHexDigit(c byte) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case c >= 'a' && c <= 'f':
		return true
	case c >= 'A' && c <= 'F':
		return true
	default:
		return false
	}
}
