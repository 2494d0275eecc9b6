package client

import "strings"

// Ref is a resolved object reference: either a uuid or an owner/alias
// pair, never both. Callers branch on IsAlias to pick the corresponding
// query-parameter shape.
type Ref struct {
	UUID  string
	Owner string
	Alias string
}

// IsAlias reports whether the reference addresses an object by
// owner+alias rather than uuid.
func (r Ref) IsAlias() bool { return r.UUID == "" }

// ParseRef resolves a caller-supplied reference. Opaque strings are
// treated as uuids. URLs must match <domain>/content/<uuid> or
// <domain>/content/<username>/<alias>.
func ParseRef(urlOrUUID string) (Ref, error) {
	if urlOrUUID == "" {
		return Ref{}, ErrMissingIdentifier
	}
	if !isURL(urlOrUUID) {
		return Ref{UUID: urlOrUUID}, nil
	}

	trimmed := strings.TrimPrefix(urlOrUUID, "http://")
	trimmed = strings.TrimPrefix(trimmed, "https://")
	parts := strings.Split(strings.TrimRight(trimmed, "/"), "/")

	// Drop the domain.
	parts = parts[1:]

	if len(parts) < 2 || parts[0] != "content" {
		return Ref{}, &InvalidURLError{URL: urlOrUUID}
	}
	switch len(parts) {
	case 2:
		return Ref{UUID: parts[1]}, nil
	case 3:
		return Ref{Owner: parts[1], Alias: parts[2]}, nil
	default:
		return Ref{}, &InvalidURLError{URL: urlOrUUID}
	}
}

func isURL(s string) bool {
	return strings.Contains(s, "http://") || strings.Contains(s, "https://")
}
