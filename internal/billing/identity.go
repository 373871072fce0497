// Package billing holds the subscription core: identity validation, plans,
// the checkout reference codec, notification parsing, payment fetching, the
// reconciliation state machine and the entitlement resolver.
package billing

import (
	"regexp"
	"strings"
)

// subscriberIDPattern is the canonical 8-4-4-4-12 hex grouping, any case.
var subscriberIDPattern = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// ValidSubscriberID reports whether s is a canonical subscriber identity.
// Externally supplied identities are never trusted unless this returns true.
func ValidSubscriberID(s string) bool {
	return subscriberIDPattern.MatchString(s)
}

// CanonicalSubscriberID returns the lower-case form of s. Postgres compares
// the uuid column case-insensitively but the cache keys and logs do not, so
// every entry point folds the identity before using it.
func CanonicalSubscriberID(s string) string {
	return strings.ToLower(s)
}
