// Package stripeids canonicalizes provider object identifiers.
//
// Stripe reports the same logical payment under several ids with different
// type prefixes (ch_, pi_, in_). The suffixes of related ids agree on a
// leading run of characters and may diverge per object kind after that, so
// the dedup key is a fixed-length truncation of the suffix.
package stripeids

import "strings"

// DedupPrefixLen is how many suffix characters related object kinds share.
const DedupPrefixLen = 17

// Suffix returns the portion of a provider id after its type prefix.
// Ids without an underscore are returned unchanged.
func Suffix(id string) string {
	if i := strings.Index(id, "_"); i >= 0 {
		return id[i+1:]
	}
	return id
}

// DedupKey returns the canonical dedup key for a provider id: the first
// DedupPrefixLen characters of its suffix. Empty input yields an empty key,
// which never matches anything.
func DedupKey(id string) string {
	if id == "" {
		return ""
	}
	s := Suffix(id)
	if len(s) > DedupPrefixLen {
		s = s[:DedupPrefixLen]
	}
	return s
}

// SameObject reports whether two provider ids canonicalize to the same
// dedup key. Two empty ids are never the same object.
func SameObject(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return DedupKey(a) == DedupKey(b)
}
