// Package validate holds small shared input-shape checks used across
// services so error kinds like invalid_amount/invalid_cert_id stay
// consistent everywhere they are raised.
package validate

import "regexp"

var purityPattern = regexp.MustCompile(`^\d{3}\.\d$`)

// Purity reports whether s matches the canonical purity grammar (e.g. "999.9").
func Purity(s string) bool {
	return purityPattern.MatchString(s)
}

// NonEmpty reports whether s has visible content once surrounding
// whitespace is disregarded by the caller (callers pass already-trimmed
// strings; this only guards the empty case).
func NonEmpty(s string) bool {
	return s != ""
}
