package cregis

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
)

// Sign computes the provider signature over params: keys are sorted, empty
// values are skipped, and the shared key prefixes the concatenation before
// hashing. This must match the provider's canonicalization exactly or every
// callback is rejected.
func Sign(params map[string]string, key string) string {
	names := make([]string, 0, len(params))
	for name, value := range params {
		if value == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(key)
	for _, name := range names {
		b.WriteString(name)
		b.WriteString(params[name])
	}
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// VerifySign compares an expected signature against a provided one without
// early exit on the first differing byte.
func VerifySign(expected, provided string) bool {
	expected = strings.ToLower(strings.TrimSpace(expected))
	provided = strings.ToLower(strings.TrimSpace(provided))
	if expected == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}
