package common

import (
	"crypto/subtle"
	"strings"
)

// BearerMatches compares an "Authorization: Bearer <secret>" value in
// constant time. It never matches an empty secret.
func BearerMatches(header, secret string) bool {
	if secret == "" {
		return false
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}
