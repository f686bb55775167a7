// internal/lobby/codes.go
package lobby

import (
	"math/rand"
	"strings"
)

// codeAlphabet deliberately omits 0/O and 1/I to keep codes readable when
// shared verbally.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the length of generated lobby codes, e.g. "AB12C9".
const CodeLength = 6

// maxCodeAttempts bounds create retries when generated codes collide.
const maxCodeAttempts = 5

// GenerateCode returns a random short lobby code. Uniqueness is enforced at
// insert time, not here; callers retry on ErrCodeTaken.
func GenerateCode() string {
	var b strings.Builder
	b.Grow(CodeLength)
	for i := 0; i < CodeLength; i++ {
		b.WriteByte(codeAlphabet[rand.Intn(len(codeAlphabet))])
	}
	return b.String()
}

// NormalizeCode canonicalizes a client-supplied code for lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether code looks like a lobby code. Client-generated
// codes are accepted as long as they are short alphanumerics.
func ValidCode(code string) bool {
	if len(code) < 4 || len(code) > 10 {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
