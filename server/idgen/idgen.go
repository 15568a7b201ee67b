// Package idgen generates the random tokens used as feed references and entry
// identifiers. Tokens double as capabilities: a feed's receiving address and its
// read URL are both derived from the reference, so tokens must be unpredictable.
package idgen

import (
	"crypto/rand"
	"fmt"
)

// alphabet is lowercase-alphanumeric so tokens survive case-folding mail
// servers and stay URL-safe without escaping.
const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// TokenLength is the number of characters in a generated token.
// 16 characters over a 36-symbol alphabet is ~82.7 bits of entropy.
const TokenLength = 16

// New generates a new random token of TokenLength characters.
func New() string {
	token := make([]byte, TokenLength)

	// Rejection sampling to avoid modulo bias. 252 is the largest
	// multiple of len(alphabet) that fits in a byte.
	const limit = 252
	buf := make([]byte, TokenLength*2)
	filled := 0
	for filled < TokenLength {
		if _, err := rand.Read(buf); err != nil {
			// crypto/rand never fails on supported platforms; if it does,
			// the process cannot safely mint capabilities.
			panic(fmt.Sprintf("idgen: reading random bytes: %v", err))
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			token[filled] = alphabet[int(b)%len(alphabet)]
			filled++
			if filled == TokenLength {
				break
			}
		}
	}

	return string(token)
}

// IsWellFormed reports whether s has the shape of a generated token:
// exactly TokenLength characters, all drawn from the token alphabet.
func IsWellFormed(s string) bool {
	if len(s) != TokenLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
