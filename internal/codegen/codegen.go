package codegen

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
)

// Alphabet excludes 0, O, 1, I and L, which are easily confused when a code
// is read off a screen or typed from an email.
const Alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	// PurchaseCodeLength is the length of codes mailed to buyers.
	PurchaseCodeLength = 6

	// LongCodeLength is the higher-entropy variant for codes issued
	// outside the purchase flow.
	LongCodeLength = 12
)

// Generate returns a random code of the given length drawn from Alphabet.
// Codes are bearer secrets, so the bytes come from crypto/rand. Collisions
// with existing codes are possible; callers retry on a uniqueness violation.
func Generate(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid code length %d", length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i := range buf {
		buf[i] = Alphabet[int(buf[i])%len(Alphabet)]
	}
	return string(buf), nil
}

// Normalize maps user input onto the generation alphabet: uppercase, then
// drop separators, whitespace and any character that can never appear in a
// stored code. A hand-typed ambiguous character (0/O/1/I/L) is dropped
// rather than repaired, so it surfaces as a not-found at lookup.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if strings.ContainsRune(Alphabet, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
