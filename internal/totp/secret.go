package totp

import (
	"crypto/rand"
	"fmt"
)

const (
	// SecretLength is the number of base32 symbols in a generated secret
	// (16 symbols, 80 bits).
	SecretLength = 16

	base32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"
)

// GenerateSecret returns a fresh base32 secret drawn from crypto/rand.
func GenerateSecret() (string, error) {
	raw := make([]byte, SecretLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("totp: read random: %w", err)
	}
	out := make([]byte, SecretLength)
	for i, b := range raw {
		// 256 is a multiple of 32, so the low five bits are uniform.
		out[i] = base32Alphabet[b&0x1f]
	}
	return string(out), nil
}

// DecodeSecret converts base32 text to raw key bytes. Lower case is
// accepted, characters outside the alphabet (padding, spaces, dashes) are
// skipped, and a trailing partial byte is dropped. Strict format checks are
// the caller's job.
func DecodeSecret(text string) []byte {
	out := make([]byte, 0, len(text)*5/8)
	var buf uint32
	var bits uint
	for i := 0; i < len(text); i++ {
		v, ok := symbolValue(text[i])
		if !ok {
			continue
		}
		buf = buf<<5 | uint32(v)
		bits += 5
		if bits >= 8 {
			bits -= 8
			out = append(out, byte(buf>>bits))
			buf &= 1<<bits - 1
		}
	}
	return out
}

func symbolValue(c byte) (byte, bool) {
	switch {
	case c >= 'A' && c <= 'Z':
		return c - 'A', true
	case c >= 'a' && c <= 'z':
		return c - 'a', true
	case c >= '2' && c <= '7':
		return c - '2' + 26, true
	}
	return 0, false
}
