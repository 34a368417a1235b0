// Package totp implements RFC 6238 time-based one-time passwords with
// HMAC-SHA1, six digits and a configurable step size. Code derivation is
// delegated to pquerna/otp; step selection stays here so callers can walk
// the window themselves.
package totp

import (
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

const (
	Digits             = 6
	DefaultStepSeconds = 30
	DefaultWindow      = 1
)

var (
	ErrEmptySecret = errors.New("totp: empty secret")

	rawSecret = base32.StdEncoding.WithPadding(base32.NoPadding)
	codeOpts  = hotp.ValidateOpts{Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1}
)

// CodeAt derives the code for a step index. Callers pass the index rather
// than a wall-clock time so neighbouring steps can be evaluated directly.
func CodeAt(secret []byte, step int64) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	code, err := hotp.GenerateCodeCustom(rawSecret.EncodeToString(secret), uint64(step), codeOpts)
	if err != nil {
		return "", fmt.Errorf("totp: generate code: %w", err)
	}
	return code, nil
}

// StepAt returns floor(unix(t) / stepSeconds).
func StepAt(t time.Time, stepSeconds int64) int64 {
	if stepSeconds <= 0 {
		stepSeconds = DefaultStepSeconds
	}
	sec := t.Unix()
	step := sec / stepSeconds
	if sec%stepSeconds != 0 && sec < 0 {
		step--
	}
	return step
}

// ValidCode reports whether code is exactly six ASCII digits.
func ValidCode(code string) bool {
	if len(code) != Digits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// Equal compares two codes in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Verify checks code against every step in [current-window, current+window]
// without any one-time-use bookkeeping. It is meant for enrollment
// confirmation; sign-in goes through the replay-tracked check instead.
func Verify(secretText, code string, now time.Time, stepSeconds int64, window int) bool {
	if !ValidCode(code) {
		return false
	}
	secret := DecodeSecret(secretText)
	if len(secret) == 0 {
		return false
	}
	current := StepAt(now, stepSeconds)
	matched := false
	for i := -int64(window); i <= int64(window); i++ {
		step := current + i
		if step < 0 {
			continue
		}
		expected, err := CodeAt(secret, step)
		if err != nil {
			return false
		}
		if Equal(expected, code) {
			matched = true
		}
	}
	return matched
}
