package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// CSRFFormField is the form field carrying the anti-forgery token.
const CSRFFormField = "csrf_token"

// CSRFToken returns the session's anti-forgery token, issuing a 32-byte
// random one on first use.
func (s *Session) CSRFToken() (string, error) {
	if s.data.CSRFToken == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("session: read random: %w", err)
		}
		s.data.CSRFToken = hex.EncodeToString(buf)
	}
	return s.data.CSRFToken, nil
}

// ValidCSRF reports whether token matches the one issued to this session.
func (s *Session) ValidCSRF(token string) bool {
	if s.data.CSRFToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.data.CSRFToken), []byte(token)) == 1
}
