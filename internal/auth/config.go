package auth

import (
	"time"

	"github.com/ovaphlow/pitchfork/service-school-portal/internal/totp"
)

// Config holds the TOTP parameters and the store call budget shared by the
// auth components.
type Config struct {
	Issuer       string
	StepSeconds  int64
	Window       int
	StoreTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.StepSeconds <= 0 {
		c.StepSeconds = totp.DefaultStepSeconds
	}
	if c.Window < 0 {
		c.Window = totp.DefaultWindow
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 3 * time.Second
	}
	if c.Issuer == "" {
		c.Issuer = "Morning Star School"
	}
	return c
}
