// Package auth implements password sign-in, the second-factor step with
// one-time code enforcement, and TOTP enrollment.
//
// Expected failures (wrong password, wrong or replayed code, inactive
// account) are reported as values. Errors are reserved for store failures
// and for data that breaks the 2FA invariants.
package auth

import "errors"

var (
	// ErrStateInconsistent means 2FA is marked enabled without a usable
	// secret, or a code check was attempted with no secret on file.
	ErrStateInconsistent = errors.New("auth: two-factor state inconsistent")

	ErrTwoFactorAlreadyEnabled = errors.New("auth: two-factor already enabled")
	ErrNoPendingSecret         = errors.New("auth: no enrollment secret on file")
	ErrNotAuthenticated        = errors.New("auth: not authenticated")
	ErrSecretNotPersisted      = errors.New("auth: enrollment secret was not persisted")
)
