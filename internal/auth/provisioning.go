package auth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-school-portal/internal/totp"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user/entity"
)

// EnrollmentDisplay is what the settings page shows while 2FA is being set
// up: the secret for manual entry and the otpauth URI for the QR code.
type EnrollmentDisplay struct {
	Secret string
	URI    string
}

// BuildEnrollmentDisplay percent-encodes label, secret and issuer
// independently into an otpauth://totp URI.
func BuildEnrollmentDisplay(secret, accountLabel, issuer string) EnrollmentDisplay {
	return EnrollmentDisplay{
		Secret: secret,
		URI:    totp.ProvisioningURI(secret, accountLabel, issuer),
	}
}

// Provisioning moves a user through NotConfigured -> SecretGenerated ->
// Enabled, and back to NotConfigured on disable.
type Provisioning struct {
	users  user.Store
	hasher user.PasswordHasher
	cfg    Config
	logger *zap.SugaredLogger

	Now func() time.Time
}

func NewProvisioning(users user.Store, hasher user.PasswordHasher, cfg Config, logger *zap.SugaredLogger) *Provisioning {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Provisioning{users: users, hasher: hasher, cfg: cfg.withDefaults(), logger: logger, Now: time.Now}
}

func (p *Provisioning) Issuer() string { return p.cfg.Issuer }

// Display builds the enrollment display with the configured issuer.
func (p *Provisioning) Display(secret, accountLabel string) EnrollmentDisplay {
	return BuildEnrollmentDisplay(secret, accountLabel, p.cfg.Issuer)
}

// BeginEnrollment stores a new unverified secret, replacing any earlier
// unverified one, and returns it after reading it back.
func (p *Provisioning) BeginEnrollment(ctx context.Context, userID int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	defer cancel()

	u, err := p.users.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if u.TwoFAEnabled {
		return "", ErrTwoFactorAlreadyEnabled
	}

	secret, err := totp.GenerateSecret()
	if err != nil {
		return "", err
	}
	ok, err := p.users.Update(ctx, userID, entity.Patch{
		TwoFASecret:  entity.Some(&secret),
		TwoFAEnabled: entity.Some(false),
	})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", user.ErrNotFound
	}

	fresh, err := p.users.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if fresh.TwoFASecret == nil || *fresh.TwoFASecret != secret {
		return "", ErrSecretNotPersisted
	}
	p.logger.Infow("two-factor enrollment started", "user_id", userID)
	return secret, nil
}

// PendingSecret returns the unverified secret on file, if any.
func (p *Provisioning) PendingSecret(ctx context.Context, userID int64) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	defer cancel()
	u, err := p.users.FindByID(ctx, userID)
	if err != nil {
		return "", false, err
	}
	if u.TwoFAEnabled || !u.HasTwoFASecret() {
		return "", false, nil
	}
	return *u.TwoFASecret, true, nil
}

// ConfirmEnrollment enables 2FA once code matches the stored secret. A
// wrong code leaves the secret in place so the user can retry.
func (p *Provisioning) ConfirmEnrollment(ctx context.Context, userID int64, code string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	defer cancel()

	u, err := p.users.FindByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if u.TwoFAEnabled {
		return false, ErrTwoFactorAlreadyEnabled
	}
	if !u.HasTwoFASecret() {
		return false, ErrNoPendingSecret
	}
	if !totp.Verify(*u.TwoFASecret, code, p.Now(), p.cfg.StepSeconds, p.cfg.Window) {
		return false, nil
	}

	ok, err := p.users.Update(ctx, userID, entity.Patch{TwoFAEnabled: entity.Some(true)})
	if err != nil {
		return false, err
	}
	if !ok {
		return false, user.ErrNotFound
	}
	p.logger.Infow("two-factor enabled", "user_id", userID)
	return true, nil
}

// Disable turns 2FA off after re-checking the account password. Secret,
// flag and watermark are cleared in one update.
func (p *Provisioning) Disable(ctx context.Context, userID int64, password string) (bool, error) {
	if password == "" {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	defer cancel()

	u, err := p.users.FindByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if !p.hasher.Verify(u.PasswordHash, password) {
		return false, nil
	}
	ok, err := p.users.Update(ctx, userID, entity.ClearTwoFA())
	if err != nil {
		return false, err
	}
	if !ok {
		return false, user.ErrNotFound
	}
	p.logger.Infow("two-factor disabled", "user_id", userID)
	return true, nil
}
