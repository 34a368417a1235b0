package auth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-school-portal/internal/totp"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user"
)

// ReplayGuard accepts each TOTP time step at most once per user, using the
// persisted watermark as the record of consumed steps.
type ReplayGuard struct {
	users   user.Store
	timeout time.Duration
	logger  *zap.SugaredLogger

	Now func() time.Time
}

func NewReplayGuard(users user.Store, timeout time.Duration, logger *zap.SugaredLogger) *ReplayGuard {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ReplayGuard{users: users, timeout: timeout, logger: logger, Now: time.Now}
}

// Verify checks code against [current-window, current+window], skipping
// steps at or below the watermark. On a match the watermark moves to
// current+window with a compare-and-set against the value read here; if a
// concurrent verification moved it first, the code is refused.
func (g *ReplayGuard) Verify(ctx context.Context, userID int64, secretText, code string, stepSeconds int64, window int) (bool, error) {
	if !totp.ValidCode(code) {
		return false, nil
	}
	secret := totp.DecodeSecret(secretText)
	if len(secret) == 0 {
		g.logger.Errorw("totp verification without a secret", "user_id", userID)
		return false, ErrStateInconsistent
	}
	if stepSeconds <= 0 {
		stepSeconds = totp.DefaultStepSeconds
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	u, err := g.users.FindByID(ctx, userID)
	if err != nil {
		return false, err
	}
	watermark := u.TwoFALastUsedTimestep

	current := totp.StepAt(g.Now(), stepSeconds)
	for s := current - int64(window); s <= current+int64(window); s++ {
		if s < 0 || (watermark != nil && s <= *watermark) {
			continue
		}
		expected, err := totp.CodeAt(secret, s)
		if err != nil {
			return false, err
		}
		if !totp.Equal(expected, code) {
			continue
		}
		ok, err := g.users.CompareAndSetTOTPWatermark(ctx, userID, watermark, current+int64(window))
		if err != nil {
			return false, err
		}
		if !ok {
			g.logger.Warnw("totp watermark changed concurrently", "user_id", userID)
		}
		return ok, nil
	}
	return false, nil
}
