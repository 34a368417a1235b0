package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-school-portal/internal/session"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user/entity"
)

type Outcome int

const (
	Rejected Outcome = iota
	NeedsSecondFactor
	Completed
)

func (o Outcome) String() string {
	switch o {
	case NeedsSecondFactor:
		return "needs_second_factor"
	case Completed:
		return "completed"
	default:
		return "rejected"
	}
}

// Authenticator drives the Anonymous -> PendingSecondFactor -> Authenticated
// session state machine.
type Authenticator struct {
	users  user.Store
	hasher user.PasswordHasher
	guard  *ReplayGuard
	cfg    Config
	logger *zap.SugaredLogger

	Now func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthenticator(users user.Store, hasher user.PasswordHasher, guard *ReplayGuard, cfg Config, logger *zap.SugaredLogger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Authenticator{
		users:  users,
		hasher: hasher,
		guard:  guard,
		cfg:    cfg.withDefaults(),
		logger: logger,
		Now:    time.Now,
	}
}

func (a *Authenticator) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.cfg.StoreTimeout)
}

// burnHash spends one hash verification so unknown emails take about as
// long as known ones.
func (a *Authenticator) burnHash(password string) {
	a.dummyOnce.Do(func() {
		a.dummyHash, _ = a.hasher.Hash("not-a-real-password-0")
	})
	if a.dummyHash != "" {
		a.hasher.Verify(a.dummyHash, password)
	}
}

// Login verifies the primary credentials. Completed sessions get a new
// identifier; sessions that need a second factor are only marked pending.
func (a *Authenticator) Login(ctx context.Context, sess *session.Session, email, password string) (Outcome, error) {
	if !user.ValidEmail(email) || password == "" {
		return Rejected, nil
	}

	lookupCtx, cancel := a.storeCtx(ctx)
	u, err := a.users.FindByEmail(lookupCtx, email)
	cancel()
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			a.burnHash(password)
			return Rejected, nil
		}
		return Rejected, err
	}

	if !a.hasher.Verify(u.PasswordHash, password) {
		return Rejected, nil
	}
	if !u.Active() {
		return Rejected, nil
	}

	if u.TwoFAEnabled {
		if !u.HasTwoFASecret() {
			a.logger.Errorw("two-factor enabled without a secret", "user_id", u.ID)
			return Rejected, ErrStateInconsistent
		}
		sess.Data().SetPending(u.ID, u.Email)
		return NeedsSecondFactor, nil
	}

	sess.Data().SetAuthenticated(u, a.Now())
	if err := sess.Regenerate(ctx); err != nil {
		return Rejected, err
	}
	a.logger.Infow("user logged in", "user_id", u.ID, "role", u.Role)
	return Completed, nil
}

// PendingUser returns a fresh read of the user awaiting a second factor. It
// returns ErrStateInconsistent when that user no longer has a usable
// second factor and user.ErrNotFound when the user is gone.
func (a *Authenticator) PendingUser(ctx context.Context, sess *session.Session) (*entity.User, error) {
	d := sess.Data()
	if d.State() != session.PendingSecondFactor {
		return nil, ErrNotAuthenticated
	}
	ctx, cancel := a.storeCtx(ctx)
	defer cancel()
	u, err := a.users.FindByID(ctx, d.PendingUserID)
	if err != nil {
		return nil, err
	}
	if !u.TwoFAEnabled || !u.HasTwoFASecret() {
		return nil, ErrStateInconsistent
	}
	return u, nil
}

// CompleteSecondFactor promotes a pending session when code passes the
// replay-tracked check.
func (a *Authenticator) CompleteSecondFactor(ctx context.Context, sess *session.Session, code string) (bool, error) {
	u, err := a.PendingUser(ctx, sess)
	if err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			return false, nil
		}
		if errors.Is(err, ErrStateInconsistent) {
			a.logger.Errorw("pending user lost two-factor configuration", "user_id", sess.Data().PendingUserID)
		}
		return false, err
	}
	if !u.Active() {
		return false, nil
	}

	ok, err := a.guard.Verify(ctx, u.ID, *u.TwoFASecret, code, a.cfg.StepSeconds, a.cfg.Window)
	if err != nil || !ok {
		return false, err
	}

	sess.Data().SetAuthenticated(u, a.Now())
	if err := sess.Regenerate(ctx); err != nil {
		return false, err
	}
	a.logger.Infow("user logged in with second factor", "user_id", u.ID, "role", u.Role)
	return true, nil
}

// Logout clears every trace of the session and leaves a fresh one behind.
func (a *Authenticator) Logout(ctx context.Context, sess *session.Session) error {
	if id := sess.Data().UserID; id != 0 {
		a.logger.Infow("user logged out", "user_id", id)
	}
	return sess.Destroy(ctx)
}

// IsLoggedIn is true only for fully authenticated sessions.
func (a *Authenticator) IsLoggedIn(sess *session.Session) bool {
	return sess.State() == session.Authenticated
}

// CurrentUser returns the signed-in user. With forceFresh=false the cached
// snapshot is used when present; it never holds credential fields, so any
// caller that needs the password hash or 2FA secret must pass true.
func (a *Authenticator) CurrentUser(ctx context.Context, sess *session.Session, forceFresh bool) (*entity.User, error) {
	d := sess.Data()
	if d.State() != session.Authenticated {
		return nil, ErrNotAuthenticated
	}
	if !forceFresh && d.User != nil {
		return d.User.Sanitized(), nil
	}
	ctx, cancel := a.storeCtx(ctx)
	defer cancel()
	u, err := a.users.FindByID(ctx, d.UserID)
	if err != nil {
		return nil, err
	}
	d.User = u.Sanitized()
	d.Role = u.Role
	return u, nil
}

// HasAnyRole reports whether the signed-in user's current role is one of
// roles. The role is re-read from the store; inactive accounts hold none.
func (a *Authenticator) HasAnyRole(ctx context.Context, sess *session.Session, roles ...entity.Role) (bool, error) {
	u, err := a.CurrentUser(ctx, sess, true)
	if err != nil {
		return false, err
	}
	if !u.Active() {
		return false, nil
	}
	for _, r := range roles {
		if u.Role == r {
			return true, nil
		}
	}
	return false, nil
}
