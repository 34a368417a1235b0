package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-school-portal/internal/user/repo"
)

// Store is the credential store consumed by the auth core. Implementations
// return ErrNotFound for missing rows and never cache FindByID.
type Store interface {
	Create(ctx context.Context, u *entity.User) (int64, error)
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	FindByID(ctx context.Context, id int64) (*entity.User, error)
	Update(ctx context.Context, id int64, p entity.Patch) (bool, error)
	CompareAndSetTOTPWatermark(ctx context.Context, id int64, expected *int64, next int64) (bool, error)
	ListCredentials(ctx context.Context) ([]entity.Credential, error)
	List(ctx context.Context, f entity.Filter) ([]*entity.User, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

var (
	_ Store = (*userrepo.UserRepo)(nil)
	_ Store = (*userrepo.MemoryRepo)(nil)
)

var (
	ErrNotFound         = userrepo.ErrNotFound
	ErrDuplicateEmail   = userrepo.ErrDuplicateEmail
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrWeakPassword     = errors.New("password must be at least 6 characters and contain a number")
	ErrPasswordTooLong  = errors.New("password exceeds 72 bytes")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrMissingField     = errors.New("required field missing")
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
	NeedsRehash(hash string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) cost() int {
	if b.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return b.Cost
}

func (b BcryptHasher) Hash(pw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), b.cost())
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// NeedsRehash reports plaintext values and bcrypt hashes below the
// configured cost.
func (b BcryptHasher) NeedsRehash(hash string) bool {
	if !IsBcryptHash(hash) {
		return true
	}
	c, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return c < b.cost()
}

// IsBcryptHash recognises the $2a$, $2b$ and $2y$ prefixes.
func IsBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// ValidEmail accepts a bare address such as a@b.c. Display-name forms
// ("Ann <a@b.c>") are rejected.
func ValidEmail(email string) bool {
	if email == "" || strings.TrimSpace(email) != email {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	return at > 0 && strings.Contains(email[at+1:], ".")
}

// MaxPasswordBytes is the longest input bcrypt accepts.
const MaxPasswordBytes = 72

// ValidPassword: at least 6 characters with at least one digit, and no more
// than MaxPasswordBytes bytes.
func ValidPassword(pw string) bool {
	return len(pw) >= 6 && len(pw) <= MaxPasswordBytes && strings.ContainsAny(pw, "0123456789")
}

// UserService orchestrates user lifecycle flows outside of sign-in.
type UserService struct {
	store   Store
	hasher  PasswordHasher
	timeout time.Duration
	logger  *zap.SugaredLogger
}

func NewUserService(store Store, hasher PasswordHasher, timeout time.Duration, logger *zap.SugaredLogger) *UserService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &UserService{store: store, hasher: hasher, timeout: timeout, logger: logger}
}

func (s *UserService) Hasher() PasswordHasher { return s.hasher }

func (s *UserService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// SignupInput is the public registration form.
type SignupInput struct {
	FirstName       string
	LastName        string
	Email           string
	Password        string
	ConfirmPassword string
}

// Signup creates an active Student account.
func (s *UserService) Signup(ctx context.Context, in SignupInput) (int64, error) {
	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)
	email := strings.TrimSpace(in.Email)
	switch {
	case first == "" || last == "" || email == "" || in.Password == "":
		return 0, ErrMissingField
	case !ValidEmail(email):
		return 0, ErrInvalidEmail
	case len(in.Password) > MaxPasswordBytes:
		return 0, ErrPasswordTooLong
	case !ValidPassword(in.Password):
		return 0, ErrWeakPassword
	case in.Password != in.ConfirmPassword:
		return 0, ErrPasswordMismatch
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if _, err := s.store.FindByEmail(ctx, email); err == nil {
		return 0, ErrDuplicateEmail
	} else if !errors.Is(err, ErrNotFound) {
		return 0, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return 0, err
	}
	u := &entity.User{
		Email:        email,
		PasswordHash: hash,
		Name:         first + " " + last,
		FirstName:    &first,
		LastName:     &last,
		Role:         entity.RoleStudent,
		Status:       entity.StatusActive,
	}
	id, err := s.store.Create(ctx, u)
	if err != nil {
		return 0, err
	}
	s.logger.Infow("user signed up", "user_id", id)
	return id, nil
}

// ProfileInput carries the settings profile form. Empty names are left
// unchanged; an empty password means no password change.
type ProfileInput struct {
	FirstName       string
	LastName        string
	Password        string
	ConfirmPassword string
}

// UpdateProfile applies the profile form and reports whether anything
// changed.
func (s *UserService) UpdateProfile(ctx context.Context, current *entity.User, in ProfileInput) (bool, error) {
	var p entity.Patch
	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)
	curFirst, curLast := deref(current.FirstName), deref(current.LastName)

	if first != "" && first != curFirst {
		p.FirstName = entity.Some(&first)
	} else {
		first = curFirst
	}
	if last != "" && last != curLast {
		p.LastName = entity.Some(&last)
	} else {
		last = curLast
	}
	if full := strings.TrimSpace(first + " " + last); full != "" && full != current.Name {
		p.Name = entity.Some(full)
	}

	if in.Password != "" {
		if in.Password != in.ConfirmPassword {
			return false, ErrPasswordMismatch
		}
		if len(in.Password) > MaxPasswordBytes {
			return false, ErrPasswordTooLong
		}
		if !ValidPassword(in.Password) {
			return false, ErrWeakPassword
		}
		hash, err := s.hasher.Hash(in.Password)
		if err != nil {
			return false, err
		}
		p.PasswordHash = entity.Some(hash)
	}
	if p.Empty() {
		return false, nil
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	ok, err := s.store.Update(ctx, current.ID, p)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrNotFound
	}
	if p.PasswordHash.Set {
		s.logger.Infow("password changed", "user_id", current.ID)
	}
	return true, nil
}

// AdminSeed describes the initial administrator account.
type AdminSeed struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// CreateAdmin creates the administrator unless an account with the same
// email already exists, in which case the existing row is returned with
// created=false.
func (s *UserService) CreateAdmin(ctx context.Context, seed AdminSeed) (u *entity.User, created bool, err error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	existing, err := s.store.FindByEmail(ctx, seed.Email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	if !ValidEmail(seed.Email) {
		return nil, false, ErrInvalidEmail
	}
	if len(seed.Password) > MaxPasswordBytes {
		return nil, false, ErrPasswordTooLong
	}
	if !ValidPassword(seed.Password) {
		return nil, false, ErrWeakPassword
	}
	hash, err := s.hasher.Hash(seed.Password)
	if err != nil {
		return nil, false, err
	}
	first, last := seed.FirstName, seed.LastName
	u = &entity.User{
		Email:        seed.Email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(first + " " + last),
		FirstName:    &first,
		LastName:     &last,
		Role:         entity.RoleAdmin,
		Status:       entity.StatusActive,
	}
	if seed.Username != "" {
		name := seed.Username
		u.Username = &name
	}
	if _, err := s.store.Create(ctx, u); err != nil {
		return nil, false, fmt.Errorf("create admin: %w", err)
	}
	s.logger.Infow("admin account created", "user_id", u.ID)
	return u, true, nil
}

// MigrationReport counts the outcome of MigratePlaintextPasswords.
type MigrationReport struct {
	Updated int
	Skipped int
	// TooLong lists users whose plain-text password exceeds
	// MaxPasswordBytes; they are left untouched and need a reset.
	TooLong []int64
}

// MigratePlaintextPasswords re-hashes every stored password that is not
// already a bcrypt hash.
func (s *UserService) MigratePlaintextPasswords(ctx context.Context) (MigrationReport, error) {
	var rep MigrationReport
	listCtx, cancel := s.storeCtx(ctx)
	creds, err := s.store.ListCredentials(listCtx)
	cancel()
	if err != nil {
		return rep, err
	}
	for _, c := range creds {
		if IsBcryptHash(c.Password) {
			rep.Skipped++
			continue
		}
		if len(c.Password) > MaxPasswordBytes {
			s.logger.Warnw("password too long to hash, reset required", "user_id", c.ID)
			rep.TooLong = append(rep.TooLong, c.ID)
			continue
		}
		hash, err := s.hasher.Hash(c.Password)
		if err != nil {
			return rep, fmt.Errorf("hash password for user %d: %w", c.ID, err)
		}
		upCtx, cancel := s.storeCtx(ctx)
		_, err = s.store.Update(upCtx, c.ID, entity.Patch{PasswordHash: entity.Some(hash)})
		cancel()
		if err != nil {
			return rep, fmt.Errorf("update user %d: %w", c.ID, err)
		}
		s.logger.Infow("password re-hashed", "user_id", c.ID)
		rep.Updated++
	}
	return rep, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
