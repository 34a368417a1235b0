package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-school-portal/internal/session"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/totp"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-school-portal/internal/user/repo"
)

const testSecret = "JBSWY3DPEHPK3PXP"

var (
	testHasher = user.BcryptHasher{Cost: 4}
	testNow    = time.Unix(1700000000, 0)
	testCfg    = Config{Issuer: "Morning Star School", StepSeconds: 30, Window: 1, StoreTimeout: time.Second}
)

var errStoreDown = errors.New("store down")

// countingStore wraps a store to count reads and inject failures.
type countingStore struct {
	user.Store
	reads   atomic.Int64
	failAll bool
}

func (s *countingStore) FindByID(ctx context.Context, id int64) (*entity.User, error) {
	s.reads.Add(1)
	if s.failAll {
		return nil, errStoreDown
	}
	return s.Store.FindByID(ctx, id)
}

func (s *countingStore) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	s.reads.Add(1)
	if s.failAll {
		return nil, errStoreDown
	}
	return s.Store.FindByEmail(ctx, email)
}

func createUser(t *testing.T, store user.Store, email, password string, mutate func(*entity.User)) *entity.User {
	t.Helper()
	hash, err := testHasher.Hash(password)
	require.NoError(t, err)
	u := &entity.User{
		Email:        email,
		PasswordHash: hash,
		Name:         "Test User",
		Role:         entity.RoleStudent,
		Status:       entity.StatusActive,
	}
	if mutate != nil {
		mutate(u)
	}
	_, err = store.Create(context.Background(), u)
	require.NoError(t, err)
	return u
}

func withTwoFA(u *entity.User) {
	s := testSecret
	u.TwoFASecret = &s
	u.TwoFAEnabled = true
}

func codeFor(t *testing.T, secret string, step int64) string {
	t.Helper()
	c, err := totp.CodeAt(totp.DecodeSecret(secret), step)
	require.NoError(t, err)
	return c
}

func currentStep() int64 { return totp.StepAt(testNow, 30) }

func newSession(t *testing.T, m *session.Manager) *session.Session {
	t.Helper()
	s, err := m.Start(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background()))
	return s
}

type fixture struct {
	store *userrepo.MemoryRepo
	mgr   *session.Manager
	guard *ReplayGuard
	authn *Authenticator
	prov  *Provisioning
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := userrepo.NewMemoryRepo()
	guard := NewReplayGuard(store, time.Second, nil)
	guard.Now = func() time.Time { return testNow }
	authn := NewAuthenticator(store, testHasher, guard, testCfg, nil)
	authn.Now = func() time.Time { return testNow }
	prov := NewProvisioning(store, testHasher, testCfg, nil)
	prov.Now = func() time.Time { return testNow }
	mgr := session.NewManager(session.NewMemoryStore(), session.Config{}, nil)
	return &fixture{store: store, mgr: mgr, guard: guard, authn: authn, prov: prov}
}

// wrongCode returns a well-formed code that matches no step in the window
// around testNow.
func wrongCode(t *testing.T, secret string) string {
	t.Helper()
	valid := map[string]bool{}
	for i := int64(-1); i <= 1; i++ {
		valid[codeFor(t, secret, currentStep()+i)] = true
	}
	for _, c := range []string{"000000", "111111", "222222", "333333"} {
		if !valid[c] {
			return c
		}
	}
	t.Fatal("no wrong code available")
	return ""
}
