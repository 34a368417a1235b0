package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user/entity"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestManager(t *testing.T) (*Manager, *MemoryStore, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.now = clock.Now
	m := NewManager(store, Config{CookieName: "sid"}, nil)
	m.Now = clock.Now
	n := 0
	m.NewID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return m, store, clock
}

func requestWithCookie(id string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if id != "" {
		r.AddCookie(&http.Cookie{Name: "sid", Value: id})
	}
	return r
}

func lastCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies[len(cookies)-1]
}

func TestStartNewSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	rec := httptest.NewRecorder()
	s, err := m.Start(rec, requestWithCookie(""))
	require.NoError(t, err)
	assert.Equal(t, "id-1", s.ID())
	assert.Equal(t, Anonymous, s.State())
	assert.Empty(t, rec.Result().Cookies(), "nothing written before Save")

	require.NoError(t, s.Save(context.Background()))
	c := lastCookie(t, rec)
	assert.Equal(t, "sid", c.Name)
	assert.Equal(t, "id-1", c.Value)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.False(t, c.Secure)
}

func TestStartSecureCookieOverTLS(t *testing.T) {
	m, _, _ := newTestManager(t)
	rec := httptest.NewRecorder()
	r := requestWithCookie("")
	r.TLS = &tls.ConnectionState{}
	s, err := m.Start(rec, r)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background()))
	assert.True(t, lastCookie(t, rec).Secure)
}

func TestStartResumesAndIgnoresUnknownIDs(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Start(httptest.NewRecorder(), requestWithCookie(""))
	require.NoError(t, err)
	s.SetFlash("info", "hi")
	require.NoError(t, s.Save(ctx))

	resumed, err := m.Start(httptest.NewRecorder(), requestWithCookie(s.ID()))
	require.NoError(t, err)
	assert.Equal(t, s.ID(), resumed.ID())
	assert.Equal(t, "hi", resumed.PopFlash().Message)
	assert.Nil(t, resumed.PopFlash())

	fresh, err := m.Start(httptest.NewRecorder(), requestWithCookie("forged"))
	require.NoError(t, err)
	assert.NotEqual(t, "forged", fresh.ID(), "unknown ids are never adopted")
}

func TestStartReplacesUnreadableRecord(t *testing.T) {
	m, store, clock := newTestManager(t)
	ctx := context.Background()

	store.entries["stale"] = memoryEntry{
		raw:     []byte(`{"user_id":"not-a-number"}`),
		expires: clock.now.Add(time.Hour),
	}
	_, err := store.Load(ctx, "stale")
	require.ErrorIs(t, err, ErrCorrupt)

	rec := httptest.NewRecorder()
	s, err := m.Start(rec, requestWithCookie("stale"))
	require.NoError(t, err)
	assert.NotEqual(t, "stale", s.ID())
	assert.Equal(t, Anonymous, s.State())
	_, err = store.Load(ctx, "stale")
	assert.ErrorIs(t, err, ErrNotFound, "unreadable record removed")

	require.NoError(t, s.Save(ctx))
	assert.Equal(t, s.ID(), lastCookie(t, rec).Value)

	again, err := m.Start(httptest.NewRecorder(), requestWithCookie("stale"))
	require.NoError(t, err)
	assert.NotEqual(t, "stale", again.ID())
}

type unavailableStore struct{ MemoryStore }

func (*unavailableStore) Load(context.Context, string) (*Data, error) {
	return nil, errors.New("connection refused")
}

func TestStartPropagatesStoreOutage(t *testing.T) {
	m := NewManager(&unavailableStore{}, Config{CookieName: "sid"}, nil)
	_, err := m.Start(httptest.NewRecorder(), requestWithCookie("some-id"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCorrupt)
}

func TestStartRotatesAgedSession(t *testing.T) {
	m, store, clock := newTestManager(t)
	ctx := context.Background()

	s, err := m.Start(httptest.NewRecorder(), requestWithCookie(""))
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx))
	oldID := s.ID()

	clock.now = clock.now.Add(29 * time.Minute)
	same, err := m.Start(httptest.NewRecorder(), requestWithCookie(oldID))
	require.NoError(t, err)
	assert.Equal(t, oldID, same.ID())

	clock.now = clock.now.Add(2 * time.Minute)
	rec := httptest.NewRecorder()
	rotated, err := m.Start(rec, requestWithCookie(oldID))
	require.NoError(t, err)
	assert.NotEqual(t, oldID, rotated.ID())
	assert.Equal(t, rotated.ID(), lastCookie(t, rec).Value, "new cookie issued before Start returns")
	assert.True(t, clock.now.Equal(rotated.Data().CreatedAt))

	_, err = store.Load(ctx, oldID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegenerateKeepsDataUnderNewID(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	s, err := m.Start(httptest.NewRecorder(), requestWithCookie(""))
	require.NoError(t, err)
	token, err := s.CSRFToken()
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx))
	oldID := s.ID()

	s.Data().SetAuthenticated(&entity.User{ID: 3, Role: entity.RoleStudent}, m.Now())
	require.NoError(t, s.Regenerate(ctx))
	assert.NotEqual(t, oldID, s.ID())

	_, err = store.Load(ctx, oldID)
	assert.ErrorIs(t, err, ErrNotFound)
	d, err := store.Load(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(3), d.UserID)
	assert.Equal(t, token, d.CSRFToken)
}

func TestDestroyStartsEmptySession(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	s, err := m.Start(httptest.NewRecorder(), requestWithCookie(""))
	require.NoError(t, err)
	_, err = s.CSRFToken()
	require.NoError(t, err)
	s.Data().SetAuthenticated(&entity.User{ID: 3, Role: entity.RoleAdmin}, m.Now())
	s.Data().RedirectAfterLogin = "/grades"
	require.NoError(t, s.Save(ctx))
	oldID := s.ID()

	rec := httptest.NewRecorder()
	s.w = rec
	require.NoError(t, s.Destroy(ctx))
	assert.NotEqual(t, oldID, s.ID())
	assert.Equal(t, Anonymous, s.State())
	assert.Empty(t, s.Data().CSRFToken)
	assert.Empty(t, s.Data().RedirectAfterLogin)
	assert.Equal(t, -1, lastCookie(t, rec).MaxAge)

	_, err = store.Load(ctx, oldID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Save(ctx))
	assert.Equal(t, s.ID(), lastCookie(t, rec).Value)
}

func TestCSRFTokenStableAndIsolated(t *testing.T) {
	m, _, _ := newTestManager(t)
	a, err := m.Start(httptest.NewRecorder(), requestWithCookie(""))
	require.NoError(t, err)
	b, err := m.Start(httptest.NewRecorder(), requestWithCookie(""))
	require.NoError(t, err)

	assert.False(t, a.ValidCSRF(""), "no token issued yet")

	tokA, err := a.CSRFToken()
	require.NoError(t, err)
	again, err := a.CSRFToken()
	require.NoError(t, err)
	assert.Equal(t, tokA, again)
	assert.Len(t, tokA, 64)

	tokB, err := b.CSRFToken()
	require.NoError(t, err)
	assert.NotEqual(t, tokA, tokB)

	assert.True(t, a.ValidCSRF(tokA))
	assert.False(t, a.ValidCSRF(tokB), "token from another session")
	assert.False(t, a.ValidCSRF(""))
	assert.False(t, a.ValidCSRF(tokA[:63]))
}

func TestStateTransitions(t *testing.T) {
	d := &Data{}
	assert.Equal(t, Anonymous, d.State())
	d.SetPending(4, "x@y.z")
	assert.Equal(t, PendingSecondFactor, d.State())
	d.SetAuthenticated(&entity.User{ID: 4, Role: entity.RolePrincipal}, time.Now())
	assert.Equal(t, Authenticated, d.State())
	assert.Zero(t, d.PendingUserID)
	assert.Empty(t, d.PendingEmail)
	assert.Equal(t, "authenticated", d.State().String())
}
