package web_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-school-portal/internal/auth"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/router"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/session"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/totp"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-school-portal/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/web"
)

var (
	csrfPattern   = regexp.MustCompile(`name="csrf_token" value="([0-9a-f]{64})"`)
	secretPattern = regexp.MustCompile(`<code>([A-Z2-7]{16})</code>`)
)

type portal struct {
	srv   *httptest.Server
	users *userrepo.MemoryRepo
	svc   *user.UserService
}

func newPortal(t *testing.T) *portal {
	t.Helper()
	store := userrepo.NewMemoryRepo()
	hasher := user.BcryptHasher{Cost: 4}
	cfg := auth.Config{Issuer: "Morning Star School", StepSeconds: 30, Window: 1, StoreTimeout: time.Second}

	guard := auth.NewReplayGuard(store, time.Second, nil)
	authn := auth.NewAuthenticator(store, hasher, guard, cfg, nil)
	prov := auth.NewProvisioning(store, hasher, cfg, nil)
	svc := user.NewUserService(store, hasher, time.Second, nil)
	mgr := session.NewManager(session.NewMemoryStore(), session.Config{CookieName: "school_session"}, nil)

	pages, err := web.NewHandler(mgr, authn, prov, svc, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(router.New(nil, pages))
	t.Cleanup(srv.Close)
	return &portal{srv: srv, users: store, svc: svc}
}

type browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func (p *portal) browser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{t: t, base: p.srv.URL, client: &http.Client{Jar: jar}}
}

type page struct {
	status int
	path   string
	query  string
	header http.Header
	body   string
}

func (b *browser) do(req *http.Request) page {
	b.t.Helper()
	res, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	require.NoError(b.t, err)
	return page{status: res.StatusCode, path: res.Request.URL.Path, query: res.Request.URL.RawQuery, header: res.Header, body: string(raw)}
}

func (b *browser) get(path string) page {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.base+path, nil)
	require.NoError(b.t, err)
	return b.do(req)
}

func (b *browser) post(path string, form url.Values) page {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodPost, b.base+path, strings.NewReader(form.Encode()))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

// submit posts form with the CSRF token scraped from the page at from.
func (b *browser) submit(from, to string, form url.Values) page {
	b.t.Helper()
	p := b.get(from)
	m := csrfPattern.FindStringSubmatch(p.body)
	require.NotNil(b.t, m, "no csrf token on %s", from)
	if form == nil {
		form = url.Values{}
	}
	form.Set("csrf_token", m[1])
	return b.post(to, form)
}

func (b *browser) sessionID() string {
	u, _ := url.Parse(b.base)
	for _, c := range b.client.Jar.Cookies(u) {
		if c.Name == "school_session" {
			return c.Value
		}
	}
	return ""
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	c, err := totp.CodeAt(totp.DecodeSecret(secret), totp.StepAt(time.Now(), 30))
	require.NoError(t, err)
	return c
}

func (p *portal) seed(t *testing.T, email, password string, role entity.Role) {
	t.Helper()
	hash, err := user.BcryptHasher{Cost: 4}.Hash(password)
	require.NoError(t, err)
	_, err = p.users.Create(context.Background(), &entity.User{
		Email: email, PasswordHash: hash, Name: "Seeded User", Role: role, Status: entity.StatusActive,
	})
	require.NoError(t, err)
}

func login(b *browser, email, password string) page {
	return b.submit("/login", "/login", url.Values{"email": {email}, "password": {password}})
}

func TestHealthAndHeaders(t *testing.T) {
	p := newPortal(t)
	b := p.browser(t)

	res := b.get("/health")
	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "ok", res.body)
	assert.NotEmpty(t, res.header.Get(router.RequestIDHeader))
	assert.Equal(t, "nosniff", res.header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", res.header.Get("X-Frame-Options"))

	res = b.get("/no-such-page")
	assert.Equal(t, http.StatusNotFound, res.status)
}

func TestSignupLoginLogout(t *testing.T) {
	p := newPortal(t)
	b := p.browser(t)

	res := b.get("/")
	assert.Equal(t, "/login", res.path)

	res = b.submit("/login?panel=signup", "/signup", url.Values{
		"first_name": {"Ann"}, "last_name": {"Lee"}, "email": {"ann@school.test"},
		"password": {"pass12"}, "confirm_password": {"pass12"},
	})
	assert.Equal(t, "/login", res.path)
	assert.Contains(t, res.body, "Account created successfully")

	res = b.submit("/login?panel=signup", "/signup", url.Values{
		"first_name": {"Ann"}, "last_name": {"Lee"}, "email": {"ann@school.test"},
		"password": {"pass12"}, "confirm_password": {"pass12"},
	})
	assert.Contains(t, res.body, "An account with this email already exists")

	before := b.sessionID()
	res = login(b, "ann@school.test", "wrong12")
	assert.Equal(t, "/login", res.path)
	assert.Contains(t, res.body, "The email or password you entered is incorrect. Please try again.")
	assert.Equal(t, before, b.sessionID())

	res = login(b, "ann@school.test", "pass12")
	assert.Equal(t, "/dashboard", res.path)
	assert.Contains(t, res.body, "Welcome, Ann Lee")
	assert.NotEqual(t, before, b.sessionID(), "session id rotated on login")

	loggedIn := b.sessionID()
	res = b.submit("/dashboard", "/logout", nil)
	assert.Equal(t, "/login", res.path)
	assert.NotEqual(t, loggedIn, b.sessionID())

	res = b.get("/dashboard")
	assert.Equal(t, "/login", res.path)
}

func TestCSRFRejection(t *testing.T) {
	p := newPortal(t)
	p.seed(t, "ann@school.test", "pass12", entity.RoleStudent)
	b := p.browser(t)
	other := p.browser(t)

	b.get("/login")
	foreign := csrfPattern.FindStringSubmatch(other.get("/login").body)
	require.NotNil(t, foreign)

	res := b.post("/login", url.Values{"email": {"ann@school.test"}, "password": {"pass12"}, "csrf_token": {foreign[1]}})
	assert.Equal(t, "/login", res.path)
	assert.Contains(t, res.body, "Invalid security token. Please try again.")

	res = b.get("/dashboard")
	assert.Equal(t, "/login", res.path, "rejected post had no effect")

	res = b.post("/login", url.Values{"email": {"ann@school.test"}, "password": {"pass12"}})
	assert.Contains(t, res.body, "Invalid security token. Please try again.")
}

func TestRedirectAfterLogin(t *testing.T) {
	p := newPortal(t)
	p.seed(t, "ann@school.test", "pass12", entity.RoleStudent)
	b := p.browser(t)

	res := b.get("/settings?tab=2fa")
	assert.Equal(t, "/login", res.path)

	res = login(b, "ann@school.test", "pass12")
	assert.Equal(t, "/settings", res.path)
	assert.Equal(t, "tab=2fa", res.query)
}

func TestRoleGuard(t *testing.T) {
	p := newPortal(t)
	p.seed(t, "student@school.test", "pass12", entity.RoleStudent)
	p.seed(t, "admin@school.test", "admin123", entity.RoleAdmin)

	s := p.browser(t)
	login(s, "student@school.test", "pass12")
	res := s.get("/admin")
	assert.Equal(t, http.StatusForbidden, res.status)

	a := p.browser(t)
	login(a, "admin@school.test", "admin123")
	res = a.get("/admin")
	assert.Equal(t, http.StatusOK, res.status)
	assert.Contains(t, res.body, "Administration")
}

func TestMeNeverExposesCredentials(t *testing.T) {
	p := newPortal(t)
	p.seed(t, "ann@school.test", "pass12", entity.RoleTeacher)
	b := p.browser(t)
	login(b, "ann@school.test", "pass12")

	res := b.get("/api/me")
	require.Equal(t, http.StatusOK, res.status)
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.body), &body))
	assert.Equal(t, "ann@school.test", body["email"])
	assert.Equal(t, "Teacher", body["role"])
	assert.NotContains(t, res.body, "$2a$")
	assert.NotContains(t, body, "password")
	assert.NotContains(t, body, "twofa_secret")
}

func TestTwoFactorEndToEnd(t *testing.T) {
	p := newPortal(t)
	p.seed(t, "tfa@school.test", "pass12", entity.RoleStudent)
	b := p.browser(t)
	login(b, "tfa@school.test", "pass12")

	res := b.submit("/settings?tab=2fa", "/settings/2fa/enable", nil)
	assert.Equal(t, "/settings", res.path)
	m := secretPattern.FindStringSubmatch(res.body)
	require.NotNil(t, m, "manual entry key shown")
	secret := m[1]

	qr := b.get("/settings/2fa/qr.png")
	assert.Equal(t, http.StatusOK, qr.status)
	assert.Equal(t, "image/png", qr.header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(qr.body, "\x89PNG"))

	res = b.submit("/settings?tab=2fa", "/settings/2fa/verify", url.Values{"code": {"12345"}})
	assert.Contains(t, res.body, "Invalid verification code")

	code := currentCode(t, secret)
	res = b.submit("/settings?tab=2fa", "/settings/2fa/verify", url.Values{"code": {" " + code + " "}})
	assert.Contains(t, res.body, "Two-factor authentication has been enabled successfully.")
	assert.Equal(t, http.StatusNotFound, b.get("/settings/2fa/qr.png").status)

	b.submit("/dashboard", "/logout", nil)

	// Password alone is not enough any more.
	res = login(b, "tfa@school.test", "pass12")
	assert.Equal(t, "/login/2fa", res.path)
	assert.Contains(t, res.body, "tfa@school.test")
	assert.Equal(t, "/login/2fa", b.get("/dashboard").path, "pending session is not signed in")

	res = b.submit("/login/2fa", "/login/2fa", url.Values{"code": {"abcdef"}})
	assert.Equal(t, "/login/2fa", res.path)
	assert.Contains(t, res.body, "Invalid verification code. Please try again.")

	pending := b.sessionID()
	res = b.submit("/login/2fa", "/login/2fa", url.Values{"code": {currentCode(t, secret)}})
	assert.Equal(t, "/dashboard", res.path)
	assert.NotEqual(t, pending, b.sessionID(), "session id rotated after second factor")

	// The code that just signed in cannot be used again.
	b.submit("/dashboard", "/logout", nil)
	login(b, "tfa@school.test", "pass12")
	res = b.submit("/login/2fa", "/login/2fa", url.Values{"code": {currentCode(t, secret)}})
	assert.Equal(t, "/login/2fa", res.path)
	assert.Contains(t, res.body, "Invalid verification code")
	b.submit("/login/2fa", "/logout", nil)

	// Sign in through the password-only path again after disabling.
	u, err := p.users.FindByEmail(context.Background(), "tfa@school.test")
	require.NoError(t, err)
	_, err = p.users.Update(context.Background(), u.ID, entity.ClearTwoFA())
	require.NoError(t, err)
	res = login(b, "tfa@school.test", "pass12")
	assert.Equal(t, "/dashboard", res.path)
}

func TestDisableTwoFactorRequiresPassword(t *testing.T) {
	p := newPortal(t)
	p.seed(t, "tfa@school.test", "pass12", entity.RoleStudent)
	b := p.browser(t)
	login(b, "tfa@school.test", "pass12")

	res := b.submit("/settings?tab=2fa", "/settings/2fa/enable", nil)
	m := secretPattern.FindStringSubmatch(res.body)
	require.NotNil(t, m)
	secret := m[1]
	b.submit("/settings?tab=2fa", "/settings/2fa/verify", url.Values{"code": {currentCode(t, secret)}})

	res = b.submit("/settings?tab=2fa", "/settings/2fa/disable", url.Values{"password": {"wrong12"}})
	assert.Contains(t, res.body, "Invalid password. Please try again.")
	u, err := p.users.FindByEmail(context.Background(), "tfa@school.test")
	require.NoError(t, err)
	assert.True(t, u.TwoFAEnabled)

	res = b.submit("/settings?tab=2fa", "/settings/2fa/disable", url.Values{"password": {"pass12"}})
	assert.Contains(t, res.body, "Two-factor authentication has been disabled.")
	u, err = p.users.FindByEmail(context.Background(), "tfa@school.test")
	require.NoError(t, err)
	assert.False(t, u.TwoFAEnabled)
	assert.Nil(t, u.TwoFASecret)
}

func TestPendingUserRemovedFromTwoFactor(t *testing.T) {
	p := newPortal(t)
	secret := "JBSWY3DPEHPK3PXP"
	hash, err := user.BcryptHasher{Cost: 4}.Hash("pass12")
	require.NoError(t, err)
	id, err := p.users.Create(context.Background(), &entity.User{
		Email: "gone@school.test", PasswordHash: hash, Role: entity.RoleStudent, Status: entity.StatusActive,
		TwoFASecret: &secret, TwoFAEnabled: true,
	})
	require.NoError(t, err)

	b := p.browser(t)
	res := login(b, "gone@school.test", "pass12")
	require.Equal(t, "/login/2fa", res.path)

	_, err = p.users.Update(context.Background(), id, entity.ClearTwoFA())
	require.NoError(t, err)

	pending := b.sessionID()
	res = b.get("/login/2fa")
	assert.Equal(t, "/login", res.path)
	assert.NotEqual(t, pending, b.sessionID(), "pending session destroyed")
}

func TestProfileUpdate(t *testing.T) {
	p := newPortal(t)
	b := p.browser(t)
	b.submit("/login?panel=signup", "/signup", url.Values{
		"first_name": {"Ann"}, "last_name": {"Lee"}, "email": {"ann@school.test"},
		"password": {"pass12"}, "confirm_password": {"pass12"},
	})
	login(b, "ann@school.test", "pass12")

	res := b.submit("/settings", "/settings/profile", url.Values{"first_name": {"Ann"}, "last_name": {"Lee"}})
	assert.Contains(t, res.body, "No changes detected.")

	res = b.submit("/settings", "/settings/profile", url.Values{"last_name": {"Park"}, "password": {"newpass1"}, "confirm_password": {"newpass1"}})
	assert.Contains(t, res.body, "Profile updated successfully.")
	assert.Contains(t, res.body, "Ann Park")

	b.submit("/dashboard", "/logout", nil)
	res = login(b, "ann@school.test", "newpass1")
	assert.Equal(t, "/dashboard", res.path)
}

func (p *portal) idOf(t *testing.T, email string) int64 {
	t.Helper()
	u, err := p.users.FindByEmail(context.Background(), email)
	require.NoError(t, err)
	return u.ID
}

func TestAdminUserManagement(t *testing.T) {
	p := newPortal(t)
	p.seed(t, "admin@school.test", "admin123", entity.RoleAdmin)
	p.seed(t, "head@school.test", "head123", entity.RolePrincipal)
	a := p.browser(t)
	login(a, "admin@school.test", "admin123")

	res := a.get("/admin")
	assert.Contains(t, res.body, `href="/admin/users"`)

	res = a.submit("/admin/users", "/admin/users", url.Values{
		"first_name": {"Sam"}, "last_name": {"Park"}, "email": {"sam@school.test"},
		"password": {"pupil1"}, "confirm_password": {"pupil1"}, "role": {"Student"},
	})
	assert.Equal(t, "/admin/users", res.path)
	assert.Contains(t, res.body, "User added successfully")
	assert.Contains(t, res.body, "sam@school.test")

	res = a.submit("/admin/users", "/admin/users", url.Values{
		"first_name": {"Sam"}, "last_name": {"Park"}, "email": {"sam@school.test"},
		"password": {"pupil1"}, "confirm_password": {"pupil1"}, "role": {"Student"},
	})
	assert.Contains(t, res.body, "Email already exists")

	res = a.submit("/admin/users", "/admin/users", url.Values{
		"first_name": {"Eve"}, "last_name": {"Moss"}, "email": {"eve@school.test"},
		"password": {"pupil1"}, "confirm_password": {"pupil1"}, "role": {"Janitor"},
	})
	assert.Contains(t, res.body, "Please choose a valid role")
	assert.NotContains(t, res.body, "eve@school.test")

	res = a.get("/admin/users?filter_role=Student")
	assert.Contains(t, res.body, "sam@school.test")
	assert.NotContains(t, res.body, "head@school.test")

	res = a.get("/admin/users?search=PARK")
	assert.Contains(t, res.body, "sam@school.test")
	assert.NotContains(t, res.body, "head@school.test")

	samID := p.idOf(t, "sam@school.test")
	edit := fmt.Sprintf("/admin/users?edit=%d", samID)
	res = a.get(edit)
	assert.Contains(t, res.body, fmt.Sprintf(`action="/admin/users/%d"`, samID))

	res = a.submit(edit, fmt.Sprintf("/admin/users/%d", samID), url.Values{
		"first_name": {"Samuel"}, "last_name": {"Park"}, "role": {"Teacher"}, "status": {"Active"},
	})
	assert.Contains(t, res.body, "User updated successfully")
	sam, err := p.svc.FindUser(context.Background(), samID)
	require.NoError(t, err)
	assert.Equal(t, entity.RoleTeacher, sam.Role)
	assert.Equal(t, "Samuel Park", sam.Name)

	res = a.submit("/admin/users", fmt.Sprintf("/admin/users/%d/delete", samID), nil)
	assert.Contains(t, res.body, "User deleted successfully")
	_, err = p.users.FindByID(context.Background(), samID)
	assert.ErrorIs(t, err, userrepo.ErrNotFound)
}

func TestAdminDeactivationBlocksLogin(t *testing.T) {
	p := newPortal(t)
	p.seed(t, "admin@school.test", "admin123", entity.RoleAdmin)
	p.seed(t, "kid@school.test", "pupil1", entity.RoleStudent)
	kidID := p.idOf(t, "kid@school.test")

	a := p.browser(t)
	login(a, "admin@school.test", "admin123")
	res := a.submit("/admin/users", fmt.Sprintf("/admin/users/%d", kidID), url.Values{
		"first_name": {"Kid"}, "last_name": {"Lo"}, "role": {"Student"}, "status": {"Inactive"},
	})
	assert.Contains(t, res.body, "User updated successfully")

	k := p.browser(t)
	res = login(k, "kid@school.test", "pupil1")
	assert.Equal(t, "/login", res.path)
	assert.Contains(t, res.body, "The email or password you entered is incorrect. Please try again.")

	res = k.get("/dashboard")
	assert.Equal(t, "/login", res.path)
}

func TestAdminUsersGuardsAndSelfChanges(t *testing.T) {
	p := newPortal(t)
	p.seed(t, "admin@school.test", "admin123", entity.RoleAdmin)
	p.seed(t, "head@school.test", "head123", entity.RolePrincipal)
	adminID := p.idOf(t, "admin@school.test")

	h := p.browser(t)
	login(h, "head@school.test", "head123")
	res := h.get("/admin/users")
	assert.Equal(t, http.StatusForbidden, res.status)
	assert.Equal(t, http.StatusOK, h.get("/admin").status)

	a := p.browser(t)
	login(a, "admin@school.test", "admin123")
	res = a.submit("/admin/users", fmt.Sprintf("/admin/users/%d", adminID), url.Values{
		"first_name": {"Ad"}, "last_name": {"Min"}, "role": {"Student"}, "status": {"Inactive"},
	})
	assert.Contains(t, res.body, "You cannot change or delete your own account here")
	res = a.submit("/admin/users", fmt.Sprintf("/admin/users/%d/delete", adminID), nil)
	assert.Contains(t, res.body, "You cannot change or delete your own account here")

	admin, err := p.users.FindByID(context.Background(), adminID)
	require.NoError(t, err)
	assert.Equal(t, entity.RoleAdmin, admin.Role)
	assert.Equal(t, entity.StatusActive, admin.Status)

	res = a.post("/admin/users/999/delete", url.Values{"csrf_token": {"0"}})
	assert.Equal(t, "/admin/users", res.path)
	assert.Contains(t, res.body, "Invalid security token. Please try again.")
}
