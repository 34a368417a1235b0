// Package web serves the portal's server-rendered pages. Every state
// changing request is a CSRF-checked POST that ends in a 303 redirect with
// a flash message.
package web

import (
	"bytes"
	"encoding/json"
	"html/template"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-school-portal/internal/auth"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/session"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user/entity"
)

const (
	msgInvalidCSRF  = "Invalid security token. Please try again."
	msgBadLogin     = "The email or password you entered is incorrect. Please try again."
	msgGenericError = "Something went wrong. Please try again."
	msgTwoFABroken  = "Two-factor authentication is not properly configured. Please contact support."
	msgInvalidCode  = "Invalid verification code. Please try again."

	defaultLanding = "/dashboard"
)

var (
	// staffRoles may open the administration page.
	staffRoles = []entity.Role{entity.RoleAdmin, entity.RolePrincipal}
	// adminRoles may manage user accounts.
	adminRoles = []entity.Role{entity.RoleAdmin}
)

// Handler contains dependencies for the page handlers.
type Handler struct {
	sessions *session.Manager
	authn    *auth.Authenticator
	prov     *auth.Provisioning
	users    *user.UserService
	pages    map[string]*template.Template
	logger   *zap.SugaredLogger
}

// NewHandler parses the embedded templates and wires the handler.
func NewHandler(sessions *session.Manager, authn *auth.Authenticator, prov *auth.Provisioning, users *user.UserService, logger *zap.SugaredLogger) (*Handler, error) {
	pages, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{sessions: sessions, authn: authn, prov: prov, users: users, pages: pages, logger: logger}, nil
}

// Register mounts the page routes on mux. All of them run inside a
// session; POST routes additionally require a valid CSRF token.
func (h *Handler) Register(mux *http.ServeMux) {
	page := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, h.withSession(fn))
	}
	post := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, h.withSession(h.requireCSRF(fn)))
	}
	authed := func(fn http.HandlerFunc) http.HandlerFunc { return h.requireAuth(fn) }

	page("GET /{$}", h.Home)
	page("GET /login", h.LoginPage)
	post("POST /login", h.Login)
	post("POST /signup", h.Signup)
	page("GET /login/2fa", h.SecondFactorPage)
	post("POST /login/2fa", h.SecondFactor)
	post("POST /logout", h.Logout)

	page("GET /dashboard", authed(h.Dashboard))
	page("GET /admin", authed(h.requireAnyRole(staffRoles, h.Admin)))
	page("GET /api/me", authed(h.Me))
	page("GET /admin/users", authed(h.requireAnyRole(adminRoles, h.UsersPage)))
	post("POST /admin/users", authed(h.requireAnyRole(adminRoles, h.CreateUser)))
	post("POST /admin/users/{id}", authed(h.requireAnyRole(adminRoles, h.UpdateUser)))
	post("POST /admin/users/{id}/delete", authed(h.requireAnyRole(adminRoles, h.DeleteUser)))

	page("GET /settings", authed(h.SettingsPage))
	post("POST /settings/profile", authed(h.UpdateProfile))
	post("POST /settings/2fa/enable", authed(h.EnableTwoFA))
	post("POST /settings/2fa/verify", authed(h.VerifyTwoFA))
	post("POST /settings/2fa/disable", authed(h.DisableTwoFA))
	page("GET /settings/2fa/qr.png", authed(h.TwoFAQRCode))

	page("/", h.NotFound)
}

// render issues the CSRF token, consumes the flash, saves the session and
// only then writes the page.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	sess := sessionFrom(r)
	token, err := sess.CSRFToken()
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	data.CSRFToken = token
	data.School = h.prov.Issuer()
	data.Flash = sess.PopFlash()
	if data.User == nil && h.authn.IsLoggedIn(sess) {
		data.User, _ = h.authn.CurrentUser(r.Context(), sess, false)
	}
	if data.User != nil {
		data.IsStaff = hasRole(data.User.Role, staffRoles)
		data.IsAdmin = hasRole(data.User.Role, adminRoles)
	}

	var buf bytes.Buffer
	if err := h.pages[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		h.logger.Errorw("template execution failed", "page", name, "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if err := sess.Save(r.Context()); err != nil {
		h.logger.Errorw("session save failed", "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// redirect saves the session before answering with 303 See Other.
func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, to string) {
	if err := sessionFrom(r).Save(r.Context()); err != nil {
		h.logger.Errorw("session save failed", "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, to, http.StatusSeeOther)
}

// flashRedirect sets a flash message and redirects.
func (h *Handler) flashRedirect(w http.ResponseWriter, r *http.Request, kind, message, to string) {
	sessionFrom(r).SetFlash(kind, message)
	h.redirect(w, r, to)
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Errorw("request failed", "path", r.URL.Path, "err", err)
	h.errorPage(w, r, http.StatusInternalServerError, "Server Error", "An unexpected error occurred.")
}

func (h *Handler) errorPage(w http.ResponseWriter, r *http.Request, status int, title, message string) {
	h.render(w, r, status, "error", pageData{Title: title, Status: status, Message: message})
}

func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.errorPage(w, r, http.StatusNotFound, "Page Not Found", "The page you requested does not exist.")
}

func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	if h.authn.IsLoggedIn(sessionFrom(r)) {
		h.redirect(w, r, defaultLanding)
		return
	}
	h.redirect(w, r, "/login")
}

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "dashboard", pageData{Title: "Dashboard"})
}

func (h *Handler) Admin(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "admin", pageData{Title: "Administration"})
}

// Me returns the cached profile of the signed-in user as JSON.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.authn.CurrentUser(r.Context(), sessionFrom(r), false)
	if err != nil {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}
	h.writeJSON(w, http.StatusOK, u)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warnw("write json failed", "err", err)
	}
}

// safeRedirect accepts only same-origin absolute paths.
func safeRedirect(to string) string {
	if to == "" || !strings.HasPrefix(to, "/") || strings.HasPrefix(to, "//") || strings.ContainsAny(to, "\\\r\n") {
		return defaultLanding
	}
	return to
}

func hasRole(role entity.Role, roles []entity.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
