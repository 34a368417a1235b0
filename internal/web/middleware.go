package web

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ovaphlow/pitchfork/service-school-portal/internal/auth"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/session"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user/entity"
)

type ctxKey int

const sessionKey ctxKey = iota

func sessionFrom(r *http.Request) *session.Session {
	s, _ := r.Context().Value(sessionKey).(*session.Session)
	return s
}

// withSession starts (or resumes) the session before the handler runs.
func (h *Handler) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.sessions.Start(w, r)
		if err != nil {
			h.logger.Errorw("session start failed", "err", err)
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
	})
}

// requireCSRF rejects POSTs whose token does not match the session's,
// before any side effect, and sends the user back where they came from.
func (h *Handler) requireCSRF(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !sessionFrom(r).ValidCSRF(r.PostFormValue(session.CSRFFormField)) {
			h.logger.Warnw("csrf validation failed", "path", r.URL.Path)
			h.flashRedirect(w, r, "error", msgInvalidCSRF, csrfFallback(r))
			return
		}
		next(w, r)
	}
}

func csrfFallback(r *http.Request) string {
	if strings.HasPrefix(r.URL.Path, "/admin/users") {
		return "/admin/users"
	}
	switch r.URL.Path {
	case "/login", "/signup", "/logout":
		return "/login"
	case "/login/2fa":
		return "/login/2fa"
	case "/settings/profile":
		return "/settings?tab=profile"
	}
	return "/settings?tab=2fa"
}

// requireAuth sends anonymous and pending sessions to the login page,
// remembering where they were going.
func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r)
		if !h.authn.IsLoggedIn(sess) {
			if r.Method == http.MethodGet {
				sess.Data().RedirectAfterLogin = r.URL.RequestURI()
			}
			h.redirect(w, r, "/login")
			return
		}
		next(w, r)
	}
}

// requireAnyRole re-reads the user's role and answers 403 when it is not
// one of roles. A user that no longer exists is signed out.
func (h *Handler) requireAnyRole(roles []entity.Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r)
		ok, err := h.authn.HasAnyRole(r.Context(), sess, roles...)
		switch {
		case errors.Is(err, user.ErrNotFound) || errors.Is(err, auth.ErrNotAuthenticated):
			h.signOut(w, r)
			return
		case err != nil:
			h.serverError(w, r, err)
			return
		case !ok:
			h.errorPage(w, r, http.StatusForbidden, "Access Denied", "You do not have permission to view this page.")
			return
		}
		next(w, r)
	}
}

// signOut destroys the session and redirects to the login page.
func (h *Handler) signOut(w http.ResponseWriter, r *http.Request) {
	if err := h.authn.Logout(r.Context(), sessionFrom(r)); err != nil {
		h.logger.Warnw("session destroy failed", "err", err)
	}
	h.redirect(w, r, "/login")
}
