package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ovaphlow/pitchfork/service-school-portal/internal/auth"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/session"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user"
)

func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	switch sess.State() {
	case session.Authenticated:
		h.redirect(w, r, defaultLanding)
		return
	case session.PendingSecondFactor:
		h.redirect(w, r, "/login/2fa")
		return
	}
	panel := "login"
	if r.URL.Query().Get("panel") == "signup" {
		panel = "signup"
	}
	h.render(w, r, http.StatusOK, "login", pageData{Title: "Sign In", Panel: panel})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")

	switch {
	case email == "" || password == "":
		h.flashRedirect(w, r, "error", "Please enter both email and password", "/login")
		return
	case !user.ValidEmail(email):
		h.flashRedirect(w, r, "error", "Please enter a valid email address", "/login")
		return
	}

	out, err := h.authn.Login(r.Context(), sess, email, password)
	if err != nil {
		if errors.Is(err, auth.ErrStateInconsistent) {
			h.flashRedirect(w, r, "error", msgTwoFABroken, "/login")
			return
		}
		h.logger.Errorw("login failed", "err", err)
		h.flashRedirect(w, r, "error", msgGenericError, "/login")
		return
	}
	switch out {
	case auth.NeedsSecondFactor:
		h.redirect(w, r, "/login/2fa")
	case auth.Completed:
		h.redirect(w, r, h.popRedirect(sess))
	default:
		h.flashRedirect(w, r, "error", msgBadLogin, "/login")
	}
}

func (h *Handler) popRedirect(sess *session.Session) string {
	to := safeRedirect(sess.Data().RedirectAfterLogin)
	sess.Data().RedirectAfterLogin = ""
	return to
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	in := user.SignupInput{
		FirstName:       r.PostFormValue("first_name"),
		LastName:        r.PostFormValue("last_name"),
		Email:           r.PostFormValue("email"),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	}
	const back = "/login?panel=signup"
	_, err := h.users.Signup(r.Context(), in)
	switch {
	case err == nil:
		h.flashRedirect(w, r, "success", "Account created successfully. Please login.", "/login")
	case errors.Is(err, user.ErrMissingField):
		h.flashRedirect(w, r, "error", "Please fill in all fields", back)
	case errors.Is(err, user.ErrInvalidEmail):
		h.flashRedirect(w, r, "error", "Please enter a valid email address", back)
	case errors.Is(err, user.ErrWeakPassword):
		h.flashRedirect(w, r, "error", "Password must be at least 6 characters long and contain at least one number", back)
	case errors.Is(err, user.ErrPasswordTooLong):
		h.flashRedirect(w, r, "error", "Password must be at most 72 characters long", back)
	case errors.Is(err, user.ErrPasswordMismatch):
		h.flashRedirect(w, r, "error", "Passwords do not match", back)
	case errors.Is(err, user.ErrDuplicateEmail):
		h.flashRedirect(w, r, "error", "An account with this email already exists. Please use a different email or sign in.", back)
	default:
		h.logger.Errorw("signup failed", "err", err)
		h.flashRedirect(w, r, "error", msgGenericError, back)
	}
}

// pendingOrSignOut resolves the user awaiting a second factor. Sessions
// whose user vanished or lost 2FA are destroyed.
func (h *Handler) pendingOrSignOut(w http.ResponseWriter, r *http.Request) bool {
	sess := sessionFrom(r)
	if sess.State() != session.PendingSecondFactor {
		h.redirect(w, r, "/login")
		return false
	}
	_, err := h.authn.PendingUser(r.Context(), sess)
	switch {
	case err == nil:
		return true
	case errors.Is(err, user.ErrNotFound) || errors.Is(err, auth.ErrStateInconsistent):
		h.signOut(w, r)
	default:
		h.serverError(w, r, err)
	}
	return false
}

func (h *Handler) SecondFactorPage(w http.ResponseWriter, r *http.Request) {
	if !h.pendingOrSignOut(w, r) {
		return
	}
	h.render(w, r, http.StatusOK, "login_2fa", pageData{
		Title:        "Two-Factor Authentication",
		PendingEmail: sessionFrom(r).Data().PendingEmail,
	})
}

func (h *Handler) SecondFactor(w http.ResponseWriter, r *http.Request) {
	if !h.pendingOrSignOut(w, r) {
		return
	}
	sess := sessionFrom(r)
	code := strings.TrimSpace(r.PostFormValue("code"))
	if code == "" {
		h.flashRedirect(w, r, "error", "Please enter the verification code", "/login/2fa")
		return
	}
	ok, err := h.authn.CompleteSecondFactor(r.Context(), sess, code)
	switch {
	case errors.Is(err, user.ErrNotFound) || errors.Is(err, auth.ErrStateInconsistent):
		h.signOut(w, r)
	case err != nil:
		h.logger.Errorw("second factor failed", "err", err)
		h.flashRedirect(w, r, "error", msgGenericError, "/login/2fa")
	case ok:
		h.redirect(w, r, h.popRedirect(sess))
	default:
		h.flashRedirect(w, r, "error", msgInvalidCode, "/login/2fa")
	}
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.signOut(w, r)
}
