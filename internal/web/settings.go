package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ovaphlow/pitchfork/service-school-portal/internal/auth"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/totp"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user/entity"
)

const (
	profileTab = "/settings?tab=profile"
	twoFATab   = "/settings?tab=2fa"
	qrSize     = 240
)

// freshUser re-reads the signed-in user; it signs out when the account is
// gone and reports false in every failure case.
func (h *Handler) freshUser(w http.ResponseWriter, r *http.Request) (*entity.User, bool) {
	u, err := h.authn.CurrentUser(r.Context(), sessionFrom(r), true)
	switch {
	case err == nil:
		return u, true
	case errors.Is(err, user.ErrNotFound):
		h.signOut(w, r)
	default:
		h.serverError(w, r, err)
	}
	return nil, false
}

func (h *Handler) SettingsPage(w http.ResponseWriter, r *http.Request) {
	u, ok := h.freshUser(w, r)
	if !ok {
		return
	}
	data := pageData{Title: "Settings", Tab: "profile", User: u.Sanitized()}
	if r.URL.Query().Get("tab") == "2fa" {
		data.Tab = "2fa"
		if !u.TwoFAEnabled && u.HasTwoFASecret() {
			d := h.prov.Display(*u.TwoFASecret, u.Email)
			data.Enrollment = &d
		}
	}
	h.render(w, r, http.StatusOK, "settings", data)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	u, ok := h.freshUser(w, r)
	if !ok {
		return
	}
	changed, err := h.users.UpdateProfile(r.Context(), u, user.ProfileInput{
		FirstName:       r.PostFormValue("first_name"),
		LastName:        r.PostFormValue("last_name"),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	})
	switch {
	case errors.Is(err, user.ErrPasswordMismatch):
		h.flashRedirect(w, r, "error", "Passwords do not match.", profileTab)
	case errors.Is(err, user.ErrWeakPassword):
		h.flashRedirect(w, r, "error", "Password must be at least 6 characters long and contain at least one number.", profileTab)
	case errors.Is(err, user.ErrPasswordTooLong):
		h.flashRedirect(w, r, "error", "Password must be at most 72 characters long.", profileTab)
	case err != nil:
		h.logger.Errorw("profile update failed", "user_id", u.ID, "err", err)
		h.flashRedirect(w, r, "error", "Failed to update profile. Please try again.", profileTab)
	case !changed:
		h.flashRedirect(w, r, "info", "No changes detected.", profileTab)
	default:
		_, _ = h.authn.CurrentUser(r.Context(), sessionFrom(r), true)
		h.flashRedirect(w, r, "success", "Profile updated successfully.", profileTab)
	}
}

func (h *Handler) EnableTwoFA(w http.ResponseWriter, r *http.Request) {
	id := sessionFrom(r).Data().UserID
	_, err := h.prov.BeginEnrollment(r.Context(), id)
	switch {
	case errors.Is(err, auth.ErrTwoFactorAlreadyEnabled):
		h.flashRedirect(w, r, "info", "Two-factor authentication is already enabled.", twoFATab)
	case err != nil:
		h.logger.Errorw("begin 2fa enrollment failed", "user_id", id, "err", err)
		h.flashRedirect(w, r, "error", "Failed to generate 2FA secret. Please try again.", twoFATab)
	default:
		h.flashRedirect(w, r, "info", "Scan the QR code with your authenticator app, then enter the code to finish.", twoFATab)
	}
}

func (h *Handler) VerifyTwoFA(w http.ResponseWriter, r *http.Request) {
	id := sessionFrom(r).Data().UserID
	code := strings.TrimSpace(r.PostFormValue("code"))
	if code == "" {
		h.flashRedirect(w, r, "error", "Please enter the verification code.", twoFATab)
		return
	}
	ok, err := h.prov.ConfirmEnrollment(r.Context(), id, code)
	switch {
	case errors.Is(err, auth.ErrNoPendingSecret):
		h.flashRedirect(w, r, "error", "2FA setup not found. Please start the setup process again.", twoFATab)
	case errors.Is(err, auth.ErrTwoFactorAlreadyEnabled):
		h.flashRedirect(w, r, "info", "Two-factor authentication is already enabled.", twoFATab)
	case err != nil:
		h.logger.Errorw("confirm 2fa enrollment failed", "user_id", id, "err", err)
		h.flashRedirect(w, r, "error", "Failed to enable 2FA. Please try again.", twoFATab)
	case !ok:
		h.flashRedirect(w, r, "error", msgInvalidCode, twoFATab)
	default:
		_, _ = h.authn.CurrentUser(r.Context(), sessionFrom(r), true)
		h.flashRedirect(w, r, "success", "Two-factor authentication has been enabled successfully.", twoFATab)
	}
}

func (h *Handler) DisableTwoFA(w http.ResponseWriter, r *http.Request) {
	id := sessionFrom(r).Data().UserID
	password := r.PostFormValue("password")
	if password == "" {
		h.flashRedirect(w, r, "error", "Please enter your password to disable 2FA.", twoFATab)
		return
	}
	ok, err := h.prov.Disable(r.Context(), id, password)
	switch {
	case err != nil:
		h.logger.Errorw("disable 2fa failed", "user_id", id, "err", err)
		h.flashRedirect(w, r, "error", "Failed to disable 2FA. Please try again.", twoFATab)
	case !ok:
		h.flashRedirect(w, r, "error", "Invalid password. Please try again.", twoFATab)
	default:
		_, _ = h.authn.CurrentUser(r.Context(), sessionFrom(r), true)
		h.flashRedirect(w, r, "success", "Two-factor authentication has been disabled.", twoFATab)
	}
}

// TwoFAQRCode renders the pending enrollment URI as a PNG.
func (h *Handler) TwoFAQRCode(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	secret, ok, err := h.prov.PendingSecret(r.Context(), sess.Data().UserID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	label := ""
	if cached := sess.Data().User; cached != nil {
		label = cached.Email
	}
	png, err := totp.QRCodePNG(h.prov.Display(secret, label).URI, qrSize)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if err := sess.Save(r.Context()); err != nil {
		h.serverError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}
