package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user"
	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user/entity"
)

const usersPath = "/admin/users"

// accountMessages maps account management errors to flash text.
var accountMessages = []struct {
	err error
	msg string
}{
	{user.ErrMissingField, "Please fill in all required fields"},
	{user.ErrInvalidEmail, "Please enter a valid email address"},
	{user.ErrInvalidRole, "Please choose a valid role"},
	{user.ErrInvalidStatus, "Please choose a valid status"},
	{user.ErrPasswordMismatch, "Passwords do not match"},
	{user.ErrPasswordTooLong, "Password must be at most 72 characters long"},
	{user.ErrWeakPassword, "Password must be at least 6 characters long and contain at least one number"},
	{user.ErrDuplicateEmail, "Email already exists"},
	{user.ErrSelfModification, "You cannot change or delete your own account here"},
	{user.ErrNotFound, "User not found"},
}

func accountMessage(err error) (string, bool) {
	for _, m := range accountMessages {
		if errors.Is(err, m.err) {
			return m.msg, true
		}
	}
	return "", false
}

func accountForm(r *http.Request) user.AccountInput {
	return user.AccountInput{
		FirstName:       r.PostFormValue("first_name"),
		LastName:        r.PostFormValue("last_name"),
		Email:           r.PostFormValue("email"),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
		Role:            entity.Role(r.PostFormValue("role")),
		Status:          entity.Status(r.PostFormValue("status")),
	}
}

// UsersPage lists accounts, optionally filtered by role, status and a
// search term, with an edit form for ?edit=<id>.
func (h *Handler) UsersPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := entity.Filter{
		Role:   entity.Role(q.Get("filter_role")),
		Status: entity.Status(q.Get("filter_status")),
		Search: strings.TrimSpace(q.Get("search")),
	}
	if !f.Role.Valid() {
		f.Role = ""
	}
	if !f.Status.Valid() {
		f.Status = ""
	}
	accounts, err := h.users.ListUsers(r.Context(), f)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	data := pageData{
		Title:    "User Management",
		Accounts: accounts,
		Filter:   f,
		Roles:    entity.Roles,
		Statuses: entity.Statuses,
	}
	if id, err := strconv.ParseInt(q.Get("edit"), 10, 64); err == nil && id != sessionFrom(r).Data().UserID {
		editing, err := h.users.FindUser(r.Context(), id)
		switch {
		case err == nil:
			data.Editing = editing
		case !errors.Is(err, user.ErrNotFound):
			h.serverError(w, r, err)
			return
		}
	}
	h.render(w, r, http.StatusOK, "admin_users", data)
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	actor := sessionFrom(r).Data().UserID
	_, err := h.users.CreateAccount(r.Context(), actor, accountForm(r))
	h.finishAccountChange(w, r, err, "User added successfully")
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	actor := sessionFrom(r).Data().UserID
	err := h.users.UpdateAccount(r.Context(), actor, id, accountForm(r))
	h.finishAccountChange(w, r, err, "User updated successfully")
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	actor := sessionFrom(r).Data().UserID
	err := h.users.DeleteAccount(r.Context(), actor, id)
	h.finishAccountChange(w, r, err, "User deleted successfully")
}

func (h *Handler) accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		h.flashRedirect(w, r, "error", "User not found", usersPath)
		return 0, false
	}
	return id, true
}

func (h *Handler) finishAccountChange(w http.ResponseWriter, r *http.Request, err error, success string) {
	if err == nil {
		h.flashRedirect(w, r, "success", success, usersPath)
		return
	}
	if msg, ok := accountMessage(err); ok {
		h.flashRedirect(w, r, "error", msg, usersPath)
		return
	}
	h.logger.Errorw("account change failed", "path", r.URL.Path, "err", err)
	h.flashRedirect(w, r, "error", msgGenericError, usersPath)
}
