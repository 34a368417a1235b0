// Package session keeps server-side session state behind an opaque cookie
// identifier and rotates that identifier on trust changes.
package session

import (
	"time"

	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user/entity"
)

type State int

const (
	Anonymous State = iota
	PendingSecondFactor
	Authenticated
)

func (s State) String() string {
	switch s {
	case PendingSecondFactor:
		return "pending_second_factor"
	case Authenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

// Flash is a one-shot message shown on the next rendered page.
type Flash struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Data is everything persisted for one session. The cached User never
// carries credentials; see entity.User's JSON tags.
type Data struct {
	CreatedAt time.Time `json:"created_at"`
	CSRFToken string    `json:"csrf_token,omitempty"`

	UserID    int64        `json:"user_id,omitempty"`
	Role      entity.Role  `json:"role,omitempty"`
	LoginTime time.Time    `json:"login_time,omitempty"`
	User      *entity.User `json:"user,omitempty"`

	PendingUserID int64  `json:"pending_user_id,omitempty"`
	PendingEmail  string `json:"pending_email,omitempty"`

	Flash              *Flash `json:"flash,omitempty"`
	RedirectAfterLogin string `json:"redirect_after_login,omitempty"`
}

func (d *Data) State() State {
	switch {
	case d.UserID != 0:
		return Authenticated
	case d.PendingUserID != 0:
		return PendingSecondFactor
	default:
		return Anonymous
	}
}

// SetPending moves the session to PendingSecondFactor, dropping any
// authenticated identity.
func (d *Data) SetPending(userID int64, email string) {
	d.clearIdentity()
	d.PendingUserID = userID
	d.PendingEmail = email
}

// SetAuthenticated moves the session to Authenticated.
func (d *Data) SetAuthenticated(u *entity.User, at time.Time) {
	d.clearIdentity()
	d.UserID = u.ID
	d.Role = u.Role
	d.LoginTime = at
	d.User = u.Sanitized()
}

func (d *Data) clearIdentity() {
	d.UserID = 0
	d.Role = ""
	d.LoginTime = time.Time{}
	d.User = nil
	d.PendingUserID = 0
	d.PendingEmail = ""
}
