package entity

import "time"

type Role string

const (
	RoleAdmin       Role = "Admin"
	RoleTeacher     Role = "Teacher"
	RoleStudent     Role = "Student"
	RolePrincipal   Role = "Principal"
	RoleWebDesigner Role = "Web Designer"
)

// Valid reports whether r is one of the portal roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent, RolePrincipal, RoleWebDesigner:
		return true
	}
	return false
}

// Roles lists every portal role in display order.
var Roles = []Role{RoleAdmin, RolePrincipal, RoleTeacher, RoleStudent, RoleWebDesigner}

type Status string

const (
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
)

var Statuses = []Status{StatusActive, StatusInactive}

func (s Status) Valid() bool { return s == StatusActive || s == StatusInactive }

// Filter narrows a user listing. Zero fields match everything; Search is a
// case-insensitive substring of name, email or username.
type Filter struct {
	Role   Role
	Status Status
	Search string
}

// User represents an account row in the `users` table. The credential
// columns (password hash, 2FA secret) are excluded from JSON so a user
// snapshot can be cached in a session without carrying them along.
type User struct {
	ID                    int64     `db:"id" json:"id"`
	Username              *string   `db:"username" json:"username,omitempty"`
	Email                 string    `db:"email" json:"email"`
	PasswordHash          string    `db:"password" json:"-"`
	Name                  string    `db:"name" json:"name"`
	FirstName             *string   `db:"first_name" json:"first_name,omitempty"`
	LastName              *string   `db:"last_name" json:"last_name,omitempty"`
	Role                  Role      `db:"role" json:"role"`
	Status                Status    `db:"status" json:"status"`
	ProfilePicture        *string   `db:"profile_picture" json:"profile_picture,omitempty"`
	TwoFASecret           *string   `db:"twofa_secret" json:"-"`
	TwoFAEnabled          bool      `db:"twofa_enabled" json:"twofa_enabled"`
	TwoFALastUsedTimestep *int64    `db:"twofa_last_used_timestep" json:"-"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`
}

// Active reports whether the account may sign in.
func (u *User) Active() bool { return u.Status == StatusActive }

// HasTwoFASecret reports whether a non-empty secret is on file.
func (u *User) HasTwoFASecret() bool {
	return u.TwoFASecret != nil && *u.TwoFASecret != ""
}

// DisplayName prefers the full name, then first/last, then the email.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	var parts []string
	if u.FirstName != nil && *u.FirstName != "" {
		parts = append(parts, *u.FirstName)
	}
	if u.LastName != nil && *u.LastName != "" {
		parts = append(parts, *u.LastName)
	}
	if len(parts) > 0 {
		out := parts[0]
		for _, p := range parts[1:] {
			out += " " + p
		}
		return out
	}
	return u.Email
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Username = cloneString(u.Username)
	c.FirstName = cloneString(u.FirstName)
	c.LastName = cloneString(u.LastName)
	c.ProfilePicture = cloneString(u.ProfilePicture)
	c.TwoFASecret = cloneString(u.TwoFASecret)
	if u.TwoFALastUsedTimestep != nil {
		v := *u.TwoFALastUsedTimestep
		c.TwoFALastUsedTimestep = &v
	}
	return &c
}

// Sanitized returns a copy without the password hash, 2FA secret or
// watermark, suitable for caching.
func (u *User) Sanitized() *User {
	c := u.Clone()
	if c == nil {
		return nil
	}
	c.PasswordHash = ""
	c.TwoFASecret = nil
	c.TwoFALastUsedTimestep = nil
	return c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Credential is the projection used by the password migration job.
type Credential struct {
	ID       int64  `db:"id"`
	Email    string `db:"email"`
	Password string `db:"password"`
}
