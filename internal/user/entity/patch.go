package entity

// Field is an optional update. Set distinguishes "leave unchanged" from
// "write Value", so a pointer Value of nil can mean "write NULL".
type Field[T any] struct {
	Set   bool
	Value T
}

// Some returns a Field that writes v.
func Some[T any](v T) Field[T] { return Field[T]{Set: true, Value: v} }

// Patch is a partial update of a user row. Zero-valued fields are left
// untouched.
type Patch struct {
	PasswordHash          Field[string]
	Name                  Field[string]
	FirstName             Field[*string]
	LastName              Field[*string]
	Role                  Field[Role]
	Status                Field[Status]
	ProfilePicture        Field[*string]
	TwoFASecret           Field[*string]
	TwoFAEnabled          Field[bool]
	TwoFALastUsedTimestep Field[*int64]
}

// Empty reports whether the patch writes nothing.
func (p Patch) Empty() bool {
	return !p.PasswordHash.Set && !p.Name.Set && !p.FirstName.Set && !p.LastName.Set && !p.Role.Set && !p.Status.Set &&
		!p.ProfilePicture.Set && !p.TwoFASecret.Set && !p.TwoFAEnabled.Set &&
		!p.TwoFALastUsedTimestep.Set
}

// Apply writes the set fields onto u.
func (p Patch) Apply(u *User) {
	if p.PasswordHash.Set {
		u.PasswordHash = p.PasswordHash.Value
	}
	if p.Name.Set {
		u.Name = p.Name.Value
	}
	if p.FirstName.Set {
		u.FirstName = cloneString(p.FirstName.Value)
	}
	if p.LastName.Set {
		u.LastName = cloneString(p.LastName.Value)
	}
	if p.Role.Set {
		u.Role = p.Role.Value
	}
	if p.Status.Set {
		u.Status = p.Status.Value
	}
	if p.ProfilePicture.Set {
		u.ProfilePicture = cloneString(p.ProfilePicture.Value)
	}
	if p.TwoFASecret.Set {
		u.TwoFASecret = cloneString(p.TwoFASecret.Value)
	}
	if p.TwoFAEnabled.Set {
		u.TwoFAEnabled = p.TwoFAEnabled.Value
	}
	if p.TwoFALastUsedTimestep.Set {
		if p.TwoFALastUsedTimestep.Value == nil {
			u.TwoFALastUsedTimestep = nil
		} else {
			v := *p.TwoFALastUsedTimestep.Value
			u.TwoFALastUsedTimestep = &v
		}
	}
}

// ClearTwoFA disables the second factor and forgets its secret and
// watermark in one write.
func ClearTwoFA() Patch {
	return Patch{
		TwoFASecret:           Some[*string](nil),
		TwoFAEnabled:          Some(false),
		TwoFALastUsedTimestep: Some[*int64](nil),
	}
}
