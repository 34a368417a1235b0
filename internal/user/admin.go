package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user/entity"
)

var (
	ErrInvalidRole      = errors.New("invalid role")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrSelfModification = errors.New("administrators cannot modify their own account here")
)

// AccountInput is the administrator's add/edit user form. On edit an empty
// Password leaves the current one in place.
type AccountInput struct {
	FirstName       string
	LastName        string
	Email           string
	Password        string
	ConfirmPassword string
	Role            entity.Role
	Status          entity.Status
}

func (in *AccountInput) normalize() {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.TrimSpace(in.Email)
	if in.Status == "" {
		in.Status = entity.StatusActive
	}
}

func (in AccountInput) checkRoleStatus() error {
	if !in.Role.Valid() {
		return ErrInvalidRole
	}
	if !in.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

func checkNewPassword(pw, confirm string) error {
	switch {
	case pw != confirm:
		return ErrPasswordMismatch
	case len(pw) > MaxPasswordBytes:
		return ErrPasswordTooLong
	case !ValidPassword(pw):
		return ErrWeakPassword
	}
	return nil
}

// ListUsers returns sanitized users matching f.
func (s *UserService) ListUsers(ctx context.Context, f entity.Filter) ([]*entity.User, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	users, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	for i, u := range users {
		users[i] = u.Sanitized()
	}
	return users, nil
}

// FindUser returns a sanitized copy of one user.
func (s *UserService) FindUser(ctx context.Context, id int64) (*entity.User, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	u, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return u.Sanitized(), nil
}

// CreateAccount adds a user with an explicit role and status.
func (s *UserService) CreateAccount(ctx context.Context, actorID int64, in AccountInput) (int64, error) {
	in.normalize()
	if in.FirstName == "" || in.LastName == "" || in.Email == "" || in.Password == "" || in.Role == "" {
		return 0, ErrMissingField
	}
	if !ValidEmail(in.Email) {
		return 0, ErrInvalidEmail
	}
	if err := in.checkRoleStatus(); err != nil {
		return 0, err
	}
	if err := checkNewPassword(in.Password, in.ConfirmPassword); err != nil {
		return 0, err
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if _, err := s.store.FindByEmail(ctx, in.Email); err == nil {
		return 0, ErrDuplicateEmail
	} else if !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return 0, err
	}
	u := &entity.User{
		Email:        in.Email,
		PasswordHash: hash,
		Name:         in.FirstName + " " + in.LastName,
		FirstName:    &in.FirstName,
		LastName:     &in.LastName,
		Role:         in.Role,
		Status:       in.Status,
	}
	id, err := s.store.Create(ctx, u)
	if err != nil {
		return 0, err
	}
	s.logger.Infow("account created", "actor_id", actorID, "user_id", id, "role", in.Role, "status", in.Status)
	return id, nil
}

// UpdateAccount changes another user's names, role, status and optionally
// password. Email is not editable.
func (s *UserService) UpdateAccount(ctx context.Context, actorID, id int64, in AccountInput) error {
	if id == actorID {
		return ErrSelfModification
	}
	in.normalize()
	if in.FirstName == "" || in.LastName == "" || in.Role == "" {
		return ErrMissingField
	}
	if err := in.checkRoleStatus(); err != nil {
		return err
	}
	p := entity.Patch{
		Name:      entity.Some(in.FirstName + " " + in.LastName),
		FirstName: entity.Some(&in.FirstName),
		LastName:  entity.Some(&in.LastName),
		Role:      entity.Some(in.Role),
		Status:    entity.Some(in.Status),
	}
	if in.Password != "" {
		if err := checkNewPassword(in.Password, in.ConfirmPassword); err != nil {
			return err
		}
		hash, err := s.hasher.Hash(in.Password)
		if err != nil {
			return err
		}
		p.PasswordHash = entity.Some(hash)
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	ok, err := s.store.Update(ctx, id, p)
	if err != nil {
		return fmt.Errorf("update user %d: %w", id, err)
	}
	if !ok {
		return ErrNotFound
	}
	s.logger.Infow("account updated", "actor_id", actorID, "user_id", id, "role", in.Role, "status", in.Status,
		"password_reset", p.PasswordHash.Set)
	return nil
}

// DeleteAccount removes another user's account.
func (s *UserService) DeleteAccount(ctx context.Context, actorID, id int64) error {
	if id == actorID {
		return ErrSelfModification
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete user %d: %w", id, err)
	}
	if !ok {
		return ErrNotFound
	}
	s.logger.Infow("account deleted", "actor_id", actorID, "user_id", id)
	return nil
}
