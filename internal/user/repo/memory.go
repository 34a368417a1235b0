package repo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-school-portal/internal/user/entity"
)

// MemoryRepo is a process-local credential store for tests and
// single-process development. All reads return copies.
type MemoryRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*entity.User
	now    func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{users: make(map[int64]*entity.User), now: time.Now}
}

func (r *MemoryRepo) Create(_ context.Context, u *entity.User) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return 0, ErrDuplicateEmail
		}
	}
	r.nextID++
	u.ID = r.nextID
	u.CreatedAt = r.now()
	u.UpdatedAt = u.CreatedAt
	r.users[u.ID] = u.Clone()
	return u.ID, nil
}

func (r *MemoryRepo) FindByEmail(_ context.Context, email string) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return u.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepo) FindByID(_ context.Context, id int64) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (r *MemoryRepo) Update(_ context.Context, id int64, p entity.Patch) (bool, error) {
	if p.Empty() {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return false, nil
	}
	p.Apply(u)
	u.UpdatedAt = r.now()
	return true, nil
}

func (r *MemoryRepo) CompareAndSetTOTPWatermark(_ context.Context, id int64, expected *int64, next int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return false, nil
	}
	cur := u.TwoFALastUsedTimestep
	switch {
	case expected == nil && cur != nil:
		return false, nil
	case expected != nil && (cur == nil || *cur != *expected):
		return false, nil
	case expected != nil && next <= *expected:
		return false, nil
	}
	v := next
	u.TwoFALastUsedTimestep = &v
	u.UpdatedAt = r.now()
	return true, nil
}

func (r *MemoryRepo) ListCredentials(_ context.Context) ([]entity.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entity.Credential, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, entity.Credential{ID: u.ID, Email: u.Email, Password: u.PasswordHash})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepo) List(_ context.Context, f entity.Filter) ([]*entity.User, error) {
	term := strings.ToLower(strings.TrimSpace(f.Search))
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.User, 0, len(r.users))
	for _, u := range r.users {
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if f.Status != "" && u.Status != f.Status {
			continue
		}
		if term != "" && !matchesSearch(u, term) {
			continue
		}
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func matchesSearch(u *entity.User, term string) bool {
	username := ""
	if u.Username != nil {
		username = *u.Username
	}
	for _, field := range []string{u.Name, u.Email, username} {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}

func (r *MemoryRepo) Delete(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return false, nil
	}
	delete(r.users, id)
	return true, nil
}
