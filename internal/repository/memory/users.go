package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NordCoder/Gatekeeper/internal/domain"
	"github.com/NordCoder/Gatekeeper/internal/domain/auth"
	"github.com/NordCoder/Gatekeeper/internal/domain/user"
)

type Users struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]user.User
}

var _ user.Repo = (*Users)(nil)

func NewUsers() *Users { return &Users{rows: make(map[uuid.UUID]user.User)} }

// Put inserts or replaces a user.
func (s *Users) Put(u user.User) {
	s.mu.Lock()
	s.rows[u.ID] = u
	s.mu.Unlock()
}

func (s *Users) GetByID(_ context.Context, tenantID, id uuid.UUID) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.rows[id]
	if !ok || u.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

func (s *Users) GetByEmail(_ context.Context, tenantID uuid.UUID, email string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.rows {
		if u.TenantID == tenantID && strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Users) UpdatePassword(_ context.Context, tenantID, id uuid.UUID, hash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.rows[id]
	if !ok || u.TenantID != tenantID {
		return domain.ErrNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = at
	s.rows[id] = u
	return nil
}

type roleKey struct{ tenant, role uuid.UUID }

// Roles maps tenant-scoped role ids to role codes, decoded on read.
type Roles struct {
	mu    sync.RWMutex
	codes map[roleKey]string
}

var _ auth.RoleLookup = (*Roles)(nil)

func NewRoles() *Roles { return &Roles{codes: make(map[roleKey]string)} }

func (r *Roles) Put(tenantID, roleID uuid.UUID, code string) {
	r.mu.Lock()
	r.codes[roleKey{tenantID, roleID}] = code
	r.mu.Unlock()
}

func (r *Roles) RoleOf(_ context.Context, tenantID, roleID uuid.UUID) (auth.Role, error) {
	r.mu.RLock()
	code, ok := r.codes[roleKey{tenantID, roleID}]
	r.mu.RUnlock()
	if !ok {
		return 0, domain.ErrNotFound
	}
	return auth.ParseRole(code)
}
