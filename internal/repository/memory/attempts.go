package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NordCoder/Gatekeeper/internal/domain/auth"
)

type LoginAttempts struct {
	mu   sync.RWMutex
	rows []auth.LoginAttempt
}

var _ auth.LoginAttemptStore = (*LoginAttempts)(nil)

func NewLoginAttempts() *LoginAttempts { return &LoginAttempts{} }

func (s *LoginAttempts) Record(_ context.Context, a auth.LoginAttempt) error {
	a.Email = strings.ToLower(a.Email)
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.mu.Lock()
	s.rows = append(s.rows, a)
	s.mu.Unlock()
	return nil
}

// ListSince returns attempts oldest first.
func (s *LoginAttempts) ListSince(_ context.Context, tenantID uuid.UUID, email string, since time.Time) ([]auth.LoginAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []auth.LoginAttempt
	for _, a := range s.rows {
		if a.TenantID == tenantID && strings.EqualFold(a.Email, email) && !a.CreatedAt.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *LoginAttempts) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	for _, a := range s.rows {
		if !a.CreatedAt.Before(cutoff) {
			kept = append(kept, a)
		}
	}
	n := int64(len(s.rows) - len(kept))
	s.rows = kept
	return n, nil
}

// All is a snapshot for assertions.
func (s *LoginAttempts) All() []auth.LoginAttempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]auth.LoginAttempt(nil), s.rows...)
}
