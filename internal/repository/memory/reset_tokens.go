package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NordCoder/Gatekeeper/internal/domain"
	"github.com/NordCoder/Gatekeeper/internal/domain/auth"
)

type ResetTokens struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]auth.PasswordResetToken
}

var _ auth.ResetTokenStore = (*ResetTokens)(nil)

func NewResetTokens() *ResetTokens {
	return &ResetTokens{rows: make(map[uuid.UUID]auth.PasswordResetToken)}
}

func (s *ResetTokens) Create(_ context.Context, t auth.PasswordResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.TokenHash == t.TokenHash {
			return domain.ErrConflict
		}
	}
	s.rows[t.ID] = t
	return nil
}

func (s *ResetTokens) FindByHash(_ context.Context, tokenHash string) (auth.PasswordResetToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rows {
		if r.TokenHash == tokenHash {
			return r, nil
		}
	}
	return auth.PasswordResetToken{}, domain.ErrNotFound
}

func (s *ResetTokens) InvalidateForUser(_ context.Context, tenantID, userID uuid.UUID, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.rows {
		if r.TenantID != tenantID || r.UserID != userID || r.UsedAt != nil {
			continue
		}
		ts := at
		r.UsedAt = &ts
		s.rows[id] = r
		n++
	}
	return n, nil
}

func (s *ResetTokens) CompareAndMarkUsed(_ context.Context, next auth.PasswordResetToken) (bool, error) {
	if next.UsedAt == nil {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[next.ID]
	if !ok || cur.UsedAt != nil || !next.UsedAt.Before(cur.ExpiresAt) {
		return false, nil
	}
	cur.UsedAt = next.UsedAt
	s.rows[cur.ID] = cur
	return true, nil
}

func (s *ResetTokens) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.rows {
		if r.ExpiresAt.Before(cutoff) || (r.UsedAt != nil && r.UsedAt.Before(cutoff)) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

func (s *ResetTokens) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
