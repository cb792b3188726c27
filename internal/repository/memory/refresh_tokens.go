package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NordCoder/Gatekeeper/internal/domain"
	"github.com/NordCoder/Gatekeeper/internal/domain/auth"
)

type RefreshTokens struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]auth.RefreshToken
	byHash map[string]uuid.UUID
}

var _ auth.RefreshTokenStore = (*RefreshTokens)(nil)

func NewRefreshTokens() *RefreshTokens {
	return &RefreshTokens{
		byID:   make(map[uuid.UUID]auth.RefreshToken),
		byHash: make(map[string]uuid.UUID),
	}
}

func (s *RefreshTokens) Create(_ context.Context, t auth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byHash[t.TokenHash]; ok {
		return domain.ErrConflict
	}
	if _, ok := s.byID[t.ID]; ok {
		return domain.ErrConflict
	}
	s.byID[t.ID] = t
	s.byHash[t.TokenHash] = t.ID
	return nil
}

func (s *RefreshTokens) FindByHash(_ context.Context, tokenHash string) (auth.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[tokenHash]
	if !ok {
		return auth.RefreshToken{}, domain.ErrNotFound
	}
	return s.byID[id], nil
}

func (s *RefreshTokens) GetByID(_ context.Context, tenantID, id uuid.UUID) (auth.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok || t.TenantID != tenantID {
		return auth.RefreshToken{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *RefreshTokens) CompareAndRevoke(_ context.Context, next auth.RefreshToken) (bool, error) {
	if next.RevokedAt == nil {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[next.ID]
	if !ok || cur.RevokedAt != nil || !next.RevokedAt.Before(cur.ExpiresAt) {
		return false, nil
	}
	cur.RevokedAt = next.RevokedAt
	cur.RevokedReason = next.RevokedReason
	s.byID[cur.ID] = cur
	return true, nil
}

func (s *RefreshTokens) RevokeFamily(_ context.Context, tenantID, familyID uuid.UUID, reason auth.RevokeReason, at time.Time) (int64, error) {
	return s.revokeWhere(reason, at, func(t auth.RefreshToken) bool {
		return t.TenantID == tenantID && t.FamilyID == familyID
	}), nil
}

func (s *RefreshTokens) RevokeAllForUser(_ context.Context, tenantID, userID uuid.UUID, reason auth.RevokeReason, at time.Time, except *uuid.UUID) (int64, error) {
	return s.revokeWhere(reason, at, func(t auth.RefreshToken) bool {
		if except != nil && t.ID == *except {
			return false
		}
		return t.TenantID == tenantID && t.UserID == userID
	}), nil
}

func (s *RefreshTokens) ListActive(_ context.Context, tenantID, userID uuid.UUID, now time.Time) ([]auth.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []auth.RefreshToken
	for _, t := range s.byID {
		if t.TenantID == tenantID && t.UserID == userID && t.Valid(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *RefreshTokens) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.byID {
		if t.ExpiresAt.Before(cutoff) || (t.RevokedAt != nil && t.RevokedAt.Before(cutoff)) {
			delete(s.byHash, t.TokenHash)
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

func (s *RefreshTokens) revokeWhere(reason auth.RevokeReason, at time.Time, match func(auth.RefreshToken) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.byID {
		if t.RevokedAt != nil || !match(t) {
			continue
		}
		ts := at
		t.RevokedAt = &ts
		t.RevokedReason = reason
		s.byID[id] = t
		n++
	}
	return n
}
