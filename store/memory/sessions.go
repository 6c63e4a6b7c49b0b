package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MrEthical07/orgauth/secrets"
	"github.com/MrEthical07/orgauth/session"
)

// SessionRepository is an in-process session.Repository.
type SessionRepository struct {
	mu      sync.Mutex
	byID    map[string]*session.Session
	tokens  map[secrets.Digest]string
	refresh map[secrets.Digest]string
}

var _ session.Repository = (*SessionRepository)(nil)

// NewSessionRepository returns an empty repository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		byID:    map[string]*session.Session{},
		tokens:  map[secrets.Digest]string{},
		refresh: map[secrets.Digest]string{},
	}
}

func (r *SessionRepository) Create(_ context.Context, s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byID[s.ID]; dup {
		return session.ErrUnavailable
	}
	cp := s.Clone()
	r.byID[cp.ID] = cp
	r.tokens[cp.TokenHash] = cp.ID
	r.refresh[cp.RefreshHash] = cp.ID
	return nil
}

func (r *SessionRepository) lookup(index map[secrets.Digest]string, d secrets.Digest) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := index[d]
	if !ok {
		return nil, session.ErrNotFound
	}
	s := r.byID[id]
	if !s.Active() {
		return nil, session.ErrNotFound
	}
	return s.Clone(), nil
}

func (r *SessionRepository) GetByTokenHash(_ context.Context, hash secrets.Digest) (*session.Session, error) {
	return r.lookup(r.tokens, hash)
}

func (r *SessionRepository) GetByRefreshHash(_ context.Context, hash secrets.Digest) (*session.Session, error) {
	return r.lookup(r.refresh, hash)
}

func (r *SessionRepository) GetByID(_ context.Context, id string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return s.Clone(), nil
}

func (r *SessionRepository) ListActiveForUser(_ context.Context, userID string) ([]*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*session.Session
	for _, s := range r.byID {
		if s.UserID == userID && s.Active() {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *SessionRepository) SwapToken(_ context.Context, id string, expected secrets.Digest, next session.TokenUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok || !s.Active() || !s.TokenHash.Equal(expected) {
		return false, nil
	}
	delete(r.tokens, s.TokenHash)
	s.TokenHash = next.TokenHash
	s.TokenIssuedAt = next.IssuedAt
	s.ExpiresAt = next.ExpiresAt
	s.LastActivity = next.IssuedAt
	r.tokens[s.TokenHash] = id
	return true, nil
}

func (r *SessionRepository) Touch(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[id]; ok && s.Active() {
		s.LastActivity = at
	}
	return nil
}

// end must be called with r.mu held.
func (r *SessionRepository) end(s *session.Session, t session.Termination) bool {
	if !s.Active() {
		return false
	}
	s.State = t.State
	s.TerminationReason = t.Reason
	s.TerminatedAt = t.At
	s.ExpiresAt = t.At
	delete(r.tokens, s.TokenHash)
	delete(r.refresh, s.RefreshHash)
	return true
}

func (r *SessionRepository) Terminate(_ context.Context, id string, t session.Termination) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return false, nil
	}
	return r.end(s, t), nil
}

func (r *SessionRepository) TerminateAllForUser(_ context.Context, userID string, t session.Termination) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.byID {
		if s.UserID == userID && r.end(s, t) {
			n++
		}
	}
	return n, nil
}

func (r *SessionRepository) expire(userID string, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.byID {
		if userID != "" && s.UserID != userID {
			continue
		}
		if s.Active() && !s.RefreshExpiresAt.After(now) {
			if r.end(s, session.Termination{At: now, State: session.StateExpired, Reason: session.ReasonExpired}) {
				n++
			}
		}
	}
	return n
}

func (r *SessionRepository) ExpireStale(_ context.Context, userID string, now time.Time) (int, error) {
	if userID == "" {
		return 0, nil
	}
	return r.expire(userID, now), nil
}

func (r *SessionRepository) SweepExpired(_ context.Context, now time.Time) (int, error) {
	return r.expire("", now), nil
}
