package app

import (
	"context"
	"strings"
	"sync"

	"github.com/evanschultz/funnel/internal/domain"
)

// Sessions tracks open editing sessions keyed by funnel id so concurrent
// transports share one history per funnel.
type Sessions struct {
	svc  *Service
	mu   sync.Mutex
	open map[string]*Session
}

// NewSessions constructs an empty session registry.
func NewSessions(svc *Service) *Sessions {
	return &Sessions{svc: svc, open: map[string]*Session{}}
}

// Open returns the open session for funnelID, opening one when needed.
func (r *Sessions) Open(ctx context.Context, funnelID string) (*Session, error) {
	funnelID = strings.TrimSpace(funnelID)
	if funnelID == "" {
		return nil, domain.ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.open[funnelID]; ok {
		return sess, nil
	}
	sess, err := r.svc.OpenSession(ctx, funnelID)
	if err != nil {
		return nil, err
	}
	sess.onClose = func() { r.forget(funnelID, sess) }
	r.open[funnelID] = sess
	return sess, nil
}

// Get returns an already open session.
func (r *Sessions) Get(funnelID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.open[strings.TrimSpace(funnelID)]
	return sess, ok
}

// Len returns the number of open sessions.
func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

// Close closes and forgets the session for funnelID.
func (r *Sessions) Close(funnelID string) bool {
	sess, ok := r.Get(funnelID)
	if !ok {
		return false
	}
	sess.Close()
	return true
}

// CloseAll closes every open session.
func (r *Sessions) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.open))
	for _, sess := range r.open {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}

// DeleteFunnel archives or removes funnelID and closes its open session, so
// later edits start from the stored funnel instead of a stale history.
func (r *Sessions) DeleteFunnel(ctx context.Context, funnelID string, mode DeleteMode) error {
	if err := r.svc.DeleteFunnel(ctx, funnelID, mode); err != nil {
		return err
	}
	r.Close(funnelID)
	return nil
}

// RestoreFunnel restores an archived funnel and closes any open session for it.
func (r *Sessions) RestoreFunnel(ctx context.Context, funnelID string) (domain.Funnel, error) {
	funnel, err := r.svc.RestoreFunnel(ctx, funnelID)
	if err != nil {
		return domain.Funnel{}, err
	}
	r.Close(funnelID)
	return funnel, nil
}

func (r *Sessions) forget(funnelID string, sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open[funnelID] == sess {
		delete(r.open, funnelID)
	}
}
