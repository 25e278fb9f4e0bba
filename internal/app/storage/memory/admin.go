package memory

import (
	"context"
	"sort"
	"time"

	"github.com/reviewgame/server/internal/app/domain/admin"
	"github.com/reviewgame/server/internal/app/storage"
)

// --- AdminStore ---

func (s *Store) CreateImpersonationSession(ctx context.Context, sess admin.ImpersonationSession) (admin.ImpersonationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[sess.TargetUserID]; !ok {
		return admin.ImpersonationSession{}, storage.ErrNotFound
	}
	ts := now()
	for _, existing := range s.sessions {
		if existing.AdminID == sess.AdminID && existing.Active(ts) {
			return admin.ImpersonationSession{}, storage.ErrConflict
		}
	}

	sess.ID = newID(sess.ID)
	sess.CreatedAt = ts
	sess.EndedAt = nil
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *Store) GetImpersonationSession(ctx context.Context, id string) (admin.ImpersonationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return admin.ImpersonationSession{}, storage.ErrNotFound
	}
	return sess, nil
}

func (s *Store) ActiveImpersonationSession(ctx context.Context, adminID string, at time.Time) (admin.ImpersonationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sess := range s.sessions {
		if sess.AdminID == adminID && sess.Active(at) {
			return sess, nil
		}
	}
	return admin.ImpersonationSession{}, storage.ErrNotFound
}

func (s *Store) EndImpersonationSession(ctx context.Context, id string, at time.Time) (admin.ImpersonationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return admin.ImpersonationSession{}, storage.ErrNotFound
	}
	if sess.EndedAt != nil {
		return admin.ImpersonationSession{}, storage.ErrConflict
	}
	at = at.UTC()
	sess.EndedAt = &at
	s.sessions[id] = sess
	return sess, nil
}

func (s *Store) ExpireImpersonationSessions(ctx context.Context, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, sess := range s.sessions {
		if sess.EndedAt == nil && !at.Before(sess.ExpiresAt) {
			ended := sess.ExpiresAt
			sess.EndedAt = &ended
			s.sessions[id] = sess
			n++
		}
	}
	return n, nil
}

func (s *Store) AppendAuditEntry(ctx context.Context, e admin.AuditEntry) (admin.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = newID(e.ID)
	e.CreatedAt = now()
	e.Detail = cloneDetail(e.Detail)
	s.audit = append(s.audit, e)
	return e, nil
}

func (s *Store) ListAuditEntries(ctx context.Context, f storage.AuditFilter) ([]admin.AuditEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]admin.AuditEntry, 0, len(s.audit))
	for _, e := range s.audit {
		if f.AdminID != "" && e.AdminID != f.AdminID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		copied := e
		copied.Detail = cloneDetail(e.Detail)
		matched = append(matched, copied)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start, end := pageBounds(f.Page, f.PerPage, total)
	return matched[start:end], total, nil
}
