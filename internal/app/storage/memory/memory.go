// Package memory provides a thread-safe in-memory implementation of the
// storage interfaces. It mirrors the semantics of the database procedures
// used by the Postgres store so services can be exercised without a
// database. Intended for tests and local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reviewgame/server/internal/app/domain/admin"
	"github.com/reviewgame/server/internal/app/domain/bank"
	"github.com/reviewgame/server/internal/app/domain/game"
	"github.com/reviewgame/server/internal/app/domain/profile"
	"github.com/reviewgame/server/internal/app/storage"
)

// Store implements every storage interface over in-process maps.
type Store struct {
	mu sync.RWMutex

	profiles map[string]profile.Profile
	logins   map[string][]profile.LoginRecord

	banks     map[string]bank.Bank
	questions map[string]bank.Question

	games  map[string]game.Game
	teams  map[string]game.Team
	wagers map[string]game.Wager

	sessions map[string]admin.ImpersonationSession
	audit    []admin.AuditEntry
}

var (
	_ storage.ProfileStore = (*Store)(nil)
	_ storage.BankStore    = (*Store)(nil)
	_ storage.GameStore    = (*Store)(nil)
	_ storage.AdminStore   = (*Store)(nil)
)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		profiles:  make(map[string]profile.Profile),
		logins:    make(map[string][]profile.LoginRecord),
		banks:     make(map[string]bank.Bank),
		questions: make(map[string]bank.Question),
		games:     make(map[string]game.Game),
		teams:     make(map[string]game.Team),
		wagers:    make(map[string]game.Wager),
		sessions:  make(map[string]admin.ImpersonationSession),
	}
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func now() time.Time { return time.Now().UTC() }

// pageBounds converts 1-based page/perPage into slice bounds.
func pageBounds(page, perPage, total int) (int, int) {
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= total {
		return 0, 0
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return start, end
}

func cloneDetail(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// --- ProfileStore ---

func (s *Store) CreateProfile(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.ID = newID(p.ID)
	if _, exists := s.profiles[p.ID]; exists {
		return profile.Profile{}, storage.ErrConflict
	}
	for _, existing := range s.profiles {
		if existing.Email != "" && strings.EqualFold(existing.Email, p.Email) {
			return profile.Profile{}, storage.ErrConflict
		}
	}
	ts := now()
	p.CreatedAt = ts
	p.UpdatedAt = ts
	s.profiles[p.ID] = p
	return p, nil
}

func (s *Store) UpdateProfile(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.profiles[p.ID]
	if !ok {
		return profile.Profile{}, storage.ErrNotFound
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = now()
	s.profiles[p.ID] = p
	return p, nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (profile.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return profile.Profile{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) GetProfileByCustomer(ctx context.Context, stripeCustomerID string) (profile.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if stripeCustomerID == "" {
		return profile.Profile{}, storage.ErrNotFound
	}
	for _, p := range s.profiles {
		if p.StripeCustomerID == stripeCustomerID {
			return p, nil
		}
	}
	return profile.Profile{}, storage.ErrNotFound
}

func (s *Store) ListProfiles(ctx context.Context, f storage.ProfileFilter) ([]profile.Profile, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(f.Query))
	matched := make([]profile.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		if query != "" &&
			!strings.Contains(strings.ToLower(p.Email), query) &&
			!strings.Contains(strings.ToLower(p.DisplayName), query) {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start, end := pageBounds(f.Page, f.PerPage, total)
	return matched[start:end], total, nil
}

func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.profiles, id)
	delete(s.logins, id)

	for bankID, b := range s.banks {
		if b.OwnerID != id {
			continue
		}
		delete(s.banks, bankID)
		for qID, q := range s.questions {
			if q.BankID == bankID {
				delete(s.questions, qID)
			}
		}
	}
	for gameID, g := range s.games {
		if g.HostID == id {
			s.deleteGameLocked(gameID)
		}
	}
	for sessID, sess := range s.sessions {
		if sess.TargetUserID == id || sess.AdminID == id {
			delete(s.sessions, sessID)
		}
	}
	return nil
}

func (s *Store) ClaimGameSlot(ctx context.Context, profileID string) (profile.QuotaResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[profileID]
	if !ok {
		return profile.QuotaResult{}, storage.ErrNotFound
	}
	if p.GamesCreated >= p.GameLimit {
		return profile.QuotaResult{Allowed: false, GamesCreated: p.GamesCreated, GameLimit: p.GameLimit}, nil
	}
	p.GamesCreated++
	p.UpdatedAt = now()
	s.profiles[profileID] = p
	return profile.QuotaResult{Allowed: true, GamesCreated: p.GamesCreated, GameLimit: p.GameLimit}, nil
}

func (s *Store) ReleaseGameSlot(ctx context.Context, profileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[profileID]
	if !ok {
		return storage.ErrNotFound
	}
	if p.GamesCreated > 0 {
		p.GamesCreated--
		p.UpdatedAt = now()
		s.profiles[profileID] = p
	}
	return nil
}

func (s *Store) RecordLogin(ctx context.Context, rec profile.LoginRecord) (profile.LoginRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[rec.ProfileID]; !ok {
		return profile.LoginRecord{}, storage.ErrNotFound
	}
	rec.ID = newID(rec.ID)
	rec.CreatedAt = now()
	s.logins[rec.ProfileID] = append(s.logins[rec.ProfileID], rec)
	return rec, nil
}

func (s *Store) ListLoginHistory(ctx context.Context, profileID string, limit int) ([]profile.LoginRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.profiles[profileID]; !ok {
		return nil, storage.ErrNotFound
	}
	records := append([]profile.LoginRecord(nil), s.logins[profileID]...)
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.After(records[j].CreatedAt) })
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *Store) PurgeLoginHistory(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, records := range s.logins {
		kept := records[:0]
		for _, rec := range records {
			if rec.CreatedAt.Before(before) {
				purged++
				continue
			}
			kept = append(kept, rec)
		}
		s.logins[id] = kept
	}
	return purged, nil
}
