// Package admin implements the back-office: user management, time-bounded
// impersonation and the audit trail. Every mutation here is recorded in
// the audit log and mirrored to the in-memory ring and the optional file
// sink.
package admin

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/reviewgame/server/internal/app/domain/admin"
	"github.com/reviewgame/server/internal/app/domain/profile"
	"github.com/reviewgame/server/internal/app/metrics"
	"github.com/reviewgame/server/internal/app/storage"
	svcerrors "github.com/reviewgame/server/internal/errors"
	"github.com/reviewgame/server/pkg/logger"
)

const (
	defaultImpersonationTTL = 30 * time.Minute
	maxReasonLen            = 500
)

// Service implements administrative operations.
type Service struct {
	store    storage.AdminStore
	profiles storage.ProfileStore
	log      *logger.Logger

	ttl  time.Duration
	ring *auditRing
	sink Sink
}

// New constructs an admin service with the default impersonation TTL and
// ring size.
func New(store storage.AdminStore, profiles storage.ProfileStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("admin")
	}
	return &Service{
		store:    store,
		profiles: profiles,
		log:      log,
		ttl:      defaultImpersonationTTL,
		ring:     newAuditRing(0),
	}
}

// WithImpersonationTTL overrides how long impersonation sessions live.
func (s *Service) WithImpersonationTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// WithRingSize resizes the recent-activity buffer.
func (s *Service) WithRingSize(size int) *Service {
	s.ring = newAuditRing(size)
	return s
}

// AttachSink mirrors audit entries to an out-of-band sink.
func (s *Service) AttachSink(sink Sink) {
	s.sink = sink
}

// ListUsers searches profiles by email or display name.
func (s *Service) ListUsers(ctx context.Context, query string, page, perPage int) ([]profile.Profile, int, error) {
	users, total, err := s.profiles.ListProfiles(ctx, storage.ProfileFilter{
		Query:   strings.TrimSpace(query),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		return nil, 0, svcerrors.Internal("list users", err)
	}
	return users, total, nil
}

// GetUser returns one profile.
func (s *Service) GetUser(ctx context.Context, userID string) (profile.Profile, error) {
	p, err := s.profiles.GetProfile(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return profile.Profile{}, svcerrors.NotFound("user not found")
	}
	if err != nil {
		return profile.Profile{}, svcerrors.Internal("load user", err)
	}
	return p, nil
}

// UserUpdate carries the fields an admin may change on a profile.
type UserUpdate struct {
	Role      *string `json:"role"`
	Tier      *string `json:"tier"`
	GameLimit *int    `json:"game_limit"`
}

// UpdateUser changes a user's role, tier or game limit. Changing the tier
// without an explicit limit resets the limit to the tier default.
func (s *Service) UpdateUser(ctx context.Context, adminID, userID string, upd UserUpdate) (profile.Profile, error) {
	p, err := s.GetUser(ctx, userID)
	if err != nil {
		return profile.Profile{}, err
	}

	detail := map[string]interface{}{}
	if upd.Role != nil {
		role := strings.TrimSpace(*upd.Role)
		if role != profile.RoleTeacher && role != profile.RoleAdmin {
			return profile.Profile{}, svcerrors.InvalidInput("unknown role")
		}
		p.Role = role
		detail["role"] = role
	}
	if upd.Tier != nil {
		tier := profile.Tier(strings.TrimSpace(*upd.Tier))
		if tier != profile.TierFree && tier != profile.TierPlus {
			return profile.Profile{}, svcerrors.InvalidInput("unknown tier")
		}
		p.Tier = tier
		detail["tier"] = tier
		if upd.GameLimit == nil {
			p.GameLimit = tier.DefaultGameLimit()
			detail["game_limit"] = p.GameLimit
		}
	}
	if upd.GameLimit != nil {
		if *upd.GameLimit < 0 {
			return profile.Profile{}, svcerrors.InvalidInput("game_limit must not be negative")
		}
		p.GameLimit = *upd.GameLimit
		detail["game_limit"] = p.GameLimit
	}
	if len(detail) == 0 {
		return profile.Profile{}, svcerrors.InvalidInput("no changes supplied")
	}

	updated, err := s.profiles.UpdateProfile(ctx, p)
	if errors.Is(err, storage.ErrNotFound) {
		return profile.Profile{}, svcerrors.NotFound("user not found")
	}
	if err != nil {
		return profile.Profile{}, svcerrors.Internal("update user", err)
	}

	s.record(ctx, adminID, "user.update", "profile", userID, detail)
	return updated, nil
}

// DeleteUser removes a profile and everything cascading from it. Admins
// cannot delete themselves.
func (s *Service) DeleteUser(ctx context.Context, adminID, userID string) error {
	if adminID == userID {
		return svcerrors.Conflict("cannot delete your own account")
	}
	p, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.profiles.DeleteProfile(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return svcerrors.NotFound("user not found")
		}
		return svcerrors.Internal("delete user", err)
	}

	s.record(ctx, adminID, "user.delete", "profile", userID, map[string]interface{}{
		"email": p.Email,
	})
	s.log.WithField("user_id", userID).WithField("admin_id", adminID).Info("user deleted")
	return nil
}

// ListLoginHistory returns a user's recent logins.
func (s *Service) ListLoginHistory(ctx context.Context, userID string, limit int) ([]profile.LoginRecord, error) {
	recs, err := s.profiles.ListLoginHistory(ctx, userID, limit)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, svcerrors.NotFound("user not found")
	}
	if err != nil {
		return nil, svcerrors.Internal("list login history", err)
	}
	return recs, nil
}

// Impersonate opens a time-bounded session acting as the target user.
// An admin holds at most one live session at a time.
func (s *Service) Impersonate(ctx context.Context, adminID, targetUserID, reason string) (domain.ImpersonationSession, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.ImpersonationSession{}, svcerrors.InvalidInput("a reason is required")
	}
	if len(reason) > maxReasonLen {
		return domain.ImpersonationSession{}, svcerrors.InvalidInput("reason is too long")
	}
	if targetUserID == adminID {
		return domain.ImpersonationSession{}, svcerrors.InvalidInput("cannot impersonate yourself")
	}
	if _, err := s.GetUser(ctx, targetUserID); err != nil {
		return domain.ImpersonationSession{}, err
	}

	now := time.Now().UTC()
	sess, err := s.store.CreateImpersonationSession(ctx, domain.ImpersonationSession{
		AdminID:      adminID,
		TargetUserID: targetUserID,
		Reason:       reason,
		ExpiresAt:    now.Add(s.ttl),
	})
	if errors.Is(err, storage.ErrConflict) {
		return domain.ImpersonationSession{}, svcerrors.Conflict("an impersonation session is already active")
	}
	if err != nil {
		return domain.ImpersonationSession{}, svcerrors.Internal("create impersonation session", err)
	}

	metrics.RecordImpersonationSession()
	s.record(ctx, adminID, "impersonation.start", "profile", targetUserID, map[string]interface{}{
		"session_id": sess.ID,
		"reason":     reason,
		"expires_at": sess.ExpiresAt,
	})
	s.log.WithField("admin_id", adminID).WithField("target_user_id", targetUserID).Info("impersonation started")
	return sess, nil
}

// ImpersonationStatus reports the admin's live session, if any.
func (s *Service) ImpersonationStatus(ctx context.Context, adminID string) (domain.ImpersonationSession, bool, error) {
	sess, err := s.store.ActiveImpersonationSession(ctx, adminID, time.Now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ImpersonationSession{}, false, nil
	}
	if err != nil {
		return domain.ImpersonationSession{}, false, svcerrors.Internal("load impersonation session", err)
	}
	return sess, true, nil
}

// EndImpersonation closes one of the admin's sessions.
func (s *Service) EndImpersonation(ctx context.Context, adminID, sessionID string) error {
	sess, err := s.store.GetImpersonationSession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return svcerrors.NotFound("impersonation session not found")
	}
	if err != nil {
		return svcerrors.Internal("load impersonation session", err)
	}
	if sess.AdminID != adminID {
		return svcerrors.Forbidden("session belongs to another admin")
	}

	if _, err := s.store.EndImpersonationSession(ctx, sessionID, time.Now().UTC()); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return svcerrors.Conflict("session has already ended")
		}
		if errors.Is(err, storage.ErrNotFound) {
			return svcerrors.NotFound("impersonation session not found")
		}
		return svcerrors.Internal("end impersonation session", err)
	}

	s.record(ctx, adminID, "impersonation.end", "profile", sess.TargetUserID, map[string]interface{}{
		"session_id": sessionID,
	})
	s.log.WithField("admin_id", adminID).WithField("session_id", sessionID).Info("impersonation ended")
	return nil
}

// ResolveImpersonation validates a session presented on a request and
// returns it when the given admin may act through it.
func (s *Service) ResolveImpersonation(ctx context.Context, adminID, sessionID string) (domain.ImpersonationSession, error) {
	sess, err := s.store.GetImpersonationSession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ImpersonationSession{}, svcerrors.Forbidden("impersonation session not found")
	}
	if err != nil {
		return domain.ImpersonationSession{}, svcerrors.Internal("load impersonation session", err)
	}
	if sess.AdminID != adminID {
		return domain.ImpersonationSession{}, svcerrors.Forbidden("session belongs to another admin")
	}
	if !sess.Active(time.Now().UTC()) {
		return domain.ImpersonationSession{}, svcerrors.Forbidden("impersonation session has ended")
	}
	return sess, nil
}

// ExpireSessions force-ends sessions past their deadline. Called by the
// janitor.
func (s *Service) ExpireSessions(ctx context.Context, now time.Time) (int, error) {
	n, err := s.store.ExpireImpersonationSessions(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.WithField("count", n).Info("expired impersonation sessions")
	}
	return n, nil
}

// ListAudit pages through the persisted audit log.
func (s *Service) ListAudit(ctx context.Context, f storage.AuditFilter) ([]domain.AuditEntry, int, error) {
	entries, total, err := s.store.ListAuditEntries(ctx, f)
	if err != nil {
		return nil, 0, svcerrors.Internal("list audit entries", err)
	}
	return entries, total, nil
}

// RecentAudit returns the newest entries from the in-memory ring,
// oldest first.
func (s *Service) RecentAudit(limit int) []domain.AuditEntry {
	return s.ring.list(limit)
}

// record persists an audit entry and mirrors it. A failed database write
// is logged loudly but does not undo the action it describes.
func (s *Service) record(ctx context.Context, adminID, action, targetType, targetID string, detail map[string]interface{}) {
	entry := domain.AuditEntry{
		AdminID:    adminID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Detail:     detail,
	}
	stored, err := s.store.AppendAuditEntry(ctx, entry)
	if err != nil {
		s.log.WithError(err).WithField("action", action).Error("append audit entry")
		stored = entry
		stored.CreatedAt = time.Now().UTC()
	}

	s.ring.add(stored)
	if s.sink != nil {
		if err := s.sink.Write(stored); err != nil {
			s.log.WithError(err).Warn("write audit sink")
		}
	}
}
