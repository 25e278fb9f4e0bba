// Package profiles provisions and maintains user profiles and their login
// history. Profile rows are keyed by the hosted auth provider's subject id.
package profiles

import (
	"context"
	"errors"
	"strings"

	"github.com/reviewgame/server/internal/app/domain/profile"
	"github.com/reviewgame/server/internal/app/storage"
	svcerrors "github.com/reviewgame/server/internal/errors"
	"github.com/reviewgame/server/pkg/logger"
)

// Service manages profile rows.
type Service struct {
	store storage.ProfileStore
	log   *logger.Logger
}

// New constructs a profile service.
func New(store storage.ProfileStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("profiles")
	}
	return &Service{store: store, log: log}
}

// Ensure returns the profile for the authenticated subject, provisioning a
// free-tier row on first sight.
func (s *Service) Ensure(ctx context.Context, id, email, displayName string) (profile.Profile, error) {
	p, err := s.store.GetProfile(ctx, id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return profile.Profile{}, err
	}

	email = strings.TrimSpace(email)
	if email == "" {
		return profile.Profile{}, svcerrors.InvalidInput("email is required")
	}
	if displayName = strings.TrimSpace(displayName); displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}

	created, err := s.store.CreateProfile(ctx, profile.Profile{
		ID:                 id,
		Email:              email,
		DisplayName:        displayName,
		Role:               profile.RoleTeacher,
		Tier:               profile.TierFree,
		SubscriptionStatus: profile.SubscriptionNone,
		GameLimit:          profile.TierFree.DefaultGameLimit(),
	})
	if errors.Is(err, storage.ErrConflict) {
		// Lost a provisioning race; the row exists now.
		return s.store.GetProfile(ctx, id)
	}
	if err != nil {
		return profile.Profile{}, err
	}
	s.log.WithField("profile_id", created.ID).Info("profile provisioned")
	return created, nil
}

// Get retrieves a profile by id.
func (s *Service) Get(ctx context.Context, id string) (profile.Profile, error) {
	p, err := s.store.GetProfile(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return profile.Profile{}, svcerrors.NotFound("profile not found")
	}
	return p, err
}

// Update is the set of self-service profile changes.
type Update struct {
	DisplayName *string `json:"display_name"`
	School      *string `json:"school"`
}

// Update applies self-service changes to the caller's own profile.
func (s *Service) Update(ctx context.Context, id string, upd Update) (profile.Profile, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return profile.Profile{}, err
	}

	if upd.DisplayName != nil {
		name := strings.TrimSpace(*upd.DisplayName)
		if name == "" {
			return profile.Profile{}, svcerrors.InvalidInput("display_name cannot be empty")
		}
		if len(name) > 120 {
			return profile.Profile{}, svcerrors.InvalidInput("display_name exceeds 120 characters")
		}
		p.DisplayName = name
	}
	if upd.School != nil {
		school := strings.TrimSpace(*upd.School)
		if len(school) > 200 {
			return profile.Profile{}, svcerrors.InvalidInput("school exceeds 200 characters")
		}
		p.School = school
	}

	updated, err := s.store.UpdateProfile(ctx, p)
	if errors.Is(err, storage.ErrNotFound) {
		return profile.Profile{}, svcerrors.NotFound("profile not found")
	}
	if err != nil {
		return profile.Profile{}, err
	}
	s.log.WithField("profile_id", id).Info("profile updated")
	return updated, nil
}

// RecordLogin appends a row to the profile's login history.
func (s *Service) RecordLogin(ctx context.Context, profileID, ip, userAgent string) (profile.LoginRecord, error) {
	rec, err := s.store.RecordLogin(ctx, profile.LoginRecord{
		ProfileID: profileID,
		IP:        ip,
		UserAgent: userAgent,
	})
	if errors.Is(err, storage.ErrNotFound) {
		return profile.LoginRecord{}, svcerrors.NotFound("profile not found")
	}
	return rec, err
}

// ListLogins returns the profile's most recent logins, newest first.
func (s *Service) ListLogins(ctx context.Context, profileID string, limit int) ([]profile.LoginRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	records, err := s.store.ListLoginHistory(ctx, profileID, limit)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, svcerrors.NotFound("profile not found")
	}
	return records, err
}
