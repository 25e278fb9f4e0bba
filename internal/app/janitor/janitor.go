// Package janitor runs the periodic cleanup work: force-ending expired
// impersonation sessions, abandoning lobbies nobody started and trimming
// old login history.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/reviewgame/server/internal/app/storage"
	"github.com/reviewgame/server/pkg/logger"
)

const sweepTimeout = 30 * time.Second

// SessionReaper force-ends impersonation sessions past their deadline.
type SessionReaper interface {
	ExpireSessions(ctx context.Context, now time.Time) (int, error)
}

// Config sets the retention windows.
type Config struct {
	LoginHistoryRetention time.Duration
	LobbyGameMaxAge       time.Duration
}

// Janitor schedules the sweeps. It implements system.Service.
type Janitor struct {
	cron     *cron.Cron
	sessions SessionReaper
	games    storage.GameStore
	profiles storage.ProfileStore
	cfg      Config
	log      *logger.Logger
}

// New constructs a janitor. Zero retention values fall back to 90 days of
// login history and 24 hours of untouched lobbies.
func New(sessions SessionReaper, games storage.GameStore, profiles storage.ProfileStore, cfg Config, log *logger.Logger) *Janitor {
	if log == nil {
		log = logger.NewDefault("janitor")
	}
	if cfg.LoginHistoryRetention <= 0 {
		cfg.LoginHistoryRetention = 90 * 24 * time.Hour
	}
	if cfg.LobbyGameMaxAge <= 0 {
		cfg.LobbyGameMaxAge = 24 * time.Hour
	}
	return &Janitor{
		cron:     cron.New(),
		sessions: sessions,
		games:    games,
		profiles: profiles,
		cfg:      cfg,
		log:      log,
	}
}

// Name implements system.Service.
func (j *Janitor) Name() string { return "janitor" }

// Start registers the sweep schedules and begins running them.
func (j *Janitor) Start(ctx context.Context) error {
	schedules := []struct {
		spec string
		run  func()
	}{
		{"@every 1m", j.sweepSessions},
		{"@every 10m", j.sweepGames},
		{"@every 1h", j.sweepLogins},
	}
	for _, s := range schedules {
		if _, err := j.cron.AddFunc(s.spec, s.run); err != nil {
			return fmt.Errorf("schedule %s: %w", s.spec, err)
		}
	}
	j.cron.Start()
	j.log.Info("janitor started")
	return nil
}

// Stop halts the schedule and waits for in-flight sweeps to finish.
func (j *Janitor) Stop(ctx context.Context) error {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Janitor) sweepSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	if _, err := j.sessions.ExpireSessions(ctx, time.Now().UTC()); err != nil {
		j.log.WithError(err).Warn("expire impersonation sessions")
	}
}

func (j *Janitor) sweepGames() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	cutoff := time.Now().UTC().Add(-j.cfg.LobbyGameMaxAge)
	n, err := j.games.AbandonStaleGames(ctx, cutoff)
	if err != nil {
		j.log.WithError(err).Warn("abandon stale games")
		return
	}
	if n > 0 {
		j.log.WithField("count", n).Info("abandoned stale games")
	}
}

func (j *Janitor) sweepLogins() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	cutoff := time.Now().UTC().Add(-j.cfg.LoginHistoryRetention)
	n, err := j.profiles.PurgeLoginHistory(ctx, cutoff)
	if err != nil {
		j.log.WithError(err).Warn("purge login history")
		return
	}
	if n > 0 {
		j.log.WithField("count", n).Info("purged login history")
	}
}
