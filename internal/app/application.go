package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/reviewgame/server/internal/app/events"
	"github.com/reviewgame/server/internal/app/janitor"
	adminsvc "github.com/reviewgame/server/internal/app/services/admin"
	"github.com/reviewgame/server/internal/app/services/banks"
	"github.com/reviewgame/server/internal/app/services/billing"
	"github.com/reviewgame/server/internal/app/services/games"
	"github.com/reviewgame/server/internal/app/services/profiles"
	"github.com/reviewgame/server/internal/app/storage"
	"github.com/reviewgame/server/internal/app/storage/memory"
	"github.com/reviewgame/server/internal/app/system"
	"github.com/reviewgame/server/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Profiles storage.ProfileStore
	Banks    storage.BankStore
	Games    storage.GameStore
	Admin    storage.AdminStore
}

// Options carries optional wiring: the payment provider, cross-instance
// event fan-out and back-office tuning. Zero values disable the optional
// pieces.
type Options struct {
	// BillingProvider connects checkout, portal and webhook handling to the
	// payment backend. Nil leaves every profile on the free tier.
	BillingProvider billing.Provider
	PlusPriceID     string

	ImpersonationTTL time.Duration
	AuditRingSize    int
	AuditFilePath    string

	Retention janitor.Config

	// PubSub mirrors game events across replicas so every websocket sees
	// buzzes regardless of which instance accepted them.
	PubSub        *redis.Client
	EventsChannel string
}

// Pinger reports storage connectivity for the system health probe.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager   *system.Manager
	log       *logger.Logger
	pinger    Pinger
	auditSink *adminsvc.FileSink

	Profiles *profiles.Service
	Banks    *banks.Service
	Games    *games.Service
	Admin    *adminsvc.Service
	Billing  *billing.Service

	// Events is the in-process broadcast hub behind the play websockets.
	Events *events.Hub
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Profiles == nil {
		stores.Profiles = mem
	}
	if stores.Banks == nil {
		stores.Banks = mem
	}
	if stores.Games == nil {
		stores.Games = mem
	}
	if stores.Admin == nil {
		stores.Admin = mem
	}

	manager := system.NewManager()
	hub := events.NewHub(log)

	profileService := profiles.New(stores.Profiles, log)
	bankService := banks.New(stores.Banks, log)
	gameService := games.New(stores.Games, stores.Banks, stores.Profiles, log)

	var publisher games.Publisher = hub
	if opts.PubSub != nil {
		bridge := events.NewRedisBridge(hub, opts.PubSub, opts.EventsChannel, log)
		if err := manager.Register(bridge); err != nil {
			return nil, fmt.Errorf("register %s: %w", bridge.Name(), err)
		}
		publisher = bridge
	}
	gameService.AttachPublisher(publisher)

	adminService := adminsvc.New(stores.Admin, stores.Profiles, log)
	if opts.ImpersonationTTL > 0 {
		adminService = adminService.WithImpersonationTTL(opts.ImpersonationTTL)
	}
	if opts.AuditRingSize > 0 {
		adminService = adminService.WithRingSize(opts.AuditRingSize)
	}
	auditSink, err := adminsvc.NewFileSink(opts.AuditFilePath)
	if err != nil {
		return nil, fmt.Errorf("open audit sink: %w", err)
	}
	if auditSink != nil {
		adminService.AttachSink(auditSink)
	}

	if opts.BillingProvider == nil {
		log.Warn("billing provider not configured; checkout and portal are disabled")
	}
	billingService := billing.New(stores.Profiles, opts.BillingProvider, opts.PlusPriceID, log)

	for _, name := range []string{"profiles", "banks", "games", "admin", "billing"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	sweeper := janitor.New(adminService, stores.Games, stores.Profiles, opts.Retention, log)
	if err := manager.Register(sweeper); err != nil {
		return nil, fmt.Errorf("register %s: %w", sweeper.Name(), err)
	}

	return &Application{
		manager:   manager,
		log:       log,
		auditSink: auditSink,
		Profiles:  profileService,
		Banks:     bankService,
		Games:     gameService,
		Admin:     adminService,
		Billing:   billingService,
		Events:    hub,
	}, nil
}

// AttachPinger wires the database handle into the health probe. Call before
// serving traffic; the in-memory store needs none.
func (a *Application) AttachPinger(p Pinger) {
	a.pinger = p
}

// Pinger returns the attached health probe, or nil.
func (a *Application) Pinger() Pinger {
	return a.pinger
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services and releases the audit sink.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	if a.auditSink != nil {
		if cerr := a.auditSink.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
