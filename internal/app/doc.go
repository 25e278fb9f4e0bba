// Package app is the composition layer of the review game server. It wires
// domain services to their stores, owns the process lifecycle, and is the
// only place that knows how the pieces fit together. It carries no business
// logic of its own; that lives in internal/app/services.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── profile/        # Teacher accounts, tiers, login history
//	│   ├── bank/           # Question banks and questions
//	│   ├── game/           # Game sessions, teams, buzzes, wagers
//	│   └── admin/          # Impersonation sessions and audit entries
//	├── storage/            # Store interfaces and implementations
//	│   ├── interfaces.go   # ProfileStore, BankStore, GameStore, AdminStore
//	│   ├── memory/         # In-memory implementation for tests and dev
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic (profiles, banks, games, admin, billing)
//	├── httpapi/            # REST and websocket handlers, routing
//	├── events/             # Per-game broadcast hub and Redis fan-out
//	├── janitor/            # Scheduled sweeps (sessions, lobbies, logins)
//	├── system/             # Service lifecycle management
//	└── metrics/            # Prometheus collectors and HTTP instrumentation
//
// # Responsibilities
//
// The app package composes services with their stores, registers
// lifecycle-managed components (janitor, Redis event bridge) with the
// system manager, and exposes the assembled Application to cmd/server and
// to httpapi. Handlers reach services through exported Application fields;
// nothing below this package imports it.
//
// # Adding a Domain
//
//  1. Model it in internal/app/domain/<name>/
//  2. Extend the store interfaces in internal/app/storage/interfaces.go
//  3. Implement storage in storage/postgres/ and storage/memory/
//  4. Write the service in internal/app/services/<name>/
//  5. Wire it in application.go and expose handlers in httpapi/
package app
