// Package app composes the PINNLO service layer into a running application.
//
// # Architecture Role
//
// The app package wires storage, caches and AI providers into the domain
// services and owns their lifecycle. It holds no business rules itself;
// those live in internal/app/services/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, service wiring and lifecycle
//	├── wiring.go           # Build: connects the backends selected by config
//	├── domain/             # Domain models (pure data structures)
//	│   ├── strategy/       # Strategies and summaries
//	│   ├── card/           # Cards, patches and the card type registry
//	│   ├── intelligence/   # Intelligence groups
//	│   ├── template/       # Template cards
//	│   └── automation/     # Automation rules and executions
//	├── storage/            # Store interfaces and implementations
//	│   ├── interfaces.go   # StrategyStore, CardStore, ...
//	│   ├── memory/         # In-memory implementation for tests and local runs
//	│   ├── postgres/       # Direct Postgres (DATABASE_URL)
//	│   └── supabase/       # PostgREST with the service key
//	├── services/           # Domain services
//	├── httpapi/            # REST handlers, routing and the audit trail
//	├── system/             # Lifecycle manager and host stats
//	└── metrics/            # Prometheus collectors
//
// # Dependency Direction
//
//	cmd/pinnlo-api, cmd/pinnlo-mcp, cmd/pinnloctl
//	      │
//	      ▼
//	internal/app (composition)
//	      │
//	      ├──► internal/app/services ──► internal/app/storage ──► internal/app/domain
//	      │           │
//	      │           └──► internal/ai, internal/cache, internal/github
//	      │
//	      └──► internal/supabase, internal/platform/migrations
//
// # Adding a Card-Backed Feature
//
//  1. Add the model to internal/app/domain/
//  2. Add the store interface to internal/app/storage/interfaces.go
//  3. Implement it in memory/, postgres/ and supabase/
//  4. Add a migration under internal/platform/migrations/sql/
//  5. Create the service in internal/app/services/ and wire it in application.go
//  6. Add handlers in internal/app/httpapi/ and register the routes in router.go
package app
