// Package app composes the ledger services into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/             # Domain models (account, investment, loan, transaction, reference)
//	├── storage/            # Store contracts plus memory and postgres implementations
//	├── services/           # Business logic: accounts, investments, loans, transactions, payouts
//	├── notify/             # Best-effort transactional email
//	├── pricing/            # USD price oracle
//	├── metrics/            # Prometheus collectors
//	├── httpapi/            # HTTP routes and handlers
//	├── system/             # Lifecycle manager for background services
//	└── runtime/            # Process construction from configuration
//
// # Dependency Direction
//
//	cmd/ledgerd, cmd/payout-sweep
//	      │
//	      ▼
//	internal/app/runtime ──► internal/app/httpapi
//	      │                        │
//	      ▼                        ▼
//	internal/app (composition) ◄───┘
//	      │
//	      ├──► internal/app/services ──► internal/app/storage ──► internal/app/domain
//	      │
//	      └──► internal/app/system
//
// Services return classified errors from internal/errors; the HTTP layer maps
// them to status codes and response bodies.
package app
