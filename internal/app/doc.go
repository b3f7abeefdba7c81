// Package app composes the method registry, its services and their
// collaborators into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── table/              # Typed tables and the conditional query builder
//	├── storage/            # Collaborator selection and instrumentation
//	│   ├── memory/         # In-process collections with bitmap indexes
//	│   └── postgres/       # PostgreSQL collections
//	├── validation/         # Uniqueness, identifier and reference rules
//	├── core/service/       # Method descriptors, tiers and the registry
//	├── auth/               # Evidence resolution to principals
//	├── httpapi/            # HTTP boundary and invocation audit
//	├── domain/             # Entity models and their schemas
//	├── services/           # Registered services (catalog)
//	├── cache/              # Memory and Redis caches
//	├── async/              # Bounded deferred work and schedules
//	├── transfer/           # File export/import codecs and stores
//	├── system/             # Lifecycle manager
//	└── metrics/            # Prometheus collectors
//
// # Adding a Service
//
//  1. Declare the entity, its columns and schema in internal/app/domain/<name>/
//  2. Implement the service in internal/app/services/<name>/ with Init and Register
//  3. Open its table and wire it in application.go
//  4. List it in config/services.yaml
//
// # Dependency Direction
//
//	cmd/cloudless
//	      │
//	      ▼
//	internal/app (composition)
//	      │
//	      ├──► services ──► validation ──► table
//	      ├──► core/service ──► auth
//	      ├──► httpapi ──► middleware, httputil
//	      └──► storage ──► table
package app
