// Package domain defines the core domain types and interfaces.
//
// This package contains concept-oriented files (connection.go, tenant.go, sender.go, errors.go)
// with shared types and cross-cutting interfaces. No implementation code - just contracts.
// Adapters implement these interfaces; app and broadcast consume them.
package domain
