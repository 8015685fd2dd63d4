package interfaces

import (
	"context"
)

// DatabaseManager is the relational store adapter behind every collaborator contract
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations
// enables consistent connection management and a single health check
type DatabaseManager interface {
	IdentityStore
	MembershipOracle
	AuditStore
	LastSeenUpdater
	ActivityReader

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources
	Close() error
}
