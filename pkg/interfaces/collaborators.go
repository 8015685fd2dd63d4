package interfaces

import (
	"context"
	"time"

	"collabhub/pkg/types"
)

// CredentialVerifier decodes a bearer credential
// FUNCTIONAL DISCOVERY: Verification is a black-box library contract; it fails on
// malformed or expired input and never consults the identity store
type CredentialVerifier interface {
	Verify(raw string) (*types.Claims, error)
}

// IdentityStore resolves a credential subject to a live principal
type IdentityStore interface {
	// LookupIdentity returns ErrPrincipalNotFound when the principal was deleted
	LookupIdentity(ctx context.Context, identityID string) (*types.Identity, error)
}

// MembershipOracle answers whether an identity belongs to a topic
type MembershipOracle interface {
	IsMember(ctx context.Context, topicID, identityID string) (types.Membership, error)
}

// AuditStore is the append-only trail of broadcast domain events
// ARCHITECTURAL DISCOVERY: Append may fail (write error, connectivity); callers
// surface that failure instead of swallowing it
type AuditStore interface {
	AppendActivity(ctx context.Context, topicID, actorID, eventType string, payload map[string]interface{}) error
}

// LastSeenUpdater stamps an identity's last activity time (best-effort)
type LastSeenUpdater interface {
	TouchLastSeen(ctx context.Context, identityID string, ts time.Time) error
}

// ActivityReader reads back the audit trail of a topic, newest first
type ActivityReader interface {
	ListActivities(ctx context.Context, topicID string, limit int) ([]*types.Activity, error)
}
