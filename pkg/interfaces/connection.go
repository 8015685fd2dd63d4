package interfaces

import "collabhub/pkg/types"

// Connection represents one live transport-level session
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// so the registry, tracker and hub can be exercised without a live transport
type Connection interface {
	// ID returns the opaque identifier assigned when the transport connected
	ID() string

	// WriteJSON queues a JSON message for the client (thread-safe)
	WriteJSON(v interface{}) error

	// Close closes the connection and cleans up resources; safe to call twice
	Close() error

	// CloseWithReason tells the client why it is being dropped, then closes
	CloseWithReason(reason string) error

	// IsClosed reports whether Close has run
	IsClosed() bool

	// SetCredentials attaches the authenticated identity and the raw credential it came from
	SetCredentials(identity *types.Identity, credential string) error

	// Identity returns the attached identity, nil before authentication
	Identity() *types.Identity

	// Credential returns the raw credential presented at authentication
	Credential() string

	// IsAuthenticated returns true once SetCredentials succeeded
	IsAuthenticated() bool
}
