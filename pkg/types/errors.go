package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidTopicID    = errors.New("topic ID must be 1-100 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidIdentityID = errors.New("identity ID must be 1-100 characters, alphanumeric + underscore/hyphen only")
	ErrMissingEventType  = errors.New("event type is required")
	ErrInvalidEventType  = errors.New("event type must be 1-64 characters, alphanumeric + underscore/dot/hyphen")
	ErrMissingActor      = errors.New("event actor is required")
	ErrInvalidPayload    = errors.New("invalid JSON payload")
	ErrPayloadTooLarge   = errors.New("event payload exceeds 64KB limit")
)
