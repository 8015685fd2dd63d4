package gateway

import "errors"

var (
	// ErrConnectionGone means the connection was torn down while a call was in flight
	ErrConnectionGone = errors.New("connection is no longer registered")

	ErrIdentityMismatch = errors.New("credential belongs to a different identity")

	// ErrMemberRemoved means the identity was removed from the topic while its membership lookup was in flight
	ErrMemberRemoved = errors.New("member removed during membership lookup")
)

// Client-facing error messages
const (
	msgInvalidTopic      = "Invalid topic"
	msgNotMember         = "Not a member of this project"
	msgMembershipFailure = "Unable to verify project membership"
	msgIdentityMismatch  = "Credential does not match this connection"
)
