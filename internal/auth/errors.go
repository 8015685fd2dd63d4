package auth

import "errors"

// ARCHITECTURAL DISCOVERY: All three are fatal to the connection attempt;
// callers terminate the transport instead of retrying
var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrExpiredCredential = errors.New("credential expired")
	ErrUnknownPrincipal  = errors.New("credential principal no longer exists")
)
