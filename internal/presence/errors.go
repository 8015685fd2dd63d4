package presence

import "errors"

// ErrNotAuthorized is fatal to one join attempt only; the connection survives
var ErrNotAuthorized = errors.New("not authorized to join topic")

// ErrAuthorizationUnavailable wraps a failing membership lookup
var ErrAuthorizationUnavailable = errors.New("authorization check failed")
