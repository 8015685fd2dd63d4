package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrPrincipalNotFound = errors.New("principal not found")
	ErrUnauthorized      = errors.New("unauthorized access")
)
