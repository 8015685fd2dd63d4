package hub

import "errors"

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrNilEvent          = errors.New("event cannot be nil")

	// ErrDeliveryFailure is per connection; it is logged and never returned
	ErrDeliveryFailure = errors.New("delivery to connection failed")

	// ErrAuditPersistence is returned to the broadcaster's caller; delivery still happens
	ErrAuditPersistence = errors.New("audit record could not be persisted")
)
