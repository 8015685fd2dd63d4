package router

import "errors"

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrMalformedFrame    = errors.New("frame is not a JSON object with an event name")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrMissingTopic      = errors.New("frame does not name a topic")
)
