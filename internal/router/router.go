// Package router dispatches inbound client frames to the gateway
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"collabhub/pkg/interfaces"
	"collabhub/pkg/types"
)

// Lifecycle is the part of the gateway inbound frames drive
type Lifecycle interface {
	OnJoinTopic(ctx context.Context, conn interfaces.Connection, topicID, freshCredential string) error
	OnLeaveTopic(conn interfaces.Connection, topicID string) error
}

// Sender writes frames to specific connections
type Sender interface {
	SendTo(conns []interfaces.Connection, frame types.Frame) int
}

// Router implements websocket.FrameRouter
// ARCHITECTURAL DISCOVERY: Pure dispatch; authorization and presence decisions
// belong to the gateway, the router only decodes and rate limits
type Router struct {
	lifecycle   Lifecycle
	sender      Sender
	rateLimiter *RateLimiter
	logger      *slog.Logger
}

// NewRouter creates a router limiting each connection to ratePerMinute frames
func NewRouter(lifecycle Lifecycle, sender Sender, ratePerMinute int, logger *slog.Logger) *Router {
	return &Router{
		lifecycle:   lifecycle,
		sender:      sender,
		rateLimiter: NewRateLimiter(ratePerMinute, time.Minute),
		logger:      logger.With("component", "router"),
	}
}

// Route handles one inbound frame; failures are reported to the client, never returned
func (r *Router) Route(ctx context.Context, conn interfaces.Connection, data []byte) {
	if err := r.Dispatch(ctx, conn, data); err != nil {
		r.logger.Debug("frame rejected", "connection", conn.ID(), "error", err)
	}
}

// Dispatch decodes data and invokes the matching gateway operation
// TECHNICAL DISCOVERY: gjson reads the few fields needed without decoding the whole frame.
// Clients send either topicId or the older projectId field.
func (r *Router) Dispatch(ctx context.Context, conn interfaces.Connection, data []byte) error {
	if !r.rateLimiter.Allow(conn.ID()) {
		r.reply(conn, types.ErrorFrame("Rate limit exceeded"))
		return ErrRateLimitExceeded
	}

	if !gjson.ValidBytes(data) {
		r.reply(conn, types.ErrorFrame("Malformed message"))
		return ErrMalformedFrame
	}
	frame := gjson.ParseBytes(data)
	event := frame.Get("event")
	if !frame.IsObject() || event.Type != gjson.String || event.Str == "" {
		r.reply(conn, types.ErrorFrame("Malformed message"))
		return ErrMalformedFrame
	}

	switch event.Str {
	case types.InboundJoinTopic, types.InboundJoinProject:
		topicID, err := r.topicOf(conn, frame)
		if err != nil {
			return err
		}
		return r.lifecycle.OnJoinTopic(ctx, conn, topicID, frame.Get("data.token").String())

	case types.InboundLeaveTopic, types.InboundLeaveProject:
		topicID, err := r.topicOf(conn, frame)
		if err != nil {
			return err
		}
		return r.lifecycle.OnLeaveTopic(conn, topicID)

	case types.InboundPing:
		r.reply(conn, types.NewFrame(types.EventPong, map[string]interface{}{
			"timestamp": time.Now().UTC(),
		}))
		return nil

	default:
		r.reply(conn, types.ErrorFrame("Unknown event"))
		return fmt.Errorf("%w: %s", ErrUnknownEvent, event.Str)
	}
}

func (r *Router) topicOf(conn interfaces.Connection, frame gjson.Result) (string, error) {
	topic := frame.Get("data.topicId")
	if !topic.Exists() {
		topic = frame.Get("data.projectId")
	}
	if topic.Type != gjson.String || topic.Str == "" {
		r.reply(conn, types.ErrorFrame("Missing topic"))
		return "", ErrMissingTopic
	}
	return topic.Str, nil
}

func (r *Router) reply(conn interfaces.Connection, frame types.Frame) {
	r.sender.SendTo([]interfaces.Connection{conn}, frame)
}

// Forget releases per-connection router state
func (r *Router) Forget(connectionID string) {
	r.rateLimiter.Forget(connectionID)
}

// Run prunes idle rate limiter entries until ctx is cancelled
func (r *Router) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.rateLimiter.Cleanup(); n > 0 {
				r.logger.Debug("pruned rate limiter entries", "count", n)
			}
		}
	}
}
