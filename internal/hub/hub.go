package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"collabhub/internal/presence"
	"collabhub/internal/websocket"
	"collabhub/pkg/interfaces"
	"collabhub/pkg/types"
)

// Hub persists domain events and fans them out to a topic's joined connections
// ARCHITECTURAL DISCOVERY: Central coordination point for all outbound frames;
// every write to a client goes through deliveryMu so frames for a topic leave in
// the order they were produced
type Hub struct {
	registry *websocket.Registry
	tracker  *presence.Tracker
	audit    interfaces.AuditStore
	logger   *slog.Logger

	deliveryMu sync.Mutex

	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	running bool
	stopCh  chan struct{}
	mu      sync.RWMutex

	broadcasts       atomic.Int64
	deliveries       atomic.Int64
	deliveryFailures atomic.Int64
	auditFailures    atomic.Int64
}

// Stats are cumulative hub counters
type Stats struct {
	Broadcasts       int64 `json:"broadcasts"`
	Deliveries       int64 `json:"deliveries"`
	DeliveryFailures int64 `json:"deliveryFailures"`
	AuditFailures    int64 `json:"auditFailures"`
}

// NewHub creates a new hub
func NewHub(registry *websocket.Registry, tracker *presence.Tracker, audit interfaces.AuditStore, logger *slog.Logger) *Hub {
	return &Hub{
		registry: registry,
		tracker:  tracker,
		audit:    audit,
		logger:   logger.With("component", "hub"),
	}
}

// Start enables delivery until Stop is called or ctx is cancelled
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	stopCh := make(chan struct{})
	h.stopCh = stopCh
	h.mu.Unlock()

	h.logger.Info("hub started")

	go func() {
		select {
		case <-ctx.Done():
			_ = h.Stop()
		case <-stopCh:
		}
	}()

	return nil
}

// Stop disables delivery
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false
	close(h.stopCh)

	h.logger.Info("hub stopped")
	return nil
}

// IsRunning reports whether the hub accepts broadcasts
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Broadcast appends event to the audit trail and delivers it under eventName
// to every connection joined to the event's topic when the call was made.
// Delivery failures are logged per connection; an audit failure is returned
// wrapped in ErrAuditPersistence after delivery has been attempted.
func (h *Hub) Broadcast(ctx context.Context, eventName string, event *types.Event) error {
	if !h.IsRunning() {
		return ErrHubNotRunning
	}
	if event == nil {
		return ErrNilEvent
	}
	// Stamp a copy; the caller's event is never mutated
	stamped := *event
	event = &stamped
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Recipients are fixed before the audit write so a
	// connection joining while it is in flight does not receive the event
	recipients := h.recipients(event.TopicID)

	h.broadcasts.Add(1)

	var auditErr error
	if err := h.audit.AppendActivity(ctx, event.TopicID, event.Actor.ID, event.Type, event.Payload); err != nil {
		h.auditFailures.Add(1)
		h.logger.Error("audit append failed",
			"topic", event.TopicID,
			"type", event.Type,
			"actor", event.Actor.ID,
			"error", err,
		)
		auditErr = fmt.Errorf("%w: %w", ErrAuditPersistence, err)
	}

	// Persistence and delivery are independent steps, not a transaction
	delivered := h.SendTo(recipients, types.NewFrame(eventName, event))

	h.logger.Debug("event broadcast",
		"topic", event.TopicID,
		"event", eventName,
		"type", event.Type,
		"recipients", len(recipients),
		"delivered", delivered,
	)

	return auditErr
}

// Deliver sends frame to every connection joined to topicID and returns how many accepted it
func (h *Hub) Deliver(topicID string, frame types.Frame) int {
	return h.SendTo(h.recipients(topicID), frame)
}

// SendTo writes frame to each connection in order
// FUNCTIONAL DISCOVERY: Fire-and-forget per connection; one failing transport
// never prevents delivery to the rest
func (h *Hub) SendTo(conns []interfaces.Connection, frame types.Frame) int {
	h.deliveryMu.Lock()
	defer h.deliveryMu.Unlock()

	delivered := 0
	for _, conn := range conns {
		if err := conn.WriteJSON(frame); err != nil {
			h.deliveryFailures.Add(1)
			h.logger.Warn("delivery failed",
				"connection", conn.ID(),
				"event", frame.Event,
				"error", fmt.Errorf("%w: %w", ErrDeliveryFailure, err),
			)
			continue
		}
		delivered++
	}
	h.deliveries.Add(int64(delivered))
	return delivered
}

// recipients cross-references the topic's joined identities with their joined connections
func (h *Hub) recipients(topicID string) []interfaces.Connection {
	return h.registry.TopicConnections(topicID, h.tracker.OnlineIdentities(topicID))
}

// Stats returns cumulative counters
func (h *Hub) Stats() Stats {
	return Stats{
		Broadcasts:       h.broadcasts.Load(),
		Deliveries:       h.deliveries.Load(),
		DeliveryFailures: h.deliveryFailures.Load(),
		AuditFailures:    h.auditFailures.Load(),
	}
}
