// Package gateway orchestrates authentication, presence and event fan-out
// for collaboration connections.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"collabhub/internal/auth"
	"collabhub/internal/hub"
	"collabhub/internal/presence"
	"collabhub/internal/websocket"
	"collabhub/pkg/interfaces"
	"collabhub/pkg/types"
)

// Authenticator turns a raw credential into an identity
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*types.Identity, error)
}

// Dependencies wires a Gateway
// ARCHITECTURAL DISCOVERY: Built before the services that emit through it, so
// there is no back-reference from the gateway to its callers
type Dependencies struct {
	Registry *websocket.Registry
	Tracker  *presence.Tracker
	Hub      *hub.Hub
	Gate     Authenticator
	Oracle   interfaces.MembershipOracle
	LastSeen interfaces.LastSeenUpdater
	Logger   *slog.Logger

	// AuthorizationTimeout bounds each membership lookup
	AuthorizationTimeout time.Duration
}

// Gateway is the facade application code and the transport call into
type Gateway struct {
	registry *websocket.Registry
	tracker  *presence.Tracker
	hub      *hub.Hub
	gate     Authenticator
	oracle   interfaces.MembershipOracle
	lastSeen interfaces.LastSeenUpdater
	logger   *slog.Logger

	authzTimeout time.Duration
	lookups      singleflight.Group

	// mu serializes registry/tracker mutations together with the presence
	// frames they produce, so subscribers see presence changes in order
	mu sync.Mutex

	// evictions counts removals per topic and identity; a join whose lookup
	// began under an older count is refused. Guarded by mu.
	evictions map[string]uint64
}

// New creates a gateway
func New(deps Dependencies) *Gateway {
	timeout := deps.AuthorizationTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Gateway{
		registry:     deps.Registry,
		tracker:      deps.Tracker,
		hub:          deps.Hub,
		gate:         deps.Gate,
		oracle:       deps.Oracle,
		lastSeen:     deps.LastSeen,
		logger:       deps.Logger.With("component", "gateway"),
		authzTimeout: timeout,
		evictions:    make(map[string]uint64),
	}
}

// OnConnect authenticates a new transport connection and registers it.
// Any authentication failure closes the connection before returning.
func (g *Gateway) OnConnect(ctx context.Context, conn interfaces.Connection, credential string) error {
	identity, err := g.gate.Authenticate(ctx, credential)
	if err != nil {
		g.logger.Warn("connection rejected", "connection", conn.ID(), "error", err)
		_ = conn.CloseWithReason(closeReason(err))
		return err
	}

	if err := conn.SetCredentials(identity, credential); err != nil {
		_ = conn.CloseWithReason("invalid credential")
		return err
	}

	g.mu.Lock()
	if conn.IsClosed() {
		g.mu.Unlock()
		return ErrConnectionGone
	}
	err = g.registry.Register(conn)
	g.mu.Unlock()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to register connection: %w", err)
	}

	// Best effort; a failed stamp never rejects the connection
	if g.lastSeen != nil {
		if err := g.lastSeen.TouchLastSeen(ctx, identity.ID, time.Now().UTC()); err != nil {
			g.logger.Debug("last seen update failed", "identity", identity.ID, "error", err)
		}
	}

	g.logger.Info("connection authenticated",
		"connection", conn.ID(),
		"identity", identity.ID,
		"email", identity.Email,
	)
	return nil
}

// OnDisconnect releases everything a connection held; calling it twice is a no-op
func (g *Gateway) OnDisconnect(conn interfaces.Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.registry.IsRegistered(conn.ID()) {
		return
	}
	identity := conn.Identity()
	topics := g.registry.JoinedTopics(conn.ID())

	if g.registry.Unregister(conn) {
		// FUNCTIONAL DISCOVERY: Last connection gone, the identity leaves every topic
		for _, tc := range g.tracker.LeaveAll(identity.ID) {
			g.hub.Deliver(tc.TopicID, presenceFrame(tc.TopicID, tc.Count, types.PresenceLeft, identity))
		}
		g.logger.Info("identity offline", "identity", identity.ID, "connection", conn.ID())
		return
	}

	// Other tabs remain; only topics no remaining tab has joined are released
	for _, topicID := range topics {
		g.releaseLocked(topicID, identity)
	}
	g.logger.Debug("connection closed", "identity", identity.ID, "connection", conn.ID())
}

// OnJoinTopic re-authenticates the connection, checks membership and joins the topic.
// freshCredential, when set, replaces the connection's stored credential.
func (g *Gateway) OnJoinTopic(ctx context.Context, conn interfaces.Connection, topicID, freshCredential string) error {
	topicID = types.NormalizeTopicID(topicID)
	if !types.IsValidTopicID(topicID) {
		g.sendError(conn, msgInvalidTopic)
		return types.ErrInvalidTopicID
	}
	if !g.registry.IsRegistered(conn.ID()) {
		return ErrConnectionGone
	}

	// TECHNICAL DISCOVERY: Credentials may expire mid-session, so every join re-validates
	credential := conn.Credential()
	if freshCredential != "" {
		credential = freshCredential
	}
	identity, err := g.gate.Authenticate(ctx, credential)
	if err != nil {
		g.logger.Warn("join rejected, closing connection",
			"connection", conn.ID(),
			"topic", topicID,
			"error", err,
		)
		_ = conn.CloseWithReason(closeReason(err))
		return err
	}
	if current := conn.Identity(); current != nil && current.ID != identity.ID {
		g.sendError(conn, msgIdentityMismatch)
		return ErrIdentityMismatch
	}
	if freshCredential != "" {
		_ = conn.SetCredentials(identity, freshCredential)
	}

	key := memberKey(topicID, identity.ID)
	g.mu.Lock()
	epoch := g.evictions[key]
	g.mu.Unlock()

	membership, membershipErr := g.checkMembership(ctx, topicID, identity.ID, epoch)

	g.mu.Lock()
	defer g.mu.Unlock()

	// The connection may have closed while the lookups were in flight
	if !g.registry.IsRegistered(conn.ID()) {
		return ErrConnectionGone
	}
	// FUNCTIONAL DISCOVERY: A removal that landed during the lookup makes its answer stale
	if g.evictions[key] != epoch {
		g.logger.Warn("join refused, member removed during lookup", "identity", identity.ID, "topic", topicID)
		g.sendErrorLocked(conn, msgNotMember)
		return ErrMemberRemoved
	}

	result, err := g.tracker.Join(ctx, topicID, identity.ID, func(context.Context) (types.Membership, error) {
		return membership, membershipErr
	})
	if err != nil {
		if errors.Is(err, presence.ErrNotAuthorized) {
			g.logger.Warn("join denied", "identity", identity.ID, "topic", topicID)
			g.sendErrorLocked(conn, msgNotMember)
		} else {
			g.logger.Error("membership check failed", "identity", identity.ID, "topic", topicID, "error", err)
			g.sendErrorLocked(conn, msgMembershipFailure)
		}
		return err
	}
	g.registry.JoinTopic(conn.ID(), topicID)

	// Redundant joins (another tab, a repeated request) do not announce presence again
	if result.Added {
		g.hub.Deliver(topicID, presenceFrame(topicID, result.Count, types.PresenceJoined, identity))
	}
	g.hub.SendTo([]interfaces.Connection{conn}, types.NewFrame(types.EventJoinedTopic, types.JoinedTopic{
		TopicID:     topicID,
		OnlineCount: result.Count,
		Role:        result.Role,
	}))

	g.logger.Info("joined topic",
		"identity", identity.ID,
		"topic", topicID,
		"online", result.Count,
		"announced", result.Added,
	)
	return nil
}

// OnLeaveTopic removes the connection from a topic; leaving a topic not joined is a no-op
func (g *Gateway) OnLeaveTopic(conn interfaces.Connection, topicID string) error {
	topicID = types.NormalizeTopicID(topicID)
	if !types.IsValidTopicID(topicID) {
		g.sendError(conn, msgInvalidTopic)
		return types.ErrInvalidTopicID
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.registry.LeaveTopic(conn.ID(), topicID) {
		return nil
	}
	g.releaseLocked(topicID, conn.Identity())
	return nil
}

// releaseLocked drops identity from topicID once none of its connections has it joined
func (g *Gateway) releaseLocked(topicID string, identity *types.Identity) {
	if g.registry.IdentityJoined(identity.ID, topicID) {
		return
	}
	if count, removed := g.tracker.Leave(topicID, identity.ID); removed {
		g.hub.Deliver(topicID, presenceFrame(topicID, count, types.PresenceLeft, identity))
	}
}

// EmitBoardEvent persists and fans out a board mutation to the topic
func (g *Gateway) EmitBoardEvent(ctx context.Context, topicID string, event *types.Event) error {
	if event == nil {
		return hub.ErrNilEvent
	}
	ev := *event
	ev.TopicID = types.NormalizeTopicID(topicID)
	return g.hub.Broadcast(ctx, types.EventBoardEvent, &ev)
}

// EmitMemberAdded announces a new topic member
func (g *Gateway) EmitMemberAdded(ctx context.Context, topicID string, member types.MemberInfo, actor types.Actor) error {
	if !types.IsValidIdentityID(member.IdentityID) {
		return types.ErrInvalidIdentityID
	}
	event := &types.Event{
		Type:    types.MemberAdded,
		TopicID: types.NormalizeTopicID(topicID),
		Actor:   actor,
		Payload: member.Payload(),
	}
	return g.hub.Broadcast(ctx, types.EventMemberEvent, event)
}

// EmitMemberRemoved announces a removal and evicts every connection of the removed identity.
// The eviction happens even when the audit append fails; that error is still returned.
func (g *Gateway) EmitMemberRemoved(ctx context.Context, topicID string, member types.MemberInfo, actor types.Actor) error {
	if !types.IsValidIdentityID(member.IdentityID) {
		return types.ErrInvalidIdentityID
	}
	topicID = types.NormalizeTopicID(topicID)

	broadcastErr := g.hub.Broadcast(ctx, types.EventMemberEvent, &types.Event{
		Type:    types.MemberRemoved,
		TopicID: topicID,
		Actor:   actor,
		Payload: member.Payload(),
	})

	g.mu.Lock()
	defer g.mu.Unlock()

	g.evictions[memberKey(topicID, member.IdentityID)]++

	conns := g.registry.ConnectionsFor(member.IdentityID)
	for _, conn := range conns {
		g.registry.LeaveTopic(conn.ID(), topicID)
	}
	g.hub.SendTo(conns, types.NewFrame(types.EventRemovedFromTopic, types.RemovedFromTopic{TopicID: topicID}))

	// FUNCTIONAL DISCOVERY: Presence is per identity, so however many tabs were
	// evicted the count drops once
	if count, removed := g.tracker.Leave(topicID, member.IdentityID); removed {
		identity := &types.Identity{ID: member.IdentityID, DisplayName: member.Name}
		if len(conns) > 0 && conns[0].Identity() != nil {
			identity = conns[0].Identity()
		}
		g.hub.Deliver(topicID, presenceFrame(topicID, count, types.PresenceLeft, identity))
	}

	g.logger.Info("member removed",
		"topic", topicID,
		"identity", member.IdentityID,
		"evicted_connections", len(conns),
	)
	return broadcastErr
}

// GetOnlineIdentities returns the identities joined to a topic
func (g *Gateway) GetOnlineIdentities(topicID string) []string {
	return g.tracker.OnlineIdentities(types.NormalizeTopicID(topicID))
}

// GetPresenceStats summarizes connected identities and active topics
func (g *Gateway) GetPresenceStats() types.PresenceStats {
	return types.PresenceStats{
		TotalConnectedIdentities: g.registry.Stats().Identities,
		TopicsWithActivity:       g.tracker.TopicCount(),
	}
}

// DeliveryStats returns cumulative broadcast counters
func (g *Gateway) DeliveryStats() hub.Stats {
	return g.hub.Stats()
}

// Shutdown closes every live connection; their read pumps run the disconnect cleanup
func (g *Gateway) Shutdown() int {
	n := g.registry.CloseAll()
	g.logger.Info("closed live connections", "count", n)
	return n
}

// checkMembership asks the oracle under the authorization timeout
// TECHNICAL DISCOVERY: Concurrent joins of the same identity to the same topic share
// one lookup; the shared call is detached from the first caller's cancellation.
// The eviction epoch is part of the key so a join that starts after a removal
// never reuses a lookup that began before it.
func (g *Gateway) checkMembership(ctx context.Context, topicID, identityID string, epoch uint64) (types.Membership, error) {
	key := fmt.Sprintf("%s\x00%d", memberKey(topicID, identityID), epoch)
	v, err, _ := g.lookups.Do(key, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.authzTimeout)
		defer cancel()
		return g.oracle.IsMember(lookupCtx, topicID, identityID)
	})
	if err != nil {
		return types.Membership{}, err
	}
	return v.(types.Membership), nil
}

func memberKey(topicID, identityID string) string {
	return topicID + "\x00" + identityID
}

func (g *Gateway) sendError(conn interfaces.Connection, message string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sendErrorLocked(conn, message)
}

func (g *Gateway) sendErrorLocked(conn interfaces.Connection, message string) {
	g.hub.SendTo([]interfaces.Connection{conn}, types.ErrorFrame(message))
}

func presenceFrame(topicID string, count int, action string, identity *types.Identity) types.Frame {
	update := types.PresenceUpdate{
		TopicID:     topicID,
		OnlineCount: count,
		Action:      action,
		IdentityID:  identity.ID,
	}
	if action == types.PresenceJoined {
		update.DisplayName = identity.DisplayName
	}
	return types.NewFrame(types.EventPresenceUpdate, update)
}

// closeReason maps authentication failures onto close frame text
func closeReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrExpiredCredential):
		return "credential expired"
	case errors.Is(err, auth.ErrUnknownPrincipal):
		return "unknown principal"
	default:
		return "invalid credential"
	}
}
