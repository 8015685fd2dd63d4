package types

import (
	"time"
)

// ARCHITECTURAL DISCOVERY: Wire event names are shared by the gateway, the hub and
// the inbound router so every component speaks the same vocabulary
const (
	EventPresenceUpdate   = "presence_update"
	EventJoinedTopic      = "joined_topic"
	EventBoardEvent       = "board_event"
	EventMemberEvent      = "member_event"
	EventError            = "error"
	EventRemovedFromTopic = "removed_from_topic"
	EventPong             = "pong"
)

// Inbound client events. The *_project aliases are what the board web client sends.
const (
	InboundJoinTopic    = "join_topic"
	InboundLeaveTopic   = "leave_topic"
	InboundJoinProject  = "join_project"
	InboundLeaveProject = "leave_project"
	InboundPing         = "ping"
)

// Membership event types carried inside member_event frames
const (
	MemberAdded   = "member_added"
	MemberRemoved = "member_removed"
)

// Presence actions
const (
	PresenceJoined = "joined"
	PresenceLeft   = "left"
)

// Identity is the authenticated principal behind a connection
// FUNCTIONAL DISCOVERY: Transient projection of the credential, never persisted here
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// Actor returns the identity in the shape events carry
func (i *Identity) Actor() Actor {
	return Actor{ID: i.ID, Email: i.Email, Name: i.DisplayName}
}

// Actor identifies who caused an event
type Actor struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Event is an immutable record of something that happened on a topic
// ARCHITECTURAL DISCOVERY: Payload as map[string]interface{} keeps board and member
// payloads flexible while staying JSON compatible for both audit and transport
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	TopicID   string                 `json:"topicId"`
	Actor     Actor                  `json:"actor"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

// Membership is the answer of the external membership oracle
type Membership struct {
	IsMember bool   `json:"isMember"`
	Role     string `json:"role,omitempty"`
}

// Claims is what a credential verifier decodes from a bearer credential
type Claims struct {
	Subject   string
	Email     string
	Name      string
	ExpiresAt time.Time
}

// Activity is a persisted audit record of a broadcast domain event
type Activity struct {
	ID        string                 `json:"id"`
	TopicID   string                 `json:"topicId"`
	ActorID   string                 `json:"actorId"`
	Action    string                 `json:"action"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"createdAt"`
}

// Frame is the envelope of every websocket message in both directions
type Frame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// PresenceUpdate is sent to a topic whenever its joined set changes
type PresenceUpdate struct {
	TopicID     string `json:"topicId"`
	OnlineCount int    `json:"onlineCount"`
	Action      string `json:"action"`
	IdentityID  string `json:"identityId"`
	DisplayName string `json:"displayName,omitempty"`
}

// JoinedTopic acknowledges a successful join to the joining connection only
type JoinedTopic struct {
	TopicID     string `json:"topicId"`
	OnlineCount int    `json:"onlineCount"`
	Role        string `json:"role"`
}

// RemovedFromTopic is sent to every connection of an evicted identity
type RemovedFromTopic struct {
	TopicID string `json:"topicId"`
}

// ErrorPayload is the body of an error frame
type ErrorPayload struct {
	Message string `json:"message"`
}

// PresenceStats summarizes gateway presence state
type PresenceStats struct {
	TotalConnectedIdentities int `json:"totalConnectedIdentities"`
	TopicsWithActivity       int `json:"topicsWithActivity"`
}

// NewFrame builds a frame envelope
func NewFrame(event string, data interface{}) Frame {
	return Frame{Event: event, Data: data}
}

// ErrorFrame builds an error frame with a client-facing message
func ErrorFrame(message string) Frame {
	return Frame{Event: EventError, Data: ErrorPayload{Message: message}}
}

// MemberInfo describes the member in a member_added or member_removed event
type MemberInfo struct {
	IdentityID string `json:"userId"`
	Email      string `json:"email,omitempty"`
	Name       string `json:"name,omitempty"`
	Role       string `json:"role,omitempty"`
}

// Payload renders the member as an event payload
func (m MemberInfo) Payload() map[string]interface{} {
	payload := map[string]interface{}{"userId": m.IdentityID}
	if m.Email != "" {
		payload["email"] = m.Email
	}
	if m.Name != "" {
		payload["name"] = m.Name
	}
	if m.Role != "" {
		payload["role"] = m.Role
	}
	return payload
}
