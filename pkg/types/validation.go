package types

import (
	"encoding/json"
	"regexp"
	"strings"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var (
	idRegex        = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	eventTypeRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

// topicRoomPrefix is the room naming used by the board service.
const topicRoomPrefix = "project:"

// MaxPayloadBytes bounds the marshalled size of an event payload
const MaxPayloadBytes = 65536

// NormalizeTopicID strips the room prefix some callers put in front of the project ID
func NormalizeTopicID(topicID string) string {
	return strings.TrimPrefix(strings.TrimSpace(topicID), topicRoomPrefix)
}

// IsValidTopicID checks if a topic ID meets format requirements
func IsValidTopicID(topicID string) bool {
	if len(topicID) < 1 || len(topicID) > 100 {
		return false
	}
	return idRegex.MatchString(topicID)
}

// IsValidIdentityID checks if an identity ID meets format requirements
func IsValidIdentityID(identityID string) bool {
	if len(identityID) < 1 || len(identityID) > 100 {
		return false
	}
	return idRegex.MatchString(identityID)
}

// Validate ensures the event meets all requirements before it is persisted or broadcast
// TECHNICAL DISCOVERY: Payload size check requires marshaling which adds overhead
// but gives the exact byte count the audit store will receive
func (e *Event) Validate() error {
	if e.Type == "" {
		return ErrMissingEventType
	}
	if len(e.Type) > 64 || !eventTypeRegex.MatchString(e.Type) {
		return ErrInvalidEventType
	}
	if !IsValidTopicID(e.TopicID) {
		return ErrInvalidTopicID
	}
	if e.Actor.ID == "" {
		return ErrMissingActor
	}

	payloadBytes, err := json.Marshal(e.Payload)
	if err != nil {
		return ErrInvalidPayload
	}
	if len(payloadBytes) > MaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	return nil
}
