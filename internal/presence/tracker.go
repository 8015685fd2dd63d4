// Package presence tracks which identities are joined to which topics.
package presence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"collabhub/pkg/types"
)

// AuthorizationCheck asks the membership system whether the joining identity belongs to the topic
type AuthorizationCheck func(ctx context.Context) (types.Membership, error)

// JoinResult describes the outcome of a successful join
type JoinResult struct {
	Count int
	// Added is false when the identity was already joined
	Added bool
	Role  string
}

// TopicCount is a topic and its online count after a removal
type TopicCount struct {
	TopicID string
	Count   int
}

// Tracker holds topic presence keyed by identity, never by connection
// ARCHITECTURAL DISCOVERY: One mutex guards both indexes, so concurrent join and
// leave on a topic serialize and counts are never observed half-updated
type Tracker struct {
	mu         sync.RWMutex
	topics     map[string]map[string]struct{} // topicID -> identityIDs
	byIdentity map[string]map[string]struct{} // identityID -> topicIDs
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{
		topics:     make(map[string]map[string]struct{}),
		byIdentity: make(map[string]map[string]struct{}),
	}
}

// Join runs check and, when it allows, adds identityID to topicID
// FUNCTIONAL DISCOVERY: The check runs outside the lock; it may block on an external system
func (t *Tracker) Join(ctx context.Context, topicID, identityID string, check AuthorizationCheck) (JoinResult, error) {
	if topicID == "" {
		return JoinResult{}, types.ErrInvalidTopicID
	}
	if identityID == "" {
		return JoinResult{}, types.ErrInvalidIdentityID
	}
	if check == nil {
		return JoinResult{}, ErrNotAuthorized
	}

	membership, err := check(ctx)
	if err != nil {
		return JoinResult{}, fmt.Errorf("%w: %v", ErrAuthorizationUnavailable, err)
	}
	if !membership.IsMember {
		return JoinResult{}, ErrNotAuthorized
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Topics are created lazily on first join
	members, exists := t.topics[topicID]
	if !exists {
		members = make(map[string]struct{})
		t.topics[topicID] = members
	}
	_, already := members[identityID]
	members[identityID] = struct{}{}

	joined, exists := t.byIdentity[identityID]
	if !exists {
		joined = make(map[string]struct{})
		t.byIdentity[identityID] = joined
	}
	joined[topicID] = struct{}{}

	return JoinResult{Count: len(members), Added: !already, Role: membership.Role}, nil
}

// Leave removes identityID from topicID; leaving when not joined is a no-op
func (t *Tracker) Leave(topicID, identityID string) (count int, removed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed = t.removeLocked(topicID, identityID)
	return len(t.topics[topicID]), removed
}

// LeaveAll removes identityID from every topic it joined
// Returns one entry per affected topic, sorted by topic ID
func (t *Tracker) LeaveAll(identityID string) []TopicCount {
	t.mu.Lock()
	defer t.mu.Unlock()

	joined := t.byIdentity[identityID]
	topicIDs := make([]string, 0, len(joined))
	for topicID := range joined {
		topicIDs = append(topicIDs, topicID)
	}
	sort.Strings(topicIDs)

	results := make([]TopicCount, 0, len(topicIDs))
	for _, topicID := range topicIDs {
		t.removeLocked(topicID, identityID)
		results = append(results, TopicCount{TopicID: topicID, Count: len(t.topics[topicID])})
	}
	return results
}

// removeLocked deletes the pair and any index left empty; caller holds mu
func (t *Tracker) removeLocked(topicID, identityID string) bool {
	members, exists := t.topics[topicID]
	if !exists {
		return false
	}
	if _, joined := members[identityID]; !joined {
		return false
	}

	delete(members, identityID)
	// TECHNICAL DISCOVERY: Abandoned topics are deleted so memory does not grow with topic churn
	if len(members) == 0 {
		delete(t.topics, topicID)
	}

	if joined := t.byIdentity[identityID]; joined != nil {
		delete(joined, topicID)
		if len(joined) == 0 {
			delete(t.byIdentity, identityID)
		}
	}
	return true
}

// OnlineCount returns the number of distinct identities joined to topicID
func (t *Tracker) OnlineCount(topicID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.topics[topicID])
}

// OnlineIdentities returns the identities joined to topicID, sorted
func (t *Tracker) OnlineIdentities(topicID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	members := t.topics[topicID]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TopicCount returns how many topics have at least one joined identity
func (t *Tracker) TopicCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.topics)
}
