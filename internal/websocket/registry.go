package websocket

import (
	"sort"
	"sync"

	"collabhub/pkg/interfaces"
)

// entry is one registered connection and the topics it has joined
type entry struct {
	conn       interfaces.Connection
	identityID string
	topics     map[string]struct{}
}

// Registry tracks live connections per authenticated identity
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic;
// the registry never touches topic presence, it only remembers which topics each
// of its connections joined so cleanup can be scoped to one connection
type Registry struct {
	mu          sync.RWMutex                 // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy lookup patterns
	connections map[string]*entry            // connectionID -> entry
	byIdentity  map[string]map[string]*entry // identityID -> connectionID -> entry
}

// Stats is a point-in-time view of the registry
type Stats struct {
	Connections int `json:"connections"`
	Identities  int `json:"identities"`
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*entry),
		byIdentity:  make(map[string]map[string]*entry),
	}
}

// Register records conn under its identity; identities may hold any number of connections
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() || conn.Identity() == nil {
		return ErrConnectionNotAuthenticated
	}

	identityID := conn.Identity().ID

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return ErrAlreadyRegistered
	}

	e := &entry{conn: conn, identityID: identityID, topics: make(map[string]struct{})}
	r.connections[conn.ID()] = e
	if r.byIdentity[identityID] == nil {
		r.byIdentity[identityID] = make(map[string]*entry)
	}
	r.byIdentity[identityID][conn.ID()] = e

	return nil
}

// Unregister removes conn and reports whether its identity has no connections left
// FUNCTIONAL DISCOVERY: Idempotent; a second call returns false so offline cleanup runs once
func (r *Registry) Unregister(conn interfaces.Connection) (fullyOffline bool) {
	if conn == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.connections[conn.ID()]
	if !exists {
		return false
	}
	delete(r.connections, conn.ID())

	// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
	conns := r.byIdentity[e.identityID]
	delete(conns, conn.ID())
	if len(conns) == 0 {
		delete(r.byIdentity, e.identityID)
		return true
	}
	return false
}

// IsRegistered reports whether a connection is still live in the registry
func (r *Registry) IsRegistered(connectionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.connections[connectionID]
	return exists
}

// ConnectionsFor returns every live connection of an identity
func (r *Registry) ConnectionsFor(identityID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]interfaces.Connection, 0, len(r.byIdentity[identityID]))
	for _, e := range r.byIdentity[identityID] {
		conns = append(conns, e.conn)
	}
	return conns
}

// JoinTopic marks topicID as joined by the connection; false when it is not registered
func (r *Registry) JoinTopic(connectionID, topicID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.connections[connectionID]
	if !exists {
		return false
	}
	e.topics[topicID] = struct{}{}
	return true
}

// LeaveTopic clears topicID from the connection and reports whether it had been joined
func (r *Registry) LeaveTopic(connectionID, topicID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.connections[connectionID]
	if !exists {
		return false
	}
	if _, joined := e.topics[topicID]; !joined {
		return false
	}
	delete(e.topics, topicID)
	return true
}

// JoinedTopics returns the topics a connection has joined, sorted
func (r *Registry) JoinedTopics(connectionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.connections[connectionID]
	if !exists {
		return nil
	}
	topics := make([]string, 0, len(e.topics))
	for topicID := range e.topics {
		topics = append(topics, topicID)
	}
	sort.Strings(topics)
	return topics
}

// IdentityJoined reports whether any live connection of the identity has joined topicID
func (r *Registry) IdentityJoined(identityID, topicID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.byIdentity[identityID] {
		if _, joined := e.topics[topicID]; joined {
			return true
		}
	}
	return false
}

// TopicConnections returns the connections of the given identities that joined topicID
// FUNCTIONAL DISCOVERY: A second tab of a joined identity that never joined the
// topic itself is not a recipient
func (r *Registry) TopicConnections(topicID string, identityIDs []string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []interfaces.Connection
	for _, identityID := range identityIDs {
		for _, e := range r.byIdentity[identityID] {
			if _, joined := e.topics[topicID]; joined {
				conns = append(conns, e.conn)
			}
		}
	}
	return conns
}

// Stats returns registry statistics for monitoring
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Connections: len(r.connections),
		Identities:  len(r.byIdentity),
	}
}

// CloseAll closes every registered connection; entries are removed by their disconnect path
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	conns := make([]interfaces.Connection, 0, len(r.connections))
	for _, e := range r.connections {
		conns = append(conns, e.conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	return len(conns)
}
