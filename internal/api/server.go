package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"collabhub/internal/auth"
	"collabhub/internal/hub"
	"collabhub/pkg/interfaces"
	"collabhub/pkg/types"
)

// Gateway is the part of the gateway facade the HTTP surface exposes
type Gateway interface {
	EmitBoardEvent(ctx context.Context, topicID string, event *types.Event) error
	EmitMemberAdded(ctx context.Context, topicID string, member types.MemberInfo, actor types.Actor) error
	EmitMemberRemoved(ctx context.Context, topicID string, member types.MemberInfo, actor types.Actor) error
	GetOnlineIdentities(topicID string) []string
	GetPresenceStats() types.PresenceStats
	DeliveryStats() hub.Stats
}

// Authenticator resolves bearer credentials
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*types.Identity, error)
}

// Store is the persistence the HTTP surface reads and seeds
type Store interface {
	interfaces.IdentityStore
	interfaces.MembershipOracle
	interfaces.ActivityReader
	HealthCheck(ctx context.Context) error
	UpsertUser(ctx context.Context, identity *types.Identity) error
	AddMember(ctx context.Context, topicID, identityID, role string) error
	RemoveMember(ctx context.Context, topicID, identityID string) error
}

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 200
	maxRequestBytes      = 1 << 20
)

// managerRoles may add and remove members
var managerRoles = map[string]bool{"OWNER": true, "ADMIN": true}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// No presence or fan-out logic lives here, only HTTP handling and JSON serialization
type Server struct {
	gateway        Gateway
	gate           Authenticator
	store          Store
	allowedOrigins map[string]bool
	allowAll       bool
	authzTimeout   time.Duration
	logger         *slog.Logger
	router         *http.ServeMux
	startedAt      time.Time
}

// Options tune the HTTP surface
type Options struct {
	AllowedOrigins       []string
	AuthorizationTimeout time.Duration
}

// NewServer creates the HTTP API
func NewServer(gateway Gateway, gate Authenticator, store Store, opts Options, logger *slog.Logger) *Server {
	s := &Server{
		gateway:        gateway,
		gate:           gate,
		store:          store,
		allowedOrigins: make(map[string]bool),
		authzTimeout:   opts.AuthorizationTimeout,
		logger:         logger.With("component", "api"),
		router:         http.NewServeMux(),
		startedAt:      time.Now(),
	}
	if s.authzTimeout <= 0 {
		s.authzTimeout = 5 * time.Second
	}
	for _, origin := range opts.AllowedOrigins {
		if origin == "*" {
			s.allowAll = true
		}
		s.allowedOrigins[strings.TrimSuffix(origin, "/")] = true
	}

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// CORS and JSON middleware applied to all routes for web client compatibility
func (s *Server) setupRoutes() {
	handle := func(pattern string, h http.HandlerFunc) {
		s.router.Handle(pattern, s.corsMiddleware(s.jsonMiddleware(h)))
	}

	handle("GET /health", s.healthCheck)
	handle("GET /api/presence", s.presenceStats)
	handle("GET /api/topics/{topicID}/presence", s.requireMember(s.topicPresence))
	handle("GET /api/topics/{topicID}/activity", s.requireMember(s.topicActivity))
	handle("POST /api/topics/{topicID}/events", s.requireMember(s.emitEvent))
	handle("POST /api/topics/{topicID}/members", s.requireMember(s.addMember))
	handle("DELETE /api/topics/{topicID}/members/{identityID}", s.requireMember(s.removeMember))

	// Preflight for every path
	s.router.Handle("OPTIONS /", s.corsMiddleware(http.NotFoundHandler()))
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status    string              `json:"status"`
	Timestamp time.Time           `json:"timestamp"`
	Database  string              `json:"database"`
	Presence  types.PresenceStats `json:"presence"`
	Delivery  hub.Stats           `json:"delivery"`
	Uptime    string              `json:"uptime"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type TopicPresenceResponse struct {
	TopicID     string   `json:"topicId"`
	OnlineCount int      `json:"onlineCount"`
	Identities  []string `json:"identities"`
}

type ActivityResponse struct {
	TopicID    string            `json:"topicId"`
	Activities []*types.Activity `json:"activities"`
}

type EmitEventRequest struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

type AddMemberRequest struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// callerKey carries the authenticated caller and their membership through the request context
type callerKey struct{}

type caller struct {
	identity   *types.Identity
	membership types.Membership
}

func callerFrom(ctx context.Context) caller {
	c, _ := ctx.Value(callerKey{}).(caller)
	return c
}

// requireMember authenticates the bearer credential and checks topic membership
// FUNCTIONAL DISCOVERY: Same gate and oracle as the websocket join path, so HTTP
// and socket callers are held to identical rules
func (s *Server) requireMember(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		topicID := types.NormalizeTopicID(r.PathValue("topicID"))
		if !types.IsValidTopicID(topicID) {
			s.sendError(w, "Invalid topic ID", http.StatusBadRequest)
			return
		}

		identity, err := s.gate.Authenticate(r.Context(), auth.ExtractCredential(r))
		if err != nil {
			s.logger.Warn("request rejected", "path", r.URL.Path, "error", err)
			s.sendError(w, "Invalid or expired credential", http.StatusUnauthorized)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.authzTimeout)
		membership, err := s.store.IsMember(ctx, topicID, identity.ID)
		cancel()
		if err != nil {
			s.logger.Error("membership check failed", "topic", topicID, "identity", identity.ID, "error", err)
			s.sendError(w, "Unable to verify project membership", http.StatusServiceUnavailable)
			return
		}
		if !membership.IsMember {
			s.sendError(w, "Not a member of this project", http.StatusForbidden)
			return
		}

		r.SetPathValue("topicID", topicID)
		next(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller{identity, membership})))
	}
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = "error: " + err.Error()
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Database:  dbStatus,
		Presence:  s.gateway.GetPresenceStats(),
		Delivery:  s.gateway.DeliveryStats(),
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(response)
}

// GET /api/presence
func (s *Server) presenceStats(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(s.gateway.GetPresenceStats())
}

// GET /api/topics/{topicID}/presence
func (s *Server) topicPresence(w http.ResponseWriter, r *http.Request) {
	topicID := r.PathValue("topicID")
	identities := s.gateway.GetOnlineIdentities(topicID)
	if identities == nil {
		identities = []string{}
	}
	_ = json.NewEncoder(w).Encode(TopicPresenceResponse{
		TopicID:     topicID,
		OnlineCount: len(identities),
		Identities:  identities,
	})
}

// GET /api/topics/{topicID}/activity?limit=N
func (s *Server) topicActivity(w http.ResponseWriter, r *http.Request) {
	topicID := r.PathValue("topicID")

	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.sendError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxActivityLimit)
	}

	activities, err := s.store.ListActivities(r.Context(), topicID, limit)
	if err != nil {
		s.logger.Error("activity read failed", "topic", topicID, "error", err)
		s.sendError(w, "Failed to read activity", http.StatusInternalServerError)
		return
	}
	if activities == nil {
		activities = []*types.Activity{}
	}
	_ = json.NewEncoder(w).Encode(ActivityResponse{TopicID: topicID, Activities: activities})
}

// POST /api/topics/{topicID}/events
func (s *Server) emitEvent(w http.ResponseWriter, r *http.Request) {
	var req EmitEventRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	event := &types.Event{
		Type:    req.Type,
		Actor:   callerFrom(r.Context()).identity.Actor(),
		Payload: req.Payload,
	}
	if err := s.gateway.EmitBoardEvent(r.Context(), r.PathValue("topicID"), event); err != nil {
		if !s.emitFailed(w, err) {
			return
		}
		// Delivered but not persisted
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(event)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(event)
}

// POST /api/topics/{topicID}/members
func (s *Server) addMember(w http.ResponseWriter, r *http.Request) {
	c := callerFrom(r.Context())
	if !managerRoles[c.membership.Role] {
		s.sendError(w, "Only project owners and admins can manage members", http.StatusForbidden)
		return
	}

	var req AddMemberRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if !types.IsValidIdentityID(req.UserID) {
		s.sendError(w, types.ErrInvalidIdentityID.Error(), http.StatusBadRequest)
		return
	}
	if req.Role == "" {
		req.Role = "MEMBER"
	}

	topicID := r.PathValue("topicID")
	if req.Email != "" {
		if err := s.store.UpsertUser(r.Context(), &types.Identity{ID: req.UserID, Email: req.Email, DisplayName: req.Name}); err != nil {
			s.logger.Error("user upsert failed", "identity", req.UserID, "error", err)
			s.sendError(w, "Failed to add member", http.StatusInternalServerError)
			return
		}
	}
	if err := s.store.AddMember(r.Context(), topicID, req.UserID, req.Role); err != nil {
		s.logger.Error("add member failed", "topic", topicID, "identity", req.UserID, "error", err)
		s.sendError(w, "Failed to add member", http.StatusInternalServerError)
		return
	}

	member := types.MemberInfo{IdentityID: req.UserID, Email: req.Email, Name: req.Name, Role: req.Role}
	if err := s.gateway.EmitMemberAdded(r.Context(), topicID, member, c.identity.Actor()); err != nil {
		if !s.emitFailed(w, err) {
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(member)
		return
	}

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(member)
}

// DELETE /api/topics/{topicID}/members/{identityID}
func (s *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	c := callerFrom(r.Context())
	identityID := r.PathValue("identityID")
	if !types.IsValidIdentityID(identityID) {
		s.sendError(w, types.ErrInvalidIdentityID.Error(), http.StatusBadRequest)
		return
	}
	// Members may remove themselves
	if identityID != c.identity.ID && !managerRoles[c.membership.Role] {
		s.sendError(w, "Only project owners and admins can manage members", http.StatusForbidden)
		return
	}

	topicID := r.PathValue("topicID")
	if err := s.store.RemoveMember(r.Context(), topicID, identityID); err != nil {
		s.logger.Error("remove member failed", "topic", topicID, "identity", identityID, "error", err)
		s.sendError(w, "Failed to remove member", http.StatusInternalServerError)
		return
	}

	member := types.MemberInfo{IdentityID: identityID}
	if identity, err := s.store.LookupIdentity(r.Context(), identityID); err == nil {
		member.Email = identity.Email
		member.Name = identity.DisplayName
	}

	if err := s.gateway.EmitMemberRemoved(r.Context(), topicID, member, c.identity.Actor()); err != nil {
		if !s.emitFailed(w, err) {
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(member)
		return
	}

	_ = json.NewEncoder(w).Encode(member)
}

// emitFailed reports whether err is an audit failure after delivery; any other
// error has already been written as a response
func (s *Server) emitFailed(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, hub.ErrAuditPersistence):
		s.logger.Warn("event delivered without audit record", "error", err)
		return true
	case errors.Is(err, hub.ErrHubNotRunning):
		s.sendError(w, "Broadcaster is not running", http.StatusServiceUnavailable)
	case isValidationError(err):
		s.sendError(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("emit failed", "error", err)
		s.sendError(w, "Failed to emit event", http.StatusInternalServerError)
	}
	return false
}

func isValidationError(err error) bool {
	for _, target := range []error{
		hub.ErrNilEvent,
		types.ErrMissingEventType,
		types.ErrInvalidEventType,
		types.ErrInvalidTopicID,
		types.ErrInvalidIdentityID,
		types.ErrMissingActor,
		types.ErrInvalidPayload,
		types.ErrPayloadTooLarge,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware echoes allowed origins back to the browser
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && (s.allowAll || s.allowedOrigins[strings.TrimSuffix(origin, "/")]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		// FUNCTIONAL DISCOVERY: Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
