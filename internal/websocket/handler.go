package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"collabhub/internal/auth"
	"collabhub/pkg/interfaces"
)

// maxFrameBytes caps inbound frames; inbound traffic is small control messages
const maxFrameBytes = 64 * 1024

// ConnectionLifecycle receives transport lifecycle callbacks
// ARCHITECTURAL DISCOVERY: Declared here rather than imported so the transport
// layer never depends on the gateway that orchestrates it
type ConnectionLifecycle interface {
	// OnConnect authenticates and registers conn; on error the connection is already closed
	OnConnect(ctx context.Context, conn interfaces.Connection, credential string) error
	OnDisconnect(conn interfaces.Connection)
}

// FrameRouter handles one inbound text frame
type FrameRouter interface {
	Route(ctx context.Context, conn interfaces.Connection, data []byte)
}

// HandlerConfig carries transport tuning
type HandlerConfig struct {
	AllowedOrigins []string
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BufferSize     int
}

// Handler upgrades HTTP requests and pumps frames for each connection
type Handler struct {
	lifecycle ConnectionLifecycle
	router    FrameRouter
	config    HandlerConfig
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// NewHandler creates a websocket handler
func NewHandler(lifecycle ConnectionLifecycle, router FrameRouter, config HandlerConfig, logger *slog.Logger) *Handler {
	h := &Handler{
		lifecycle: lifecycle,
		router:    router,
		config:    config,
		logger:    logger.With("component", "websocket"),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

// checkOrigin enforces the allow-list for browser clients
// FUNCTIONAL DISCOVERY: Non-browser clients send no Origin header and are let through;
// "*" in the list disables the check
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimRight(allowed, "/"), origin) {
			return true
		}
	}
	h.logger.Warn("rejected websocket origin", "origin", origin)
	return false
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleWebSocket(w, r)
}

// HandleWebSocket upgrades the request and hands the connection to the lifecycle
// ARCHITECTURAL DISCOVERY: The credential is read before the upgrade but checked
// after it, so a rejected client receives a close frame with the reason
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	credential := auth.ExtractCredential(r)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	conn := NewConnection(ws, h.config.BufferSize, h.config.WriteTimeout)

	if err := h.lifecycle.OnConnect(r.Context(), conn, credential); err != nil {
		_ = conn.Close()
		return
	}

	go h.handleConnection(conn)
}

// handleConnection manages the connection lifecycle with heartbeat monitoring
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		// FUNCTIONAL DISCOVERY: Deferred cleanup ensures presence is released
		// even if frame handling panics or exits unexpectedly
		h.lifecycle.OnDisconnect(conn)
		_ = conn.Close()
	}()

	readTimeout := h.config.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 60 * time.Second
	}
	pingInterval := h.config.PingInterval
	if pingInterval <= 0 || pingInterval >= readTimeout {
		pingInterval = readTimeout / 2
	}

	conn.conn.SetReadLimit(maxFrameBytes)
	if err := conn.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	// TECHNICAL DISCOVERY: Separate ticker goroutine keeps heartbeat timing
	// independent of message processing
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(conn.writeTimeout)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read error", "connection", conn.ID(), "error", err)
			}
			return
		}

		if messageType == websocket.TextMessage && h.router != nil {
			h.router.Route(conn.ctx, conn, data)
		}
	}
}
