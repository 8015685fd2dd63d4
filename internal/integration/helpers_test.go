package integration

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"collabhub/internal/app"
	"collabhub/internal/config"
	"collabhub/internal/logging"
	"collabhub/pkg/types"
)

const testSecret = "integration-secret"

// harness runs a full application on a loopback port
type harness struct {
	app     *app.Application
	baseURL string
	wsURL   string
}

func startHarness(t *testing.T) *harness {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "collabhub.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = port
	cfg.Auth.JWTSecret = testSecret

	application, err := app.NewApplication(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})

	return &harness{
		app:     application,
		baseURL: "http://" + application.Addr(),
		wsURL:   "ws://" + application.Addr() + cfg.WebSocket.Path,
	}
}

// seed creates a user and grants it role on each topic
func (h *harness) seed(t *testing.T, userID, role string, topics ...string) {
	t.Helper()
	ctx := context.Background()
	store := h.app.Store()
	if err := store.UpsertUser(ctx, &types.Identity{ID: userID, Email: userID + "@example.com", DisplayName: strings.ToUpper(userID[:1]) + userID[1:]}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	for _, topic := range topics {
		if err := store.AddMember(ctx, topic, userID, role); err != nil {
			t.Fatalf("AddMember failed: %v", err)
		}
	}
}

func signToken(t *testing.T, userID string, ttl time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   userID,
		"email": userID + "@example.com",
		"exp":   time.Now().Add(ttl).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

// client is a websocket peer speaking the frame protocol
type client struct {
	t    *testing.T
	conn *websocket.Conn
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (h *harness) dial(t *testing.T, userID string) *client {
	t.Helper()
	return h.dialToken(t, signToken(t, userID, time.Hour))
}

func (h *harness) dialToken(t *testing.T, token string) *client {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL+"?token="+url.QueryEscape(token), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(event string, data interface{}) {
	c.t.Helper()
	if err := c.conn.WriteJSON(map[string]interface{}{"event": event, "data": data}); err != nil {
		c.t.Fatalf("send %s failed: %v", event, err)
	}
}

// expect reads the next frame, fails unless it is event, and decodes its data into out
func (c *client) expect(event string, out interface{}) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var frame inboundFrame
	if err := c.conn.ReadJSON(&frame); err != nil {
		c.t.Fatalf("waiting for %s: %v", event, err)
	}
	if frame.Event != event {
		c.t.Fatalf("expected %s, got %s: %s", event, frame.Event, frame.Data)
	}
	if out != nil {
		if err := json.Unmarshal(frame.Data, out); err != nil {
			c.t.Fatalf("decode %s failed: %v", event, err)
		}
	}
}

// expectSilence fails if a frame arrives within d
func (c *client) expectSilence(d time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(d))
	var frame inboundFrame
	if err := c.conn.ReadJSON(&frame); err == nil {
		c.t.Fatalf("unexpected frame %s: %s", frame.Event, frame.Data)
	}
}

// join sends a join and consumes the presence update and acknowledgement
func (c *client) join(topicID string) types.JoinedTopic {
	c.t.Helper()
	c.send(types.InboundJoinTopic, map[string]string{"topicId": topicID})
	var update types.PresenceUpdate
	c.expect(types.EventPresenceUpdate, &update)
	var ack types.JoinedTopic
	c.expect(types.EventJoinedTopic, &ack)
	return ack
}

func (h *harness) request(t *testing.T, method, path, userID, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.baseURL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+signToken(t, userID, time.Hour))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}
