package integration

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"collabhub/internal/api"
	"collabhub/pkg/types"
)

func TestPresenceAndBoardEvents(t *testing.T) {
	h := startHarness(t)
	h.seed(t, "alice", "OWNER", "p1")
	h.seed(t, "bob", "MEMBER", "p1")

	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")

	if ack := alice.join("p1"); ack.OnlineCount != 1 || ack.Role != "OWNER" {
		t.Errorf("unexpected ack for alice: %+v", ack)
	}

	// Bob sees his own join first, then the ack; alice sees the join
	bob.send(types.InboundJoinProject, map[string]string{"projectId": "project:p1"})
	var update types.PresenceUpdate
	bob.expect(types.EventPresenceUpdate, &update)
	if update.OnlineCount != 2 || update.IdentityID != "bob" || update.Action != types.PresenceJoined {
		t.Errorf("unexpected presence update: %+v", update)
	}
	var ack types.JoinedTopic
	bob.expect(types.EventJoinedTopic, &ack)
	if ack.OnlineCount != 2 || ack.TopicID != "p1" {
		t.Errorf("unexpected ack for bob: %+v", ack)
	}
	alice.expect(types.EventPresenceUpdate, &update)
	if update.OnlineCount != 2 || update.IdentityID != "bob" {
		t.Errorf("alice should see bob join: %+v", update)
	}

	resp := h.request(t, http.MethodPost, "/api/topics/p1/events", "alice", `{"type":"task_moved","payload":{"taskId":"t1"}}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	for _, c := range []*client{alice, bob} {
		var event types.Event
		c.expect(types.EventBoardEvent, &event)
		if event.Type != "task_moved" || event.Actor.ID != "alice" || event.Payload["taskId"] != "t1" {
			t.Errorf("unexpected board event: %+v", event)
		}
	}

	// Audit trail holds the event
	resp = h.request(t, http.MethodGet, "/api/topics/p1/activity", "bob", "")
	var activity api.ActivityResponse
	if err := json.NewDecoder(resp.Body).Decode(&activity); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(activity.Activities) != 1 || activity.Activities[0].Action != "task_moved" || activity.Activities[0].ActorID != "alice" {
		t.Errorf("unexpected activity: %+v", activity.Activities)
	}

	// Bob drops; alice sees the count fall
	bob.conn.Close()
	alice.expect(types.EventPresenceUpdate, &update)
	if update.Action != types.PresenceLeft || update.OnlineCount != 1 || update.IdentityID != "bob" {
		t.Errorf("unexpected leave update: %+v", update)
	}
}

func TestMemberRemovalEvictsEveryTab(t *testing.T) {
	h := startHarness(t)
	h.seed(t, "alice", "OWNER", "p1")
	h.seed(t, "bob", "MEMBER", "p1")

	alice := h.dial(t, "alice")
	alice.join("p1")
	tab1 := h.dial(t, "bob")
	tab2 := h.dial(t, "bob")
	tab1.join("p1")
	alice.expect(types.EventPresenceUpdate, nil)

	// The second tab joins without a new presence announcement
	tab2.send(types.InboundJoinTopic, map[string]string{"topicId": "p1"})
	var ack types.JoinedTopic
	tab2.expect(types.EventJoinedTopic, &ack)
	if ack.OnlineCount != 2 {
		t.Errorf("expected count 2 for the second tab, got %d", ack.OnlineCount)
	}

	resp := h.request(t, http.MethodDelete, "/api/topics/p1/members/bob", "alice", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	for _, tab := range []*client{tab1, tab2} {
		var event types.Event
		tab.expect(types.EventMemberEvent, &event)
		if event.Type != types.MemberRemoved || event.Payload["userId"] != "bob" {
			t.Errorf("unexpected member event: %+v", event)
		}
		var removed types.RemovedFromTopic
		tab.expect(types.EventRemovedFromTopic, &removed)
		if removed.TopicID != "p1" {
			t.Errorf("unexpected removal: %+v", removed)
		}
	}

	alice.expect(types.EventMemberEvent, nil)
	var update types.PresenceUpdate
	alice.expect(types.EventPresenceUpdate, &update)
	if update.Action != types.PresenceLeft || update.OnlineCount != 1 {
		t.Errorf("count must drop exactly once: %+v", update)
	}
	alice.expectSilence(200 * time.Millisecond)

	// The oracle now denies bob
	tab1.send(types.InboundJoinTopic, map[string]string{"topicId": "p1"})
	var errPayload types.ErrorPayload
	tab1.expect(types.EventError, &errPayload)
	if errPayload.Message == "" {
		t.Error("expected an error message")
	}
}

func TestExpiredCredentialIsRejected(t *testing.T) {
	h := startHarness(t)
	h.seed(t, "alice", "MEMBER", "p1")

	c := h.dialToken(t, signToken(t, "alice", -time.Minute))
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := c.conn.ReadMessage()

	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected a close frame, got %v", err)
	}
	if closeErr.Code != websocket.ClosePolicyViolation || closeErr.Text != "credential expired" {
		t.Errorf("unexpected close: %d %q", closeErr.Code, closeErr.Text)
	}

	stats := h.app.Gateway().GetPresenceStats()
	if stats.TotalConnectedIdentities != 0 {
		t.Errorf("rejected connection must not be registered: %+v", stats)
	}
}

func TestNonMemberJoinIsDenied(t *testing.T) {
	h := startHarness(t)
	h.seed(t, "alice", "MEMBER", "p1")
	h.seed(t, "mallory", "MEMBER", "p2")

	c := h.dial(t, "mallory")
	c.send(types.InboundJoinTopic, map[string]string{"topicId": "p1"})
	var errPayload types.ErrorPayload
	c.expect(types.EventError, &errPayload)

	if got := h.app.Gateway().GetOnlineIdentities("p1"); len(got) != 0 {
		t.Errorf("non-member must not appear online: %v", got)
	}

	// The connection stays usable
	c.send(types.InboundPing, nil)
	c.expect(types.EventPong, nil)
}

func TestUnknownPrincipalIsRejected(t *testing.T) {
	h := startHarness(t)

	c := h.dial(t, "ghost")
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := c.conn.ReadMessage()

	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Text != "unknown principal" {
		t.Fatalf("expected unknown principal close, got %v", err)
	}
}
