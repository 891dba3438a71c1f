package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/relaychat/relay/internal/auth"
	"github.com/relaychat/relay/internal/bus"
	"github.com/relaychat/relay/internal/clock"
	"github.com/relaychat/relay/internal/conn"
	"github.com/relaychat/relay/internal/dispatch"
	"github.com/relaychat/relay/internal/outbox"
	"github.com/relaychat/relay/internal/store"
	intsync "github.com/relaychat/relay/internal/sync"
	"go.uber.org/zap"
)

// chatServer is a minimal websocket peer. It authenticates any token,
// records inbound frames and lets tests push outbound ones.
type chatServer struct {
	*httptest.Server

	mu       sync.Mutex
	sessions []*websocket.Conn
	inbound  []map[string]any
}

func newChatServer(t *testing.T) *chatServer {
	t.Helper()
	srv := &chatServer{}
	upgrader := websocket.Upgrader{}

	srv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		srv.mu.Lock()
		srv.sessions = append(srv.sessions, ws)
		srv.mu.Unlock()

		_ = ws.WriteJSON(map[string]any{
			"type": "auth_success",
			"data": map[string]any{"user_id": "me"},
		})
		for {
			var frame map[string]any
			if err := ws.ReadJSON(&frame); err != nil {
				return
			}
			srv.mu.Lock()
			srv.inbound = append(srv.inbound, frame)
			srv.mu.Unlock()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (s *chatServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *chatServer) push(t *testing.T, frame map[string]any) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) == 0 {
		t.Fatal("no connected session")
	}
	if err := s.sessions[len(s.sessions)-1].WriteJSON(frame); err != nil {
		t.Fatal(err)
	}
}

func (s *chatServer) received(frameType string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.inbound {
		if f["type"] == frameType {
			return f, true
		}
	}
	return nil, false
}

func testClient(t *testing.T, srv *chatServer) *Client {
	t.Helper()
	b := bus.NewBus()
	clk := clock.NewSystem()
	logger := zap.NewNop()
	s := store.NewStore(b, clk, logger)
	m := conn.NewManager(conn.Config{
		URL:               srv.wsURL(),
		HeartbeatInterval: time.Minute,
		PongWait:          30 * time.Second,
	}, conn.NewWebSocketDialer(), &auth.Static{Token: "tok"}, b, clk, logger)
	q := outbox.NewQueue(s, m, b, clk, logger)
	d := dispatch.NewDispatcher(logger)
	e := intsync.NewEngine(s, q, m, b, clk, logger)
	e.Register(d)
	m.OnFrame(d.Dispatch)
	e.Start(context.Background())
	t.Cleanup(e.Stop)

	c := NewClient(m, s, q, b, logger)
	t.Cleanup(c.Disconnect)
	return c
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", desc)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectAuthenticates(t *testing.T) {
	srv := newChatServer(t)
	c := testClient(t, srv)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "open state", func() bool { return c.ConnState() == conn.StateOpen })
	waitFor(t, "current user", func() bool { return c.Store().CurrentUser() == "me" })
}

func TestInboundMessageReachesStore(t *testing.T) {
	srv := newChatServer(t)
	c := testClient(t, srv)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "open state", func() bool { return c.ConnState() == conn.StateOpen })

	srv.push(t, map[string]any{
		"type": "message",
		"data": map[string]any{
			"id": "m1", "chat_id": "chat-1", "sender_id": "bob",
			"content": "hello", "message_type": "text", "timestamp": 1000,
		},
	})

	waitFor(t, "message in store", func() bool {
		_, ok := c.Store().GetMessage("m1")
		return ok
	})
	msg, _ := c.Store().GetMessage("m1")
	if msg.Content != "hello" || msg.ChatID != "chat-1" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestSendMessageAckRewritesID(t *testing.T) {
	srv := newChatServer(t)
	c := testClient(t, srv)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "open state", func() bool { return c.ConnState() == conn.StateOpen })

	localID, err := c.SendMessage("chat-1", "hi there")
	if err != nil {
		t.Fatal(err)
	}
	msg, ok := c.Store().GetMessage(localID)
	if !ok || msg.Status != store.StatusPending {
		t.Fatalf("optimistic message = %+v, ok = %v", msg, ok)
	}

	var sent map[string]any
	waitFor(t, "send_message frame", func() bool {
		var ok bool
		sent, ok = srv.received("send_message")
		return ok
	})
	data := sent["data"].(map[string]any)
	corr := data["correlation_id"].(string)
	if data["content"] != "hi there" {
		t.Errorf("content = %v", data["content"])
	}

	srv.push(t, map[string]any{
		"type": "message_sent",
		"data": map[string]any{
			"correlation_id": corr, "message_id": "srv-9", "timestamp": 2000,
		},
	})

	waitFor(t, "ack applied", func() bool {
		m, ok := c.Store().GetMessage("srv-9")
		return ok && m.Status == store.StatusSent
	})
	if _, ok := c.Store().GetMessage(localID); ok {
		t.Error("local id should be gone after ack")
	}
	if got := len(c.Store().Messages("chat-1")); got != 1 {
		t.Errorf("message count = %d, want 1", got)
	}
}

func TestJoinTypingAndMarkReadFrames(t *testing.T) {
	srv := newChatServer(t)
	c := testClient(t, srv)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "open state", func() bool { return c.ConnState() == conn.StateOpen })

	if err := c.JoinChat("chat-1"); err != nil {
		t.Fatal(err)
	}
	if err := c.SetTyping("chat-1", true); err != nil {
		t.Fatal(err)
	}
	c.Store().UpsertMessage(store.Message{ID: "m1", ChatID: "chat-1", SenderID: "bob", Timestamp: 1000, Status: store.StatusSent})
	if err := c.MarkRead("chat-1", "m1"); err != nil {
		t.Fatal(err)
	}

	for _, ft := range []string{"join_chat", "typing", "mark_read"} {
		waitFor(t, ft+" frame", func() bool {
			_, ok := srv.received(ft)
			return ok
		})
	}
	chat, _ := c.Store().GetChat("chat-1")
	if chat.LastReadAt != 1000 {
		t.Errorf("last_read_at = %d, want 1000", chat.LastReadAt)
	}
}

func TestSendWhileDisconnectedIsRetryable(t *testing.T) {
	srv := newChatServer(t)
	c := testClient(t, srv)

	localID, err := c.SendMessage("chat-1", "offline")
	if err == nil {
		t.Fatal("expected send error while disconnected")
	}
	msg, ok := c.Store().GetMessage(localID)
	if !ok || msg.Status != store.StatusFailed {
		t.Fatalf("message = %+v, ok = %v", msg, ok)
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "open state", func() bool { return c.ConnState() == conn.StateOpen })
	if err := c.RetryMessage(localID); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "send_message frame", func() bool {
		f, ok := srv.received("send_message")
		if !ok {
			return false
		}
		var p struct {
			Content string `json:"content"`
		}
		raw, _ := json.Marshal(f["data"])
		_ = json.Unmarshal(raw, &p)
		return p.Content == "offline"
	})
}
