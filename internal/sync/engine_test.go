package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relaychat/relay/internal/bus"
	"github.com/relaychat/relay/internal/clock"
	"github.com/relaychat/relay/internal/conn"
	"github.com/relaychat/relay/internal/dispatch"
	"github.com/relaychat/relay/internal/store"
	"go.uber.org/zap"
)

type ackCall struct {
	correlationID string
	serverID      string
	timestamp     int64
}

type fakeAcker struct {
	mu      sync.Mutex
	acks    []ackCall
	known   map[string]bool
	flushes int
}

func (f *fakeAcker) HandleAck(correlationID, serverID string, timestamp int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, ackCall{correlationID, serverID, timestamp})
	return f.known[correlationID]
}

func (f *fakeAcker) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

func (f *fakeAcker) flushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes
}

type fakeConn struct {
	pongs    int
	rejected string
}

func (f *fakeConn) PongReceived()              { f.pongs++ }
func (f *fakeConn) AuthRejected(reason string) { f.rejected = reason }

func testEngine(t *testing.T) (*Engine, *dispatch.Dispatcher, *store.Store, *fakeAcker, *fakeConn, *bus.Bus) {
	t.Helper()
	e, d, s, acker, c, b, _ := testEngineWithClock(t)
	return e, d, s, acker, c, b
}

func testEngineWithClock(t *testing.T) (*Engine, *dispatch.Dispatcher, *store.Store, *fakeAcker, *fakeConn, *bus.Bus, *clock.Fake) {
	t.Helper()
	b := bus.NewBus()
	fc := clock.NewFake(time.Unix(0, 0))
	s := store.NewStore(b, fc, zap.NewNop())
	acker := &fakeAcker{known: map[string]bool{}}
	c := &fakeConn{}
	e := NewEngine(s, acker, c, b, fc, zap.NewNop())
	d := dispatch.NewDispatcher(zap.NewNop())
	e.Register(d)
	return e, d, s, acker, c, b, fc
}

func TestMessageFrameUpsertsStore(t *testing.T) {
	_, d, s, _, _, _ := testEngine(t)

	d.Dispatch([]byte(`{"type":"message","data":{"id":"m1","chat_id":"chat-1","sender_id":"bob","content":"hi","message_type":"text","timestamp":1000}}`))

	msg, ok := s.GetMessage("m1")
	if !ok {
		t.Fatal("message not stored")
	}
	if msg.ChatID != "chat-1" || msg.Content != "hi" || msg.Status != store.StatusSent {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestMessageEchoResolvesThroughAck(t *testing.T) {
	_, d, s, acker, _, _ := testEngine(t)
	acker.known["corr-1"] = true

	d.Dispatch([]byte(`{"type":"message","data":{"id":"srv-1","chat_id":"chat-1","sender_id":"me","content":"hi","timestamp":1000,"correlation_id":"corr-1"}}`))

	if len(acker.acks) != 1 || acker.acks[0].serverID != "srv-1" {
		t.Fatalf("expected ack for srv-1, got %+v", acker.acks)
	}
	// The outbox owns reconciling the optimistic copy.
	if _, ok := s.GetMessage("srv-1"); ok {
		t.Error("echo should not be upserted directly")
	}
}

func TestMessageWithUnknownCorrelationStored(t *testing.T) {
	_, d, s, _, _, _ := testEngine(t)

	// Correlation from another device of the same user is not pending here.
	d.Dispatch([]byte(`{"type":"message","data":{"id":"srv-2","chat_id":"chat-1","sender_id":"me","content":"hi","timestamp":1000,"correlation_id":"corr-other"}}`))

	if _, ok := s.GetMessage("srv-2"); !ok {
		t.Fatal("message with unresolved correlation should be stored")
	}
}

func TestMessageMissingIDDropped(t *testing.T) {
	_, d, s, _, _, _ := testEngine(t)

	d.Dispatch([]byte(`{"type":"message","data":{"chat_id":"chat-1","content":"hi","timestamp":1000}}`))

	if len(s.Messages("chat-1")) != 0 {
		t.Error("message without id should be dropped")
	}
}

func TestMessageSentRoutesToOutbox(t *testing.T) {
	_, d, _, acker, _, _ := testEngine(t)

	d.Dispatch([]byte(`{"type":"message_sent","data":{"correlation_id":"corr-1","message_id":"srv-9","timestamp":2000}}`))

	if len(acker.acks) != 1 {
		t.Fatalf("expected 1 ack, got %d", len(acker.acks))
	}
	got := acker.acks[0]
	if got.correlationID != "corr-1" || got.serverID != "srv-9" || got.timestamp != 2000 {
		t.Errorf("unexpected ack: %+v", got)
	}
}

func TestMessageSentAcceptsIDField(t *testing.T) {
	_, d, _, acker, _, _ := testEngine(t)

	d.Dispatch([]byte(`{"type":"message_sent","data":{"correlation_id":"corr-1","id":"srv-3"}}`))

	if len(acker.acks) != 1 || acker.acks[0].serverID != "srv-3" {
		t.Errorf("acks = %+v, want server id srv-3", acker.acks)
	}
}

func TestReceiptFrameAppliesToStore(t *testing.T) {
	_, d, s, _, _, _ := testEngine(t)
	s.UpsertMessage(store.Message{ID: "m1", ChatID: "chat-1", SenderID: "me", Timestamp: 1000, Status: store.StatusSent})

	d.Dispatch([]byte(`{"type":"receipt","data":{"message_id":"m1","user_id":"bob","status":"read","timestamp":2000}}`))

	msg, _ := s.GetMessage("m1")
	if msg.Status != store.StatusRead {
		t.Errorf("status = %q, want read", msg.Status)
	}
}

func TestTypingFrameUpdatesStore(t *testing.T) {
	_, d, s, _, _, _ := testEngine(t)

	d.Dispatch([]byte(`{"type":"typing","data":{"chat_id":"chat-1","user_id":"bob","is_typing":true}}`))

	users := s.TypingUsers("chat-1")
	if len(users) != 1 || users[0] != "bob" {
		t.Errorf("typing users = %v, want [bob]", users)
	}
}

func TestPresenceFrameUpdatesStore(t *testing.T) {
	_, d, s, _, _, _ := testEngine(t)

	d.Dispatch([]byte(`{"type":"presence","data":{"user_id":"bob","presence":{"status":"away","last_activity":5000}}}`))

	p, ok := s.GetPresence("bob")
	if !ok || p.Status != "away" || p.LastActivity != 5000 {
		t.Errorf("presence = %+v", p)
	}
}

func TestAuthSuccessSetsCurrentUser(t *testing.T) {
	_, d, s, _, _, _ := testEngine(t)

	d.Dispatch([]byte(`{"type":"auth_success","data":{"user_id":"me"}}`))

	if got := s.CurrentUser(); got != "me" {
		t.Errorf("current user = %q, want me", got)
	}
}

func TestAuthErrorRejectsConnection(t *testing.T) {
	_, d, _, _, c, _ := testEngine(t)

	d.Dispatch([]byte(`{"type":"auth_error","error":"token expired"}`))

	if c.rejected != "token expired" {
		t.Errorf("rejected = %q, want token expired", c.rejected)
	}
}

func TestPongRoutesToConn(t *testing.T) {
	_, d, _, _, c, _ := testEngine(t)

	d.Dispatch([]byte(`{"type":"pong"}`))

	if c.pongs != 1 {
		t.Errorf("pongs = %d, want 1", c.pongs)
	}
}

func TestReopenFlushesOutbox(t *testing.T) {
	e, _, _, acker, _, b := testEngine(t)
	e.Start(context.Background())
	defer e.Stop()

	b.Publish(bus.New(bus.KindConnStateChanged, conn.StateChange{From: conn.StateConnecting, To: conn.StateOpen}))

	deadline := time.Now().Add(2 * time.Second)
	for acker.flushCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("outbox not flushed after reopen")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNonOpenTransitionsDoNotFlush(t *testing.T) {
	e, _, _, acker, _, b := testEngine(t)
	e.Start(context.Background())
	defer e.Stop()

	b.Publish(bus.New(bus.KindConnStateChanged, conn.StateChange{From: conn.StateOpen, To: conn.StateReconnectWait}))
	b.Publish(bus.New(bus.KindConnStateChanged, conn.StateChange{From: conn.StateReconnectWait, To: conn.StateClosed}))

	time.Sleep(50 * time.Millisecond)
	if got := acker.flushCount(); got != 0 {
		t.Errorf("flushes = %d, want 0", got)
	}
}

func TestTypingSweepRunsOnInjectedClock(t *testing.T) {
	e, _, s, _, _, b, fc := testEngineWithClock(t)
	e.Start(context.Background())

	ch, unsub := b.Subscribe(bus.KindTypingChanged, 16)
	defer unsub()

	s.SetTyping("chat-1", "bob", true)
	<-ch // the set itself

	// TTL is 3s and the sweep runs every second, all on the fake clock, so
	// the removal has happened by the time Advance returns.
	fc.Advance(4 * time.Second)

	select {
	case <-ch:
	default:
		t.Fatal("sweep never removed the expired typing entry")
	}
	if users := s.TypingUsers("chat-1"); len(users) != 0 {
		t.Errorf("typing users = %v, want none", users)
	}

	// Stop disarms the sweep chain.
	e.Stop()
	fc.Advance(10 * time.Second)
	if n := fc.Pending(); n != 0 {
		t.Errorf("armed timers after Stop = %d, want 0", n)
	}
}

func TestMalformedPayloadDropped(t *testing.T) {
	_, d, s, _, _, _ := testEngine(t)

	d.Dispatch([]byte(`{"type":"message","data":{"id":123}}`))

	if len(s.Chats()) != 0 {
		t.Error("malformed payload should not mutate store")
	}
}
