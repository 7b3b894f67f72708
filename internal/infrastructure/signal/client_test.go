package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
)

// scriptedServer speaks just enough of the wire protocol to exercise
// the client: it confirms joins, records everything else, and lets the
// test push envelopes or kill connections at will.
type scriptedServer struct {
	t        *testing.T
	ts       *httptest.Server
	upgrader websocket.Upgrader

	rejectFull bool
	silent     bool

	joined int32

	mu    sync.Mutex
	conns []*websocket.Conn

	joins    chan Envelope
	received chan Envelope
}

func newScriptedServer(t *testing.T) *scriptedServer {
	t.Helper()
	s := &scriptedServer{
		t:        t,
		joins:    make(chan Envelope, 8),
		received: make(chan Envelope, 64),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if env.Type != EnvelopeJoin {
				s.received <- env
				continue
			}
			s.joins <- env
			switch {
			case s.silent:
			case s.rejectFull:
				conn.WriteJSON(Envelope{Type: EnvelopeRoomFull, SessionID: env.SessionID})
			default:
				n := atomic.AddInt32(&s.joined, 1)
				conn.WriteJSON(Envelope{
					Type:      EnvelopeJoinedRoom,
					PeerID:    domain.PeerID(fmt.Sprintf("srv-peer-%d", n)),
					SessionID: env.SessionID,
					IsHost:    n == 1,
				})
			}
		}
	})

	s.ts = httptest.NewServer(mux)
	t.Cleanup(s.ts.Close)
	return s
}

// push writes an envelope to the most recent connection. The handler
// goroutine only reads, so this is the connection's single writer.
func (s *scriptedServer) push(env Envelope) {
	s.mu.Lock()
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	if err := conn.WriteJSON(env); err != nil {
		s.t.Errorf("push %s: %v", env.Type, err)
	}
}

func (s *scriptedServer) dropLatest() {
	s.mu.Lock()
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	conn.Close()
}

func (s *scriptedServer) expectJoin(timeout time.Duration) (Envelope, bool) {
	select {
	case env := <-s.joins:
		return env, true
	case <-time.After(timeout):
		return Envelope{}, false
	}
}

func (s *scriptedServer) expectReceived(timeout time.Duration) (Envelope, bool) {
	select {
	case env := <-s.received:
		return env, true
	case <-time.After(timeout):
		return Envelope{}, false
	}
}

func newTestClient(t *testing.T, s *scriptedServer) *Client {
	t.Helper()
	c := NewClient(ClientConfig{
		ServerURL:          s.ts.URL,
		ConnectTimeout:     2 * time.Second,
		ReconnectAttempts:  3,
		ReconnectBaseDelay: 20 * time.Millisecond,
		ReconnectMaxDelay:  50 * time.Millisecond,
		SendQueueSize:      16,
	}, zaptest.NewLogger(t).Sugar())
	t.Cleanup(c.Disconnect)
	return c
}

func waitForSignal(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestClientConnectResolvesOnConfirmation(t *testing.T) {
	s := newScriptedServer(t)
	c := newTestClient(t, s)

	if err := c.Connect(context.Background(), "abc123", true, "Alice"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if !c.Connected() {
		t.Error("Connected() = false after confirmation")
	}
	if c.LocalPeerID() != "srv-peer-1" {
		t.Errorf("LocalPeerID() = %q, want %q", c.LocalPeerID(), "srv-peer-1")
	}
	session := c.Session()
	if session.SessionID != "abc123" || !session.IsHost || session.DisplayName != "Alice" {
		t.Errorf("Session() = %+v, want abc123/host/Alice", session)
	}

	join, ok := s.expectJoin(time.Second)
	if !ok {
		t.Fatal("server never saw the join")
	}
	if join.SessionID != "abc123" || join.Name != "Alice" || !join.IsHost {
		t.Errorf("join envelope = %+v", join)
	}
}

func TestClientConnectRejectsWhenRoomFull(t *testing.T) {
	s := newScriptedServer(t)
	s.rejectFull = true
	c := newTestClient(t, s)

	var fullCalls int32
	c.OnRoomFull(func() { atomic.AddInt32(&fullCalls, 1) })

	err := c.Connect(context.Background(), "abc123", false, "Bob")
	if !errors.Is(err, domain.ErrRoomFull) {
		t.Fatalf("Connect() error = %v, want ErrRoomFull", err)
	}
	if c.Connected() {
		t.Error("Connected() = true after rejection")
	}
	if atomic.LoadInt32(&fullCalls) != 1 {
		t.Errorf("room-full handler calls = %d, want 1", fullCalls)
	}
}

func TestClientConnectTimesOut(t *testing.T) {
	s := newScriptedServer(t)
	s.silent = true

	c := NewClient(ClientConfig{
		ServerURL:      s.ts.URL,
		ConnectTimeout: 150 * time.Millisecond,
	}, zaptest.NewLogger(t).Sugar())
	t.Cleanup(c.Disconnect)

	err := c.Connect(context.Background(), "abc123", false, "Bob")
	if !errors.Is(err, domain.ErrConnectTimeout) {
		t.Fatalf("Connect() error = %v, want ErrConnectTimeout", err)
	}
}

func TestClientSendRequiresConnection(t *testing.T) {
	s := newScriptedServer(t)
	c := newTestClient(t, s)

	if c.SendOffer(json.RawMessage(`{}`), "peer-9") {
		t.Error("SendOffer() = true before Connect")
	}
}

func TestClientSendsTargetedEnvelopes(t *testing.T) {
	s := newScriptedServer(t)
	c := newTestClient(t, s)

	if err := c.Connect(context.Background(), "abc123", false, "Alice"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	payload := json.RawMessage(`{"type":"answer","sdp":"v=0"}`)
	if !c.SendAnswer(payload, "peer-9") {
		t.Fatal("SendAnswer() = false while connected")
	}

	env, ok := s.expectReceived(time.Second)
	if !ok {
		t.Fatal("server never received the answer")
	}
	if env.Type != EnvelopeAnswer || env.Target != "peer-9" {
		t.Errorf("received %s for %q, want answer for peer-9", env.Type, env.Target)
	}
	if string(env.Payload) != string(payload) {
		t.Errorf("Payload = %s, want %s", env.Payload, payload)
	}
}

func TestClientDispatchesRoomEvents(t *testing.T) {
	s := newScriptedServer(t)
	c := newTestClient(t, s)

	var mu sync.Mutex
	var joined []string
	var left []domain.PeerID
	var host domain.PeerID
	var roster []ports.PeerSummary
	var offerFrom domain.PeerID
	var offerPayload string

	c.OnPeerJoined(func(peerID domain.PeerID, name string) {
		mu.Lock()
		joined = append(joined, string(peerID)+"/"+name)
		mu.Unlock()
	})
	c.OnPeerLeft(func(peerID domain.PeerID) {
		mu.Lock()
		left = append(left, peerID)
		mu.Unlock()
	})
	c.OnHostChanged(func(hostID domain.PeerID) {
		mu.Lock()
		host = hostID
		mu.Unlock()
	})
	c.OnRoomState(func(peers []ports.PeerSummary) {
		mu.Lock()
		roster = peers
		mu.Unlock()
	})
	c.OnOffer(func(payload json.RawMessage, from domain.PeerID) {
		mu.Lock()
		offerFrom = from
		offerPayload = string(payload)
		mu.Unlock()
	})

	if err := c.Connect(context.Background(), "abc123", false, "Alice"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	s.push(Envelope{Type: EnvelopeRoomState, Peers: []RosterEntry{
		{PeerID: "peer-1", Name: "Alice", IsHost: true},
		{PeerID: "peer-2", Name: "Bob"},
	}})
	s.push(Envelope{Type: EnvelopePeerJoined, PeerID: "peer-3", Name: "Carol"})
	s.push(Envelope{Type: EnvelopeOffer, Payload: json.RawMessage(`{"sdp":"v=0"}`), From: "peer-3"})
	s.push(Envelope{Type: EnvelopePeerLeft, PeerID: "peer-2"})
	s.push(Envelope{Type: EnvelopeHostChanged, HostPeerID: "peer-3"})

	waitForSignal(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(joined) == 1 && len(left) == 1 && host == "peer-3" && len(roster) == 2 && offerFrom == "peer-3"
	})

	mu.Lock()
	defer mu.Unlock()
	if joined[0] != "peer-3/Carol" {
		t.Errorf("peer-joined = %q, want %q", joined[0], "peer-3/Carol")
	}
	if left[0] != "peer-2" {
		t.Errorf("peer-left = %q, want %q", left[0], "peer-2")
	}
	if offerPayload != `{"sdp":"v=0"}` {
		t.Errorf("offer payload = %s", offerPayload)
	}
	if !roster[0].IsHost {
		t.Error("roster should preserve the host flag")
	}
}

func TestClientReconnectsAfterTransportLoss(t *testing.T) {
	s := newScriptedServer(t)
	c := newTestClient(t, s)

	var mu sync.Mutex
	var events []string
	c.OnConnected(func() {
		mu.Lock()
		events = append(events, "connected")
		mu.Unlock()
	})
	c.OnDisconnected(func(reason string) {
		mu.Lock()
		events = append(events, "disconnected:"+reason)
		mu.Unlock()
	})

	if err := c.Connect(context.Background(), "abc123", false, "Alice"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if _, ok := s.expectJoin(time.Second); !ok {
		t.Fatal("first join not seen")
	}

	s.dropLatest()

	// The client must rejoin on its own with the same room and name.
	rejoin, ok := s.expectJoin(2 * time.Second)
	if !ok {
		t.Fatal("client never rejoined after transport loss")
	}
	if rejoin.SessionID != "abc123" || rejoin.Name != "Alice" {
		t.Errorf("rejoin envelope = %+v", rejoin)
	}

	waitForSignal(t, 2*time.Second, c.Connected)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"connected", "disconnected:transport error", "connected"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, events[i], want[i])
		}
	}
}

func TestClientDisconnectSendsLeaveAndStaysDown(t *testing.T) {
	s := newScriptedServer(t)
	c := newTestClient(t, s)

	if err := c.Connect(context.Background(), "abc123", false, "Alice"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if _, ok := s.expectJoin(time.Second); !ok {
		t.Fatal("join not seen")
	}

	c.Disconnect()

	env, ok := s.expectReceived(time.Second)
	if !ok || env.Type != EnvelopeLeave {
		t.Errorf("server received %v, want a leave envelope", env.Type)
	}

	// A deliberate goodbye must not trigger the reconnect policy.
	if _, ok := s.expectJoin(200 * time.Millisecond); ok {
		t.Error("client rejoined after a deliberate Disconnect")
	}
	if c.Connected() {
		t.Error("Connected() = true after Disconnect")
	}
}

func TestClientReconnectExhaustionSurfacesError(t *testing.T) {
	s := newScriptedServer(t)

	c := NewClient(ClientConfig{
		ServerURL:          s.ts.URL,
		ConnectTimeout:     200 * time.Millisecond,
		ReconnectAttempts:  2,
		ReconnectBaseDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:  20 * time.Millisecond,
	}, zaptest.NewLogger(t).Sugar())
	t.Cleanup(c.Disconnect)

	errCh := make(chan error, 1)
	c.OnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	if err := c.Connect(context.Background(), "abc123", false, "Alice"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Take the whole server down so every redial fails. Close only
	// stops the listener; the hijacked websocket stays up, so the live
	// transport has to be severed separately.
	s.ts.Close()
	s.dropLatest()

	select {
	case err := <-errCh:
		if !errors.Is(err, domain.ErrRetriesExhausted) {
			t.Errorf("error = %v, want ErrRetriesExhausted", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("exhaustion was never surfaced")
	}
	if c.Connected() {
		t.Error("Connected() = true after exhaustion")
	}
}

func TestClientServerShutdownDoesNotReconnect(t *testing.T) {
	s := newScriptedServer(t)
	c := newTestClient(t, s)

	reasonCh := make(chan string, 1)
	c.OnDisconnected(func(reason string) {
		select {
		case reasonCh <- reason:
		default:
		}
	})

	if err := c.Connect(context.Background(), "abc123", false, "Alice"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if _, ok := s.expectJoin(time.Second); !ok {
		t.Fatal("join not seen")
	}

	s.push(Envelope{Type: EnvelopeServerShutdown})

	select {
	case reason := <-reasonCh:
		if reason != "server-shutdown" {
			t.Errorf("reason = %q, want %q", reason, "server-shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("disconnected event never fired")
	}

	if _, ok := s.expectJoin(200 * time.Millisecond); ok {
		t.Error("client rejoined after server shutdown")
	}
}
