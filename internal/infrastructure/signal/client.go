package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/ports"
	"meshpad/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// serverQuietTimeout is how long the client tolerates a silent server
// before treating the transport as dead. The server pings well inside
// this window.
const serverQuietTimeout = 90 * time.Second

var errClientClosed = errors.New("signal client closed")

type ClientConfig struct {
	ServerURL          string
	ConnectTimeout     time.Duration
	ReconnectAttempts  int
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	SendQueueSize      int
}

func DefaultClientConfig(serverURL string) ClientConfig {
	return ClientConfig{
		ServerURL:          serverURL,
		ConnectTimeout:     10 * time.Second,
		ReconnectAttempts:  5,
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  5 * time.Second,
		SendQueueSize:      64,
	}
}

// Client is the websocket rendezvous client. Transport loss is repaired
// internally with a bounded retry that is independent of any peer link
// retry; callers only observe disconnected/connected events.
type Client struct {
	cfg    ClientConfig
	logger *zap.SugaredLogger

	mu         sync.Mutex
	conn       *websocket.Conn
	sendCh     chan Envelope
	done       chan struct{}
	doneClosed bool
	connected  bool
	closing    bool
	session    domain.SignalingSession
	joinEnv    Envelope

	hmu      sync.RWMutex
	handlers handlerSet
}

type handlerSet struct {
	offer        func(json.RawMessage, domain.PeerID)
	answer       func(json.RawMessage, domain.PeerID)
	candidate    func(json.RawMessage, domain.PeerID)
	peerJoined   func(domain.PeerID, string)
	peerLeft     func(domain.PeerID)
	roomFull     func()
	hostChanged  func(domain.PeerID)
	roomState    func([]ports.PeerSummary)
	connected    func()
	disconnected func(string)
	err          func(error)
}

func NewClient(cfg ClientConfig, logger *zap.SugaredLogger) *Client {
	def := DefaultClientConfig(cfg.ServerURL)
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = def.ReconnectAttempts
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	return &Client{cfg: cfg, logger: logger}
}

var _ ports.Signaler = (*Client)(nil)

// Connect dials the server, sends the join and blocks until the server
// confirms, rejects the room as full, or the timeout elapses.
func (c *Client) Connect(ctx context.Context, sessionID domain.SessionID, isHost bool, displayName string) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return fmt.Errorf("already connected to %s", c.session.SessionID)
	}
	// A fresh Connect supersedes any earlier Disconnect.
	c.closing = false
	join := Envelope{
		Type:      EnvelopeJoin,
		SessionID: sessionID,
		IsHost:    isHost,
		Name:      displayName,
	}
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, confirm, err := c.dialAndJoin(dialCtx, join)
	if err != nil {
		if errors.Is(err, domain.ErrRoomFull) {
			c.emitRoomFull()
		}
		return err
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		conn.Close()
		return errClientClosed
	}
	c.installTransport(conn, confirm)
	c.joinEnv = join
	c.session.DisplayName = displayName
	sendCh, done := c.sendCh, c.done
	c.mu.Unlock()

	go c.writePump(conn, sendCh, done)
	go c.readPump(conn)

	c.emitConnected()
	c.logger.Infow("joined session",
		"session_id", confirm.SessionID,
		"peer_id", confirm.PeerID,
		"is_host", confirm.IsHost,
	)
	return nil
}

// installTransport swaps in a fresh connection. Caller holds the mutex.
func (c *Client) installTransport(conn *websocket.Conn, confirm Envelope) {
	c.conn = conn
	c.sendCh = make(chan Envelope, c.cfg.SendQueueSize)
	c.done = make(chan struct{})
	c.doneClosed = false
	c.connected = true
	c.session.ServerURL = c.cfg.ServerURL
	c.session.SessionID = confirm.SessionID
	c.session.PeerID = confirm.PeerID
	c.session.IsHost = confirm.IsHost
	c.session.Connected = true
}

// dialAndJoin performs the dial plus join handshake and waits for the
// server's verdict.
func (c *Client) dialAndJoin(ctx context.Context, join Envelope) (*websocket.Conn, Envelope, error) {
	target, err := wsURL(c.cfg.ServerURL)
	if err != nil {
		return nil, Envelope{}, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, Envelope{}, fmt.Errorf("dial %s: %w", target, domain.ErrConnectTimeout)
		}
		return nil, Envelope{}, fmt.Errorf("dial %s: %w", target, err)
	}

	conn.SetReadLimit(maxPayloadBytes)
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}

	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return nil, Envelope{}, fmt.Errorf("send join: %w", err)
	}

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			conn.Close()
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, Envelope{}, fmt.Errorf("awaiting join confirmation: %w", domain.ErrConnectTimeout)
			}
			return nil, Envelope{}, fmt.Errorf("awaiting join confirmation: %w", err)
		}

		switch env.Type {
		case EnvelopeJoinedRoom:
			conn.SetReadDeadline(time.Now().Add(serverQuietTimeout))
			return conn, env, nil
		case EnvelopeRoomFull:
			conn.Close()
			return nil, Envelope{}, domain.ErrRoomFull
		case EnvelopeError:
			conn.Close()
			return nil, Envelope{}, fmt.Errorf("join rejected: %s", env.Message)
		default:
			// Anything else before the verdict is noise; keep waiting.
		}
	}
}

func (c *Client) readPump(conn *websocket.Conn) {
	conn.SetPingHandler(func(message string) error {
		conn.SetReadDeadline(time.Now().Add(serverQuietTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(message), time.Now().Add(writeTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.handleTransportLoss(conn, err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(serverQuietTimeout))
		c.dispatch(env)
	}
}

func (c *Client) writePump(conn *websocket.Conn, sendCh chan Envelope, done chan struct{}) {
	defer conn.Close()

	for {
		select {
		case env := <-sendCh:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-done:
			// Flush whatever was queued before teardown, the leave
			// envelope in particular.
			for {
				select {
				case env := <-sendCh:
					conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteJSON(env); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Client) dispatch(env Envelope) {
	c.hmu.RLock()
	h := c.handlers
	c.hmu.RUnlock()

	switch env.Type {
	case EnvelopeOffer:
		if h.offer != nil {
			h.offer(env.Payload, env.From)
		}
	case EnvelopeAnswer:
		if h.answer != nil {
			h.answer(env.Payload, env.From)
		}
	case EnvelopeICECandidate:
		if h.candidate != nil {
			h.candidate(env.Payload, env.From)
		}
	case EnvelopePeerJoined:
		if h.peerJoined != nil {
			h.peerJoined(env.PeerID, env.Name)
		}
	case EnvelopePeerLeft:
		if h.peerLeft != nil {
			h.peerLeft(env.PeerID)
		}
	case EnvelopeRoomState:
		if h.roomState != nil {
			peers := make([]ports.PeerSummary, 0, len(env.Peers))
			for _, p := range env.Peers {
				peers = append(peers, ports.PeerSummary{PeerID: p.PeerID, Name: p.Name, IsHost: p.IsHost})
			}
			h.roomState(peers)
		}
	case EnvelopeHostChanged:
		if h.hostChanged != nil {
			h.hostChanged(env.HostPeerID)
		}
	case EnvelopeRoomFull:
		if h.roomFull != nil {
			h.roomFull()
		}
	case EnvelopeError:
		if h.err != nil {
			h.err(errors.New(env.Message))
		}
	case EnvelopeServerShutdown:
		c.logger.Infow("server announced shutdown")
		c.teardown("server-shutdown", true)
	case EnvelopeJoinedRoom:
		// Only meaningful during the join handshake.
	default:
		c.logger.Debugw("ignoring unknown envelope", "type", env.Type)
	}
}

// handleTransportLoss runs in the dead read pump's goroutine and owns
// the bounded reconnect sequence, so attempts are strictly sequential.
func (c *Client) handleTransportLoss(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.closing || c.conn != conn {
		// Deliberate teardown, or a stale pump losing a race with a
		// newer transport.
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.session.Connected = false
	c.closeDoneLocked()
	c.mu.Unlock()
	conn.Close()

	c.logger.Warnw("signal transport lost", "error", cause)
	c.emitDisconnected("transport error")

	err := retry.Retry(context.Background(), retry.Config{
		Enabled:      true,
		MaxAttempts:  c.cfg.ReconnectAttempts,
		InitialDelay: c.cfg.ReconnectBaseDelay,
		MaxDelay:     c.cfg.ReconnectMaxDelay,
		Multiplier:   2.0,
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, errClientClosed) && !errors.Is(err, domain.ErrRoomFull)
		},
		OnAttempt: func(attempt int, delay time.Duration) {
			c.logger.Infow("signal reconnect scheduled",
				"attempt", attempt,
				"max_attempts", c.cfg.ReconnectAttempts,
				"delay", delay,
			)
		},
	}, c.resume)

	switch {
	case err == nil:
		c.logger.Infow("signal transport resumed")
	case errors.Is(err, errClientClosed):
	default:
		c.logger.Errorw("signal reconnect exhausted", "error", err)
		c.emitError(fmt.Errorf("%w: %v", domain.ErrRetriesExhausted, err))
	}
}

// resume redials and replays the join. The server hands out a fresh
// peer id; remote peers see the old identity leave and the new one
// join, which is exactly how a cold rejoin looks.
func (c *Client) resume() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return errClientClosed
	}
	join := c.joinEnv
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	conn, confirm, err := c.dialAndJoin(dialCtx, join)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		conn.Close()
		return errClientClosed
	}
	c.installTransport(conn, confirm)
	sendCh, done := c.sendCh, c.done
	c.mu.Unlock()

	go c.writePump(conn, sendCh, done)
	go c.readPump(conn)

	c.emitConnected()
	return nil
}

// Disconnect sends a best-effort leave and tears the transport down
// without emitting a disconnected event; a deliberate goodbye is not a
// transport loss.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closing && !c.connected {
		c.mu.Unlock()
		return
	}
	c.closing = true
	wasConnected := c.connected
	c.connected = false
	c.session.Connected = false
	sendCh := c.sendCh
	if wasConnected && sendCh != nil {
		select {
		case sendCh <- Envelope{Type: EnvelopeLeave}:
		default:
		}
	}
	c.closeDoneLocked()
	c.mu.Unlock()

	c.logger.Infow("signal client disconnected")
}

func (c *Client) teardown(reason string, emit bool) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.closing = true
	c.connected = false
	c.session.Connected = false
	conn := c.conn
	c.closeDoneLocked()
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if emit {
		c.emitDisconnected(reason)
	}
}

// closeDoneLocked stops the write pump exactly once per transport.
func (c *Client) closeDoneLocked() {
	if c.done != nil && !c.doneClosed {
		close(c.done)
		c.doneClosed = true
	}
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) LocalPeerID() domain.PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.PeerID
}

func (c *Client) Session() domain.SignalingSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) SendOffer(payload json.RawMessage, target domain.PeerID) bool {
	return c.send(Envelope{Type: EnvelopeOffer, Payload: payload, Target: target})
}

func (c *Client) SendAnswer(payload json.RawMessage, target domain.PeerID) bool {
	return c.send(Envelope{Type: EnvelopeAnswer, Payload: payload, Target: target})
}

func (c *Client) SendICECandidate(payload json.RawMessage, target domain.PeerID) bool {
	return c.send(Envelope{Type: EnvelopeICECandidate, Payload: payload, Target: target})
}

func (c *Client) send(env Envelope) bool {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return false
	}
	sendCh := c.sendCh
	c.mu.Unlock()

	select {
	case sendCh <- env:
		return true
	default:
		c.logger.Warnw("send queue full, dropping envelope", "type", env.Type)
		return false
	}
}

func (c *Client) OnOffer(fn func(payload json.RawMessage, from domain.PeerID)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers.offer = fn
}

func (c *Client) OnAnswer(fn func(payload json.RawMessage, from domain.PeerID)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers.answer = fn
}

func (c *Client) OnICECandidate(fn func(payload json.RawMessage, from domain.PeerID)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers.candidate = fn
}

func (c *Client) OnPeerJoined(fn func(peerID domain.PeerID, name string)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers.peerJoined = fn
}

func (c *Client) OnPeerLeft(fn func(peerID domain.PeerID)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers.peerLeft = fn
}

func (c *Client) OnRoomFull(fn func()) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers.roomFull = fn
}

func (c *Client) OnHostChanged(fn func(hostID domain.PeerID)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers.hostChanged = fn
}

func (c *Client) OnRoomState(fn func(peers []ports.PeerSummary)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers.roomState = fn
}

func (c *Client) OnConnected(fn func()) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers.connected = fn
}

func (c *Client) OnDisconnected(fn func(reason string)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers.disconnected = fn
}

func (c *Client) OnError(fn func(err error)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers.err = fn
}

func (c *Client) emitConnected() {
	c.hmu.RLock()
	fn := c.handlers.connected
	c.hmu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) emitDisconnected(reason string) {
	c.hmu.RLock()
	fn := c.handlers.disconnected
	c.hmu.RUnlock()
	if fn != nil {
		fn(reason)
	}
}

func (c *Client) emitRoomFull() {
	c.hmu.RLock()
	fn := c.handlers.roomFull
	c.hmu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) emitError(err error) {
	c.hmu.RLock()
	fn := c.handlers.err
	c.hmu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// wsURL maps an http(s) base to its websocket endpoint, defaulting the
// path to /ws when none is given.
func wsURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}
