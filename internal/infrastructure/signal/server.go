package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/ports"
	"meshpad/internal/infrastructure/monitoring"
	"meshpad/pkg/tracing"
	"meshpad/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeTimeout    = 10 * time.Second
	pongTimeout     = 60 * time.Second
	pingInterval    = 30 * time.Second
	sendQueueSize   = 32
	maxPayloadBytes = 64 << 10
)

// EnvelopeBus carries envelopes between server instances when peers of
// one room land on different processes. Implementations filter their
// own publications so an instance never re-delivers what it sent.
type EnvelopeBus interface {
	PublishEnvelope(ctx context.Context, sessionID domain.SessionID, env Envelope) error
	SubscribeEnvelopes(ctx context.Context, fn func(sessionID domain.SessionID, env Envelope)) error
}

// Server is the websocket rendezvous point. It owns room membership
// through the RoomService and forwards handshake envelopes between
// peers; application data never passes through it.
type Server struct {
	rooms   ports.RoomService
	bus     EnvelopeBus
	metrics *monitoring.PrometheusCollector
	logger  *zap.SugaredLogger

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	peers   map[domain.PeerID]*peerConn
	members map[domain.SessionID]map[domain.PeerID]*peerConn

	msgRate  rate.Limit
	msgBurst int

	closed    chan struct{}
	closeOnce sync.Once
}

// peerConn is one connected socket. The send queue serializes every
// write through the write pump, pings included.
type peerConn struct {
	id   domain.PeerID
	conn *websocket.Conn
	send chan Envelope
	done chan struct{}
	once sync.Once

	// session and name are guarded by the server mutex.
	session domain.SessionID
	name    string
}

// NewServer builds the signaling server. bus and metrics may be nil for
// single-instance deployments without scraping.
func NewServer(
	rooms ports.RoomService,
	bus EnvelopeBus,
	metrics *monitoring.PrometheusCollector,
	logger *zap.SugaredLogger,
) *Server {
	return &Server{
		rooms:   rooms,
		bus:     bus,
		metrics: metrics,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // restricted via SetAllowedOrigins when configured
			},
		},
		peers:   make(map[domain.PeerID]*peerConn),
		members: make(map[domain.SessionID]map[domain.PeerID]*peerConn),
		closed:  make(chan struct{}),
	}
}

// SetAllowedOrigins restricts websocket upgrades to the given origins.
// An empty list or a "*" entry keeps allow-all. Call before serving.
func (s *Server) SetAllowedOrigins(origins []string) {
	if len(origins) == 0 {
		return
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return
		}
		allowed[strings.TrimSuffix(o, "/")] = struct{}{}
	}
	s.upgrader.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients send no Origin
		}
		_, ok := allowed[strings.TrimSuffix(origin, "/")]
		return ok
	}
}

// SetMessageRate throttles inbound envelopes per connection. Zero or
// negative perSecond disables the throttle. Call before serving.
func (s *Server) SetMessageRate(perSecond float64, burst int) {
	if perSecond <= 0 {
		s.msgRate = 0
		return
	}
	if burst < 1 {
		burst = 1
	}
	s.msgRate = rate.Limit(perSecond)
	s.msgBurst = burst
}

// HandleWebSocket upgrades the request and serves the connection until
// the peer disconnects or the server shuts down.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	pc := &peerConn{
		id:   domain.PeerID(utils.GeneratePeerID()),
		conn: conn,
		send: make(chan Envelope, sendQueueSize),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.peers[pc.id] = pc
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordConnect()
	}
	s.logger.Infow("peer connected", "peer_id", pc.id, "remote_addr", r.RemoteAddr)

	conn.SetReadLimit(maxPayloadBytes)
	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	go s.writePump(pc)
	s.serve(r.Context(), pc)
}

// serve runs the per-connection processing loop. A dedicated reader
// goroutine feeds envelopes in so the loop can also react to server
// shutdown.
func (s *Server) serve(ctx context.Context, pc *peerConn) {
	messageChan := make(chan Envelope, 16)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var env Envelope
			if err := pc.conn.ReadJSON(&env); err != nil {
				select {
				case errorChan <- err:
				case <-pc.done:
				}
				return
			}
			select {
			case messageChan <- env:
			case <-pc.done:
				return
			}
		}
	}()

	var limiter *rate.Limiter
	if s.msgRate > 0 {
		limiter = rate.NewLimiter(s.msgRate, s.msgBurst)
	}

	for {
		select {
		case env := <-messageChan:
			if limiter != nil && !limiter.Allow() {
				s.logger.Warnw("envelope dropped by rate limit", "peer_id", pc.id, "type", env.Type)
				continue
			}
			if err := s.handleEnvelope(ctx, pc, env); err != nil {
				s.logger.Warnw("envelope rejected",
					"peer_id", pc.id,
					"type", env.Type,
					"error", err,
				)
				s.enqueue(pc, Envelope{Type: EnvelopeError, Message: err.Error()})
			}
		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warnw("websocket read failed", "peer_id", pc.id, "error", err)
			}
			goto cleanup
		case <-s.closed:
			goto cleanup
		case <-ctx.Done():
			goto cleanup
		}
	}

cleanup:
	s.disconnect(context.Background(), pc)
}

func (s *Server) writePump(pc *peerConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer pc.conn.Close()

	for {
		select {
		case env := <-pc.send:
			pc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := pc.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			pc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := pc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			s.touchPresence(pc)
		case <-pc.done:
			return
		}
	}
}

// touchPresence refreshes the peer's liveness heartbeat on every ping
// tick, so the stale sweep never reaps a peer whose socket is still up.
func (s *Server) touchPresence(pc *peerConn) {
	s.mu.RLock()
	session := pc.session
	s.mu.RUnlock()
	if session == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.rooms.TouchPeer(ctx, session, pc.id); err != nil {
		s.logger.Debugw("presence touch failed", "peer_id", pc.id, "error", err)
	}
}

func (s *Server) handleEnvelope(ctx context.Context, pc *peerConn, env Envelope) error {
	ctx, span := tracing.TraceSignalMessage(ctx, string(env.Type), string(pc.id))
	defer span.End()

	var err error
	switch env.Type {
	case EnvelopeJoin:
		err = s.handleJoin(ctx, pc, env)
	case EnvelopeLeave:
		s.leaveRoom(ctx, pc)
	case EnvelopeOffer, EnvelopeAnswer, EnvelopeICECandidate:
		err = s.relay(ctx, pc, env)
	default:
		// Unknown types are ignored so older servers tolerate newer clients.
		s.logger.Debugw("ignoring unknown envelope", "peer_id", pc.id, "type", env.Type)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

func (s *Server) handleJoin(ctx context.Context, pc *peerConn, env Envelope) error {
	started := time.Now()

	if err := validateSessionID(env.SessionID); err != nil {
		return err
	}

	s.mu.RLock()
	alreadyJoined := pc.session != ""
	s.mu.RUnlock()
	if alreadyJoined {
		return fmt.Errorf("already joined a room")
	}

	joinCtx, joinSpan := tracing.TraceRoomOperation(ctx, "join", string(env.SessionID))
	room, err := s.rooms.JoinRoom(joinCtx, env.SessionID, domain.Participant{
		PeerID: pc.id,
		Name:   env.Name,
		IsHost: env.IsHost,
	})
	if err != nil {
		tracing.RecordError(joinCtx, err)
	}
	joinSpan.End()
	if errors.Is(err, domain.ErrRoomFull) {
		s.logger.Infow("room full", "peer_id", pc.id, "session_id", env.SessionID)
		s.enqueue(pc, Envelope{Type: EnvelopeRoomFull, SessionID: env.SessionID})
		return nil
	}
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	s.mu.Lock()
	pc.session = room.SessionID
	pc.name = env.Name
	peers, ok := s.members[room.SessionID]
	if !ok {
		peers = make(map[domain.PeerID]*peerConn)
		s.members[room.SessionID] = peers
	}
	peers[pc.id] = pc
	s.mu.Unlock()

	isHost := room.HostPeerID == pc.id

	s.enqueue(pc, Envelope{
		Type:      EnvelopeJoinedRoom,
		PeerID:    pc.id,
		SessionID: room.SessionID,
		IsHost:    isHost,
	})

	roster := make([]RosterEntry, 0, len(room.Participants))
	for _, p := range room.Participants {
		roster = append(roster, RosterEntry{PeerID: p.PeerID, Name: p.Name, IsHost: p.IsHost})
	}
	s.enqueue(pc, Envelope{Type: EnvelopeRoomState, SessionID: room.SessionID, Peers: roster})

	s.fanOut(ctx, room.SessionID, pc.id, Envelope{
		Type:   EnvelopePeerJoined,
		PeerID: pc.id,
		Name:   env.Name,
	})

	if s.metrics != nil {
		s.metrics.RecordJoin(time.Since(started))
		s.metrics.SetRoomPeerCount(room.SessionID, len(room.Participants))
		if len(room.Participants) == 1 {
			s.metrics.RecordRoomCreated(room.SessionID)
		}
	}
	s.logger.Infow("peer joined room",
		"peer_id", pc.id,
		"session_id", room.SessionID,
		"is_host", isHost,
		"peers", len(room.Participants),
	)
	return nil
}

// relay stamps the sender and forwards a handshake envelope to its
// target, or to the whole room when no target is named yet.
func (s *Server) relay(ctx context.Context, pc *peerConn, env Envelope) error {
	s.mu.RLock()
	session := pc.session
	s.mu.RUnlock()
	if session == "" {
		return fmt.Errorf("%s before join", env.Type)
	}
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s with empty payload", env.Type)
	}

	started := time.Now()
	env.From = pc.id
	env.SessionID = session

	if env.Target == "" {
		s.fanOut(ctx, session, pc.id, env)
	} else if !s.deliver(session, env.Target, env) {
		if s.bus != nil {
			if err := s.bus.PublishEnvelope(ctx, session, env); err != nil {
				return fmt.Errorf("publish %s: %w", env.Type, err)
			}
		} else {
			if s.metrics != nil {
				s.metrics.RecordEnvelopeDropped()
			}
			s.logger.Debugw("dropping envelope for unknown target",
				"peer_id", pc.id,
				"target", env.Target,
				"type", env.Type,
			)
			return nil
		}
	}

	if s.metrics != nil {
		s.metrics.RecordEnvelopeForwarded(string(env.Type), time.Since(started))
	}
	return nil
}

// deliver enqueues to a peer of the given room on this instance.
func (s *Server) deliver(sessionID domain.SessionID, target domain.PeerID, env Envelope) bool {
	s.mu.RLock()
	pc, ok := s.members[sessionID][target]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	s.enqueue(pc, env)
	return true
}

// fanOut sends to every local room member except the sender and, when a
// bus is attached, to members living on other instances.
func (s *Server) fanOut(ctx context.Context, sessionID domain.SessionID, except domain.PeerID, env Envelope) {
	s.mu.RLock()
	targets := make([]*peerConn, 0, len(s.members[sessionID]))
	for id, member := range s.members[sessionID] {
		if id != except {
			targets = append(targets, member)
		}
	}
	s.mu.RUnlock()

	for _, member := range targets {
		s.enqueue(member, env)
	}

	if s.bus != nil {
		if err := s.bus.PublishEnvelope(ctx, sessionID, env); err != nil {
			s.logger.Warnw("bus publish failed", "session_id", sessionID, "type", env.Type, "error", err)
		}
	}
}

func (s *Server) enqueue(pc *peerConn, env Envelope) {
	select {
	case pc.send <- env:
	default:
		if s.metrics != nil {
			s.metrics.RecordEnvelopeDropped()
		}
		s.logger.Warnw("send queue full, dropping envelope", "peer_id", pc.id, "type", env.Type)
	}
}

func (s *Server) leaveRoom(ctx context.Context, pc *peerConn) {
	s.mu.Lock()
	session := pc.session
	if session == "" {
		s.mu.Unlock()
		return
	}
	pc.session = ""
	if peers, ok := s.members[session]; ok {
		delete(peers, pc.id)
		if len(peers) == 0 {
			delete(s.members, session)
		}
	}
	s.mu.Unlock()

	leaveCtx, leaveSpan := tracing.TraceRoomOperation(ctx, "leave", string(session))
	newHost, err := s.rooms.LeaveRoom(leaveCtx, session, pc.id)
	if err != nil && !errors.Is(err, domain.ErrRoomNotFound) && !errors.Is(err, domain.ErrPeerNotFound) {
		tracing.RecordError(leaveCtx, err)
		s.logger.Errorw("leave room failed", "peer_id", pc.id, "session_id", session, "error", err)
	}
	leaveSpan.End()

	s.fanOut(ctx, session, pc.id, Envelope{Type: EnvelopePeerLeft, PeerID: pc.id})
	if newHost != "" {
		s.fanOut(ctx, session, pc.id, Envelope{Type: EnvelopeHostChanged, HostPeerID: newHost})
	}

	if s.metrics != nil {
		if room, err := s.rooms.GetRoom(ctx, session); err == nil {
			s.metrics.SetRoomPeerCount(session, len(room.Participants))
		} else if errors.Is(err, domain.ErrRoomNotFound) {
			s.metrics.RecordRoomClosed(session)
		}
	}
	s.logger.Infow("peer left room", "peer_id", pc.id, "session_id", session, "new_host", newHost)
}

func (s *Server) disconnect(ctx context.Context, pc *peerConn) {
	s.leaveRoom(ctx, pc)

	s.mu.Lock()
	delete(s.peers, pc.id)
	s.mu.Unlock()

	pc.once.Do(func() { close(pc.done) })
	pc.conn.Close()

	if s.metrics != nil {
		s.metrics.RecordDisconnect()
	}
	s.logger.Infow("peer disconnected", "peer_id", pc.id)
}

// ConsumeBus delivers envelopes published by other instances to the
// peers connected here. Blocks until the subscription ends.
func (s *Server) ConsumeBus(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}
	return s.bus.SubscribeEnvelopes(ctx, func(sessionID domain.SessionID, env Envelope) {
		if env.Target != "" {
			s.deliver(sessionID, env.Target, env)
			return
		}
		s.mu.RLock()
		targets := make([]*peerConn, 0, len(s.members[sessionID]))
		for id, member := range s.members[sessionID] {
			if id != env.From {
				targets = append(targets, member)
			}
		}
		s.mu.RUnlock()
		for _, member := range targets {
			s.enqueue(member, env)
		}
	})
}

// Shutdown announces the stop to every connected peer and closes their
// sockets after a short drain.
func (s *Server) Shutdown(ctx context.Context) {
	s.closeOnce.Do(func() { close(s.closed) })

	s.mu.RLock()
	peers := make([]*peerConn, 0, len(s.peers))
	for _, pc := range s.peers {
		peers = append(peers, pc)
	}
	s.mu.RUnlock()

	for _, pc := range peers {
		s.enqueue(pc, Envelope{Type: EnvelopeServerShutdown})
	}

	select {
	case <-time.After(250 * time.Millisecond):
	case <-ctx.Done():
	}

	for _, pc := range peers {
		pc.once.Do(func() { close(pc.done) })
		pc.conn.Close()
	}
	s.logger.Infow("signaling server stopped", "peers_dropped", len(peers))
}

// ConnectedPeers returns the ids of every socket currently attached,
// joined to a room or not.
func (s *Server) ConnectedPeers() []domain.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]domain.PeerID, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	return ids
}

func validateSessionID(id domain.SessionID) error {
	if id == "" {
		return fmt.Errorf("empty session id")
	}
	if len(id) > 64 {
		return fmt.Errorf("session id too long")
	}
	for _, r := range id {
		if r < 0x21 || r > 0x7e {
			return fmt.Errorf("session id contains invalid characters")
		}
	}
	return nil
}
