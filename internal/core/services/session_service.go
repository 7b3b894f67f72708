package services

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/ports"
	"meshpad/pkg/utils"
)

// SessionEventKind labels a session-level occurrence surfaced to the
// embedding layer.
type SessionEventKind string

const (
	SessionEventJoined      SessionEventKind = "joined"
	SessionEventPeerJoined  SessionEventKind = "peer-joined"
	SessionEventPeerLeft    SessionEventKind = "peer-left"
	SessionEventHostChanged SessionEventKind = "host-changed"
	SessionEventRoomFull    SessionEventKind = "room-full"
	SessionEventSignalLost  SessionEventKind = "signal-lost"
	SessionEventSignalBack  SessionEventKind = "signal-restored"
	SessionEventError       SessionEventKind = "error"
)

type SessionEvent struct {
	Kind   SessionEventKind
	PeerID domain.PeerID
	Name   string
	Reason string
}

type SessionConfig struct {
	// SessionID joins an existing session; leave empty to host a new
	// one.
	SessionID   domain.SessionID
	DisplayName string
	Link        LinkTrackerConfig
	ExecTimeout time.Duration
}

// SessionOrchestrator wires the signaler, the peer connector, and the
// sync handlers into one live session. It decides host versus guest,
// drives connection setup per discovered peer, owns the per-peer link
// trackers, and fans outbound sync traffic across the open channels.
//
// It implements ports.MessageSender for the handlers, ports.LinkEvents
// for the connector, and ports.Diagnostics for display layers.
type SessionOrchestrator struct {
	cfg SessionConfig

	signaler  ports.Signaler
	connector ports.PeerConnector
	executor  ports.Executor

	quality *QualityService
	metrics *MetricsService
	code    *CodeSync
	canvas  *CanvasSync
	chat    *ChatSync
	router  *Router
	logger  *zap.SugaredLogger

	mu            sync.Mutex
	sessionID     domain.SessionID
	isHost        bool
	hostID        domain.PeerID
	trackers      map[domain.PeerID]*LinkTracker
	channels      map[domain.PeerID]ports.PeerChannel
	names         map[domain.PeerID]string
	initiated     map[domain.PeerID]bool
	everConnected bool
	hasRelay      bool
	closed        bool

	linkSubs  subscription[domain.PeerLinkInfo]
	eventSubs subscription[SessionEvent]
}

func NewSessionOrchestrator(
	cfg SessionConfig,
	signaler ports.Signaler,
	connector ports.PeerConnector,
	executor ports.Executor,
	logger *zap.SugaredLogger,
) *SessionOrchestrator {
	o := &SessionOrchestrator{
		cfg:       cfg,
		signaler:  signaler,
		connector: connector,
		executor:  executor,
		quality:   NewQualityService(),
		logger:    logger,
		trackers:  make(map[domain.PeerID]*LinkTracker),
		channels:  make(map[domain.PeerID]ports.PeerChannel),
		names:     make(map[domain.PeerID]string),
		initiated: make(map[domain.PeerID]bool),
	}
	o.metrics = NewMetricsService(o.quality)
	o.code = NewCodeSync(o, logger)
	o.canvas = NewCanvasSync(o, logger)
	o.chat = NewChatSync(o, logger)
	o.router = NewRouter(o.code, o.canvas, o.chat, logger)
	o.bindSignaler()
	return o
}

// Join connects to the signaling room and blocks until the join is
// confirmed, rejected, or timed out. Hosting is decided here: no
// externally supplied session id means we create the session.
func (o *SessionOrchestrator) Join(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return domain.ErrSessionClosed
	}
	sessionID := o.cfg.SessionID
	isHost := sessionID == ""
	if isHost {
		sessionID = domain.SessionID(utils.GenerateSessionID())
	}
	o.sessionID = sessionID
	o.isHost = isHost
	o.mu.Unlock()

	if err := o.signaler.Connect(ctx, sessionID, isHost, o.cfg.DisplayName); err != nil {
		return err
	}

	local := o.signaler.LocalPeerID()
	o.code.SetLocalIdentity(local, o.cfg.DisplayName)
	o.chat.SetLocalName(o.cfg.DisplayName)
	o.logger.Infow("joined session",
		"session_id", sessionID,
		"peer_id", local,
		"is_host", isHost,
	)
	o.eventSubs.notify(SessionEvent{Kind: SessionEventJoined, PeerID: local, Name: o.cfg.DisplayName})
	return nil
}

// Leave tears the whole session down: every link, the connector, the
// signaling transport. Idempotent.
func (o *SessionOrchestrator) Leave() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	trackers := o.takeTrackersLocked()
	o.mu.Unlock()

	for _, t := range trackers {
		t.Close()
	}
	o.connector.CloseAll()
	o.signaler.Disconnect()
}

// Reset clears all shared state and tears down peer links for a fresh
// session, without leaving the signaling room. Dedup windows and undo
// history start over.
func (o *SessionOrchestrator) Reset() {
	o.mu.Lock()
	trackers := o.takeTrackersLocked()
	o.everConnected = false
	o.mu.Unlock()

	for _, t := range trackers {
		t.Close()
	}
	o.connector.CloseAll()
	o.code.Reset()
	o.canvas.Reset()
	o.chat.Reset()
}

func (o *SessionOrchestrator) takeTrackersLocked() []*LinkTracker {
	trackers := make([]*LinkTracker, 0, len(o.trackers))
	for _, t := range o.trackers {
		trackers = append(trackers, t)
	}
	o.trackers = make(map[domain.PeerID]*LinkTracker)
	o.channels = make(map[domain.PeerID]ports.PeerChannel)
	o.initiated = make(map[domain.PeerID]bool)
	return trackers
}

func (o *SessionOrchestrator) SessionID() domain.SessionID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

func (o *SessionOrchestrator) IsHost() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.isHost
}

func (o *SessionOrchestrator) Code() *CodeSync { return o.code }

func (o *SessionOrchestrator) Canvas() *CanvasSync { return o.canvas }

func (o *SessionOrchestrator) Chat() *ChatSync { return o.chat }

func (o *SessionOrchestrator) Metrics() *MetricsService { return o.metrics }

func (o *SessionOrchestrator) SubscribeLinks(fn func(domain.PeerLinkInfo)) int {
	return o.linkSubs.add(fn)
}

func (o *SessionOrchestrator) UnsubscribeLinks(id int) {
	o.linkSubs.remove(id)
}

func (o *SessionOrchestrator) SubscribeEvents(fn func(SessionEvent)) int {
	return o.eventSubs.add(fn)
}

func (o *SessionOrchestrator) UnsubscribeEvents(id int) {
	o.eventSubs.remove(id)
}

// SetHasRelayServers flags whether relay fallback is configured, for
// display next to each link.
func (o *SessionOrchestrator) SetHasRelayServers(has bool) {
	o.mu.Lock()
	o.hasRelay = has
	trackers := make([]*LinkTracker, 0, len(o.trackers))
	for _, t := range o.trackers {
		trackers = append(trackers, t)
	}
	o.mu.Unlock()

	for _, t := range trackers {
		t.SetHasRelayServers(has)
	}
}

// CancelReconnect aborts a peer's pending reconnect, leaving the link
// disconnected.
func (o *SessionOrchestrator) CancelReconnect(peerID domain.PeerID) {
	if t, ok := o.tracker(peerID); ok {
		t.CancelReconnect()
	}
}

// RetryPeer restarts connection attempts for a failed link.
func (o *SessionOrchestrator) RetryPeer(peerID domain.PeerID) bool {
	t, ok := o.tracker(peerID)
	if !ok {
		return false
	}
	return t.RetryNow()
}

// ReconcilePeer asks one peer to resend its full state.
func (o *SessionOrchestrator) ReconcilePeer(peerID domain.PeerID) bool {
	return o.requestState(peerID)
}

func (o *SessionOrchestrator) tracker(peerID domain.PeerID) (*LinkTracker, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.trackers[peerID]
	return t, ok
}

// RunCode executes the current document through the injected backend
// and broadcasts start and result events to the session.
func (o *SessionOrchestrator) RunCode(ctx context.Context) (*domain.ExecutionResult, error) {
	if o.executor == nil {
		return nil, domain.ErrExecutorUnavailable
	}

	snap := o.code.Snapshot()
	start := time.Now()
	o.Broadcast(domain.NewExecutionStartMessage(snap.Language, start.UnixMilli()))

	result, err := o.executor.Execute(ctx, snap.Language, snap.Code, o.cfg.ExecTimeout)
	elapsed := time.Since(start)
	if err != nil {
		o.logger.Warnw("code execution failed", "language", snap.Language, "error", err)
		o.Broadcast(domain.NewExecutionResultMessage("", err.Error(), 1, elapsed.Milliseconds()))
		return nil, err
	}

	o.Broadcast(domain.NewExecutionResultMessage(result.Stdout, result.Stderr, result.ExitCode, result.Duration.Milliseconds()))
	return result, nil
}

// Broadcast implements ports.MessageSender across every open channel.
func (o *SessionOrchestrator) Broadcast(msg domain.Message) bool {
	o.mu.Lock()
	channels := make([]ports.PeerChannel, 0, len(o.channels))
	for _, ch := range o.channels {
		channels = append(channels, ch)
	}
	o.mu.Unlock()

	delivered := false
	for _, ch := range channels {
		if ch.Send(msg) {
			delivered = true
		}
	}
	return delivered
}

// SendTo implements ports.MessageSender for one peer.
func (o *SessionOrchestrator) SendTo(peerID domain.PeerID, msg domain.Message) bool {
	o.mu.Lock()
	ch, ok := o.channels[peerID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	return ch.Send(msg)
}

// Snapshot implements ports.Diagnostics.
func (o *SessionOrchestrator) Snapshot() domain.DiagnosticsSnapshot {
	o.mu.Lock()
	trackers := make([]*LinkTracker, 0, len(o.trackers))
	for _, t := range o.trackers {
		trackers = append(trackers, t)
	}
	o.mu.Unlock()

	links := make([]domain.PeerLinkInfo, 0, len(trackers))
	for _, t := range trackers {
		links = append(links, t.Snapshot())
	}
	sort.Slice(links, func(i, j int) bool { return links[i].PeerID < links[j].PeerID })

	return domain.DiagnosticsSnapshot{
		Session: o.signaler.Session(),
		Links:   links,
		Code:    o.code.Snapshot(),
		Canvas:  o.canvas.Snapshot(),
		Chat:    o.chat.Snapshot(),
	}
}

// Links returns the current link snapshots, sorted by peer id.
func (o *SessionOrchestrator) Links() []domain.PeerLinkInfo {
	return o.Snapshot().Links
}

// Stats aggregates the current links into one session view.
func (o *SessionOrchestrator) Stats() domain.SessionStats {
	return o.metrics.SessionStats(o.SessionID(), o.Links())
}

func (o *SessionOrchestrator) bindSignaler() {
	o.signaler.OnPeerJoined(o.handlePeerJoined)
	o.signaler.OnPeerLeft(o.handlePeerLeft)
	o.signaler.OnOffer(o.handleOffer)
	o.signaler.OnAnswer(o.handleAnswer)
	o.signaler.OnICECandidate(o.handleRemoteCandidate)
	o.signaler.OnRoomState(o.handleRoomState)
	o.signaler.OnHostChanged(o.handleHostChanged)
	o.signaler.OnRoomFull(func() {
		o.eventSubs.notify(SessionEvent{Kind: SessionEventRoomFull})
	})
	o.signaler.OnConnected(func() {
		o.eventSubs.notify(SessionEvent{Kind: SessionEventSignalBack})
	})
	o.signaler.OnDisconnected(func(reason string) {
		o.logger.Warnw("signaling connection lost", "reason", reason)
		o.eventSubs.notify(SessionEvent{Kind: SessionEventSignalLost, Reason: reason})
	})
	o.signaler.OnError(func(err error) {
		o.logger.Warnw("signaling error", "error", err)
		o.eventSubs.notify(SessionEvent{Kind: SessionEventError, Reason: err.Error()})
	})
}

// handlePeerJoined runs on the established side: the existing member
// initiates the offer toward the newcomer.
func (o *SessionOrchestrator) handlePeerJoined(peerID domain.PeerID, name string) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.names[peerID] = name
	tracker := o.ensureTrackerLocked(peerID)
	o.mu.Unlock()

	o.logger.Infow("peer joined", "peer_id", peerID, "name", name)
	o.eventSubs.notify(SessionEvent{Kind: SessionEventPeerJoined, PeerID: peerID, Name: name})

	tracker.MarkConnecting()
	o.dial(context.Background(), peerID)
}

func (o *SessionOrchestrator) dial(ctx context.Context, peerID domain.PeerID) {
	offer, err := o.connector.CreateOffer(ctx, peerID)
	if err != nil {
		o.logger.Warnw("offer creation failed", "peer_id", peerID, "error", err)
		if t, ok := o.tracker(peerID); ok {
			t.HandleDrop()
		}
		return
	}
	o.mu.Lock()
	o.initiated[peerID] = true
	o.mu.Unlock()

	if !o.signaler.SendOffer(offer, peerID) {
		o.logger.Warnw("offer not sent, signaling transport down", "peer_id", peerID)
	}
}

func (o *SessionOrchestrator) handlePeerLeft(peerID domain.PeerID) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	name := o.names[peerID]
	delete(o.names, peerID)
	tracker := o.trackers[peerID]
	delete(o.trackers, peerID)
	delete(o.channels, peerID)
	delete(o.initiated, peerID)
	o.mu.Unlock()

	if tracker != nil {
		tracker.Close()
	}
	if err := o.connector.Close(peerID); err != nil {
		o.logger.Debugw("link close failed", "peer_id", peerID, "error", err)
	}

	o.code.PeerLeft(peerID)
	o.canvas.PeerLeft(peerID)
	o.metrics.RemovePeer(peerID)

	o.logger.Infow("peer left", "peer_id", peerID, "name", name)
	o.eventSubs.notify(SessionEvent{Kind: SessionEventPeerLeft, PeerID: peerID, Name: name})
}

func (o *SessionOrchestrator) handleOffer(payload json.RawMessage, from domain.PeerID) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	tracker := o.ensureTrackerLocked(from)
	o.mu.Unlock()

	if tracker.State() == domain.LinkDisconnected {
		tracker.MarkConnecting()
	}

	answer, err := o.connector.HandleOffer(context.Background(), from, payload)
	if err != nil {
		o.logger.Warnw("offer handling failed", "peer_id", from, "error", err)
		tracker.HandleDrop()
		return
	}
	if !o.signaler.SendAnswer(answer, from) {
		o.logger.Warnw("answer not sent, signaling transport down", "peer_id", from)
	}
}

func (o *SessionOrchestrator) handleAnswer(payload json.RawMessage, from domain.PeerID) {
	if err := o.connector.HandleAnswer(context.Background(), from, payload); err != nil {
		o.logger.Warnw("answer handling failed", "peer_id", from, "error", err)
		if t, ok := o.tracker(from); ok {
			t.HandleDrop()
		}
	}
}

func (o *SessionOrchestrator) handleRemoteCandidate(payload json.RawMessage, from domain.PeerID) {
	if err := o.connector.AddICECandidate(context.Background(), from, payload); err != nil {
		o.logger.Debugw("candidate rejected", "peer_id", from, "error", err)
	}
}

// handleRoomState records the roster a late joiner receives. Existing
// members initiate the offers, so nothing is dialed from here.
func (o *SessionOrchestrator) handleRoomState(peers []ports.PeerSummary) {
	o.mu.Lock()
	for _, p := range peers {
		o.names[p.PeerID] = p.Name
		if p.IsHost {
			o.hostID = p.PeerID
		}
	}
	o.mu.Unlock()
}

func (o *SessionOrchestrator) handleHostChanged(hostID domain.PeerID) {
	local := o.signaler.LocalPeerID()

	o.mu.Lock()
	o.hostID = hostID
	if hostID == local {
		o.isHost = true
	}
	name := o.names[hostID]
	o.mu.Unlock()

	o.logger.Infow("session host changed", "host_id", hostID)
	o.eventSubs.notify(SessionEvent{Kind: SessionEventHostChanged, PeerID: hostID, Name: name})
}

// ensureTrackerLocked creates the link tracker on first contact and
// wires its callbacks. Caller holds o.mu.
func (o *SessionOrchestrator) ensureTrackerLocked(peerID domain.PeerID) *LinkTracker {
	if t, ok := o.trackers[peerID]; ok {
		return t
	}
	t := NewLinkTracker(peerID, o.cfg.Link, o.quality, o.logger)
	t.SetHasRelayServers(o.hasRelay)
	t.OnStateChange(func(next, prev domain.LinkState) {
		o.linkSubs.notify(t.Snapshot())
	})
	t.OnRetry(func(attempt, maxAttempts int) {
		o.redial(peerID, attempt, maxAttempts)
	})
	o.trackers[peerID] = t
	return t
}

// redial runs when a reconnect attempt comes due. The original offerer
// re-offers; the answering side tears down its stale link and waits
// for the remote's fresh offer.
func (o *SessionOrchestrator) redial(peerID domain.PeerID, attempt, maxAttempts int) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	initiated := o.initiated[peerID]
	o.mu.Unlock()

	o.logger.Infow("redialing peer",
		"peer_id", peerID,
		"attempt", attempt,
		"max_attempts", maxAttempts,
	)
	if err := o.connector.Close(peerID); err != nil {
		o.logger.Debugw("stale link close failed", "peer_id", peerID, "error", err)
	}
	if initiated {
		o.dial(context.Background(), peerID)
	}
}

// OnLocalCandidate implements ports.LinkEvents: classify the candidate
// for topology estimation, then relay it to the remote side.
func (o *SessionOrchestrator) OnLocalCandidate(peerID domain.PeerID, candidate json.RawMessage) {
	var parsed struct {
		Candidate string `json:"candidate"`
	}
	if err := json.Unmarshal(candidate, &parsed); err != nil {
		o.logger.Debugw("dropping unreadable local candidate", "peer_id", peerID, "error", err)
		return
	}

	if t, ok := o.tracker(peerID); ok {
		t.RecordCandidate(parsed.Candidate)
	}
	if !o.signaler.SendICECandidate(candidate, peerID) {
		o.logger.Debugw("candidate not relayed, signaling transport down", "peer_id", peerID)
	}
}

// OnChannelOpen implements ports.LinkEvents. A guest joining the mesh
// asks for full state on its first channel; established members and
// the host stay quiet so their state is never clobbered by an empty
// newcomer's reply. Either side re-requests after a reconnect.
func (o *SessionOrchestrator) OnChannelOpen(peerID domain.PeerID, ch ports.PeerChannel) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		ch.Close()
		return
	}
	o.channels[peerID] = ch
	tracker := o.ensureTrackerLocked(peerID)
	fresh := !o.everConnected && !o.isHost
	o.everConnected = true
	o.mu.Unlock()

	ch.OnMessage(func(data []byte) {
		o.router.Dispatch(peerID, data)
	})

	wasReconnecting := tracker.State() == domain.LinkReconnecting
	tracker.MarkConnected()
	o.logger.Infow("peer channel open", "peer_id", peerID)

	if fresh || wasReconnecting {
		o.requestState(peerID)
	}
}

// OnChannelClosed implements ports.LinkEvents for unexpected closes.
func (o *SessionOrchestrator) OnChannelClosed(peerID domain.PeerID, err error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	delete(o.channels, peerID)
	tracker, ok := o.trackers[peerID]
	o.mu.Unlock()

	if !ok {
		return
	}
	if err != nil {
		o.logger.Warnw("peer channel closed", "peer_id", peerID, "error", err)
	} else {
		o.logger.Warnw("peer channel closed", "peer_id", peerID)
	}
	tracker.HandleDrop()
}

// OnSelectedPair implements ports.LinkEvents.
func (o *SessionOrchestrator) OnSelectedPair(peerID domain.PeerID, local, remote domain.CandidateType) {
	if t, ok := o.tracker(peerID); ok {
		t.SetSelectedPair(local, remote)
	}
}

// OnStats implements ports.LinkEvents for periodic link samples.
func (o *SessionOrchestrator) OnStats(peerID domain.PeerID, metrics domain.LinkMetrics) {
	t, ok := o.tracker(peerID)
	if !ok {
		return
	}
	t.UpdateMetrics(metrics)
	o.metrics.Record(peerID, metrics, t.Topology().Type)
	o.linkSubs.notify(t.Snapshot())
}

func (o *SessionOrchestrator) requestState(peerID domain.PeerID) bool {
	req := domain.NewStateRequestMessage()
	if o.SendTo(peerID, req) {
		return true
	}
	return o.Broadcast(req)
}
