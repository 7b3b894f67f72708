package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// dataChannelLabel names the one duplex channel every peer link carries.
const dataChannelLabel = "meshpad-sync"

// Config holds ICE and sampling settings for peer links.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
	StatsInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		StatsInterval: 5 * time.Second,
	}
}

// Connector drives the offer/answer/candidate dance with pion and
// reports link progress into the LinkEvents sink it was built with.
// One link per remote peer; creating a new link for a peer quietly
// replaces the old one.
type Connector struct {
	cfg    Config
	events ports.LinkEvents
	logger *zap.SugaredLogger

	mu    sync.Mutex
	links map[domain.PeerID]*link
}

// link is the connector-side state of one peer link.
type link struct {
	peerID  domain.PeerID
	pc      *webrtc.PeerConnection
	channel *dataChannel

	// Candidates arriving before the remote description are parked
	// here and flushed once it lands.
	pending   []webrtc.ICECandidateInit
	remoteSet bool

	deliberate   bool
	dropReported bool

	statsStop chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once

	// Sampler-goroutine-only jitter state.
	lastRttMs float64
	jitterMs  float64
}

func NewConnector(cfg Config, events ports.LinkEvents, logger *zap.SugaredLogger) *Connector {
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = DefaultConfig().ICEServers
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = DefaultConfig().StatsInterval
	}
	return &Connector{
		cfg:    cfg,
		events: events,
		logger: logger,
		links:  make(map[domain.PeerID]*link),
	}
}

var _ ports.PeerConnector = (*Connector)(nil)

// SetEvents binds the event sink after construction, for callers whose
// sink is itself built around the connector. Must be called before the
// first link is created.
func (c *Connector) SetEvents(events ports.LinkEvents) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = events
}

// CreateOffer opens a fresh link toward the peer, attaches the data
// channel and returns the local description to relay.
func (c *Connector) CreateOffer(ctx context.Context, peerID domain.PeerID) (json.RawMessage, error) {
	l, err := c.newLink(peerID)
	if err != nil {
		return nil, err
	}

	ordered := true
	dc, err := l.pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		c.Close(peerID)
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	c.attachChannel(l, dc)

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		c.Close(peerID)
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		c.Close(peerID)
		return nil, fmt.Errorf("set local description: %w", err)
	}

	payload, err := json.Marshal(offer)
	if err != nil {
		c.Close(peerID)
		return nil, fmt.Errorf("encode offer: %w", err)
	}
	return payload, nil
}

// HandleOffer answers an inbound offer on a fresh link. The data
// channel arrives from the offerer via OnDataChannel.
func (c *Connector) HandleOffer(ctx context.Context, peerID domain.PeerID, offer json.RawMessage) (json.RawMessage, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(offer, &desc); err != nil {
		return nil, fmt.Errorf("decode offer: %w", err)
	}

	l, err := c.newLink(peerID)
	if err != nil {
		return nil, err
	}

	if err := l.pc.SetRemoteDescription(desc); err != nil {
		c.Close(peerID)
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	c.flushPending(l)

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		c.Close(peerID)
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		c.Close(peerID)
		return nil, fmt.Errorf("set local description: %w", err)
	}

	payload, err := json.Marshal(answer)
	if err != nil {
		c.Close(peerID)
		return nil, fmt.Errorf("encode answer: %w", err)
	}
	return payload, nil
}

func (c *Connector) HandleAnswer(ctx context.Context, peerID domain.PeerID, answer json.RawMessage) error {
	c.mu.Lock()
	l, ok := c.links[peerID]
	c.mu.Unlock()
	if !ok {
		return domain.ErrPeerNotFound
	}

	var desc webrtc.SessionDescription
	if err := json.Unmarshal(answer, &desc); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	c.flushPending(l)
	return nil
}

func (c *Connector) AddICECandidate(ctx context.Context, peerID domain.PeerID, candidate json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}

	c.mu.Lock()
	l, ok := c.links[peerID]
	if !ok {
		c.mu.Unlock()
		return domain.ErrPeerNotFound
	}
	if !l.remoteSet {
		l.pending = append(l.pending, init)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := l.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

func (c *Connector) Channel(peerID domain.PeerID) (ports.PeerChannel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.links[peerID]
	if !ok || l.channel == nil {
		return nil, false
	}
	return l.channel, true
}

// Close tears the link down deliberately, so the drop is never
// reported back through LinkEvents.
func (c *Connector) Close(peerID domain.PeerID) error {
	c.mu.Lock()
	l, ok := c.links[peerID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.links, peerID)
	l.deliberate = true
	c.mu.Unlock()

	l.stopStats()
	return l.pc.Close()
}

func (c *Connector) CloseAll() {
	c.mu.Lock()
	links := make([]*link, 0, len(c.links))
	for _, l := range c.links {
		l.deliberate = true
		links = append(links, l)
	}
	c.links = make(map[domain.PeerID]*link)
	c.mu.Unlock()

	for _, l := range links {
		l.stopStats()
		l.pc.Close()
	}
}

// newLink builds the peer connection and wires every pion callback.
// An existing link for the peer is replaced without a drop report.
func (c *Connector) newLink(peerID domain.PeerID) (*link, error) {
	pc, err := c.newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	l := &link{
		peerID:    peerID,
		pc:        pc,
		statsStop: make(chan struct{}),
	}

	c.mu.Lock()
	old := c.links[peerID]
	if old != nil {
		old.deliberate = true
	}
	c.links[peerID] = l
	c.mu.Unlock()

	if old != nil {
		old.stopStats()
		old.pc.Close()
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		payload, err := json.Marshal(cand.ToJSON())
		if err != nil {
			c.logger.Errorw("encode local candidate", "peer_id", peerID, "error", err)
			return
		}
		c.events.OnLocalCandidate(peerID, payload)
	})
	pc.OnICEConnectionStateChange(c.handleICEState(l))
	pc.OnConnectionStateChange(c.handleConnectionState(l))
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != dataChannelLabel {
			c.logger.Warnw("ignoring unexpected data channel", "peer_id", peerID, "label", dc.Label())
			return
		}
		c.attachChannel(l, dc)
	})

	return l, nil
}

func (c *Connector) newPeerConnection() (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers:   c.cfg.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	}

	settingEngine := webrtc.SettingEngine{}
	if c.cfg.PortRange.Min > 0 && c.cfg.PortRange.Max > 0 {
		settingEngine.SetEphemeralUDPPortRange(c.cfg.PortRange.Min, c.cfg.PortRange.Max)
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(config)
}

func (c *Connector) attachChannel(l *link, dc *webrtc.DataChannel) {
	ch := &dataChannel{peerID: l.peerID, dc: dc, logger: c.logger}

	c.mu.Lock()
	l.channel = ch
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.logger.Infow("data channel open", "peer_id", l.peerID, "label", dc.Label())
		c.events.OnChannelOpen(l.peerID, ch)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		ch.deliver(msg.Data)
	})
	dc.OnClose(func() {
		ch.closed(nil)
		c.reportDrop(l, fmt.Errorf("data channel closed"))
	})
	dc.OnError(func(err error) {
		c.logger.Warnw("data channel error", "peer_id", l.peerID, "error", err)
	})
}

func (c *Connector) handleICEState(l *link) func(webrtc.ICEConnectionState) {
	return func(state webrtc.ICEConnectionState) {
		c.logger.Infow("ice connection state changed",
			"peer_id", l.peerID,
			"ice_state", state,
		)

		if state == webrtc.ICEConnectionStateConnected {
			c.announceSelectedPair(l)
			c.startStats(l)
		}
	}
}

func (c *Connector) handleConnectionState(l *link) func(webrtc.PeerConnectionState) {
	return func(state webrtc.PeerConnectionState) {
		c.logger.Infow("peer connection state changed",
			"peer_id", l.peerID,
			"state", state,
		)

		switch state {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			c.reportDrop(l, fmt.Errorf("connection %s", state))
		}
	}
}

// reportDrop surfaces one unexpected loss per link. Deliberate closes
// and replaced links stay silent.
func (c *Connector) reportDrop(l *link, cause error) {
	c.mu.Lock()
	if l.deliberate || l.dropReported || c.links[l.peerID] != l {
		c.mu.Unlock()
		return
	}
	l.dropReported = true
	c.mu.Unlock()

	l.stopStats()
	c.events.OnChannelClosed(l.peerID, cause)
}

func (c *Connector) flushPending(l *link) {
	c.mu.Lock()
	l.remoteSet = true
	pending := l.pending
	l.pending = nil
	c.mu.Unlock()

	for _, init := range pending {
		if err := l.pc.AddICECandidate(init); err != nil {
			c.logger.Warnw("flush queued candidate", "peer_id", l.peerID, "error", err)
		}
	}
}

func (l *link) stopStats() {
	l.stopOnce.Do(func() { close(l.statsStop) })
}
