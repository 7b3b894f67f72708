package services

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"meshpad/internal/core/domain"
)

type LinkTrackerConfig struct {
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
}

func DefaultLinkTrackerConfig() LinkTrackerConfig {
	return LinkTrackerConfig{
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
	}
}

// LinkTracker owns one peer link's lifecycle: the state machine, the
// candidate buckets and topology estimate, the latest metrics sample,
// and the reconnect schedule. It knows nothing about the transport;
// the owner feeds it events and reacts to its callbacks.
//
// Callbacks fire outside the internal lock. Retry callbacks run on the
// timer goroutine; reconnect attempts for one link are strictly
// sequential because the next attempt is only scheduled after the
// previous one reports a drop.
type LinkTracker struct {
	mu sync.Mutex

	peerID  domain.PeerID
	cfg     LinkTrackerConfig
	quality *QualityService
	logger  *zap.SugaredLogger

	state           domain.LinkState
	connType        domain.ConnectionType
	hostCands       []domain.CandidateRecord
	srflxCands      []domain.CandidateRecord
	relayCands      []domain.CandidateRecord
	topology        domain.TopologyInfo
	metrics         domain.LinkMetrics
	qualityTier     domain.QualityTier
	retryAttempt    int
	retryTimer      *time.Timer
	hasRelayServers bool

	onStateChange func(next, prev domain.LinkState)
	onRetry       func(attempt, maxAttempts int)
}

func NewLinkTracker(
	peerID domain.PeerID,
	cfg LinkTrackerConfig,
	quality *QualityService,
	logger *zap.SugaredLogger,
) *LinkTracker {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultLinkTrackerConfig().MaxReconnectAttempts
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = DefaultLinkTrackerConfig().ReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = DefaultLinkTrackerConfig().ReconnectMaxDelay
	}
	return &LinkTracker{
		peerID:      peerID,
		cfg:         cfg,
		quality:     quality,
		logger:      logger,
		state:       domain.LinkDisconnected,
		qualityTier: domain.QualityUnknown,
		topology:    domain.TopologyInfo{Type: domain.TopologyUnknown},
	}
}

// OnStateChange registers the transition callback. It is invoked
// exactly once per real transition, never for a same-state update.
func (t *LinkTracker) OnStateChange(fn func(next, prev domain.LinkState)) {
	t.mu.Lock()
	t.onStateChange = fn
	t.mu.Unlock()
}

// OnRetry registers the callback asked to redo the handshake when a
// scheduled reconnect attempt comes due.
func (t *LinkTracker) OnRetry(fn func(attempt, maxAttempts int)) {
	t.mu.Lock()
	t.onRetry = fn
	t.mu.Unlock()
}

// UpdateState transitions to next. Same-state updates are a complete
// no-op: no transition, no notification.
func (t *LinkTracker) UpdateState(next domain.LinkState) {
	t.mu.Lock()
	prev, changed, notify := t.setStateLocked(next)
	t.mu.Unlock()

	if changed && notify != nil {
		notify(next, prev)
	}
}

func (t *LinkTracker) setStateLocked(next domain.LinkState) (prev domain.LinkState, changed bool, notify func(next, prev domain.LinkState)) {
	if next == t.state {
		return t.state, false, nil
	}
	prev = t.state
	t.state = next
	if t.logger != nil {
		t.logger.Debugw("peer link state changed",
			"peer_id", t.peerID,
			"from", prev,
			"to", next,
		)
	}
	return prev, true, t.onStateChange
}

func (t *LinkTracker) State() domain.LinkState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// MarkConnecting begins the initial dial. Candidate buckets start
// fresh for the new gathering round.
func (t *LinkTracker) MarkConnecting() {
	t.mu.Lock()
	t.resetCandidatesLocked()
	prev, changed, notify := t.setStateLocked(domain.LinkConnecting)
	t.mu.Unlock()

	if changed && notify != nil {
		notify(domain.LinkConnecting, prev)
	}
}

// MarkConnected records a successful handshake and clears the retry
// budget for the next drop.
func (t *LinkTracker) MarkConnected() {
	t.mu.Lock()
	t.retryAttempt = 0
	t.stopTimerLocked()
	prev, changed, notify := t.setStateLocked(domain.LinkConnected)
	t.mu.Unlock()

	if changed && notify != nil {
		notify(domain.LinkConnected, prev)
	}
}

// HandleDrop reacts to an unexpected link loss: schedules the next
// bounded-backoff reconnect attempt, or fails the link once attempts
// are exhausted. Drops reported while an attempt is already pending
// fold into it.
func (t *LinkTracker) HandleDrop() {
	t.mu.Lock()
	if t.state == domain.LinkDisconnected || t.state == domain.LinkFailed {
		t.mu.Unlock()
		return
	}
	if t.retryTimer != nil {
		t.mu.Unlock()
		return
	}

	var next domain.LinkState
	if t.retryAttempt >= t.cfg.MaxReconnectAttempts {
		next = domain.LinkFailed
		if t.logger != nil {
			t.logger.Warnw("peer link failed, reconnect attempts exhausted",
				"peer_id", t.peerID,
				"attempts", t.retryAttempt,
			)
		}
	} else {
		t.retryAttempt++
		attempt := t.retryAttempt
		delay := t.backoffDelay(attempt)
		t.retryTimer = time.AfterFunc(delay, func() { t.fireRetry(attempt) })
		next = domain.LinkReconnecting
		if t.logger != nil {
			t.logger.Infow("peer link dropped, reconnect scheduled",
				"peer_id", t.peerID,
				"attempt", attempt,
				"max_attempts", t.cfg.MaxReconnectAttempts,
				"delay", delay,
			)
		}
	}
	prev, changed, notify := t.setStateLocked(next)
	t.mu.Unlock()

	if changed && notify != nil {
		notify(next, prev)
	}
}

func (t *LinkTracker) fireRetry(attempt int) {
	t.mu.Lock()
	t.retryTimer = nil
	if t.state != domain.LinkReconnecting {
		t.mu.Unlock()
		return
	}
	t.resetCandidatesLocked()
	fn := t.onRetry
	maxAttempts := t.cfg.MaxReconnectAttempts
	t.mu.Unlock()

	if fn != nil {
		fn(attempt, maxAttempts)
	}
}

// CancelReconnect aborts any pending attempt and forces disconnected.
// The retry timer is stopped so nothing fires afterwards.
func (t *LinkTracker) CancelReconnect() {
	t.mu.Lock()
	if t.state != domain.LinkReconnecting && t.state != domain.LinkFailed {
		t.mu.Unlock()
		return
	}
	t.stopTimerLocked()
	t.retryAttempt = 0
	prev, changed, notify := t.setStateLocked(domain.LinkDisconnected)
	t.mu.Unlock()

	if changed && notify != nil {
		notify(domain.LinkDisconnected, prev)
	}
}

// RetryNow restarts reconnection from failed with a fresh attempt
// counter. Returns false when the link is not in failed.
func (t *LinkTracker) RetryNow() bool {
	t.mu.Lock()
	if t.state != domain.LinkFailed {
		t.mu.Unlock()
		return false
	}
	t.retryAttempt = 1
	t.resetCandidatesLocked()
	prev, changed, notify := t.setStateLocked(domain.LinkReconnecting)
	retry := t.onRetry
	maxAttempts := t.cfg.MaxReconnectAttempts
	t.mu.Unlock()

	if changed && notify != nil {
		notify(domain.LinkReconnecting, prev)
	}
	if retry != nil {
		retry(1, maxAttempts)
	}
	return true
}

// Close tears the tracker down, stopping any pending retry.
func (t *LinkTracker) Close() {
	t.mu.Lock()
	t.stopTimerLocked()
	t.retryAttempt = 0
	prev, changed, notify := t.setStateLocked(domain.LinkDisconnected)
	t.mu.Unlock()

	if changed && notify != nil {
		notify(domain.LinkDisconnected, prev)
	}
}

// RecordCandidate classifies the descriptor and files it in the
// matching bucket. Unparseable descriptors are dropped without error.
func (t *LinkTracker) RecordCandidate(raw string) {
	ctype, ok := ClassifyCandidate(raw)
	if !ok {
		if t.logger != nil {
			t.logger.Debugw("dropping unclassifiable candidate", "peer_id", t.peerID)
		}
		return
	}

	t.mu.Lock()
	rec := domain.CandidateRecord{Type: ctype, Raw: raw}
	switch ctype {
	case domain.CandidateHost:
		t.hostCands = append(t.hostCands, rec)
	case domain.CandidateSrflx:
		t.srflxCands = append(t.srflxCands, rec)
	case domain.CandidateRelay:
		t.relayCands = append(t.relayCands, rec)
	}
	t.recomputeTopologyLocked()
	t.mu.Unlock()
}

func (t *LinkTracker) resetCandidatesLocked() {
	t.hostCands = nil
	t.srflxCands = nil
	t.relayCands = nil
	t.recomputeTopologyLocked()
}

func (t *LinkTracker) recomputeTopologyLocked() {
	counts := domain.CandidateCounts{
		Host:  len(t.hostCands),
		Srflx: len(t.srflxCands),
		Relay: len(t.relayCands),
	}
	t.topology = domain.TopologyInfo{
		Type:   EstimateTopology(counts),
		Counts: counts,
	}
}

func (t *LinkTracker) Topology() domain.TopologyInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.topology
}

// UpdateMetrics stores the newest stats sample and rescoring result.
func (t *LinkTracker) UpdateMetrics(m domain.LinkMetrics) {
	t.mu.Lock()
	t.metrics = m
	if t.quality != nil {
		t.qualityTier = t.quality.Tier(m)
	}
	t.mu.Unlock()
}

// SetSelectedPair records which candidate pair the transport nominated.
func (t *LinkTracker) SetSelectedPair(local, remote domain.CandidateType) {
	t.mu.Lock()
	t.connType = DetermineConnectionType(local, remote)
	t.mu.Unlock()
}

func (t *LinkTracker) SetHasRelayServers(has bool) {
	t.mu.Lock()
	t.hasRelayServers = has
	t.mu.Unlock()
}

// Snapshot returns a value copy of the link's current read model.
func (t *LinkTracker) Snapshot() domain.PeerLinkInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return domain.PeerLinkInfo{
		PeerID:          t.peerID,
		State:           t.state,
		ConnectionType:  t.connType,
		Topology:        t.topology,
		Metrics:         t.metrics,
		Quality:         t.qualityTier,
		RetryAttempt:    t.retryAttempt,
		MaxRetries:      t.cfg.MaxReconnectAttempts,
		HasRelayServers: t.hasRelayServers,
	}
}

func (t *LinkTracker) stopTimerLocked() {
	if t.retryTimer != nil {
		t.retryTimer.Stop()
		t.retryTimer = nil
	}
}

func (t *LinkTracker) backoffDelay(attempt int) time.Duration {
	delay := t.cfg.ReconnectBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= t.cfg.ReconnectMaxDelay {
			return t.cfg.ReconnectMaxDelay
		}
	}
	if delay > t.cfg.ReconnectMaxDelay {
		return t.cfg.ReconnectMaxDelay
	}
	return delay
}
