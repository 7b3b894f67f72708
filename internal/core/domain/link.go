package domain

import "time"

// LinkState is the lifecycle state of one peer link.
type LinkState string

const (
	LinkDisconnected LinkState = "disconnected"
	LinkConnecting   LinkState = "connecting"
	LinkConnected    LinkState = "connected"
	LinkReconnecting LinkState = "reconnecting"
	LinkFailed       LinkState = "failed"
)

// ConnectionType describes the selected candidate pair. The zero value
// means the pair has not been nominated yet.
type ConnectionType string

const (
	ConnectionDirect ConnectionType = "direct"
	ConnectionRelay  ConnectionType = "relay"
)

// NetworkTopology is the NAT situation inferred from gathered candidates.
type NetworkTopology string

const (
	TopologyNAT             NetworkTopology = "nat"
	TopologyPublicOrBlocked NetworkTopology = "public-or-blocked"
	TopologyRestrictedNAT   NetworkTopology = "restricted-nat"
	TopologySymmetricNAT    NetworkTopology = "symmetric-nat"
	TopologyMixed           NetworkTopology = "mixed"
	TopologyUnknown         NetworkTopology = "unknown"
)

// TopologyInfo pairs the inferred topology with the candidate tally it
// was derived from.
type TopologyInfo struct {
	Type   NetworkTopology
	Counts CandidateCounts
}

// QualityTier buckets a scored link for display.
type QualityTier string

const (
	QualityUnknown   QualityTier = "unknown"
	QualityExcellent QualityTier = "excellent"
	QualityGood      QualityTier = "good"
	QualityFair      QualityTier = "fair"
	QualityPoor      QualityTier = "poor"
)

// LinkMetrics is one sample of transport statistics for a peer link.
// A zero SampledAt means no sample has been taken yet; quality scoring
// treats that as unknown.
type LinkMetrics struct {
	LatencyMs     float64
	JitterMs      float64
	PacketsLost   uint32
	PacketsSent   uint32
	BytesSent     uint64
	BytesReceived uint64
	SampledAt     time.Time
}

// LossRatio returns packetsLost/packetsSent, zero when nothing was sent.
func (m LinkMetrics) LossRatio() float64 {
	if m.PacketsSent == 0 {
		return 0
	}
	return float64(m.PacketsLost) / float64(m.PacketsSent)
}

// PeerLinkInfo is the read snapshot a link exposes for display and
// diagnostics. It is a value copy; mutating it does not touch the link.
type PeerLinkInfo struct {
	PeerID          PeerID
	State           LinkState
	ConnectionType  ConnectionType
	Topology        TopologyInfo
	Metrics         LinkMetrics
	Quality         QualityTier
	RetryAttempt    int
	MaxRetries      int
	HasRelayServers bool
}
