package domain

import "time"

// LinkSample is one point in a peer link's quality history, kept by the
// metrics service for trend display.
type LinkSample struct {
	PeerID    PeerID
	Metrics   LinkMetrics
	Quality   QualityTier
	Topology  NetworkTopology
	Timestamp time.Time
}

// SessionStats aggregates the local view of a whole session.
type SessionStats struct {
	SessionID      SessionID
	PeerCount      int
	ConnectedPeers int
	AvgLatencyMs   float64
	WorstQuality   QualityTier
	Timestamp      time.Time
}

// ExecutionResult is what an execution backend returns for one run.
type ExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}
