package domain

import "time"

// RelayProbe is one reachability verdict for a configured STUN or TURN
// server. RTT is meaningful only when Reachable is true.
type RelayProbe struct {
	URL       string
	Reachable bool
	RTT       time.Duration
	ProbedAt  time.Time
}
