package services

import (
	"strings"

	"meshpad/internal/core/domain"
)

// ClassifyCandidate parses an ICE candidate descriptor and returns its
// connectivity category. Peer-reflexive candidates count as srflx.
// Empty or unparseable input returns ok=false and the caller drops the
// record; classification never fails loudly.
func ClassifyCandidate(raw string) (domain.CandidateType, bool) {
	if strings.TrimSpace(raw) == "" {
		return "", false
	}

	fields := strings.Fields(raw)
	for i, f := range fields {
		if f != "typ" || i+1 >= len(fields) {
			continue
		}
		switch fields[i+1] {
		case "host":
			return domain.CandidateHost, true
		case "srflx", "prflx":
			return domain.CandidateSrflx, true
		case "relay":
			return domain.CandidateRelay, true
		default:
			return "", false
		}
	}
	return "", false
}

// EstimateTopology maps candidate bucket counts to a topology label.
// First match wins, and the order is deliberate: host+relay with no
// srflx reads symmetric-nat because rule 4 runs before the mixed
// fallback.
func EstimateTopology(c domain.CandidateCounts) domain.NetworkTopology {
	host := c.Host > 0
	srflx := c.Srflx > 0
	relay := c.Relay > 0

	switch {
	case host && srflx:
		return domain.TopologyNAT
	case host && !srflx && !relay:
		return domain.TopologyPublicOrBlocked
	case !host && srflx:
		return domain.TopologyRestrictedNAT
	case relay && !srflx:
		return domain.TopologySymmetricNAT
	case host || srflx || relay:
		return domain.TopologyMixed
	default:
		return domain.TopologyUnknown
	}
}

// DetermineConnectionType reports how the nominated pair actually
// routes: relay when either side went through a relay, direct
// otherwise.
func DetermineConnectionType(local, remote domain.CandidateType) domain.ConnectionType {
	if local == domain.CandidateRelay || remote == domain.CandidateRelay {
		return domain.ConnectionRelay
	}
	return domain.ConnectionDirect
}
