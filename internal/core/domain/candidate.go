package domain

// CandidateType is the connectivity category of a single ICE candidate.
// Peer-reflexive candidates are folded into srflx at classification time,
// so only three categories exist in the model.
type CandidateType string

const (
	CandidateHost  CandidateType = "host"
	CandidateSrflx CandidateType = "srflx"
	CandidateRelay CandidateType = "relay"
)

// CandidateRecord keeps the classified type together with the raw
// descriptor it was parsed from. Records accumulate per peer link and
// are only reset when the link reconnects from scratch.
type CandidateRecord struct {
	Type CandidateType
	Raw  string
}

// CandidateCounts is the per-bucket tally a topology estimate is
// computed from.
type CandidateCounts struct {
	Host  int
	Srflx int
	Relay int
}

func (c CandidateCounts) Total() int {
	return c.Host + c.Srflx + c.Relay
}
