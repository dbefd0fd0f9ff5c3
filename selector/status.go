package selector

// Status is the per-peer selection outcome, using the same vocabulary
// ntpd's peer selection exposes (and that the teacher's protocol/control
// package mirrors in PeerSelect): reject, falsetick, candidate, sys.peer.
// ntpsteerd only needs the subset relevant to a Marzullo-style clique
// selection.
type Status int

// Selection statuses, spec §4.2.
const (
	// Reject means the peer never entered the interval sweep: its filter
	// was not usable (Startup, or uncertainty past its ceiling), or its
	// full interval 2*hi exceeded MaxSourceUncertainty.
	Reject Status = iota
	// FalseTicker means the peer's confidence interval did not fall
	// within the largest overlapping clique, or the clique it fell in
	// did not reach quorum.
	FalseTicker
	// Candidate means the peer is inside the selected clique, per spec
	// §4.2.
	Candidate
	// SysPeer marks the single candidate whose offset is closest to the
	// clique's agreement point, mirroring ntpd's "sys.peer" marker.
	SysPeer
)

func (s Status) String() string {
	switch s {
	case Reject:
		return "reject"
	case FalseTicker:
		return "falsetick"
	case Candidate:
		return "candidate"
	case SysPeer:
		return "sys.peer"
	default:
		return "unknown"
	}
}
