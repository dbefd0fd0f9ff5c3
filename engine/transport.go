package engine

import (
	"context"
	"time"

	"github.com/ntpsteer/ntpsteerd/estimate"
)

// Transport is the Engine's inbound boundary (spec §6): whatever drives
// measurements in — a real NTP client session, a replay log, or a test
// — calls these three methods. Engine implements Transport itself, the
// same way SPTP's handleAnnounce/handleSync are the inbound boundary
// its UDP listener calls into.
type Transport interface {
	// OnMeasurement feeds one accepted four-timestamp exchange with a
	// peer into that peer's PeerFilter.
	OnMeasurement(m estimate.Measurement)
	// OnUnreachable tells the Engine a poll to peerID failed or timed
	// out at instant now, so its PeerFilter can apply the unreachable
	// grace-period rule.
	OnUnreachable(peerID string, now time.Time)
	// OnReset forces peerID's PeerFilter back to Startup, e.g. after a
	// KoD packet or an operator-requested resync.
	OnReset(peerID string)
}

// Exchanger performs one NTP exchange against a peer and returns the
// resulting Measurement. Engine's tick loop uses an Exchanger, when one
// is configured, to drive its own polling — mirroring
// ptp/sptp/client.Client.RunOnce, which performs one GM exchange and
// returns a RunResult. An Engine with no Exchanger is purely
// push-driven: something else calls Transport's methods directly (this
// is how engine_test.go drives the spec §8 scenarios without a real
// network).
type Exchanger interface {
	Exchange(ctx context.Context, peerID string) (estimate.Measurement, error)
}
