// Package estimate holds the plain data types that flow between pipeline
// stages: Measurement (as delivered by the transport layer), PeerState (the
// per-source Kalman state), Estimate (what a PeerFilter publishes), and the
// types the Selector, Combiner and Steerer pass along.
package estimate

import "time"

// Measurement is a single four-timestamp NTP exchange with one peer.
// It is immutable once constructed; the transport layer is the only
// producer.
type Measurement struct {
	PeerID string

	T1 time.Time // client transmit
	T2 time.Time // server receive
	T3 time.Time // server transmit
	T4 time.Time // client receive

	// RemoteUncertainty is the peer's self-reported UTC uncertainty
	// (root dispersion + root delay/2, or equivalent), folded into the
	// combiner's covariance per spec §4.3.
	RemoteUncertainty time.Duration
	LeapIndicator     LeapIndicator
}

// LeapIndicator mirrors the two-bit NTP leap indicator field.
type LeapIndicator uint8

// Leap indicator values, as carried on the wire.
const (
	LeapNone LeapIndicator = 0
	LeapAdd  LeapIndicator = 1
	LeapSub  LeapIndicator = 2
	LeapSync LeapIndicator = 3 // unsynchronized
)

// ForwardLeg returns r1 = t2 - t1.
func (m Measurement) ForwardLeg() time.Duration {
	return m.T2.Sub(m.T1)
}

// BackwardLeg returns r2 = t4 - t3.
func (m Measurement) BackwardLeg() time.Duration {
	return m.T4.Sub(m.T3)
}

// Offset returns the raw offset estimate Δm = (r1 - r2) / 2.
//
// This is the same formula as protocol/ntp.CalculateOffset in the teacher's
// NTP helper, expressed directly against the four timestamps rather than
// through pre-derived "real time" quantities, since the Kalman filter needs
// r1/r2/Δm/d individually, not just the offset.
func (m Measurement) Offset() time.Duration {
	return (m.ForwardLeg() - m.BackwardLeg()) / 2
}

// Delay returns the round-trip delay d = r1 + r2.
//
// Same shape as protocol/ntp.AvgNetworkDelay, without the abs() — a
// negative delay here is a legitimate (if pathological) sample that the
// pop filter downstream gets to judge, not something to fold silently.
func (m Measurement) Delay() time.Duration {
	return m.ForwardLeg() + m.BackwardLeg()
}

// LocalTime is the local receive timestamp, used as the reference instant
// tl for this sample.
func (m Measurement) LocalTime() time.Time {
	return m.T4
}
