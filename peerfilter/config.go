package peerfilter

import "time"

// Config carries the per-filter tunables enumerated in spec §6. Durations
// are used where the spec gives seconds, following the teacher's config
// style (ptp/sptp/client.Config uses time.Duration fields throughout
// rather than raw floats).
type Config struct {
	// OutlierThresholdSigma is the Z-score above which a delay sample is
	// rejected by the pop filter (default 5).
	OutlierThresholdSigma float64

	// DelayBufferSize is the ring buffer length for delay samples (default 8).
	DelayBufferSize int

	// InitialWander is the starting value of A, the frequency
	// random-walk coefficient (default 1e-16).
	InitialWander float64

	// MinWander is the floor A_min below which A is never allowed to drop.
	MinWander float64

	// NoiseCounterThreshold is the cap T such that M transitions fire at
	// ±(T+1) (default 16, so transitions happen at ±17 per spec §6/§9).
	NoiseCounterThreshold int

	// MeasurementFractionLow/High are the R/S thresholds for the
	// poll-cadence vote (defaults 0.4 / 0.6).
	MeasurementFractionLow  float64
	MeasurementFractionHigh float64

	// WarmupCount is K_warmup, the number of accepted measurements
	// required before Startup -> Running.
	WarmupCount int

	// StartupR is the conservative measurement-noise variance used while
	// the delay ring buffer doesn't yet have MinDelaysForR samples.
	StartupR float64

	// MinDelaysForR is the minimum ring occupancy before the sample
	// variance of the ring is trusted as R.
	MinDelaysForR int

	// UncertaintyCeiling is the sqrt(P00) above which a filter marks
	// itself unusable regardless of phase.
	UncertaintyCeiling float64

	// UnreachableGrace forces a peer into Startup if no measurement has
	// been accepted for this long.
	UnreachableGrace time.Duration

	// ExternalJumpTolerance is the allowed discrepancy between the
	// expected and observed wall/monotonic offset before a filter
	// considers the wall clock to have jumped (spec §4.1); it is a base
	// tolerance, with a drift budget added per elapsed second by the
	// caller.
	ExternalJumpTolerance time.Duration
}

// DefaultConfig returns the spec §6 defaults.
func DefaultConfig() Config {
	return Config{
		OutlierThresholdSigma:   5,
		DelayBufferSize:         8,
		InitialWander:           1e-16,
		MinWander:               1e-20,
		NoiseCounterThreshold:   16,
		MeasurementFractionLow:  0.4,
		MeasurementFractionHigh: 0.6,
		WarmupCount:             8,
		StartupR:                1e-4, // 10ms^2-ish conservative variance while cold
		MinDelaysForR:           4,
		UncertaintyCeiling:      0.250,
		UnreachableGrace:        2 * time.Minute,
		ExternalJumpTolerance:   5 * time.Millisecond,
	}
}
