package steerer

import "time"

// Config carries the Steerer's tunables, spec §6.
type Config struct {
	// StepThreshold is the |Δ| magnitude above which Step is chosen
	// (default 10ms).
	StepThreshold time.Duration

	// StepLimit is the per-step magnitude cap; exceeding it is fatal.
	StepLimit time.Duration

	// AccumulatedStepLimit is the lifetime sum-of-|step| cap; exceeding
	// it is fatal.
	AccumulatedStepLimit time.Duration

	// MaxSlewFreqPPB bounds the frequency offset a Slew decision may
	// apply on top of -ω, per spec §4.4's "within ±200 ppm" (expressed
	// here in ppb, consistent with ClockController.SetFrequencyPPB).
	MaxSlewFreqPPB float64

	// MinSlewInterval is the minimum duration a Slew decision assumes it
	// has to apply its frequency offset over (spec §4.4's "≥8s").
	MinSlewInterval time.Duration

	// ResidualOffsetPolicy/ResidualFrequencyPolicy are govaluate
	// formulas over (delta, omega, p00, p11), spec §6.
	ResidualOffsetPolicy    string
	ResidualFrequencyPolicy string

	// AdjustmentDeadline bounds how long a single clock adjustment call
	// may take before it's treated as failed (spec §5).
	AdjustmentDeadline time.Duration

	// StatePath is where PersistedState (accumulated step, last
	// frequency) is read from at startup and written to after every
	// successful adjustment.
	StatePath string
}

// DefaultConfig returns the spec §6 defaults.
func DefaultConfig() Config {
	return Config{
		StepThreshold:           10 * time.Millisecond,
		StepLimit:               time.Second,
		AccumulatedStepLimit:    10 * time.Second,
		MaxSlewFreqPPB:          200000, // 200 ppm
		MinSlewInterval:         8 * time.Second,
		ResidualOffsetPolicy:    DefaultResidualOffsetPolicy,
		ResidualFrequencyPolicy: DefaultResidualFrequencyPolicy,
		AdjustmentDeadline:      5 * time.Second,
		StatePath:               "/var/lib/ntpsteerd/steering-state.yaml",
	}
}
