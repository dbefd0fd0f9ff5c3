// Package config implements ntpsteerd's top-level configuration surface
// (spec §6): YAML on disk, sane defaults, CLI-flag overrides layered on
// top, and validation before the Engine starts.
//
// Structure follows ptp/sptp/client/config.go layer for layer:
// sub-structs with their own Validate, a DefaultConfig, a ReadConfig
// that unmarshals YAML onto the defaults, and a PrepareConfig that
// layers CLI flags (tracked via a setFlags map, exactly the teacher's
// pattern) over the on-disk config before validating the result.
package config

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"

	"github.com/ntpsteer/ntpsteerd/clockctl"
	"github.com/ntpsteer/ntpsteerd/peerfilter"
	"github.com/ntpsteer/ntpsteerd/pollctl"
	"github.com/ntpsteer/ntpsteerd/selector"
	"github.com/ntpsteer/ntpsteerd/steerer"
)

// PeerFilterConfig mirrors peerfilter.Config with YAML tags; ntpsteerd
// keeps the pipeline packages free of YAML tags/dependencies so
// peerfilter/selector/steerer stay usable as plain libraries (spec §5:
// pipeline stages never import context or block, and by extension never
// import encoding concerns either).
type PeerFilterConfig struct {
	OutlierThresholdSigma   float64       `yaml:"outlier_threshold_sigma"`
	DelayBufferSize         int           `yaml:"delay_buffer_size"`
	InitialWander           float64       `yaml:"initial_wander"`
	MinWander               float64       `yaml:"min_wander"`
	NoiseCounterThreshold   int           `yaml:"noise_counter_threshold"`
	MeasurementFractionLow  float64       `yaml:"measurement_fraction_low"`
	MeasurementFractionHigh float64       `yaml:"measurement_fraction_high"`
	WarmupCount             int           `yaml:"warmup_count"`
	StartupR                float64       `yaml:"startup_r"`
	MinDelaysForR           int           `yaml:"min_delays_for_r"`
	UncertaintyCeiling      float64       `yaml:"uncertainty_ceiling"`
	UnreachableGrace        time.Duration `yaml:"unreachable_grace"`
	ExternalJumpTolerance   time.Duration `yaml:"external_jump_tolerance"`
}

// ToPeerFilterConfig converts to peerfilter.Config.
func (c PeerFilterConfig) ToPeerFilterConfig() peerfilter.Config {
	return peerfilter.Config{
		OutlierThresholdSigma:   c.OutlierThresholdSigma,
		DelayBufferSize:         c.DelayBufferSize,
		InitialWander:           c.InitialWander,
		MinWander:               c.MinWander,
		NoiseCounterThreshold:   c.NoiseCounterThreshold,
		MeasurementFractionLow:  c.MeasurementFractionLow,
		MeasurementFractionHigh: c.MeasurementFractionHigh,
		WarmupCount:             c.WarmupCount,
		StartupR:                c.StartupR,
		MinDelaysForR:           c.MinDelaysForR,
		UncertaintyCeiling:      c.UncertaintyCeiling,
		UnreachableGrace:        c.UnreachableGrace,
		ExternalJumpTolerance:   c.ExternalJumpTolerance,
	}
}

func peerFilterConfigFromDefaults(c peerfilter.Config) PeerFilterConfig {
	return PeerFilterConfig{
		OutlierThresholdSigma:   c.OutlierThresholdSigma,
		DelayBufferSize:         c.DelayBufferSize,
		InitialWander:           c.InitialWander,
		MinWander:               c.MinWander,
		NoiseCounterThreshold:   c.NoiseCounterThreshold,
		MeasurementFractionLow:  c.MeasurementFractionLow,
		MeasurementFractionHigh: c.MeasurementFractionHigh,
		WarmupCount:             c.WarmupCount,
		StartupR:                c.StartupR,
		MinDelaysForR:           c.MinDelaysForR,
		UncertaintyCeiling:      c.UncertaintyCeiling,
		UnreachableGrace:        c.UnreachableGrace,
		ExternalJumpTolerance:   c.ExternalJumpTolerance,
	}
}

// Validate checks the peer-filter config is sane.
func (c PeerFilterConfig) Validate() error {
	if c.OutlierThresholdSigma <= 0 {
		return fmt.Errorf("outlier_threshold_sigma must be positive")
	}
	if c.DelayBufferSize < 1 {
		return fmt.Errorf("delay_buffer_size must be at least 1")
	}
	if c.InitialWander <= 0 || c.MinWander <= 0 {
		return fmt.Errorf("initial_wander and min_wander must be positive")
	}
	if c.NoiseCounterThreshold < 1 {
		return fmt.Errorf("noise_counter_threshold must be at least 1")
	}
	if c.MeasurementFractionLow <= 0 || c.MeasurementFractionHigh <= c.MeasurementFractionLow {
		return fmt.Errorf("measurement_fraction_high must be greater than measurement_fraction_low, both positive")
	}
	if c.WarmupCount < 1 {
		return fmt.Errorf("warmup_count must be at least 1")
	}
	if c.UnreachableGrace <= 0 {
		return fmt.Errorf("unreachable_grace must be greater than zero")
	}
	return nil
}

// SelectorConfig mirrors selector.Config.
type SelectorConfig struct {
	MinQuorum            int     `yaml:"min_quorum"`
	MaxSourceUncertainty float64 `yaml:"max_source_uncertainty"`
}

// ToSelectorConfig converts to selector.Config.
func (c SelectorConfig) ToSelectorConfig() selector.Config {
	return selector.Config{MinQuorum: c.MinQuorum, MaxSourceUncertainty: c.MaxSourceUncertainty}
}

// Validate checks the selector config is sane.
func (c SelectorConfig) Validate() error {
	if c.MinQuorum < 1 {
		return fmt.Errorf("min_quorum must be at least 1")
	}
	if c.MaxSourceUncertainty <= 0 {
		return fmt.Errorf("max_source_uncertainty must be positive")
	}
	return nil
}

// SteererConfig mirrors steerer.Config.
type SteererConfig struct {
	StepThreshold           time.Duration `yaml:"step_threshold"`
	StepLimit               time.Duration `yaml:"step_limit"`
	AccumulatedStepLimit    time.Duration `yaml:"accumulated_step_limit"`
	MaxSlewFreqPPB          float64       `yaml:"max_slew_freq_ppb"`
	MinSlewInterval         time.Duration `yaml:"min_slew_interval"`
	ResidualOffsetPolicy    string        `yaml:"residual_offset_policy"`
	ResidualFrequencyPolicy string        `yaml:"residual_frequency_policy"`
	AdjustmentDeadline      time.Duration `yaml:"adjustment_deadline"`
	StatePath               string        `yaml:"state_path"`
}

// ToSteererConfig converts to steerer.Config.
func (c SteererConfig) ToSteererConfig() steerer.Config {
	return steerer.Config{
		StepThreshold:           c.StepThreshold,
		StepLimit:               c.StepLimit,
		AccumulatedStepLimit:    c.AccumulatedStepLimit,
		MaxSlewFreqPPB:          c.MaxSlewFreqPPB,
		MinSlewInterval:         c.MinSlewInterval,
		ResidualOffsetPolicy:    c.ResidualOffsetPolicy,
		ResidualFrequencyPolicy: c.ResidualFrequencyPolicy,
		AdjustmentDeadline:      c.AdjustmentDeadline,
		StatePath:               c.StatePath,
	}
}

// Validate checks the steerer config is sane.
func (c SteererConfig) Validate() error {
	if c.StepThreshold <= 0 {
		return fmt.Errorf("step_threshold must be greater than zero")
	}
	if c.StepLimit <= 0 {
		return fmt.Errorf("step_limit must be greater than zero")
	}
	if c.AccumulatedStepLimit < c.StepLimit {
		return fmt.Errorf("accumulated_step_limit must be at least step_limit")
	}
	if c.MaxSlewFreqPPB <= 0 {
		return fmt.Errorf("max_slew_freq_ppb must be positive")
	}
	if c.MinSlewInterval <= 0 {
		return fmt.Errorf("min_slew_interval must be greater than zero")
	}
	if c.StatePath == "" {
		return fmt.Errorf("state_path must be specified")
	}
	return nil
}

// PollConfig mirrors the PollController's tunables.
type PollConfig struct {
	MinPollExponent int               `yaml:"min_poll_exponent"`
	MaxPollExponent int               `yaml:"max_poll_exponent"`
	Backoff         PollBackoffConfig `yaml:"backoff"`
}

// PollBackoffConfig mirrors pollctl.BackoffConfig.
type PollBackoffConfig struct {
	Mode     string `yaml:"mode"`
	Step     int    `yaml:"step"`
	MaxValue int    `yaml:"max_value"`
}

// ToBackoffConfig converts to pollctl.BackoffConfig.
func (c PollBackoffConfig) ToBackoffConfig() pollctl.BackoffConfig {
	return pollctl.BackoffConfig{Mode: pollctl.BackoffMode(c.Mode), Step: c.Step, MaxValue: c.MaxValue}
}

// Validate checks the backoff config is sane, following
// BackoffConfig.Validate in the teacher's config.go.
func (c PollBackoffConfig) Validate() error {
	mode := pollctl.BackoffMode(c.Mode)
	if mode != pollctl.BackoffNone && mode != pollctl.BackoffFixed && mode != pollctl.BackoffLinear && mode != pollctl.BackoffExponential {
		return fmt.Errorf("backoff mode must be one of %q, %q, %q, %q", pollctl.BackoffNone, pollctl.BackoffFixed, pollctl.BackoffLinear, pollctl.BackoffExponential)
	}
	if mode != pollctl.BackoffNone {
		if c.Step <= 0 {
			return fmt.Errorf("backoff step must be positive")
		}
		if mode != pollctl.BackoffFixed && c.MaxValue <= 0 {
			return fmt.Errorf("backoff max_value must be positive")
		}
	}
	return nil
}

// Validate checks the poll config is sane.
func (c PollConfig) Validate() error {
	if c.MinPollExponent > c.MaxPollExponent {
		return fmt.Errorf("min_poll_exponent must not exceed max_poll_exponent")
	}
	return c.Backoff.Validate()
}

// Config is ntpsteerd's full on-disk configuration, spec §6.
type Config struct {
	Peers        []string      `yaml:"peers"`
	TickInterval time.Duration `yaml:"tick_interval"`
	FreeRunning  bool          `yaml:"free_running"` // use clockctl.FreeRunningClock instead of SysClock

	// MonitoringPort serves the JSON status endpoint (telemetry.JSONStats).
	MonitoringPort int `yaml:"monitoring_port"`
	// MetricsPort serves /metrics (telemetry.PrometheusExporter).
	MetricsPort int `yaml:"metrics_port"`
	// MetricsAggregationWindow is how often sys-stats and the
	// Prometheus scrape loop refresh, matching the teacher's field of
	// the same name and role.
	MetricsAggregationWindow time.Duration `yaml:"metrics_aggregation_window"`

	PeerFilter PeerFilterConfig `yaml:"peer_filter"`
	Selector   SelectorConfig   `yaml:"selector"`
	Steerer    SteererConfig    `yaml:"steerer"`
	Poll       PollConfig       `yaml:"poll"`
}

// DefaultConfig returns Config initialized with spec §6's defaults.
func DefaultConfig() *Config {
	steererDefaults := steerer.DefaultConfig()
	return &Config{
		TickInterval:             time.Second,
		MonitoringPort:           4269,
		MetricsPort:              4270,
		MetricsAggregationWindow: 60 * time.Second,
		PeerFilter:               peerFilterConfigFromDefaults(peerfilter.DefaultConfig()),
		Selector: SelectorConfig{
			MinQuorum:            selector.DefaultConfig().MinQuorum,
			MaxSourceUncertainty: selector.DefaultConfig().MaxSourceUncertainty,
		},
		Steerer: SteererConfig{
			StepThreshold:           steererDefaults.StepThreshold,
			StepLimit:               steererDefaults.StepLimit,
			AccumulatedStepLimit:    steererDefaults.AccumulatedStepLimit,
			MaxSlewFreqPPB:          steererDefaults.MaxSlewFreqPPB,
			MinSlewInterval:         steererDefaults.MinSlewInterval,
			ResidualOffsetPolicy:    steererDefaults.ResidualOffsetPolicy,
			ResidualFrequencyPolicy: steererDefaults.ResidualFrequencyPolicy,
			AdjustmentDeadline:      steererDefaults.AdjustmentDeadline,
			StatePath:               steererDefaults.StatePath,
		},
		Poll: PollConfig{
			MinPollExponent: 0,
			MaxPollExponent: 10,
			Backoff:         PollBackoffConfig{Mode: "exponential", Step: 2, MaxValue: 64},
		},
	}
}

// Validate checks the whole config is sane, per ptp/sptp/client.Config's
// Validate shape: one field-level check per line, sub-structs delegate
// to their own Validate.
func (c *Config) Validate() error {
	if len(c.Peers) == 0 {
		return fmt.Errorf("at least one peer must be specified")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be greater than zero")
	}
	if c.MonitoringPort < 0 {
		return fmt.Errorf("monitoring_port must not be negative")
	}
	if c.MetricsPort < 0 {
		return fmt.Errorf("metrics_port must not be negative")
	}
	if c.MetricsAggregationWindow <= 0 {
		return fmt.Errorf("metrics_aggregation_window must be greater than zero")
	}
	if err := c.PeerFilter.Validate(); err != nil {
		return fmt.Errorf("invalid peer_filter config: %w", err)
	}
	if err := c.Selector.Validate(); err != nil {
		return fmt.Errorf("invalid selector config: %w", err)
	}
	if err := c.Steerer.Validate(); err != nil {
		return fmt.Errorf("invalid steerer config: %w", err)
	}
	if err := c.Poll.Validate(); err != nil {
		return fmt.Errorf("invalid poll config: %w", err)
	}
	return nil
}

// ReadConfig reads and unmarshals YAML config from path onto
// DefaultConfig, matching ReadConfig in the teacher's config.go.
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

// PrepareConfig layers CLI flag overrides (tracked via setFlags, exactly
// the teacher's pattern) over an on-disk config (or the defaults if
// cfgPath is empty), then validates the result.
func PrepareConfig(cfgPath string, peers []string, tickInterval time.Duration, setFlags map[string]bool) (*Config, error) {
	cfg := DefaultConfig()
	var err error
	warn := func(name string) {
		log.Warningf("config: overriding %s from CLI flag", name)
	}

	if cfgPath != "" {
		cfg, err = ReadConfig(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("reading config from %q: %w", cfgPath, err)
		}
	}

	if len(peers) > 0 {
		warn("peers")
		cfg.Peers = peers
	}
	if setFlags["tickinterval"] {
		warn("tickinterval")
		cfg.TickInterval = tickInterval
	}
	if setFlags["freerunning"] {
		warn("freerunning")
		cfg.FreeRunning = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	log.Debugf("config: %+v", cfg)
	return cfg, nil
}

// NewClockController builds the clockctl.Controller implied by
// cfg.FreeRunning.
func NewClockController(cfg *Config) clockctl.Controller {
	if cfg.FreeRunning {
		return clockctl.NewFreeRunningClock()
	}
	return &clockctl.SysClock{}
}
