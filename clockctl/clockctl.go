// Package clockctl implements the Steerer's ClockController collaborator
// (spec §6): stepping and slewing the host clock, and persisting the
// accumulated-step safety counter across restarts.
//
// Controller and its SysClock/FreeRunningClock implementations are a
// direct generalization of ptp/sptp/client's Clock interface and its
// SysClock/FreeRunningClock, themselves built on clock.AdjFreqPPB /
// clock.Step / clock.FrequencyPPB, which this package reimplements
// directly against golang.org/x/sys/unix's ClockAdjtime/Timex rather than
// importing the teacher's own clock package, since that package's
// adjtime wrapper isn't part of what's carried forward into this domain.
package clockctl

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// ppbToTimexPPM converts parts-per-billion to the fixed-point parts-per-
// million clock_adjtime(2) expects (16-bit fractional part per man(2)
// clock_adjtime).
const ppbToTimexPPM = 65.536

//go:generate go run go.uber.org/mock/mockgen -source=clockctl.go -destination=mock_clockctl.go -package=clockctl

// Controller is the narrow capability interface the Steerer depends on:
// now/step/set_frequency/current_frequency, per spec §6.
type Controller interface {
	Now() time.Time
	Step(offset time.Duration) error
	SetFrequencyPPB(freqPPB float64) error
	CurrentFrequencyPPB() (float64, error)
}

// SysClock steers CLOCK_REALTIME via clock_adjtime(2).
type SysClock struct{}

// Now returns the current wall-clock time.
func (c *SysClock) Now() time.Time { return time.Now() }

// Step jumps CLOCK_REALTIME by offset.
func (c *SysClock) Step(offset time.Duration) error {
	sign := int64(1)
	if offset < 0 {
		sign = -1
		offset = -offset
	}
	tx := &unix.Timex{}
	tx.Modes = unix.ADJ_SETOFFSET | unix.ADJ_NANO
	sec := int64(offset / time.Second)
	nsec := int64(offset % time.Second)
	tx.Time.Sec = sign * sec
	tx.Time.Usec = sign * nsec
	if tx.Time.Usec < 0 {
		tx.Time.Sec--
		tx.Time.Usec += 1000000000
	}
	state, err := unix.ClockAdjtime(unix.CLOCK_REALTIME, tx)
	if err == nil && state != unix.TIME_OK {
		log.Warningf("clockctl: clock state %d is not TIME_OK after step", state)
	}
	return err
}

// SetFrequencyPPB sets the frequency offset of CLOCK_REALTIME.
func (c *SysClock) SetFrequencyPPB(freqPPB float64) error {
	tx := &unix.Timex{}
	tx.Freq = int64(freqPPB * ppbToTimexPPM)
	tx.Modes = unix.ADJ_FREQUENCY
	state, err := unix.ClockAdjtime(unix.CLOCK_REALTIME, tx)
	if err == nil && state != unix.TIME_OK {
		log.Warningf("clockctl: clock state %d is not TIME_OK after frequency adjust", state)
	}
	return err
}

// CurrentFrequencyPPB reads back the currently applied frequency offset.
func (c *SysClock) CurrentFrequencyPPB() (float64, error) {
	tx := &unix.Timex{}
	state, err := unix.ClockAdjtime(unix.CLOCK_REALTIME, tx)
	if err != nil {
		return 0, err
	}
	if state != unix.TIME_OK {
		log.Warningf("clockctl: clock state %d is not TIME_OK while reading frequency", state)
	}
	return float64(tx.Freq) / ppbToTimexPPM, nil
}

// FreeRunningClock does nothing; used in dry-run/test configurations the
// same way ptp/sptp/client's FreeRunningClock lets SPTP run without
// touching the host clock.
type FreeRunningClock struct {
	freqPPB float64
	now     func() time.Time
}

// NewFreeRunningClock builds a FreeRunningClock using time.Now for Now().
func NewFreeRunningClock() *FreeRunningClock {
	return &FreeRunningClock{now: time.Now}
}

// Now returns the wall-clock time (never stepped by this controller).
func (c *FreeRunningClock) Now() time.Time { return c.now() }

// Step is a no-op; it only logs what would have happened.
func (c *FreeRunningClock) Step(offset time.Duration) error {
	log.Infof("clockctl: free-running clock would have stepped by %v", offset)
	return nil
}

// SetFrequencyPPB records the requested frequency without applying it.
func (c *FreeRunningClock) SetFrequencyPPB(freqPPB float64) error {
	c.freqPPB = freqPPB
	return nil
}

// CurrentFrequencyPPB returns the last recorded frequency.
func (c *FreeRunningClock) CurrentFrequencyPPB() (float64, error) {
	return c.freqPPB, nil
}

// ErrDeadlineExceeded is returned by WithDeadline when a clock
// adjustment doesn't complete within the configured deadline (spec §5's
// cancellation/timeout rule: a failed adjustment is retryable and leaves
// state unchanged).
var ErrDeadlineExceeded = fmt.Errorf("clockctl: adjustment deadline exceeded")

// WithDeadline wraps a Controller so Step/SetFrequencyPPB calls that take
// longer than deadline return ErrDeadlineExceeded instead of blocking the
// Steerer indefinitely.
type WithDeadline struct {
	Controller
	Deadline time.Duration
}

// Step runs the inner controller's Step with a deadline.
func (d WithDeadline) Step(offset time.Duration) error {
	return runWithDeadline(d.Deadline, func() error { return d.Controller.Step(offset) })
}

// SetFrequencyPPB runs the inner controller's SetFrequencyPPB with a deadline.
func (d WithDeadline) SetFrequencyPPB(freqPPB float64) error {
	return runWithDeadline(d.Deadline, func() error { return d.Controller.SetFrequencyPPB(freqPPB) })
}

func runWithDeadline(d time.Duration, f func() error) error {
	done := make(chan error, 1)
	go func() { done <- f() }()
	select {
	case err := <-done:
		return err
	case <-time.After(d):
		return ErrDeadlineExceeded
	}
}
