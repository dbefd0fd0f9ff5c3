// Package engine orchestrates the clock-control pipeline (spec §3): one
// PeerFilter per configured peer, feeding a Selector, a Combiner, and a
// single Steerer, on a fixed tick.
//
// Engine.Run's tick loop — a time.Timer-driven outer loop, a tick
// closure that opens an errgroup.Group per tick, fans out one goroutine
// per peer writing into a mutex-guarded results map, waits, then folds
// once single-threaded — is lifted directly from
// ptp/sptp/client.SPTP.runInternal and its tick closure. What differs
// from the teacher is what happens in the single-threaded fold:
// SPTP.processResults drives one servo per grandmaster candidate,
// ntpsteerd's runPipeline runs the whole Selector → Combiner → Steerer
// chain once over every peer's latest Estimate.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ntpsteer/ntpsteerd/clockctl"
	"github.com/ntpsteer/ntpsteerd/combiner"
	"github.com/ntpsteer/ntpsteerd/config"
	"github.com/ntpsteer/ntpsteerd/estimate"
	"github.com/ntpsteer/ntpsteerd/peerfilter"
	"github.com/ntpsteer/ntpsteerd/pollctl"
	"github.com/ntpsteer/ntpsteerd/selector"
	"github.com/ntpsteer/ntpsteerd/steerer"
)

// PipelineResult is one tick's full outcome, kept around for
// diagnostics (the ntpsteercheck CLI and the telemetry JSON surface
// read the Engine's last result rather than re-running the pipeline).
type PipelineResult struct {
	At           time.Time
	Selection    selector.Result
	Combined     combiner.Combined
	Decision     steerer.Decision
	PollExponent int
	HasPollVote  bool
}

// Engine ties the pipeline stages together and owns the tick loop.
type Engine struct {
	cfg *config.Config

	mu        sync.Mutex
	filters   map[string]*peerfilter.PeerFilter
	estimates map[string]estimate.Estimate

	oracle      *wallMonoOracle
	selectorCfg selector.Config
	steer       *steerer.Steerer
	poll        *pollctl.Controller
	controller  clockctl.Controller
	exchanger   Exchanger

	resultMu sync.Mutex
	last     PipelineResult
}

// New builds an Engine for every peer in cfg.Peers. exchanger may be
// nil: an Engine with no Exchanger relies entirely on Transport calls
// from elsewhere (e.g. a test, or a separately-run listener) to feed it
// measurements, and its tick loop only runs the Selector/Combiner/
// Steerer fold.
func New(cfg *config.Config, exchanger Exchanger) (*Engine, error) {
	return newWithController(cfg, exchanger, config.NewClockController(cfg))
}

// newWithController is New with the ClockController injected directly,
// bypassing config.NewClockController's FreeRunning/SysClock choice.
// Exported tests have no other way to observe exactly what the Steerer
// applied, since both of config's own controllers either touch the
// real host clock or silently discard what they're told.
func newWithController(cfg *config.Config, exchanger Exchanger, controller clockctl.Controller) (*Engine, error) {
	steer, err := steerer.New(cfg.Steerer.ToSteererConfig(), controller)
	if err != nil {
		return nil, fmt.Errorf("engine: constructing steerer: %w", err)
	}

	oracle := newWallMonoOracle()
	pfCfg := cfg.PeerFilter.ToPeerFilterConfig()

	filters := make(map[string]*peerfilter.PeerFilter, len(cfg.Peers))
	for _, peerID := range cfg.Peers {
		filters[peerID] = peerfilter.New(peerID, pfCfg, oracle)
	}

	return &Engine{
		cfg:         cfg,
		filters:     filters,
		estimates:   make(map[string]estimate.Estimate, len(cfg.Peers)),
		oracle:      oracle,
		selectorCfg: cfg.Selector.ToSelectorConfig(),
		steer:       steer,
		poll:        pollctl.New(cfg.Poll.MinPollExponent, cfg.Poll.MaxPollExponent, cfg.Poll.Backoff.ToBackoffConfig()),
		controller:  controller,
		exchanger:   exchanger,
	}, nil
}

// OnMeasurement implements Transport: it is the only way a peer's
// PeerFilter advances.
func (e *Engine) OnMeasurement(m estimate.Measurement) {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, ok := e.filters[m.PeerID]
	if !ok {
		log.Warningf("engine: measurement from unconfigured peer %q, ignoring", m.PeerID)
		return
	}
	est := f.Accept(m)
	est.RemoteUnc = m.RemoteUncertainty
	e.estimates[m.PeerID] = est
	e.poll.OnSuccess(m.PeerID)
}

// OnUnreachable implements Transport.
func (e *Engine) OnUnreachable(peerID string, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, ok := e.filters[peerID]
	if !ok {
		return
	}
	f.OnUnreachable(now)
	e.estimates[peerID] = stampUnusable(e.estimates[peerID], peerID)
	e.poll.OnFailure(peerID)
}

// OnReset implements Transport.
func (e *Engine) OnReset(peerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, ok := e.filters[peerID]
	if !ok {
		return
	}
	f.Reset()
	delete(e.estimates, peerID)
}

func stampUnusable(est estimate.Estimate, peerID string) estimate.Estimate {
	est.PeerID = peerID
	est.Usable = false
	return est
}

// LastResult returns the most recently completed tick's pipeline
// outcome, for diagnostics.
func (e *Engine) LastResult() PipelineResult {
	e.resultMu.Lock()
	defer e.resultMu.Unlock()
	return e.last
}

// Estimates returns a snapshot copy of every peer's latest published
// Estimate, for diagnostics and telemetry reporting.
func (e *Engine) Estimates() map[string]estimate.Estimate {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]estimate.Estimate, len(e.estimates))
	for k, v := range e.estimates {
		out[k] = v
	}
	return out
}

// Run starts the tick loop and blocks until ctx is cancelled or a fatal
// condition is hit, mirroring SPTP.runInternal: a time.Timer fires at
// cfg.TickInterval, each firing runs one tick, ctx.Done() stops the
// loop cleanly.
func (e *Engine) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			timer.Reset(e.cfg.TickInterval)
			if err := e.tick(ctx); err != nil {
				return err
			}
		}
	}
}

// tick runs one fan-out-then-fold cycle: if an Exchanger is configured,
// one exchange per peer runs concurrently via errgroup, each result fed
// back through Transport under a shared mutex (the same shape as
// SPTP.runInternal's tick closure); then runPipeline folds whatever the
// filters currently hold.
func (e *Engine) tick(ctx context.Context) error {
	e.oracle.Tick()

	if e.exchanger != nil {
		eg, ictx := errgroup.WithContext(ctx)
		var lock sync.Mutex
		now := time.Now()

		for peerID := range e.filters {
			peerID := peerID
			eg.Go(func() error {
				m, err := e.exchanger.Exchange(ictx, peerID)
				lock.Lock()
				defer lock.Unlock()
				if err != nil {
					log.Debugf("engine: exchange with %s failed: %v", peerID, err)
					e.OnUnreachable(peerID, now)
					return nil
				}
				e.OnMeasurement(m)
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			log.Warningf("engine: tick fan-out returned an error: %v", err)
		}
	}

	result, err := e.runPipeline(time.Now())
	if err != nil {
		return err
	}

	e.resultMu.Lock()
	e.last = result
	e.resultMu.Unlock()
	return nil
}

// runPipeline is the single-threaded fold, run once per tick after
// every peer's measurement (or lack of one) for that tick has been
// applied: the processResults-equivalent of the teacher's pattern, but
// running the Selector → Combiner → Steerer chain instead of one servo
// per grandmaster.
func (e *Engine) runPipeline(now time.Time) (PipelineResult, error) {
	e.mu.Lock()
	snapshot := make([]estimate.Estimate, 0, len(e.estimates))
	for _, est := range e.estimates {
		snapshot = append(snapshot, est)
	}
	e.mu.Unlock()

	result := PipelineResult{At: now}
	sel := selector.Select(snapshot, e.selectorCfg)
	result.Selection = sel

	e.updatePollVotes(&result)

	if !sel.Set.Quorum {
		log.Debugf("engine: no quorum this tick (%d candidates)", len(sel.Set.PeerIDs))
		return result, nil
	}

	chosen := make([]estimate.Estimate, 0, len(sel.Set.PeerIDs))
	wanted := make(map[string]struct{}, len(sel.Set.PeerIDs))
	for _, id := range sel.Set.PeerIDs {
		wanted[id] = struct{}{}
	}
	for _, est := range snapshot {
		if _, ok := wanted[est.PeerID]; ok {
			chosen = append(chosen, est)
		}
	}

	combined, err := combiner.Combine(chosen)
	if err != nil {
		return result, fmt.Errorf("engine: combining selected peers: %w", err)
	}
	result.Combined = combined

	decision, err := e.steer.Act(combined, now)
	result.Decision = decision
	if err != nil {
		var breach *steerer.LimitBreachError
		if errors.As(err, &breach) {
			return result, &FatalError{Code: exitCodeForBreach(breach), Err: breach}
		}
		if errors.Is(err, clockctl.ErrDeadlineExceeded) {
			log.Warningf("engine: clock adjustment timed out, retrying next tick: %v", err)
			return result, nil
		}
		return result, &FatalError{Code: ExitClockControllerFatal, Err: err}
	}
	if decision == steerer.Step {
		// applyStep steps the clock by -delta (it steers the offset
		// away, not toward it); the oracle must record the same sign
		// and units or it mistakes our own step for an external jump
		// on the very next tick.
		stepOffset := time.Duration(-combined.X.Offset * float64(time.Second))
		e.oracle.RecordSelfStep(stepOffset)
	}

	return result, nil
}

func (e *Engine) updatePollVotes(result *PipelineResult) {
	e.mu.Lock()
	votes := make(map[string]int, len(e.filters))
	for peerID, f := range e.filters {
		est, ok := e.estimates[peerID]
		if !ok || !est.Usable {
			continue
		}
		votes[peerID] = e.poll.DesiredExponent(peerID, f.DesiredPollExponent())
	}
	e.mu.Unlock()

	exp, ok := pollctl.GlobalExponent(votes)
	result.PollExponent = exp
	result.HasPollVote = ok
}

func exitCodeForBreach(breach *steerer.LimitBreachError) int {
	if breach.Limit == "accumulated_step_limit" {
		return ExitAccumulatedStepLimitBreach
	}
	return ExitStepLimitBreach
}
