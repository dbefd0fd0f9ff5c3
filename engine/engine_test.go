package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ntpsteer/ntpsteerd/clockctl"
	"github.com/ntpsteer/ntpsteerd/config"
	"github.com/ntpsteer/ntpsteerd/estimate"
	"github.com/ntpsteer/ntpsteerd/steerer"
)

// fakeExchanger hands out whatever measurement was last queued per peer,
// driving Engine.tick's real fan-out path instead of calling OnMeasurement
// directly.
type fakeExchanger struct {
	mu    sync.Mutex
	queue map[string]estimate.Measurement
}

func (f *fakeExchanger) set(measurements map[string]estimate.Measurement) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = measurements
}

func (f *fakeExchanger) Exchange(ctx context.Context, peerID string) (estimate.Measurement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.queue[peerID]
	if !ok {
		return estimate.Measurement{}, fmt.Errorf("fakeExchanger: no measurement queued for %s", peerID)
	}
	return m, nil
}

// fakeController records every Step/SetFrequencyPPB call instead of
// touching a clock, the same role fakeController plays in
// steerer_test.go.
type fakeController struct {
	now   time.Time
	steps []time.Duration
	freqs []float64
}

func (c *fakeController) Now() time.Time { return c.now }
func (c *fakeController) Step(offset time.Duration) error {
	c.steps = append(c.steps, offset)
	return nil
}
func (c *fakeController) SetFrequencyPPB(freqPPB float64) error {
	c.freqs = append(c.freqs, freqPPB)
	return nil
}
func (c *fakeController) CurrentFrequencyPPB() (float64, error) {
	if len(c.freqs) == 0 {
		return 0, nil
	}
	return c.freqs[len(c.freqs)-1], nil
}

func testConfig(t *testing.T, peers []string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Peers = peers
	cfg.TickInterval = time.Second
	cfg.PeerFilter.WarmupCount = 2
	cfg.PeerFilter.MinDelaysForR = 2
	cfg.Steerer.StatePath = t.TempDir() + "/state.yaml"
	return cfg
}

func meas(peer string, t1 time.Time, offset, delay time.Duration) estimate.Measurement {
	half := delay / 2
	return estimate.Measurement{
		PeerID: peer,
		T1:     t1,
		T2:     t1.Add(half + offset),
		T3:     t1.Add(half + offset),
		T4:     t1.Add(delay),
	}
}

func warmUp(t *testing.T, e *Engine, peer string, start time.Time, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * time.Second)
		e.OnMeasurement(meas(peer, ts, 0, 10*time.Millisecond))
	}
}

// S4: one peer's true offset jumps by 50ms; after agreeing measurements
// from three peers above threshold, the Steerer emits exactly one step
// within [45ms, 55ms].
func TestEngineStepEventAcrossThreePeers(t *testing.T) {
	peers := []string{"a", "b", "c"}
	cfg := testConfig(t, peers)
	ctrl := &fakeController{now: time.Now()}
	e, err := newWithController(cfg, nil, ctrl)
	require.NoError(t, err)

	start := time.Now()
	for _, p := range peers {
		warmUp(t, e, p, start, 4)
	}

	ts := start.Add(10 * time.Second)
	for round := 0; round < 2; round++ {
		for _, p := range peers {
			e.OnMeasurement(meas(p, ts, 50*time.Millisecond, 10*time.Millisecond))
			ts = ts.Add(time.Millisecond)
		}
		ts = ts.Add(time.Second)
	}

	result, err := e.runPipeline(ts)
	require.NoError(t, err)
	require.True(t, result.Selection.Set.Quorum)
	require.Equal(t, steerer.Step, result.Decision)
	require.Len(t, ctrl.steps, 1)
	magnitude := ctrl.steps[0]
	if magnitude < 0 {
		magnitude = -magnitude
	}
	require.GreaterOrEqual(t, magnitude, 45*time.Millisecond)
	require.LessOrEqual(t, magnitude, 55*time.Millisecond)
}

// S5: five peers, two report offsets clustered at +1s, three near 0.
// The Selector must choose the three-element cluster.
func TestEngineByzantineMinorityIsExcluded(t *testing.T) {
	peers := []string{"honest1", "honest2", "honest3", "liar1", "liar2"}
	cfg := testConfig(t, peers)
	ctrl := &fakeController{now: time.Now()}
	e, err := newWithController(cfg, nil, ctrl)
	require.NoError(t, err)

	start := time.Now()
	for _, p := range peers {
		warmUp(t, e, p, start, 4)
	}

	ts := start.Add(10 * time.Second)
	for _, p := range []string{"honest1", "honest2", "honest3"} {
		e.OnMeasurement(meas(p, ts, 0, 10*time.Millisecond))
		ts = ts.Add(time.Millisecond)
	}
	for _, p := range []string{"liar1", "liar2"} {
		e.OnMeasurement(meas(p, ts, time.Second, 10*time.Millisecond))
		ts = ts.Add(time.Millisecond)
	}

	result, err := e.runPipeline(ts)
	require.NoError(t, err)
	require.True(t, result.Selection.Set.Quorum)
	require.ElementsMatch(t, []string{"honest1", "honest2", "honest3"}, result.Selection.Set.PeerIDs)
}

// S6: the wall clock shifts by 30ms between measurements; every filter
// must detect the wall/monotonic discrepancy via the shared oracle and
// reset to Startup, leaving the Steerer with no usable input until
// warm-up completes again.
func TestEngineExternalJumpResetsAllFilters(t *testing.T) {
	peers := []string{"a", "b", "c"}
	cfg := testConfig(t, peers)
	cfg.PeerFilter.ExternalJumpTolerance = time.Millisecond
	ctrl := &fakeController{now: time.Now()}
	e, err := newWithController(cfg, nil, ctrl)
	require.NoError(t, err)

	start := time.Now()
	for _, p := range peers {
		warmUp(t, e, p, start, 4)
	}

	e.oracle.mu.Lock()
	e.oracle.currentActual = 30 * time.Millisecond
	e.oracle.currentExpected = 0
	e.oracle.mu.Unlock()

	ts := start.Add(10 * time.Second)
	for _, p := range peers {
		e.OnMeasurement(meas(p, ts, 0, 10*time.Millisecond))
	}

	for _, p := range peers {
		require.Equal(t, estimate.PhaseStartup, e.filters[p].Phase(), "peer %s should have reset to Startup", p)
	}

	result, err := e.runPipeline(ts)
	require.NoError(t, err)
	require.False(t, result.Selection.Set.Quorum)
}

// S7: step_limit = 1ms, a 50ms offset arrives. The process must not
// apply any clock step and Run must surface the step-limit exit code.
//
// Uses the mockgen-generated MockController rather than fakeController:
// gomock's strict-by-default Controller fails the test the moment Step
// or SetFrequencyPPB is called without a matching EXPECT(), which is
// exactly the property this test needs ("no step was ever attempted")
// and would take an extra assertion to get out of a hand-rolled fake.
func TestEngineSafetyBreachAppliesNoStepAndReportsExitCode(t *testing.T) {
	peers := []string{"a", "b", "c"}
	cfg := testConfig(t, peers)
	cfg.Steerer.StepLimit = time.Millisecond

	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	ctrl := clockctl.NewMockController(mockCtrl)

	e, err := newWithController(cfg, nil, ctrl)
	require.NoError(t, err)

	start := time.Now()
	for _, p := range peers {
		warmUp(t, e, p, start, 4)
	}

	ts := start.Add(10 * time.Second)
	for _, p := range peers {
		e.OnMeasurement(meas(p, ts, 50*time.Millisecond, 10*time.Millisecond))
		ts = ts.Add(time.Millisecond)
	}

	_, err = e.runPipeline(ts)
	require.Error(t, err)

	var fatal *FatalError
	require.True(t, errors.As(err, &fatal))
	require.Equal(t, ExitStepLimitBreach, fatal.Code)
}

// Run must propagate a fatal pipeline error (rather than log.Fatal or
// swallow it) so cmd/ntpsteerd can exit with the right code.
func TestEngineRunPropagatesFatalError(t *testing.T) {
	peers := []string{"a", "b", "c"}
	cfg := testConfig(t, peers)
	cfg.Steerer.StepLimit = time.Millisecond
	cfg.TickInterval = time.Millisecond
	ctrl := &fakeController{now: time.Now()}
	e, err := newWithController(cfg, nil, ctrl)
	require.NoError(t, err)

	start := time.Now()
	for _, p := range peers {
		warmUp(t, e, p, start, 4)
	}
	ts := start.Add(10 * time.Second)
	for _, p := range peers {
		e.OnMeasurement(meas(p, ts, 50*time.Millisecond, 10*time.Millisecond))
		ts = ts.Add(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	runErr := e.Run(ctx)

	var fatal *FatalError
	require.True(t, errors.As(runErr, &fatal))
	require.Equal(t, ExitStepLimitBreach, fatal.Code)
}

// Regression test for the RecordSelfStep sign/unit fix: a Step decision
// driven through a real tick() must not make the very next tick mistake
// its own clock step for an external jump and reset every filter.
func TestEngineSelfStepDoesNotTriggerExternalJumpReset(t *testing.T) {
	peers := []string{"a", "b", "c"}
	cfg := testConfig(t, peers)
	ctrl := &fakeController{now: time.Now()}
	exch := &fakeExchanger{}
	e, err := newWithController(cfg, exch, ctrl)
	require.NoError(t, err)

	start := time.Now()
	for _, p := range peers {
		warmUp(t, e, p, start, 4)
	}

	ctx := context.Background()
	ts := start.Add(10 * time.Second)
	round := func(offset time.Duration) {
		measurements := make(map[string]estimate.Measurement, len(peers))
		for _, p := range peers {
			measurements[p] = meas(p, ts, offset, 10*time.Millisecond)
			ts = ts.Add(time.Millisecond)
		}
		exch.set(measurements)
		require.NoError(t, e.tick(ctx))
		ts = ts.Add(time.Second)
	}

	// The first tick sees zero offset and does nothing; constant delays
	// give R = 0, so the second tick's 50ms offset steps at once.
	round(0)
	round(50 * time.Millisecond)

	require.Equal(t, steerer.Step, e.LastResult().Decision)
	require.Len(t, ctrl.steps, 1)
	stepOffset := ctrl.steps[0]

	// fakeController never touches a real clock, so the wall clock
	// never actually moves the way it would in production; fold that
	// same movement into the oracle's bookkeeping directly so the next
	// Tick sees what a real SysClock.Step would have produced.
	e.oracle.mu.Lock()
	e.oracle.prevWall = e.oracle.prevWall.Add(-stepOffset)
	e.oracle.mu.Unlock()

	round(50 * time.Millisecond)

	for _, p := range peers {
		require.Equal(t, estimate.PhaseRunning, e.filters[p].Phase(), "peer %s should not have reset after a self-induced step", p)
	}
}

var _ clockctl.Controller = &fakeController{}
