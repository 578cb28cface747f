package estimator_test

import (
	"testing"
	"time"

	"github.com/cdkim/fairamp/pkg/fairamp/env"
	"github.com/cdkim/fairamp/pkg/fairamp/estimator"
	"github.com/cdkim/fairamp/pkg/fairamp/kernel"
	"github.com/cdkim/fairamp/pkg/fairamp/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEnv(numThreads int) (*env.Environment, *env.Command) {
	c := &env.Command{
		Num:        0,
		NumThreads: numThreads,
		State:      env.Running(123),
		RoundSlice: env.RoundSlice{Fast: env.BaseRoundSlice, Slow: env.BaseRoundSlice},
	}
	e := env.New([]*env.Command{c}, 2, 2, 10*time.Millisecond)
	return e, c
}

// Invariant 7: a constant stream of IPS samples converges to that value,
// starting with equal-weight averaging for the first INITIAL_SAMPLES ticks.
func TestTick_SmoothingConvergesToConstantStream(t *testing.T) {
	e, c := newEnv(1)
	fake := kernel.NewFake()
	cfg := estimator.DefaultConfig()
	est := estimator.New(e, fake, cfg, nil)

	const ipsFast, ipsSlow = 1000.0, 500.0
	sample := kernel.ThreadSample{
		Num: 0, PID: 123,
		InstsFast:          int64(ipsFast * 1_000_000),
		SumFastExecRuntime: 1_000_000,
		InstsSlow:          int64(ipsSlow * 1_000_000),
		SumSlowExecRuntime: 1_000_000,
	}
	fake.WithSamples([]kernel.ThreadSample{sample})

	for i := 0; i < 20; i++ {
		require.NoError(t, est.Tick())
	}

	// speedup should converge toward ipsFast/ipsSlow = 2.0 for a
	// single-threaded command.
	assert.InDelta(t, 2.0, c.Speedup, 0.05)
}

// Invariant: the outlier filter drops samples where IPS_fast < IPS_slow
// or exceeds MaxIPSRatio * IPS_slow, leaving the previous estimate intact.
func TestTick_DropsOutlierSample(t *testing.T) {
	e, c := newEnv(1)
	fake := kernel.NewFake()
	est := estimator.New(e, fake, estimator.DefaultConfig(), nil)

	good := kernel.ThreadSample{
		Num: 0, PID: 123,
		InstsFast: 2000, SumFastExecRuntime: 1000,
		InstsSlow: 1000, SumSlowExecRuntime: 1000,
	}
	fake.WithSamples([]kernel.ThreadSample{good})
	require.NoError(t, est.Tick())
	before := c.Speedup

	outlier := kernel.ThreadSample{
		Num: 0, PID: 123,
		InstsFast: 100000, SumFastExecRuntime: 1000, // IPS_fast way above ratio*IPS_slow
		InstsSlow: 1000, SumSlowExecRuntime: 1000,
	}
	fake.WithSamples([]kernel.ThreadSample{outlier})
	require.NoError(t, est.Tick())

	assert.Equal(t, before, c.Speedup)
}

// A dead command (PID 0 from the kernel) is skipped without panicking.
func TestTick_SkipsExitedCommand(t *testing.T) {
	e, c := newEnv(1)
	c.State = env.NotStarted
	fake := kernel.NewFake().WithSamples([]kernel.ThreadSample{{Num: -1, PID: 0}})
	est := estimator.New(e, fake, estimator.DefaultConfig(), nil)

	require.NoError(t, est.Tick())
	assert.Zero(t, c.Speedup)
}

// A multi-command run where policy.SortActive reorders env.Commands
// between ticks must still fold each tick's sample into the command it
// came from. State keyed by slice position instead of c.Num would, from
// the second tick onward, blend one command's running mean with the
// other's new sample — this is the regression test for that bug.
func TestTick_SurvivesSortActiveReorderBetweenTicks(t *testing.T) {
	const c0PID, c1PID = 100, 200
	const c0IPSFast, c0IPSSlow = 4000.0, 1000.0 // ratio 4.0
	const c1IPSFast, c1IPSSlow = 1500.0, 1000.0 // ratio 1.5

	c0 := &env.Command{Num: 0, NumThreads: 1, State: env.Running(c0PID), RoundSlice: env.RoundSlice{Fast: env.BaseRoundSlice, Slow: env.BaseRoundSlice}}
	c1 := &env.Command{Num: 1, NumThreads: 1, State: env.Running(c1PID), RoundSlice: env.RoundSlice{Fast: env.BaseRoundSlice, Slow: env.BaseRoundSlice}}
	e := env.New([]*env.Command{c0, c1}, 2, 2, 10*time.Millisecond)
	fake := kernel.NewFake()
	est := estimator.New(e, fake, estimator.DefaultConfig(), nil)

	sampleFor := func(num, pid int, ipsFast, ipsSlow float64) kernel.ThreadSample {
		return kernel.ThreadSample{
			Num: num, PID: pid,
			InstsFast: int64(ipsFast * 1_000_000), SumFastExecRuntime: 1_000_000,
			InstsSlow: int64(ipsSlow * 1_000_000), SumSlowExecRuntime: 1_000_000,
		}
	}

	for i := 0; i < 20; i++ {
		fake.WithSamples([]kernel.ThreadSample{
			sampleFor(0, c0PID, c0IPSFast, c0IPSSlow),
			sampleFor(1, c1PID, c1IPSFast, c1IPSSlow),
		})
		require.NoError(t, est.Tick())
		// Recompute would call this every pass; c0's speedup (~4.0)
		// outranks c1's (~1.5) once both have converged, so this swaps
		// their slice positions partway through the loop.
		policy.SortActive(e.Commands, false)
	}

	var got0, got1 *env.Command
	for _, c := range e.Commands {
		switch c.Num {
		case 0:
			got0 = c
		case 1:
			got1 = c
		}
	}
	require.NotNil(t, got0)
	require.NotNil(t, got1)
	assert.InDelta(t, c0IPSFast/c0IPSSlow, got0.Speedup, 0.05)
	assert.InDelta(t, c1IPSFast/c1IPSSlow, got1.Speedup, 0.05)
}

// AdjustFrequency=false (speedup-test mode) keeps the outlier filter off
// and allows speedup below 1.0 to surface.
func TestTick_SpeedupTestModeSkipsFloor(t *testing.T) {
	e, c := newEnv(1)
	fake := kernel.NewFake()
	cfg := estimator.Config{MaxIPSRatio: 4.0, InitialSamples: 5, AdjustFrequency: false}
	est := estimator.New(e, fake, cfg, nil)

	sample := kernel.ThreadSample{
		Num: 0, PID: 123,
		InstsFast: 500, SumFastExecRuntime: 1000, // ips_fast = 0.5
		InstsSlow: 1000, SumSlowExecRuntime: 1000, // ips_slow = 1.0
	}
	fake.WithSamples([]kernel.ThreadSample{sample})
	require.NoError(t, est.Tick())

	assert.Less(t, c.Speedup, 1.0)
}
