// Package estimator implements the per-tick speedup estimation loop: it
// reads per-thread instruction/runtime counters from the kernel, converts
// them into a smoothed IPS_fast/IPS_slow/CPU_util triple per command, and
// derives a speedup estimate the policy engine consumes on the next pass.
//
// Grounded on periodic_update_speedup in estimation.c; the outer run loop
// follows the ticker+context shutdown shape used in ja7ad's cmd/consumption
// main loop, adapted to the atomic done flag this controller shares between
// the supervisor and the estimator instead of ctx cancellation alone.
package estimator

import (
	"context"
	"log/slog"
	"time"

	"github.com/cdkim/fairamp/pkg/fairamp/env"
	"github.com/cdkim/fairamp/pkg/fairamp/kernel"
)

// Config tunes the estimator, grounded on the constants hardwired in
// estimation.c (MAXIMUM_IPS_RATIO, INITIAL_SAMPLES) — exposed here as
// fields per the spec's open-question decision to not hard-wire them.
type Config struct {
	// MaxIPSRatio drops a sample when IPS_fast exceeds this multiple of
	// IPS_slow (outlier filter). Defaults to 4.0.
	MaxIPSRatio float64
	// InitialSamples is the number of leading samples averaged with equal
	// weight before switching to the 7:3 weighted update. Defaults to 5.
	InitialSamples int
	// AdjustFrequency mirrors config.adjust_frequency: when false, the
	// outlier filter and the speedup>=1.0 floor are both skipped (a
	// speedup-test run wants the raw ratio, including values below 1).
	AdjustFrequency bool
}

// DefaultConfig returns the estimator defaults used by a normal run.
func DefaultConfig() Config {
	return Config{MaxIPSRatio: 4.0, InitialSamples: 5, AdjustFrequency: true}
}

// sampleState is the per-command running estimate, grounded on struct
// speedup_info in estimation.c.
type sampleState struct {
	ipsFast, ipsSlow, cpuUtil   float64
	numSamplesFast, numSamples int
	started                    bool
}

// Estimator owns the per-command smoothing state across ticks.
type Estimator struct {
	environment *env.Environment
	kernel      kernel.Adapter
	cfg         Config
	state       []sampleState
	log         *slog.Logger
}

// New builds an Estimator sized to the environment's command vector.
func New(e *env.Environment, k kernel.Adapter, cfg Config, log *slog.Logger) *Estimator {
	if log == nil {
		log = slog.Default()
	}
	return &Estimator{
		environment: e,
		kernel:      k,
		cfg:         cfg,
		state:       make([]sampleState, len(e.Commands)),
		log:         log,
	}
}

// getSpeedup implements get_speedup: single-threaded commands (or ones
// currently running below one logical CPU of utilisation) use the raw
// IPS ratio; multi-threaded commands scale it by the fraction of their
// utilisation that fits within the fast-core budget.
func getSpeedup(ipsFast, ipsSlow, cpuUtil float64, numThreads int, numFastCoreF float64) float64 {
	if ipsFast == 0 || ipsSlow == 0 {
		return 1.0
	}
	ratio := ipsFast / ipsSlow
	if numThreads == 1 || cpuUtil <= 1.0 {
		return ratio
	}
	min := cpuUtil
	if numFastCoreF < min {
		min = numFastCoreF
	}
	max := cpuUtil - numFastCoreF
	if max < 0 {
		max = 0
	}
	return ratio * (min + max) / cpuUtil
}

// sampleCommand folds one command's raw counter sample into its smoothed
// estimate and returns the resulting speedup. Grounded on the per-command
// body of periodic_update_speedup's main for loop.
//
// State is keyed by c.Num, not by the command's current slice position:
// policy.SortActive reorders env.Commands in place on every Recompute, so
// a position-keyed index would fold one command's new sample into a
// different command's running mean from the second tick onward. C avoids
// this by keying info[]/to_get[] off the stable command[i].num.
func (est *Estimator) sampleCommand(c *env.Command, s kernel.ThreadSample, fullExecRuntime float64) float64 {
	st := &est.state[c.Num]

	sumExec := s.SumFastExecRuntime + s.SumSlowExecRuntime

	var ipsFast, ipsSlow float64
	if s.SumFastExecRuntime > 0 && c.RoundSlice.Fast >= env.MinimalRoundSlice {
		ipsFast = float64(s.InstsFast) / float64(s.SumFastExecRuntime)
	}
	if s.SumSlowExecRuntime > 0 && c.RoundSlice.Slow >= env.MinimalRoundSlice {
		ipsSlow = float64(s.InstsSlow) / float64(s.SumSlowExecRuntime)
	}

	cpuUtil := 1.0
	if sumExec > 0 {
		cpuUtil = float64(sumExec) / (fullExecRuntime * float64(c.NumThreads))
	}
	if cpuUtil > 1.0 && c.NumThreads == 1 {
		cpuUtil = 1.0
	}

	if est.cfg.AdjustFrequency && ipsFast > 0 && ipsSlow > 0 {
		ratio := est.cfg.MaxIPSRatio
		if ratio <= 0 {
			ratio = 4.0
		}
		if ipsFast < ipsSlow || ipsFast > ratio*ipsSlow {
			ipsFast, ipsSlow = 0, 0
		}
	}

	initialSamples := est.cfg.InitialSamples
	if initialSamples <= 0 {
		initialSamples = 5
	}

	if !st.started {
		st.started = true
		st.ipsFast = ipsFast
		st.ipsSlow = ipsSlow
		st.cpuUtil = 1.0
		st.numSamplesFast = 0
		if ipsFast > 0 {
			st.numSamplesFast = 1
		}
		st.numSamples = 0
		if ipsSlow > 0 {
			st.numSamples = 1
		}
	} else {
		if ipsFast > 0 {
			if st.numSamplesFast < initialSamples {
				st.ipsFast = (float64(st.numSamplesFast)*st.ipsFast + ipsFast) / float64(st.numSamplesFast+1)
			} else {
				st.ipsFast = weightedUpdate(st.ipsFast, ipsFast, 7, 3)
			}
			st.numSamplesFast++
		}
		if ipsSlow > 0 {
			if st.numSamples < initialSamples {
				st.ipsSlow = (float64(st.numSamples)*st.ipsSlow + ipsSlow) / float64(st.numSamples+1)
			} else {
				st.ipsSlow = weightedUpdate(st.ipsSlow, ipsSlow, 7, 3)
			}
			st.numSamples++
		}
		st.cpuUtil = weightedUpdate(st.cpuUtil, cpuUtil, 7, 3)
	}

	speedup := getSpeedup(st.ipsFast, st.ipsSlow, st.cpuUtil, c.NumThreads, est.environment.NumFastCoreF())
	if est.cfg.AdjustFrequency && speedup < 1.0 {
		speedup = 1.0
	}
	return speedup
}

// weightedUpdate implements the WEIGHTED_UPDATE macro: a fixed-ratio blend
// of the running estimate and the new sample.
func weightedUpdate(old, sample, weightOld, weightNew float64) float64 {
	return (old*weightOld + sample*weightNew) / (weightOld + weightNew)
}

// Tick runs one estimation pass: fetch counters for every running
// command, fold them into the smoothed estimate, and write the resulting
// speedup back onto each command. Grounded on one loop body of
// periodic_update_speedup, excluding the outer sleep/done check (Run
// owns those) and excluding the policy recompute call (the caller wires
// that through policy.Engine.Recompute after Tick returns).
func (est *Estimator) Tick() error {
	commands := est.environment.Commands
	// Indexed by c.Num, the stable command identity assigned at command-
	// file parse time, rather than by slice position: SortActive reorders
	// commands (and therefore slice position) on every Recompute, but Num
	// never changes, so the selector sent to the kernel and the sample
	// read back both stay matched to the right command across ticks.
	request := make([]kernel.ThreadSample, len(commands))
	nrRunning := 0
	for _, c := range commands {
		request[c.Num] = kernel.ThreadSample{Num: c.Num}
		if c.Active() {
			request[c.Num].PID = c.State.PID()
			nrRunning += c.NumThreads
		}
	}

	samples, err := est.kernel.GetThreadsInfo(request)
	if err != nil {
		est.log.Warn("estimator: kernel counter read failed, tick uses stale data", "err", err)
		return nil
	}

	numCore := est.environment.NumFastCore + est.environment.NumSlowCore
	intervalNS := float64(est.environment.SchedInterval.Nanoseconds()) * float64(numCore)
	var fullExecRuntime float64
	switch {
	case numCore == 0:
		fullExecRuntime = 1
	case nrRunning <= numCore:
		fullExecRuntime = intervalNS / float64(numCore)
	default:
		fullExecRuntime = intervalNS / float64(nrRunning)
	}

	for _, c := range commands {
		if c.Num < 0 || c.Num >= len(samples) || samples[c.Num].PID == 0 {
			continue
		}
		c.Speedup = est.sampleCommand(c, samples[c.Num], fullExecRuntime)
	}
	return nil
}

// recomputer is the subset of policy.Engine Run needs, kept as an
// interface so estimator does not import policy (policy already imports
// env and kernel; importing it back here would be a cycle risk and is
// unnecessary — the caller wires them together).
type recomputer interface {
	Recompute(forceActive bool) error
}

// Run loops Tick followed by a policy recompute every SchedInterval until
// ctx is cancelled or the environment's done flag is set, grounded on
// periodic_update_speedup's while(!done) { nanosleep; ... } loop and on
// ja7ad's ticker/ctx.Done select shape in cmd/consumption's run loop.
func (est *Estimator) Run(ctx context.Context, engine recomputer) error {
	if err := est.kernel.StartMeasuringIPSType(); err != nil {
		est.log.Warn("estimator: start measuring IPS type failed", "err", err)
	}

	interval := est.environment.SchedInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if est.environment.Done() {
				return nil
			}
			if err := est.Tick(); err != nil {
				est.log.Warn("estimator: tick failed", "err", err)
				continue
			}
			if err := engine.Recompute(false); err != nil {
				est.log.Warn("estimator: policy recompute failed", "err", err)
			}
			if est.environment.Done() {
				return nil
			}
		}
	}
}
