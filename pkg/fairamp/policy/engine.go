package policy

import (
	"fmt"
	"sort"

	"github.com/cdkim/fairamp/pkg/fairamp/env"
	"github.com/cdkim/fairamp/pkg/fairamp/kernel"
)

// Engine owns the scratch buffers reused on every invocation (threads,
// perf vectors) and the kernel adapter used to publish results — grounded
// on init_set_round_slice and the static globals at the top of
// sched_policy.c, reshaped as instance state instead of package globals.
type Engine struct {
	environment    *env.Environment
	policy         Policy
	kernel         kernel.Adapter
	periodicUpdate bool
}

// NewEngine builds an Engine for one environment and one finalised policy.
// periodicUpdate mirrors config.periodic_speedup_update (policyopt.Mode's
// PeriodicUpdate): whether the estimator is sampling and recomputing on a
// timer at all, as opposed to a single one-shot Recompute.
func NewEngine(e *env.Environment, p Policy, k kernel.Adapter, periodicUpdate bool) *Engine {
	return &Engine{environment: e, policy: p, kernel: k, periodicUpdate: periodicUpdate}
}

// Policy returns the engine's immutable policy.
func (eng *Engine) Policy() Policy { return eng.policy }

// SortActive partitions commands so active ones (or, when forceActive is
// set, every command) precede finished ones, and stable-sorts the active
// prefix descending by speedup. Returns the number of active commands.
//
// forceActive replaces the source's pid=-10 sentinel used by
// set_round_slice_before_run to make every command "active" for one pass
// before any command has actually been launched.
//
// Grounded on sort_by_speed_up; implemented with sort.SliceStable rather
// than the source's hand-rolled insertion sort, since nothing about the
// spec's sorting invariant (§8 property 6) depends on the sort algorithm.
func SortActive(commands []*env.Command, forceActive bool) int {
	isActive := func(c *env.Command) bool { return forceActive || c.Active() }

	sort.SliceStable(commands, func(i, j int) bool {
		ai, aj := isActive(commands[i]), isActive(commands[j])
		if ai != aj {
			return ai // active entries sort before inactive ones
		}
		if !ai {
			return false // relative order among inactive entries is irrelevant
		}
		return commands[i].Speedup > commands[j].Speedup
	})

	n := 0
	for n < len(commands) && isActive(commands[n]) {
		n++
	}
	return n
}

// expandThreads builds one Thread record per software thread of every
// active command (the first numActive entries of commands), and resets
// each active command's round-slice accumulator. Grounded on
// __command_to_threads.
func expandThreads(commands []*env.Command, numActive int) []Thread {
	var threads []Thread
	for i := 0; i < numActive; i++ {
		c := commands[i]
		for j := 0; j < c.NumThreads; j++ {
			threads = append(threads, Thread{Idx: i, Speedup: c.Speedup})
		}
		c.RoundSlice = env.RoundSlice{}
	}
	return threads
}

// guaranteeMinimalRoundSlice enforces that every thread's fast and slow
// slice each meet MinimalRoundSlice, stealing the shortfall proportionally
// from threads with surplus on the other side. Grounded on
// __guarantee_minimal_round_slice, including its 1000-scaling trick.
//
// Returns ErrUnsatisfiableMinimum instead of the source's assert() when
// the debt cannot be covered by the available donor pool — the spec's
// design note treats this as a workload that must be rejected, not a
// crash.
func guaranteeMinimalRoundSlice(threads []Thread) error {
	var stealFast, stealSlow int64
	for i := range threads {
		switch {
		case threads[i].RoundSlice.Fast < MinimalRoundSlice:
			amount := MinimalRoundSlice - threads[i].RoundSlice.Fast
			threads[i].RoundSlice.Fast += amount
			threads[i].RoundSlice.Slow -= amount
			stealFast += int64(amount)
			stealSlow -= int64(amount)
		case threads[i].RoundSlice.Slow < MinimalRoundSlice:
			amount := MinimalRoundSlice - threads[i].RoundSlice.Slow
			threads[i].RoundSlice.Slow += amount
			threads[i].RoundSlice.Fast -= amount
			stealSlow += int64(amount)
			stealFast -= int64(amount)
		}
	}

	switch {
	case stealFast > 0:
		var donor uint64
		for i := range threads {
			if threads[i].RoundSlice.Fast > MinimalRoundSlice {
				donor += uint64(threads[i].RoundSlice.Fast - MinimalRoundSlice)
			}
		}
		if uint64(stealFast) >= donor {
			return ErrUnsatisfiableMinimum
		}
		donor /= 1000
		if donor == 0 {
			return ErrUnsatisfiableMinimum
		}
		for i := range threads {
			if threads[i].RoundSlice.Fast > MinimalRoundSlice {
				share := uint64(threads[i].RoundSlice.Fast-MinimalRoundSlice) / donor
				amount := uint32(uint64(stealFast) * share / 1000)
				threads[i].RoundSlice.Fast -= amount
				threads[i].RoundSlice.Slow += amount
			}
		}
	case stealSlow > 0:
		var donor uint64
		for i := range threads {
			if threads[i].RoundSlice.Slow > MinimalRoundSlice {
				donor += uint64(threads[i].RoundSlice.Slow - MinimalRoundSlice)
			}
		}
		if uint64(stealSlow) >= donor {
			return ErrUnsatisfiableMinimum
		}
		donor /= 1000
		if donor == 0 {
			return ErrUnsatisfiableMinimum
		}
		for i := range threads {
			if threads[i].RoundSlice.Slow > MinimalRoundSlice {
				share := uint64(threads[i].RoundSlice.Slow-MinimalRoundSlice) / donor
				amount := uint32(uint64(stealSlow) * share / 1000)
				threads[i].RoundSlice.Slow -= amount
				threads[i].RoundSlice.Fast += amount
			}
		}
	}
	return nil
}

// threadsToCommand sums each thread's slice back into its owning command
// and divides by NumThreads to get the published per-command slice.
// Grounded on __threads_to_command.
func threadsToCommand(commands []*env.Command, threads []Thread) {
	for _, t := range threads {
		c := commands[t.Idx]
		c.RoundSlice.Fast += t.RoundSlice.Fast
		c.RoundSlice.Slow += t.RoundSlice.Slow
	}
	for i := 0; i < len(commands); i++ {
		c := commands[i]
		if c.RoundSlice == (env.RoundSlice{}) {
			continue
		}
		if c.NumThreads > 0 {
			c.RoundSlice.Fast /= uint32(c.NumThreads)
			c.RoundSlice.Slow /= uint32(c.NumThreads)
		}
	}
}

// Recompute runs one full policy pass: sort, expand, dispatch on
// criterion, enforce the minimum sampling slice, fold back to commands,
// and publish. forceActive mirrors set_round_slice_before_run's initial
// pass before any command has been launched.
func (eng *Engine) Recompute(forceActive bool) error {
	commands := eng.environment.Commands
	numActive := SortActive(commands, forceActive)
	threads := expandThreads(commands, numActive)

	if err := eng.dispatch(threads); err != nil {
		return err
	}

	// __guarantee_minimal_round_slice only steals time to meet the
	// sampling floor when the criterion both cares about speedup and is
	// actually being kept fresh by periodic sampling; under a one-shot
	// mode (static/overhead_cs) with no estimator running, C publishes
	// the raw allocation instead.
	if eng.policy.SpeedupAware() && eng.periodicUpdate {
		if err := guaranteeMinimalRoundSlice(threads); err != nil {
			return fmt.Errorf("policy: recompute: %w", err)
		}
	}

	threadsToCommand(commands, threads)
	return eng.publish(commands)
}

// dispatch runs the criterion-specific routine, grounded on
// set_round_slice_all (and, for max_perf/max_fair/unaware/manual, the
// direct function-pointer fast path in legacy set_sched_policy).
func (eng *Engine) dispatch(threads []Thread) error {
	p := eng.policy
	numFastCore := eng.environment.NumFastCore
	numSlowCore := eng.environment.NumSlowCore

	switch p.Criteria {
	case Unaware:
		setUnaware(threads)
		return nil
	case Manual:
		setManual(threads)
		return nil
	case MaxPerf:
		setMaxPerf(threads, numFastCore)
		if p.Similarity > 0 {
			setSimilarity(threads, make([]uint32, len(threads)), p.Similarity)
		}
		return nil
	case MaxFair:
		r := computeMaxFair(p.Base, threads, numFastCore, numSlowCore, p.FastCoreFirst)
		applyMaxFair(threads, r)
		return nil
	case MinF, Uniformity, MinFUniformity:
		r := computeMaxFair(p.Base, threads, numFastCore, numSlowCore, p.FastCoreFirst)
		applyMaxFair(threads, r)

		if p.Criteria == MinF && p.Throughput > 0 {
			minFThroughputSearch(threads, r.perfBase, numFastCore, r.maxMinF, p.Throughput)
			return nil
		}
		setMinF(threads, r.perfBase, p.MinF)
		distributeRemainingFastBudget(threads, numFastCore)

		if p.Similarity > 0 {
			setSimilarity(threads, r.fast, p.Similarity)
		}

		if p.Criteria == Uniformity || p.Criteria == MinFUniformity {
			setUniformity(threads, r.perfBase, r.fast, r.slow, p.Uniformity)
		}
		return nil
	default:
		return fmt.Errorf("policy: unknown criteria %v", p.Criteria)
	}
}

// publish folds the per-command vruntime updates and pushes them through
// the kernel adapter, grounded on the final step of set_round_slice.
func (eng *Engine) publish(commands []*env.Command) error {
	updates := make([]kernel.VruntimeUpdate, 0, len(commands))
	for _, c := range commands {
		updates = append(updates, kernel.VruntimeUpdate{
			Num:              c.Num,
			PID:              c.State.PID(),
			UnitFastVruntime: c.RoundSlice.Fast,
			UnitSlowVruntime: c.RoundSlice.Slow,
		})
	}
	return eng.kernel.SetUnitVruntime(updates)
}
