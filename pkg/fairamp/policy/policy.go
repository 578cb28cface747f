// Package policy implements the scheduling policy engine: it converts
// commands into per-thread records, runs the selected fairness/throughput
// criterion, enforces a minimum sampling slice on every thread, and
// publishes the resulting per-command round-slice quotas to the kernel.
//
// This is the computational core of the controller. Every routine here is
// grounded on sched_policy.c's criterion-specific functions; the dispatch
// in engine.go plays the role of set_round_slice_all/set_round_slice_fair.
package policy

import (
	"fmt"
	"math"

	"github.com/cdkim/fairamp/pkg/fairamp/env"
)

// BaseRoundSlice and MinimalRoundSlice are aliased from env so the policy
// math in this package reads without a package qualifier on every line.
const (
	BaseRoundSlice    = env.BaseRoundSlice
	MinimalRoundSlice = env.MinimalRoundSlice
)

// Base is the normalisation reference for the fairness metrics.
type Base int

const (
	FairShare Base = iota
	SlowCore
	FastCore
)

func (b Base) String() string {
	switch b {
	case FairShare:
		return "fair_share"
	case SlowCore:
		return "slow_core"
	case FastCore:
		return "fast_core"
	default:
		return "unknown"
	}
}

// Criteria selects which policy routine computes the round-slice vector.
type Criteria int

const (
	Unaware Criteria = iota
	Manual
	MaxPerf
	MaxFair
	MinF
	Uniformity
	MinFUniformity
)

func (c Criteria) String() string {
	switch c {
	case Unaware:
		return "unaware"
	case Manual:
		return "manual"
	case MaxPerf:
		return "max_perf"
	case MaxFair:
		return "max_fair"
	case MinF:
		return "minF"
	case Uniformity:
		return "uniformity"
	case MinFUniformity:
		return "minF_uniformity"
	default:
		return "unknown"
	}
}

// Policy is built once from options and never mutated after construction;
// see pkg/fairamp/policyopt for the builder that produces one of these.
type Policy struct {
	Name       string
	Base       Base
	Criteria   Criteria
	Throughput float64 // target in [0,1]; only meaningful for MinF
	MinF       float64 // target in [0,1]
	Uniformity float64 // target in [0,1]
	Similarity float64 // epsilon >= 0

	// FastCoreFirst mirrors config.fast_core_first: when set, fair_share
	// max-fair gives every active thread a full fast slice until there are
	// at least as many active threads as fast cores.
	FastCoreFirst bool
}

// SpeedupAware reports whether the criterion needs speedup estimates at
// all — unaware and manual do not.
func (p Policy) SpeedupAware() bool {
	return p.Criteria != Unaware && p.Criteria != Manual
}

// AsymmetryAware reports whether the criterion needs the kernel to tag
// cores as fast/slow at all.
func (p Policy) AsymmetryAware() bool {
	return p.Criteria != Unaware
}

// Thread is the internal expansion of a command for policy math: a
// command with k threads contributes k thread records sharing the
// command's speedup estimate.
type Thread struct {
	Idx        int // index into the active-command prefix
	Speedup    float64
	RoundSlice struct {
		Fast uint32
		Slow uint32
	}
}

// calculatePerf computes per-thread perf = speedup*fast + slow for every
// active thread, grounded on calculate_perf in sched_policy.c.
func calculatePerf(threads []Thread) []float64 {
	perf := make([]float64, len(threads))
	for i, t := range threads {
		perf[i] = t.Speedup*float64(t.RoundSlice.Fast) + float64(t.RoundSlice.Slow)
	}
	return perf
}

// Throughput is the mean of per-thread perf normalised by perfBase.
func Throughput(perf, perfBase []float64) float64 {
	if len(perf) == 0 {
		return 0
	}
	var sum float64
	for i := range perf {
		sum += perf[i] / perfBase[i]
	}
	return sum / float64(len(perf))
}

// MinFairness is the minimum per-thread normalised throughput.
func MinFairness(perf, perfBase []float64) float64 {
	if len(perf) == 0 {
		return 1.0
	}
	min := perf[0] / perfBase[0]
	for i := 1; i < len(perf); i++ {
		if v := perf[i] / perfBase[i]; v < min {
			min = v
		}
	}
	return min
}

// UniformityMetric is 1 - sigma/mu of per-thread normalised throughput,
// clamped to 1 when numerical noise would otherwise push it above.
func UniformityMetric(perf, perfBase []float64) float64 {
	if len(perf) == 0 {
		return 1
	}
	var avg, squareAvg float64
	for i := range perf {
		v := perf[i] / perfBase[i]
		avg += v
		squareAvg += v * v
	}
	n := float64(len(perf))
	avg /= n
	squareAvg /= n
	if squareAvg > avg*avg {
		return 1 - math.Sqrt(squareAvg-avg*avg)/avg
	}
	return 1
}

// ErrUnsatisfiableMinimum is returned when the minimum sampling slice
// cannot be honoured for every thread (see guaranteeMinimalRoundSlice).
var ErrUnsatisfiableMinimum = fmt.Errorf("policy: minimum sampling slice is unsatisfiable for this workload")
