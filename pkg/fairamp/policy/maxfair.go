package policy

// maxFairResult is the outcome of computing max-fair round slices under one
// of the three bases: per-thread fast/slow slices, the normalisation
// vector perfBase, and the resulting max_minF bound (the best achievable
// minimum fairness for this workload and base).
type maxFairResult struct {
	fast, slow []uint32
	perfBase   []float64
	maxMinF    float64
}

// computeMaxFair dispatches on Base, grounded on
// set_max_fair_round_slice_{fair_share,slow_core,fast_core} in
// sched_policy.c.
func computeMaxFair(base Base, threads []Thread, numFastCore, numSlowCore int, fastCoreFirst bool) maxFairResult {
	switch base {
	case SlowCore:
		return computeMaxFairSlowCore(threads, numFastCore, numSlowCore)
	case FastCore:
		return computeMaxFairFastCore(threads, numFastCore, numSlowCore)
	default:
		return computeMaxFairFairShare(threads, numFastCore, numSlowCore, fastCoreFirst)
	}
}

// computeMaxFairFairShare splits the round-slice budget proportionally to
// core counts; every active thread gets the identical (fast,slow) pair, so
// max-fair under fair_share achieves perfect fairness (max_minF=1.0).
func computeMaxFairFairShare(threads []Thread, numFastCore, numSlowCore int, fastCoreFirst bool) maxFairResult {
	n := len(threads)
	var fastSlice, slowSlice uint32
	switch {
	case !fastCoreFirst:
		fastSlice = baseRoundSliceShare(numFastCore, numFastCore+numSlowCore)
		slowSlice = baseRoundSliceShare(numSlowCore, numFastCore+numSlowCore)
	case n < numFastCore:
		fastSlice = BaseRoundSlice
		slowSlice = 0
	case n < numFastCore+numSlowCore:
		fastSlice = baseRoundSliceShare(numFastCore, n)
		slowSlice = BaseRoundSlice - fastSlice
	default:
		fastSlice = baseRoundSliceShare(numFastCore, numFastCore+numSlowCore)
		slowSlice = baseRoundSliceShare(numSlowCore, numFastCore+numSlowCore)
	}

	fast := make([]uint32, n)
	slow := make([]uint32, n)
	perfBase := make([]float64, n)
	for i, t := range threads {
		fast[i] = fastSlice
		slow[i] = slowSlice
		perfBase[i] = t.Speedup*float64(fastSlice) + float64(slowSlice)
	}
	return maxFairResult{fast: fast, slow: slow, perfBase: perfBase, maxMinF: 1.0}
}

func baseRoundSliceShare(part, whole int) uint32 {
	if whole == 0 {
		return 0
	}
	return uint32(uint64(BaseRoundSlice) * uint64(part) / uint64(whole))
}

// maxFairRetryBudget bounds the clamp-and-reclassify fixed point loop used
// by the slow_core/fast_core bases; the number of active threads is always
// a safe upper bound on the number of reclassifications needed (spec
// design note: model the source's goto-retry as bounded iteration).
func maxFairRetryBudget(n int) int {
	if n < 1 {
		return 1
	}
	return n + 1
}

// computeMaxFairSlowCore implements set_max_fair_round_slice_slow_core:
// perf_base[i] = B (a slow-core-only baseline run); the closed form uses
// H_i = 1/(speedup_i - 1).
func computeMaxFairSlowCore(threads []Thread, numFastCore, numSlowCore int) maxFairResult {
	n := len(threads)
	speedup := make([]float64, n)
	h := make([]float64, n)
	perfBase := make([]float64, n)
	for i, t := range threads {
		speedup[i] = t.Speedup
		h[i] = 1.0 / (t.Speedup - 1.0)
		perfBase[i] = float64(BaseRoundSlice)
	}

	fast := make([]uint32, n)
	slow := make([]uint32, n)
	var maxMinF float64
	maxMinFNeedsCorrection := false

	for iter := 0; iter < maxFairRetryBudget(n); iter++ {
		numSmall, numFastOnly := 0, 0
		hSum := 0.0
		for i := 0; i < n; i++ {
			switch {
			case speedup[i] > 1:
				hSum += h[i]
			case speedup[i] < 0:
				numFastOnly++
			default:
				numSmall++
			}
		}
		maxMinF = float64(numFastCore)/hSum + 1

		if numSmall > numSlowCore {
			numSmall -= numSlowCore
		} else {
			numSmall = 0
		}
		totalFast := float64(numFastCore-numFastOnly-numSmall) * float64(BaseRoundSlice)

		if totalFast <= 0 {
			fillSlowCoreCornerCase(fast, slow, speedup, numFastCore, numFastOnly, numSmall)
			break
		}

		forceRetry := false
		remainingSmall := numSmall
		for i := 0; i < n; i++ {
			switch {
			case speedup[i] < 0:
				fast[i] = BaseRoundSlice
				slow[i] = 0
			case speedup[i] <= 1:
				if remainingSmall > 0 {
					fast[i] = BaseRoundSlice
					slow[i] = 0
				} else {
					fast[i] = 0
					slow[i] = BaseRoundSlice
				}
				remainingSmall--
			default:
				f := totalFast * h[i] / hSum
				fast[i] = uint32(f)
				slow[i] = BaseRoundSlice - fast[i]
				if fast[i] > BaseRoundSlice {
					forceRetry = true
					maxMinFNeedsCorrection = true
					speedup[i] = -1.0
				}
			}
		}
		if !forceRetry {
			break
		}
	}

	if maxMinFNeedsCorrection {
		for i, t := range threads {
			if speedup[i] == -1.0 {
				perf := t.Speedup*float64(fast[i]) + float64(slow[i])
				if v := perf / perfBase[i]; v < maxMinF {
					maxMinF = v
				}
			}
		}
	}

	return maxFairResult{fast: fast, slow: slow, perfBase: perfBase, maxMinF: maxMinF}
}

// computeMaxFairFastCore implements set_max_fair_round_slice_fast_core:
// perf_base[i] = speedup_i * B; uses both H_i and M_i = speedup_i/(speedup_i-1).
func computeMaxFairFastCore(threads []Thread, numFastCore, numSlowCore int) maxFairResult {
	n := len(threads)
	speedup := make([]float64, n)
	h := make([]float64, n)
	m := make([]float64, n)
	perfBase := make([]float64, n)
	for i, t := range threads {
		speedup[i] = t.Speedup
		h[i] = 1.0 / (t.Speedup - 1.0)
		m[i] = t.Speedup / (t.Speedup - 1.0)
		perfBase[i] = t.Speedup * float64(BaseRoundSlice)
	}

	fast := make([]uint32, n)
	slow := make([]uint32, n)
	var maxMinF float64
	maxMinFNeedsCorrection := false

	for iter := 0; iter < maxFairRetryBudget(n); iter++ {
		numSmall, numFastOnly := 0, 0
		hSum, mSum := 0.0, 0.0
		for i := 0; i < n; i++ {
			switch {
			case speedup[i] > 1:
				hSum += h[i]
				mSum += m[i]
			case speedup[i] < 0:
				numFastOnly++
			default:
				numSmall++
			}
		}
		maxMinF = (float64(numFastCore) + hSum) / mSum

		if numSmall > numSlowCore {
			numSmall -= numSlowCore
		} else {
			numSmall = 0
		}
		totalFast := float64(numFastCore-numFastOnly-numSmall) * float64(BaseRoundSlice)

		if totalFast <= 0 {
			fillSlowCoreCornerCase(fast, slow, speedup, numFastCore, numFastOnly, numSmall)
			break
		}

		forceRetry := false
		remainingSmall := numSmall
		for i := 0; i < n; i++ {
			switch {
			case speedup[i] < 0:
				fast[i] = BaseRoundSlice
				slow[i] = 0
			case speedup[i] <= 1:
				if remainingSmall > 0 {
					fast[i] = BaseRoundSlice
					slow[i] = 0
				} else {
					fast[i] = 0
					slow[i] = BaseRoundSlice
				}
				remainingSmall--
			default:
				f := totalFast*m[i]/mSum + float64(BaseRoundSlice)*m[i]*hSum/mSum
				temp := float64(BaseRoundSlice) * h[i]
				if f > temp {
					f -= temp
					fast[i] = uint32(f)
					if fast[i] > BaseRoundSlice {
						forceRetry = true
						maxMinFNeedsCorrection = true
						speedup[i] = -1.0
					}
				} else {
					fast[i] = 0
					forceRetry = true
					maxMinFNeedsCorrection = true
					speedup[i] = 1.0 // reclassified as small speedup
				}
				slow[i] = BaseRoundSlice - fast[i]
			}
		}
		if !forceRetry {
			break
		}
	}

	if maxMinFNeedsCorrection {
		for i, t := range threads {
			if speedup[i] <= 1.0 {
				perf := t.Speedup*float64(fast[i]) + float64(slow[i])
				if v := perf / perfBase[i]; v < maxMinF {
					maxMinF = v
				}
			}
		}
	}

	return maxFairResult{fast: fast, slow: slow, perfBase: perfBase, maxMinF: maxMinF}
}

// fillSlowCoreCornerCase handles the shared corner case in both slow_core
// and fast_core bases, where the fast-core budget minus pinned/small-speedup
// threads leaves nothing to distribute by the H/M formula.
func fillSlowCoreCornerCase(fast, slow []uint32, speedup []float64, numFastCore, numFastOnly, numSmall int) {
	remainingSmall := numSmall
	for i := range speedup {
		switch {
		case speedup[i] < 0:
			if numFastOnly < numFastCore {
				fast[i] = BaseRoundSlice
			} else {
				fast[i] = baseRoundSliceShare(numFastCore, numFastOnly)
			}
			slow[i] = BaseRoundSlice - fast[i]
		case speedup[i] <= 1.0 && remainingSmall > 0:
			fast[i] = BaseRoundSlice
			slow[i] = 0
			remainingSmall--
		default:
			fast[i] = 0
			slow[i] = BaseRoundSlice
		}
	}
}
