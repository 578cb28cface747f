package policy

import "math"

// setUnaware grounds on __set_round_slice_unaware: no awareness of core
// asymmetry, every thread runs entirely on slow cores.
func setUnaware(threads []Thread) {
	for i := range threads {
		threads[i].RoundSlice.Fast = 0
		threads[i].RoundSlice.Slow = BaseRoundSlice
	}
}

// setManual grounds on __set_round_slice_manual: use the offline speedup
// hint directly as the fast-slice fraction.
func setManual(threads []Thread) {
	for i := range threads {
		fast := uint32(float64(BaseRoundSlice) * threads[i].Speedup)
		if fast > BaseRoundSlice {
			fast = BaseRoundSlice
		}
		threads[i].RoundSlice.Fast = fast
		threads[i].RoundSlice.Slow = BaseRoundSlice - fast
	}
}

// setMaxPerf grounds on __set_round_slice_max_perf: greedy assignment, the
// min(T,F) fastest threads (already sorted descending) get a full fast
// slice, the rest run entirely on slow cores.
func setMaxPerf(threads []Thread, numFastCore int) {
	i := 0
	for ; i < len(threads) && i < numFastCore; i++ {
		threads[i].RoundSlice.Fast = BaseRoundSlice
		threads[i].RoundSlice.Slow = 0
	}
	for ; i < len(threads); i++ {
		threads[i].RoundSlice.Fast = 0
		threads[i].RoundSlice.Slow = BaseRoundSlice
	}
}

// applyMaxFair writes a precomputed maxFairResult into the thread slices.
func applyMaxFair(threads []Thread, r maxFairResult) {
	for i := range threads {
		threads[i].RoundSlice.Fast = r.fast[i]
		threads[i].RoundSlice.Slow = r.slow[i]
	}
}

// setMinF grounds on __set_round_slice_minF. perfBase must already reflect
// the chosen base. Threads are assumed sorted by descending speedup.
func setMinF(threads []Thread, perfBase []float64, target float64) {
	for i := range threads {
		a := (target*perfBase[i] - float64(BaseRoundSlice)) / (threads[i].Speedup - 1)
		if a < 0 {
			a = 0
		}
		amount := uint32(a)
		if amount > BaseRoundSlice {
			amount = BaseRoundSlice
		}
		threads[i].RoundSlice.Fast = amount
		threads[i].RoundSlice.Slow = BaseRoundSlice - amount
	}
}

// distributeRemainingFastBudget hands out whatever fast-core time setMinF
// left unassigned, in descending-speedup order (the caller guarantees
// threads are already sorted), capping each thread at a full fast slice.
// Grounded on the second loop in __set_round_slice_minF.
func distributeRemainingFastBudget(threads []Thread, numFastCore int) {
	remaining := int64(numFastCore) * int64(BaseRoundSlice)
	for i := range threads {
		remaining -= int64(threads[i].RoundSlice.Fast)
	}
	for i := range threads {
		if remaining <= 0 {
			break
		}
		room := int64(BaseRoundSlice) - int64(threads[i].RoundSlice.Fast)
		add := room
		if remaining < add {
			add = remaining
		}
		threads[i].RoundSlice.Fast += uint32(add)
		threads[i].RoundSlice.Slow -= uint32(add)
		remaining -= add
	}
}

// setSimilarity groups consecutive threads (by descending speedup) whose
// speedup gap from the group leader is within epsilon, replacing each
// member's slice with the group mean. baselineFast is the max-fair fast
// slice to compare against — a thread only joins grouping consideration
// once it has been given strictly more fast time than its max-fair share
// (grounded on __set_round_slice_similarity; baselineFast is all-zero when
// called after max-perf with no max-fair baseline computed this tick).
func setSimilarity(threads []Thread, baselineFast []uint32, epsilon float64) {
	i := 0
	for i < len(threads) {
		if threads[i].RoundSlice.Fast <= baselineFast[i] {
			i++
			continue
		}
		start := i
		var totalFast, totalSlow uint64
		for i < len(threads) && threads[start].Speedup-threads[i].Speedup <= epsilon {
			totalFast += uint64(threads[i].RoundSlice.Fast)
			totalSlow += uint64(threads[i].RoundSlice.Slow)
			i++
		}
		n := uint64(i - start)
		meanFast := uint32(totalFast / n)
		meanSlow := uint32(totalSlow / n)
		for j := start; j < i; j++ {
			threads[j].RoundSlice.Fast = meanFast
			threads[j].RoundSlice.Slow = meanSlow
		}
	}
}

// setUniformity blends the current thread slices (the "max-perf" vector,
// possibly already similarity-adjusted) with maxFairFast/Slow toward a
// uniformity target, grounded on __set_round_slice_uniformity.
func setUniformity(threads []Thread, perfBase []float64, maxFairFast, maxFairSlow []uint32, target float64) {
	perf := calculatePerf(threads)
	uniformity := UniformityMetric(perf, perfBase)
	if uniformity >= target {
		return
	}

	maxPerfFast := make([]uint32, len(threads))
	maxPerfSlow := make([]uint32, len(threads))
	for i := range threads {
		maxPerfFast[i] = threads[i].RoundSlice.Fast
		maxPerfSlow[i] = threads[i].RoundSlice.Slow
	}

	alpha := int((1.0 - target) / (1.0 - uniformity) * 100)
	for alpha >= 0 {
		for i := range threads {
			fast := uint64(maxPerfFast[i])*uint64(alpha) + uint64(maxFairFast[i])*uint64(100-alpha)
			fast = (fast + 50) / 100
			threads[i].RoundSlice.Fast = uint32(fast)
			threads[i].RoundSlice.Slow = BaseRoundSlice - uint32(fast)
		}
		perf = calculatePerf(threads)
		uniformity = UniformityMetric(perf, perfBase)
		if uniformity >= target {
			return
		}
		alpha--
	}

	// alpha underflowed: fall back to pure max-fair.
	for i := range threads {
		threads[i].RoundSlice.Fast = maxFairFast[i]
		threads[i].RoundSlice.Slow = maxFairSlow[i]
	}
}

// minFThroughputSearch bisects over the minF target bracketed by
// [minF(max-perf), maxMinF] until that bracket is narrower than 0.005,
// keeping the bound whose slices reach the throughput target, grounded on
// __set_round_slice_minF_thru.
func minFThroughputSearch(threads []Thread, perfBase []float64, numFastCore int, maxMinF, throughputTarget float64) float64 {
	perf := calculatePerf(threads) // threads currently hold max-fair slices
	throughputLower := Throughput(perf, perfBase)
	minFUpper := maxMinF
	if throughputTarget == 0.0 {
		return minFUpper
	}

	setMaxPerf(threads, numFastCore)
	perf = calculatePerf(threads)
	throughputUpper := Throughput(perf, perfBase)
	minFLower := MinFairness(perf, perfBase)
	if throughputTarget == 1.0 {
		return minFLower
	}

	if throughputLower >= throughputUpper {
		return minFLower
	}

	target := throughputLower + throughputTarget*(throughputUpper-throughputLower)
	minF := minFUpper

	for math.Abs(minFUpper-minFLower) >= 0.005 {
		minF = (minFLower + minFUpper) / 2
		setMinF(threads, perfBase, minF)
		distributeRemainingFastBudget(threads, numFastCore)
		perf = calculatePerf(threads)
		achieved := Throughput(perf, perfBase)
		if achieved >= target {
			minFLower = minF
		} else {
			minFUpper = minF
		}
	}

	if minF == minFUpper {
		minF = minFLower
		setMinF(threads, perfBase, minF)
		distributeRemainingFastBudget(threads, numFastCore)
	}
	return minF
}
