// Package policyopt builds an immutable policy.Policy from CLI-style
// tokens, and supplies the nine canonical run modes (the five run-time
// booleans spec.md §6 names). Grounded on sched_policy.c's
// set_sched_policy/legacy_set_sched_policy.
package policyopt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cdkim/fairamp/pkg/fairamp/policy"
)

// Mode is a named preset of the five run-time booleans that gate periodic
// estimation, publishing, frequency adjustment, fast-core-first dispatch,
// and command respawn. Grounded on fairamp.c's predefined_mode[] table.
type Mode struct {
	Name            string
	PeriodicUpdate  bool
	DoFairamp       bool
	AdjustFrequency bool
	FastCoreFirst   bool
	RepeatedRun     bool
}

// ModeTable returns the nine canonical modes from spec.md §6, keyed by
// name, as data rather than CLI-parsing logic.
func ModeTable() map[string]Mode {
	modes := []Mode{
		{"normal", true, true, true, true, true},
		{"static", false, true, true, false, true},
		{"speeduptest", true, true, false, false, true},
		{"wo_overhead", false, false, false, false, true},
		{"overhead_cs", false, true, false, true, true},
		{"overhead_cs_pmu", true, true, false, true, true},
		{"pinning", false, false, true, false, true},
		{"repeat", false, false, false, false, true},
		{"no", false, false, false, false, false},
	}
	table := make(map[string]Mode, len(modes))
	for _, m := range modes {
		table[m.Name] = m
	}
	return table
}

// Builder accumulates Policy fields and flags invalid input as an error
// recorded on first occurrence; Build() surfaces it. Zero value is ready
// to use.
type Builder struct {
	base       policy.Base
	baseSet    bool
	criteria   policy.Criteria
	critSet    bool
	metric     string
	target     float64
	similarity float64
	throughput float64
	uniformity float64
	fastFirst  bool
	err        error
}

// NewBuilder returns a zero-value-safe Builder.
func NewBuilder() *Builder {
	return &Builder{base: policy.FairShare, criteria: policy.MaxFair}
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// Base sets the normalisation reference: fair_share, slow_core, or
// fast_core.
func (b *Builder) Base(name string) *Builder {
	switch name {
	case "fair_share", "":
		b.base = policy.FairShare
	case "slow_core":
		b.base = policy.SlowCore
	case "fast_core":
		b.base = policy.FastCore
	default:
		return b.fail(fmt.Errorf("policyopt: unknown base %q", name))
	}
	b.baseSet = true
	return b
}

// Criteria sets the scheduling criterion by canonical name.
func (b *Builder) Criteria(name string) *Builder {
	switch name {
	case "unaware":
		b.criteria = policy.Unaware
	case "manual":
		b.criteria = policy.Manual
	case "max_perf", "max-perf", "max_throughput":
		b.criteria = policy.MaxPerf
	case "max_fair", "max-fair", "complete_fair":
		b.criteria = policy.MaxFair
	case "minF", "minf":
		b.criteria = policy.MinF
	case "uniformity":
		b.criteria = policy.Uniformity
	case "minF_uniformity", "minf_uniformity":
		b.criteria = policy.MinFUniformity
	case "":
		// leave default
	default:
		return b.fail(fmt.Errorf("policyopt: unknown criteria %q", name))
	}
	b.critSet = true
	return b
}

// Metric selects which target the minF criterion's search optimises
// against: "fairness" (the minF field itself) or "throughput".
func (b *Builder) Metric(name string) *Builder {
	switch name {
	case "", "fairness", "throughput":
		b.metric = name
	default:
		return b.fail(fmt.Errorf("policyopt: unknown metric %q", name))
	}
	return b
}

// Target sets the numeric target for whichever metric is active: minF
// fraction, uniformity fraction, or (with Metric("throughput")) the
// throughput fraction minF's search bisects against.
func (b *Builder) Target(v float64) *Builder {
	if v < 0 || v > 1 {
		return b.fail(fmt.Errorf("policyopt: target %v out of [0,1]", v))
	}
	b.target = v
	return b
}

// Similarity sets the grouping epsilon for the similarity adjustment.
func (b *Builder) Similarity(v float64) *Builder {
	if v < 0 {
		return b.fail(fmt.Errorf("policyopt: similarity %v must be >= 0", v))
	}
	b.similarity = v
	return b
}

// Throughput sets the throughput target directly (bypassing Metric),
// matching sched_policy.throughput.
func (b *Builder) Throughput(v float64) *Builder {
	if v < 0 || v > 1 {
		return b.fail(fmt.Errorf("policyopt: throughput %v out of [0,1]", v))
	}
	b.throughput = v
	return b
}

// FastCoreFirst sets config.fast_core_first, plumbed through from the
// active Mode rather than a CLI flag of its own.
func (b *Builder) FastCoreFirst(v bool) *Builder {
	b.fastFirst = v
	return b
}

// legacyTokenKind classifies one underscore-separated token of a legacy
// policy name, grounded on legacy_set_sched_policy's last_type states.
type legacyTokenKind int

const (
	legacyNone legacyTokenKind = iota
	legacySimilarity
	legacyMinF
	legacyUniformity
)

// Legacy accepts the original's underscore-joined policy names (e.g.
// minF_90, uniformity_80, similarity_5_minF_60) and translates them into
// the same canonical fields the modern flags set. This is the only place
// legacy names are parsed; once translated, every other code path treats
// legacy and modern input identically.
func (b *Builder) Legacy(name string) *Builder {
	switch name {
	case "unaware":
		return b.Criteria("unaware")
	case "manual":
		return b.Criteria("manual")
	case "max_throughput", "max-perf":
		return b.Criteria("max_perf")
	case "complete_fair", "max-fair":
		return b.Criteria("max_fair")
	}

	var similarity, minF, uniformity float64
	var sawAny bool
	tokens := strings.Split(name, "_")
	last := legacyNone
	i := 0
	for i < len(tokens) {
		tok := tokens[i]
		switch strings.ToLower(tok) {
		case "similarity", "sim":
			last = legacySimilarity
		case "qos", "minf", "min":
			last = legacyMinF
		case "uniformity", "uni":
			last = legacyUniformity
		default:
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return b.fail(fmt.Errorf("policyopt: wrong legacy policy name %q", name))
			}
			switch last {
			case legacySimilarity:
				similarity = v
			case legacyMinF:
				minF = v
			case legacyUniformity:
				uniformity = v
			default:
				return b.fail(fmt.Errorf("policyopt: wrong legacy policy name %q", name))
			}
			last = legacyNone
			sawAny = true
		}
		i++
	}
	if !sawAny || len(tokens)%2 != 0 {
		return b.fail(fmt.Errorf("policyopt: wrong legacy policy name %q", name))
	}

	if minF > 1 {
		minF /= 100
	}
	if uniformity > 1 {
		uniformity /= 100
	}

	switch {
	case minF == 1.0 || uniformity == 1.0:
		b.Criteria("max_fair")
	case similarity == 0 && minF == 0 && uniformity == 0:
		b.Criteria("max_perf")
	case minF == 0 && uniformity == 0:
		b.Criteria("max_perf") // similarity-only still dispatches from max-perf
	case similarity == 0 && uniformity == 0:
		b.Criteria("minF")
	case similarity == 0 && minF == 0:
		b.Criteria("uniformity")
	default:
		b.Criteria("minF_uniformity")
	}
	b.similarity = similarity
	b.uniformity = uniformity
	if minF != 0 {
		b.target = minF
	} else if uniformity != 0 {
		b.target = uniformity
	}
	return b
}

// Build validates cross-field combinations and returns an immutable
// policy.Policy.
func (b *Builder) Build() (policy.Policy, error) {
	if b.err != nil {
		return policy.Policy{}, b.err
	}
	if b.criteria == policy.MinFUniformity && b.metric == "throughput" {
		return policy.Policy{}, fmt.Errorf("policyopt: minF_uniformity criteria cannot target throughput")
	}

	p := policy.Policy{
		Base:          b.base,
		Criteria:      b.criteria,
		Similarity:    b.similarity,
		FastCoreFirst: b.fastFirst,
	}
	switch b.criteria {
	case policy.MinF:
		if b.metric == "throughput" {
			p.Throughput = b.target
		} else {
			p.MinF = b.target
			p.Throughput = b.throughput
		}
	case policy.Uniformity:
		p.Uniformity = b.target
	case policy.MinFUniformity:
		p.MinF = b.target
		p.Uniformity = b.uniformity
	}
	p.Name = name(p)
	return p, nil
}

// name mirrors set_sched_policy_name's reconstruction of a human-readable
// policy label from its fields.
func name(p policy.Policy) string {
	switch p.Criteria {
	case policy.Unaware, policy.Manual, policy.MaxPerf:
		return p.Criteria.String()
	case policy.MaxFair:
		return fmt.Sprintf("%s base: %s", p.Criteria, p.Base)
	case policy.MinF, policy.Uniformity:
		target := p.MinF + p.Uniformity
		label := "minF"
		if p.Criteria == policy.Uniformity {
			label = "uniformity"
		}
		if p.Throughput != 0 {
			return fmt.Sprintf("%s base: %s throughput_target: %.3f", p.Criteria, p.Base, p.Throughput)
		}
		return fmt.Sprintf("%s base: %s %s_target: %.3f", p.Criteria, p.Base, label, target)
	case policy.MinFUniformity:
		return fmt.Sprintf("%s base: %s minF_target: %.3f uniformity_target: %.3f", p.Criteria, p.Base, p.MinF, p.Uniformity)
	default:
		return p.Criteria.String()
	}
}
