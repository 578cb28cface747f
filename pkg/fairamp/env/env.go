// Package env holds the process-wide state set once after option parsing:
// the command vector, core counts, the scheduling interval, and the
// monotonic done flag. Mutation of the command vector's fields is
// partitioned by owner so that the supervisor and the estimator never need
// a lock: the supervisor writes ProcState/Begin/End/ExitStatus, the
// estimator (via the policy engine) writes Speedup/RoundSlice.
package env

import (
	"sync/atomic"
	"time"
)

// CoreType classifies one CPU in the core-type vector.
type CoreType int

const (
	Offline CoreType = iota
	SlowCore
	FastCore
)

// RoundSlice is a per-task time quota on fast and slow cores; the pair
// sums to BaseRoundSlice.
type RoundSlice struct {
	Fast uint32 // nanoseconds
	Slow uint32 // nanoseconds
}

// Sum returns Fast+Slow as a plain duration-shaped value.
func (r RoundSlice) Sum() uint32 { return r.Fast + r.Slow }

const (
	// BaseRoundSlice is the fixed per-task round-slice budget (30ms).
	BaseRoundSlice uint32 = 30_000_000
	// MinimalRoundSlice is the minimum sampling slice on either side (4%, 1.2ms).
	MinimalRoundSlice uint32 = 1_200_000
)

// ProcState is a tagged variant replacing the source's pid sentinel values
// (0 = never started, -1 = never started (legacy), >0 = running). The
// "-10" sentinel used by set_round_slice_before_run to force every command
// to be treated as active becomes an explicit forceActive parameter on the
// policy engine instead of a state value here.
type ProcState struct {
	kind   procKind
	pid    int
	status int
}

type procKind int

const (
	kindNotStarted procKind = iota
	kindRunning
	kindExited
)

// NotStarted is the zero value: the command slot has never been launched.
var NotStarted = ProcState{kind: kindNotStarted}

// Running reports a live child with the given pid.
func Running(pid int) ProcState { return ProcState{kind: kindRunning, pid: pid} }

// Exited reports a reaped child and its exit status.
func Exited(status int) ProcState { return ProcState{kind: kindExited, status: status} }

func (p ProcState) IsRunning() bool    { return p.kind == kindRunning }
func (p ProcState) IsNotStarted() bool { return p.kind == kindNotStarted }
func (p ProcState) IsExited() bool     { return p.kind == kindExited }

// PID returns the live pid, or 0 if the state is not Running.
func (p ProcState) PID() int {
	if p.kind == kindRunning {
		return p.pid
	}
	return 0
}

// ExitStatus returns the exit status, or 0 if the state is not Exited.
func (p ProcState) ExitStatus() int {
	if p.kind == kindExited {
		return p.status
	}
	return 0
}

// Command is one workload unit: identity and static config are set once at
// start-up and never change; runtime and scheduling fields are written by
// exactly one of the supervisor or the estimator/policy engine, per the
// ownership partition above.
type Command struct {
	// Identity — immutable after construction.
	Num        int
	Name       string
	Argv       []string
	NumThreads int

	// Static config — immutable after construction.
	// SpeedupHint < 0 means "pin to cores", not scheduled by the policy
	// engine; it is surfaced to the manual/pin-mode criteria.
	SpeedupHint float64
	CPUMask     []int

	// Runtime — owned by the supervisor (C3).
	State      ProcState
	PIDFirst   int
	Begin, End time.Time
	Finished   bool
	OutputIdx  int

	// Scheduling state — owned by the estimator/policy engine (C4/C5).
	Speedup    float64
	RoundSlice RoundSlice
}

// Active reports whether the command currently has a live process.
func (c *Command) Active() bool { return c.State.IsRunning() }

// Environment is the process-wide, set-once state shared between the
// supervisor and the estimator.
type Environment struct {
	NumFastCore int
	NumSlowCore int
	Commands    []*Command

	// SchedInterval is the estimator's tick period (default 2s).
	SchedInterval time.Duration

	done atomic.Bool
}

// New builds an Environment from the parsed command set and core counts.
func New(commands []*Command, numFastCore, numSlowCore int, schedInterval time.Duration) *Environment {
	return &Environment{
		NumFastCore:   numFastCore,
		NumSlowCore:   numSlowCore,
		Commands:      commands,
		SchedInterval: schedInterval,
	}
}

// Done reports whether shutdown has been signaled.
func (e *Environment) Done() bool { return e.done.Load() }

// SetDone transitions the done flag false -> true. It is idempotent;
// calling it more than once has no further effect, matching the source's
// single-transition lifecycle.
func (e *Environment) SetDone() { e.done.Store(true) }

// NumFastCoreF is num_fast_core as a float, used throughout the policy
// engine's fair-share math.
func (e *Environment) NumFastCoreF() float64 { return float64(e.NumFastCore) }
