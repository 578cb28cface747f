// Package kernel wraps the custom "fairamp" syscall: seven opcodes that set
// core tags, publish unit vruntime, read per-thread instruction counters,
// toggle IPS measurement, and pin a task to a CPU. The adapter is a pure pass-through — it never
// interprets payloads, and every failure is non-fatal to the caller.
package kernel

import "fmt"

// Opcode is the numeric syscall selector, matching the kernel ABI table.
type Opcode uintptr

const (
	OpSetFastCore Opcode = iota
	OpSetSlowCore
	OpSetUnitVruntime
	OpGetThreadsInfo
	OpStartMeasuringIPSType
	OpStopMeasuringIPSType
	OpCorePinning
)

// ThreadSample is one command's raw per-tick counters, as returned by
// GET_THREADS_INFO.
type ThreadSample struct {
	Num                int
	PID                int
	InstsFast          int64
	InstsSlow          int64
	SumFastExecRuntime uint64 // nanoseconds
	SumSlowExecRuntime uint64 // nanoseconds
	Err                int32
}

// VruntimeUpdate is one command's published unit vruntime, as consumed by
// SET_UNIT_VRUNTIME.
type VruntimeUpdate struct {
	Num            int
	PID            int
	UnitFastVruntime uint32
	UnitSlowVruntime uint32
}

// Adapter is the set of operations the controller performs against the
// kernel scheduler. Implementations never interpret the payloads they
// carry; they only marshal them across the syscall boundary.
type Adapter interface {
	SetFastCore(cpu int) error
	SetSlowCore(cpu int) error
	SetUnitVruntime(updates []VruntimeUpdate) error
	GetThreadsInfo(req []ThreadSample) ([]ThreadSample, error)
	StartMeasuringIPSType() error
	StopMeasuringIPSType() error
	CorePinning(pid int, cpu int) error
}

// Error wraps a non-zero return from the fairamp syscall with the opcode
// that produced it, so callers can log without losing context.
type Error struct {
	Op   Opcode
	Code int
}

func (e *Error) Error() string {
	return fmt.Sprintf("fairamp syscall op %d failed: code %d", e.Op, e.Code)
}
