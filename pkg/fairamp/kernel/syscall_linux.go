//go:build linux

package kernel

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// nrFairamp is the syscall number assigned to the out-of-tree fairamp
// scheduler patch on this kernel build.
const nrFairamp = 313

// syscallAdapter issues the fairamp syscall directly via unix.Syscall6,
// mirroring syscall_wrapper.c's thin, non-fatal wrappers.
type syscallAdapter struct{}

// New returns the Linux kernel adapter. There is exactly one
// implementation: the syscall is the controller's only way to talk to the
// scheduler, so there is nothing to select between.
func New() Adapter {
	return syscallAdapter{}
}

func (syscallAdapter) raw(op Opcode, a2, a3 uintptr, a4 unsafe.Pointer) (int, error) {
	r1, _, errno := unix.Syscall6(nrFairamp, uintptr(op), a2, a3, uintptr(a4), 0, 0)
	if errno != 0 {
		return int(r1), &Error{Op: op, Code: int(errno)}
	}
	return int(r1), nil
}

func (s syscallAdapter) SetFastCore(cpu int) error {
	_, err := s.raw(OpSetFastCore, uintptr(cpu), 0, nil)
	return err
}

func (s syscallAdapter) SetSlowCore(cpu int) error {
	_, err := s.raw(OpSetSlowCore, uintptr(cpu), 0, nil)
	return err
}

func (s syscallAdapter) SetUnitVruntime(updates []VruntimeUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	raw := make([]fairampVruntime, len(updates))
	for i, u := range updates {
		raw[i] = fairampVruntime{
			Num:              int32(u.Num),
			PID:              int32(u.PID),
			UnitFastVruntime: u.UnitFastVruntime,
			UnitSlowVruntime: u.UnitSlowVruntime,
		}
	}
	n, err := s.raw(OpSetUnitVruntime, 0, uintptr(len(raw)), unsafe.Pointer(&raw[0]))
	if err != nil {
		return err
	}
	if n != len(updates) {
		return fmt.Errorf("kernel: set_unit_vruntime updated %d of %d threads", n, len(updates))
	}
	return nil
}

// GetThreadsInfo marshals req's Num/PID selectors into the ABI buffer
// before the syscall and unmarshals the kernel's in-place-filled counters
// back out, mirroring get_threads_info(num, info): info[] is both the
// caller's "which tasks" selector and the returned counter buffer.
func (s syscallAdapter) GetThreadsInfo(req []ThreadSample) ([]ThreadSample, error) {
	n := len(req)
	if n == 0 {
		return nil, nil
	}
	raw := make([]fairampThreadsInfo, n)
	for i, r := range req {
		raw[i] = fairampThreadsInfo{Num: int32(r.Num), PID: int32(r.PID)}
	}
	got, err := s.raw(OpGetThreadsInfo, 0, uintptr(n), unsafe.Pointer(&raw[0]))
	if err != nil {
		return nil, err
	}
	out := make([]ThreadSample, n)
	for i := 0; i < n; i++ {
		out[i] = ThreadSample{
			Num:                int(raw[i].Num),
			PID:                int(raw[i].PID),
			InstsFast:          raw[i].InstsFast,
			InstsSlow:          raw[i].InstsSlow,
			SumFastExecRuntime: raw[i].SumFastExecRuntime,
			SumSlowExecRuntime: raw[i].SumSlowExecRuntime,
			Err:                raw[i].Err,
		}
	}
	if got != n {
		return out, fmt.Errorf("kernel: get_threads_info returned %d of %d threads", got, n)
	}
	return out, nil
}

func (s syscallAdapter) StartMeasuringIPSType() error {
	_, err := s.raw(OpStartMeasuringIPSType, 0, 0, nil)
	return err
}

func (s syscallAdapter) StopMeasuringIPSType() error {
	_, err := s.raw(OpStopMeasuringIPSType, 0, 0, nil)
	return err
}

func (s syscallAdapter) CorePinning(pid int, cpu int) error {
	_, err := s.raw(OpCorePinning, uintptr(cpu), uintptr(pid), nil)
	return err
}

// fairampThreadsInfo mirrors struct fairamp_threads_info from fairamp.h —
// field order and width matter, this is marshaled across the syscall ABI.
type fairampThreadsInfo struct {
	Num                int32
	PID                int32
	InstsFast          int64
	InstsSlow          int64
	SumFastExecRuntime uint64
	SumSlowExecRuntime uint64
	Err                int32
	_                  int32 // pad to keep 8-byte alignment of the next array element
}

// fairampVruntime mirrors struct fairamp_unit_vruntime from fairamp.h.
type fairampVruntime struct {
	Num              int32
	PID              int32
	UnitFastVruntime uint32
	UnitSlowVruntime uint32
}
