package kernel

// Fake is an in-memory Adapter used by tests that exercise the estimator
// and policy engine without a real fairamp-patched kernel underneath.
type Fake struct {
	FastCores    map[int]bool
	SlowCores    map[int]bool
	Vruntimes    []VruntimeUpdate
	Samples      []ThreadSample
	Measuring    bool
	Pins         map[int]int // pid -> cpu

	// Err, if set, is returned by every method and no state is recorded.
	Err error
}

// NewFake returns a ready-to-use Fake adapter.
func NewFake() *Fake {
	return &Fake{
		FastCores: map[int]bool{},
		SlowCores: map[int]bool{},
		Pins:      map[int]int{},
	}
}

func (f *Fake) SetFastCore(cpu int) error {
	if f.Err != nil {
		return f.Err
	}
	f.FastCores[cpu] = true
	delete(f.SlowCores, cpu)
	return nil
}

func (f *Fake) SetSlowCore(cpu int) error {
	if f.Err != nil {
		return f.Err
	}
	f.SlowCores[cpu] = true
	delete(f.FastCores, cpu)
	return nil
}

func (f *Fake) SetUnitVruntime(updates []VruntimeUpdate) error {
	if f.Err != nil {
		return f.Err
	}
	f.Vruntimes = append([]VruntimeUpdate{}, updates...)
	return nil
}

// WithSamples configures the samples the next GetThreadsInfo call returns.
func (f *Fake) WithSamples(samples []ThreadSample) *Fake {
	f.Samples = samples
	return f
}

// GetThreadsInfo matches each selector in req against f.Samples by Num,
// mirroring the real adapter's in-place selector/response buffer: a
// selector with no matching sample (or PID 0, not currently running)
// comes back as a zero ThreadSample.
func (f *Fake) GetThreadsInfo(req []ThreadSample) ([]ThreadSample, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]ThreadSample, len(req))
	for i, r := range req {
		if r.PID == 0 {
			continue
		}
		for _, s := range f.Samples {
			if s.Num == r.Num {
				out[i] = s
				break
			}
		}
	}
	return out, nil
}

func (f *Fake) StartMeasuringIPSType() error {
	if f.Err != nil {
		return f.Err
	}
	f.Measuring = true
	return nil
}

func (f *Fake) StopMeasuringIPSType() error {
	if f.Err != nil {
		return f.Err
	}
	f.Measuring = false
	return nil
}

func (f *Fake) CorePinning(pid int, cpu int) error {
	if f.Err != nil {
		return f.Err
	}
	f.Pins[pid] = cpu
	return nil
}
