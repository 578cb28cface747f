// Package coretype sets up the asymmetric core topology before a run:
// detect CPU count, read the available cpufreq frequency range, hotplug
// cores on/off, pin each online core's governor and frequency, tag fast
// vs slow cores through the kernel adapter, and compute the resulting
// affinity mask. Grounded on set_core.c in full.
package coretype

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cdkim/fairamp/pkg/fairamp/env"
	"github.com/cdkim/fairamp/pkg/fairamp/kernel"
)

// sysfsRoot is overridden in tests to point at a fake filesystem tree,
// grounded on set_core.c's hardcoded /sys/devices/system/cpu paths.
var sysfsRoot = "/sys/devices/system/cpu"

// FrequencyRange is the fast/slow cpufreq pair read once at start-up from
// cpu0's scaling_available_frequencies list: the highest and lowest
// entries become the fast-core and slow-core pinned frequencies,
// grounded on set_core_freq.
type FrequencyRange struct {
	Fast string
	Slow string
}

// DetectCoreCount reads /proc/cpuinfo and counts "processor\t:" lines,
// grounded on get_num_cores.
func DetectCoreCount() (int, error) {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return 0, fmt.Errorf("coretype: open /proc/cpuinfo: %w", err)
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "processor\t:") {
			n++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("coretype: scan /proc/cpuinfo: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("coretype: no cores detected from /proc/cpuinfo")
	}
	return n, nil
}

// DetectFrequencyRange reads cpu0's scaling_available_frequencies and
// takes the first token as the fast frequency and the last as the slow
// frequency, grounded on set_core_freq (the file lists frequencies from
// highest to lowest, consistent with every cpufreq driver this tool
// targets).
func DetectFrequencyRange() (FrequencyRange, error) {
	path := sysfsRoot + "/cpu0/cpufreq/scaling_available_frequencies"
	raw, err := os.ReadFile(path)
	if err != nil {
		return FrequencyRange{}, fmt.Errorf("coretype: read %s: %w", path, err)
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return FrequencyRange{}, fmt.Errorf("coretype: %s has no frequencies", path)
	}
	return FrequencyRange{Fast: fields[0], Slow: fields[len(fields)-1]}, nil
}

// DefaultLayout assigns the first ceil(numCore/3) cores as fast and the
// rest as slow, grounded on set_default_core_type's (num_core+2)/3 split.
func DefaultLayout(numCore int) []env.CoreType {
	numFast := (numCore + 2) / 3
	layout := make([]env.CoreType, numCore)
	for i := 0; i < numCore; i++ {
		if i < numFast {
			layout[i] = env.FastCore
		} else {
			layout[i] = env.SlowCore
		}
	}
	return layout
}

// ParseLayout decodes a per-CPU type string (one rune per core: 0/S/s =
// slow, 1/F/f = fast, X/x = offline), grounded on parse_core_config.
func ParseLayout(spec string, numCore int) ([]env.CoreType, error) {
	if len(spec) != numCore {
		return nil, fmt.Errorf("coretype: %d core types specified, expected %d", len(spec), numCore)
	}
	layout := make([]env.CoreType, numCore)
	for i, r := range spec {
		switch r {
		case '0', 'S', 's':
			layout[i] = env.SlowCore
		case '1', 'F', 'f':
			layout[i] = env.FastCore
		case 'X', 'x':
			layout[i] = env.Offline
		default:
			return nil, fmt.Errorf("coretype: invalid core type %q at position %d", r, i)
		}
	}
	return layout, nil
}

// Counts returns the number of fast and slow cores in a layout.
func Counts(layout []env.CoreType) (numFast, numSlow int) {
	for _, t := range layout {
		switch t {
		case env.FastCore:
			numFast++
		case env.SlowCore:
			numSlow++
		}
	}
	return numFast, numSlow
}

// hotplugSupported reports whether cpu1/online exists (cpu0's own file
// is typically absent because cpu0 can't be hot-unplugged on most
// platforms; its presence on another core implies hotplug is wired up).
func hotplugSupported() bool {
	_, err := os.Stat(sysfsRoot + "/cpu1/online")
	return err == nil
}

func readTrimmed(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(raw), " \n\x00"), nil
}

func writeSysfs(path, value string) error {
	return os.WriteFile(path, []byte(value), 0o644)
}

// Applier drives the real hotplug/cpufreq/affinity side effects; Configure
// takes one as a parameter so tests can substitute a fake that records
// writes instead of touching /sys.
type Applier interface {
	SetOnline(cpu int, online bool) error
	SetGovernorUserspace(cpu int) error
	SetFrequency(cpu int, freq string) error
	CurrentFrequency(cpu int) (string, error)
	SetAffinity(cpus []int) error
}

// SysfsApplier is the real Applier, grounded on set_core_type's
// file_read/file_write helpers and its final sched_setaffinity call.
type SysfsApplier struct {
	// RetryBackoff is slept between cpufreq write/read-back retries and
	// between hotplug write/read-back retries, grounded on set_core.c's
	// unconditional sleep(1).
	RetryBackoff time.Duration
}

// NewSysfsApplier returns an Applier with the source's 1-second backoff.
func NewSysfsApplier() *SysfsApplier {
	return &SysfsApplier{RetryBackoff: time.Second}
}

func (a *SysfsApplier) SetOnline(cpu int, online bool) error {
	want := "0"
	if online {
		want = "1"
	}
	path := fmt.Sprintf("%s/cpu%d/online", sysfsRoot, cpu)
	for {
		cur, err := readTrimmed(path)
		if err != nil {
			return fmt.Errorf("coretype: read %s: %w", path, err)
		}
		if cur == want {
			return nil
		}
		if err := writeSysfs(path, want); err != nil {
			return fmt.Errorf("coretype: write %s: %w", path, err)
		}
		time.Sleep(a.RetryBackoff)
	}
}

func (a *SysfsApplier) SetGovernorUserspace(cpu int) error {
	path := fmt.Sprintf("%s/cpu%d/cpufreq/scaling_governor", sysfsRoot, cpu)
	cur, err := readTrimmed(path)
	if err != nil {
		return fmt.Errorf("coretype: read %s: %w", path, err)
	}
	if cur == "userspace" {
		return nil
	}
	return writeSysfs(path, "userspace")
}

func (a *SysfsApplier) SetFrequency(cpu int, freq string) error {
	for attempt := 0; ; attempt++ {
		for _, kind := range []string{"scaling_max_freq", "scaling_min_freq"} {
			path := fmt.Sprintf("%s/cpu%d/cpufreq/%s", sysfsRoot, cpu, kind)
			cur, err := readTrimmed(path)
			if err != nil {
				return fmt.Errorf("coretype: read %s: %w", path, err)
			}
			if cur != freq {
				if err := writeSysfs(path, freq); err != nil {
					return fmt.Errorf("coretype: write %s: %w", path, err)
				}
			}
		}
		if cur, err := a.CurrentFrequency(cpu); err != nil || cur == freq || attempt > 0 {
			return nil
		}
		time.Sleep(a.RetryBackoff)
	}
}

func (a *SysfsApplier) CurrentFrequency(cpu int) (string, error) {
	path := fmt.Sprintf("%s/cpu%d/cpufreq/scaling_cur_freq", sysfsRoot, cpu)
	return readTrimmed(path)
}

// SetAffinity is implemented in the linux-only file so that non-linux
// builds of this package (used by tests on a developer's workstation)
// still compile.
func (a *SysfsApplier) SetAffinity(cpus []int) error {
	return setAffinity(cpus)
}

// Configure applies layout to the running system: hotplug, governor and
// frequency pinning when adjustFreq is set, kernel fast/slow tagging via
// k when doFairamp is set, and a final CPU affinity restriction to the
// online cores. cpu0 is exempt from hotplug (sched_setaffinity refuses
// to let the calling process leave its own core set), matching
// set_core_type's special-case for i==0.
func Configure(layout []env.CoreType, doFairamp, asymmetryAware, adjustFreq bool, freqs FrequencyRange, k kernel.Adapter, a Applier) ([]int, error) {
	hotplug := hotplugSupported()
	var cpus []int

	for i, t := range layout {
		if t == env.Offline {
			if hotplug && i != 0 {
				if err := a.SetOnline(i, false); err != nil {
					return nil, err
				}
			}
			continue
		}

		cpus = append(cpus, i)
		if hotplug && i != 0 {
			if err := a.SetOnline(i, true); err != nil {
				return nil, err
			}
		}

		if doFairamp {
			var err error
			if t == env.FastCore && asymmetryAware {
				err = k.SetFastCore(i)
			} else {
				err = k.SetSlowCore(i)
			}
			if err != nil {
				return nil, fmt.Errorf("coretype: tag cpu%d: %w", i, err)
			}
		}

		if adjustFreq {
			freq := freqs.Slow
			if t == env.FastCore {
				freq = freqs.Fast
			}
			if err := a.SetGovernorUserspace(i); err != nil {
				return nil, err
			}
			if err := a.SetFrequency(i, freq); err != nil {
				return nil, err
			}
			cur, err := a.CurrentFrequency(i)
			if err != nil {
				return nil, err
			}
			if cur != freq {
				return nil, fmt.Errorf("coretype: cpu%d frequency not adjusted: want %s got %s", i, freq, cur)
			}
		}
	}

	if err := a.SetAffinity(cpus); err != nil {
		return nil, fmt.Errorf("coretype: set affinity: %w", err)
	}
	return cpus, nil
}

// AssignCommandCPUs hands out the online cpu set across commands,
// num_threads cpus to each command in order, grounded on
// set_cpumask_comm. The resulting per-command slice feeds
// supervisor.spawn's pin-mode CORE_PINNING calls. Reports true if the
// online cpu set ran out before every command's threads were covered;
// commands past that point get no assigned cpus. The original only
// treats this as fatal when a pin-mode command is among the shortfall,
// left to the caller to decide.
func AssignCommandCPUs(cpus []int, commands []*env.Command) (insufficient bool) {
	idx := 0
	for _, c := range commands {
		if idx+c.NumThreads > len(cpus) {
			insufficient = true
			break
		}
		c.CPUMask = append([]int{}, cpus[idx:idx+c.NumThreads]...)
		idx += c.NumThreads
	}
	return insufficient
}

// ParseFrequencyKHz parses a cpufreq sysfs frequency string to an
// integer, used by callers that want to log the pinned values.
func ParseFrequencyKHz(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
