//go:build linux

package coretype

import "golang.org/x/sys/unix"

// setAffinity restricts the calling process to the given CPU set via
// sched_setaffinity(0, ...), grounded on set_core_type's final
// sched_setaffinity(0, sizeof(cpu_set_t), cpumask) call.
func setAffinity(cpus []int) error {
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range cpus {
		set.Set(cpu)
	}
	return unix.SchedSetaffinity(0, &set)
}
