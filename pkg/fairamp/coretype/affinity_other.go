//go:build !linux

package coretype

import "fmt"

// setAffinity has no portable equivalent of sched_setaffinity; builds on
// a non-Linux host (e.g. for running this package's tests on a
// developer's workstation) get an explicit error instead of a silent
// no-op if Configure is ever actually invoked there.
func setAffinity(cpus []int) error {
	return fmt.Errorf("coretype: CPU affinity is only supported on linux")
}
