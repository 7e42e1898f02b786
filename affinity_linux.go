//go:build linux

package dia

import "golang.org/x/sys/unix"

// setAffinity binds the calling thread to a single CPU.
func setAffinity(cpu int) error {
	var mask unix.CPUSet
	mask.Set(cpu)
	return unix.SchedSetaffinity(0, &mask)
}
