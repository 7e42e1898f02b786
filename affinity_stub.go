//go:build !linux

package dia

// setAffinity is a no-op on platforms without sched_setaffinity; index
// threads still get a dedicated OS thread via LockOSThread.
func setAffinity(int) error {
	return nil
}
