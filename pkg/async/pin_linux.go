//go:build linux

package async

import "golang.org/x/sys/unix"

// pinThread binds the calling OS thread to one logical processor. The
// caller holds runtime.LockOSThread for the worker's lifetime.
func pinThread(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}
