// Package cpuset reports and pins the CPUs a process may run on.
//
// Trace buffers size themselves to one lane per usable CPU, and load
// generators may pin each writer goroutine to the CPU matching its lane so
// that lanes behave like the per-core queues they model.
package cpuset

import "runtime"

// Count returns the number of CPUs the process may run on.
func Count() int {
	if n := count(); n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Pin locks the calling goroutine to its OS thread and, where supported,
// binds that thread to cpu modulo the usable CPU count. The returned
// function undoes both. Pin never fails hard: when binding is unsupported
// or refused the goroutine is only locked to its thread and err says why.
func Pin(cpu int) (unpin func(), err error) {
	runtime.LockOSThread()
	restore, err := bind(cpu)
	return func() {
		if restore != nil {
			restore()
		}
		runtime.UnlockOSThread()
	}, err
}
