//go:build linux

package cpuset

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// maxCPUs is CPU_SETSIZE, the size of the kernel affinity mask.
const maxCPUs = 1024

func count() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return 0
	}
	return set.Count()
}

// bind restricts the calling thread to the cpu-th CPU of its current
// affinity mask.
func bind(cpu int) (func(), error) {
	var orig unix.CPUSet
	if err := unix.SchedGetaffinity(0, &orig); err != nil {
		return nil, fmt.Errorf("get affinity: %w", err)
	}
	n := orig.Count()
	if n == 0 {
		return nil, fmt.Errorf("empty affinity mask")
	}

	want := cpu % n
	if want < 0 {
		want += n
	}
	target := -1
	for i, seen := 0, 0; i < maxCPUs; i++ {
		if !orig.IsSet(i) {
			continue
		}
		if seen == want {
			target = i
			break
		}
		seen++
	}
	if target < 0 {
		return nil, fmt.Errorf("cpu %d not in affinity mask", cpu)
	}

	var set unix.CPUSet
	set.Set(target)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("set affinity to cpu %d: %w", target, err)
	}
	return func() { _ = unix.SchedSetaffinity(0, &orig) }, nil
}
