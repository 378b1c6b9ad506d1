//go:build !linux

package cpuset

import "errors"

func count() int { return 0 }

func bind(int) (func(), error) {
	return nil, errors.New("cpu binding not supported on this platform")
}
