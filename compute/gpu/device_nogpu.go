//go:build nogpu

package gpu

import "errors"

// ErrNoDevice is returned when no usable GPU adapter exists.
var ErrNoDevice = errors.New("compute/gpu: built with nogpu")

// NewDefault always fails in nogpu builds.
func NewDefault(...Option) (*Context, error) {
	return nil, ErrNoDevice
}
