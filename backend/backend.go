package backend

import (
	"errors"
	"io"

	"github.com/gogpu/framegraph"
)

// Backend names.
const (
	// BackendHAL executes plans on a gogpu/wgpu HAL device.
	BackendHAL = "hal"

	// BackendTrace records backend calls without a device.
	BackendTrace = "trace"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not
	// registered.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Factory creates a backend instance. The returned io.Closer releases the
// device objects the backend owns.
type Factory func() (Instance, error)

// Instance is a framegraph.Backend that owns device objects.
type Instance interface {
	framegraph.Backend
	io.Closer
}
