package hypervisor

import "runtime"

// SupportedPlatform returns true if the current platform has a hypervisor driver.
func SupportedPlatform() bool {
	switch runtime.GOOS {
	case "darwin", "linux":
		return true
	default:
		return false
	}
}

// Factory builds a driver around an already-opened virtualization device
// handle. NewDriver is the platform factory.
type Factory func(dev Device) (Driver, error)

// Device is the privileged handle the driver runs against (e.g. /dev/kvm).
// The caller opens it; drivers never open or close it themselves.
type Device interface {
	Fd() uintptr
	Name() string
}

// NewDriver creates a new hypervisor driver for the current platform.
// This function is implemented in platform-specific files using build tags.
// See driver_darwin.go and driver_linux.go.
