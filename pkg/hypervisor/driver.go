// Package hypervisor provides a unified interface over the hypervisor
// backends that actually run a microVM (Linux KVM, macOS
// Virtualization.framework).
package hypervisor

import (
	"context"
)

// Driver is the main interface for hypervisor operations.
// Platform-specific implementations (vz, kvm) satisfy this interface.
type Driver interface {
	Lifecycle
	Info() Info
	// Capabilities returns what features the driver supports.
	Capabilities() Capabilities
}

// Capabilities describes driver feature support.
// Used to warn about configuration the backend will ignore.
type Capabilities struct {
	HugePages  bool // hugetlbfs / hugeshmem backed memory
	CPUHotplug bool // max vCPU count above boot count
	SerialFile bool // serial console written to a host path
}

// Lifecycle defines VM lifecycle operations.
type Lifecycle interface {
	// Validate checks if the configuration is valid for this driver.
	Validate(ctx context.Context, cfg *VMConfig) error

	// Create initializes VM resources without starting.
	Create(ctx context.Context, cfg *VMConfig) error

	// Start boots the VM. Returns a channel that receives an error when VM exits.
	Start(ctx context.Context) (chan error, error)

	// Stop gracefully shuts down the VM.
	Stop(ctx context.Context) error

	// Kill forcefully terminates the VM.
	Kill(ctx context.Context) error
}

// Info contains driver metadata.
type Info struct {
	Name    string // "vz" or "kvm"
	Version string // Driver version
	Arch    string // "arm64" or "amd64"
}
