package hypervisor

import "errors"

// Configuration errors
var (
	ErrInvalidCPUCount    = errors.New("hypervisor: CPU count must be at least 1 and not above max")
	ErrInsufficientMemory = errors.New("hypervisor: memory must be at least 128MB")
	ErrMissingKernel      = errors.New("hypervisor: kernel path is required")
)

// Runtime errors
var (
	ErrNotCreated     = errors.New("hypervisor: VM not created")
	ErrAlreadyCreated = errors.New("hypervisor: VM already created")
	ErrNotRunning     = errors.New("hypervisor: VM is not running")
)

// Platform errors
var (
	ErrUnsupportedPlatform = errors.New("hypervisor: platform not supported")
	ErrNoDevice            = errors.New("hypervisor: no virtualization device handle")
)
