package hypervisor

// VMConfig holds VM configuration parameters.
type VMConfig struct {
	// CPUs is the number of virtual CPUs present at boot.
	CPUs int

	// MaxCPUs is the hotplug ceiling. Zero means CPUs.
	MaxCPUs int

	// MemoryMB is the amount of memory in megabytes.
	MemoryMB int

	// MemoryType is the guest memory backing ("shmem", "hugetlbfs", "hugeshmem").
	MemoryType string

	// MemoryFile backs guest memory when MemoryType needs a file.
	MemoryFile string

	// Kernel is the path to the Linux kernel image.
	Kernel string

	// Initrd is the path to the initial ramdisk (optional).
	Initrd string

	// Cmdline is the kernel command line.
	Cmdline string

	// SerialPath receives guest serial output (optional).
	SerialPath string
}

// Validate performs basic validation of the configuration.
func (c *VMConfig) Validate() error {
	if c.CPUs < 1 {
		return ErrInvalidCPUCount
	}
	if c.MaxCPUs != 0 && c.MaxCPUs < c.CPUs {
		return ErrInvalidCPUCount
	}
	if c.MemoryMB < 128 {
		return ErrInsufficientMemory
	}
	if c.Kernel == "" {
		return ErrMissingKernel
	}
	return nil
}
