package bridge

import "fmt"

// MemoryType selects how guest memory is backed.
type MemoryType string

const (
	MemoryTypeShmem     MemoryType = "shmem"
	MemoryTypeHugetlbfs MemoryType = "hugetlbfs"
	MemoryTypeHugeShmem MemoryType = "hugeshmem"
)

// Valid reports whether t is a known memory type. The empty value is valid and
// means shmem.
func (t MemoryType) Valid() bool {
	switch t {
	case "", MemoryTypeShmem, MemoryTypeHugetlbfs, MemoryTypeHugeShmem:
		return true
	default:
		return false
	}
}

// VMConfig holds machine sizing and backing parameters.
type VMConfig struct {
	// VCPUCount is the number of vCPUs present at boot.
	VCPUCount int `json:"vcpu_count"`

	// MaxVCPUCount is the hotplug ceiling. Zero means VCPUCount.
	MaxVCPUCount int `json:"max_vcpu_count"`

	// MemSizeMiB is guest memory in MiB.
	MemSizeMiB int `json:"mem_size_mib"`

	MemType     MemoryType `json:"mem_type"`
	MemFilePath string     `json:"mem_file_path,omitempty"`

	// SerialPath is where the guest serial console is attached.
	SerialPath string `json:"serial_path,omitempty"`
}

// BootSourceConfig describes the kernel to boot.
type BootSourceConfig struct {
	KernelPath string `json:"kernel_path"`
	InitrdPath string `json:"initrd_path,omitempty"`
	BootArgs   string `json:"boot_args,omitempty"`
}

// Action is one VM lifecycle operation. The set of actions is closed: only
// the types in this file implement it.
type Action interface {
	// Kind returns a stable name for logs and errors.
	Kind() string
	isAction()
}

// SetVMConfiguration sets memory and vCPU parameters before boot.
type SetVMConfiguration struct {
	Config VMConfig
}

// ConfigureBootSource sets the kernel, initrd and command line before boot.
type ConfigureBootSource struct {
	Config BootSourceConfig
}

// StartMicroVM boots the configured VM.
type StartMicroVM struct{}

// GetVMConfiguration returns the current machine configuration.
type GetVMConfiguration struct{}

// GetInstanceInfo returns the instance identity and lifecycle state.
type GetInstanceInfo struct{}

func (SetVMConfiguration) Kind() string  { return "set-vm-configuration" }
func (ConfigureBootSource) Kind() string { return "configure-boot-source" }
func (StartMicroVM) Kind() string        { return "start-microvm" }
func (GetVMConfiguration) Kind() string  { return "get-vm-configuration" }
func (GetInstanceInfo) Kind() string     { return "get-instance-info" }

func (SetVMConfiguration) isAction()  {}
func (ConfigureBootSource) isAction() {}
func (StartMicroVM) isAction()        {}
func (GetVMConfiguration) isAction()  {}
func (GetInstanceInfo) isAction()     {}

func (a SetVMConfiguration) String() string {
	c := a.Config
	return fmt.Sprintf("%s(vcpus=%d max=%d mem=%dMiB type=%s)",
		a.Kind(), c.VCPUCount, c.MaxVCPUCount, c.MemSizeMiB, c.MemType)
}

func (a ConfigureBootSource) String() string {
	return fmt.Sprintf("%s(kernel=%s initrd=%s)", a.Kind(), a.Config.KernelPath, a.Config.InitrdPath)
}
