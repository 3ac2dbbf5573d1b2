package bridge

import (
	"errors"
	"fmt"
)

// Transport errors: the controller-monitor link itself failed.
var (
	ErrSendFailed   = errors.New("bridge: send request failed")
	ErrSignalFailed = errors.New("bridge: signal monitor failed")
	ErrRecvFailed   = errors.New("bridge: receive response failed")
	ErrCanceled     = errors.New("bridge: call canceled")

	// ErrNilAction is the cause when Call is given no action.
	ErrNilAction = errors.New("bridge: nil action")
)

// Action errors: the monitor rejected a specific action.
var (
	ErrInvalidVCPUCount      = errors.New("vcpu count must be at least 1")
	ErrVCPUExceedsMax        = errors.New("vcpu count exceeds max vcpu count")
	ErrInvalidMemorySize     = errors.New("memory must be at least 128MiB")
	ErrInvalidMemoryType     = errors.New("memory type must be shmem, hugetlbfs or hugeshmem")
	ErrMissingMemoryFile     = errors.New("hugetlbfs memory requires a memory file path")
	ErrMissingKernel         = errors.New("kernel path is required")
	ErrNotConfigured         = errors.New("vm configuration not set")
	ErrBootSourceNotSet      = errors.New("boot source not configured")
	ErrMicroVMAlreadyRunning = errors.New("microvm is already running")
	ErrStartFailed           = errors.New("microvm start failed")
	ErrUnsupportedAction     = errors.New("unsupported action")
)

// TransportError reports that a call could not complete. Op is one of the
// transport sentinels above; errors.Is matches both Op and the cause.
type TransportError struct {
	Op        error
	Action    string
	RequestID uint64
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%v: %s (request %d): %v", e.Op, e.Action, e.RequestID, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{e.Op, e.Err}
}

// ActionError is a domain-level rejection delivered inside an Outcome.
type ActionError struct {
	Kind   string
	Reason error
	Detail string
}

func (e *ActionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("vmm action %s: %v", e.Kind, e.Reason)
	}
	return fmt.Sprintf("vmm action %s: %v: %s", e.Kind, e.Reason, e.Detail)
}

func (e *ActionError) Unwrap() error {
	return e.Reason
}
