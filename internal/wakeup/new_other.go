//go:build !linux

package wakeup

// New creates the platform signal. Without eventfd the in-process counter is
// used.
func New() (Signal, error) {
	return NewMemory(), nil
}
