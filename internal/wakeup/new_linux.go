//go:build linux

package wakeup

// New creates the platform signal: an eventfd on Linux.
func New() (Signal, error) {
	return NewEventFD()
}
