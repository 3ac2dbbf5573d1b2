// Package testutil provides common test helpers for vmmctl tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/javanstorm/vmmctl/internal/bridge"
	"github.com/javanstorm/vmmctl/pkg/hypervisor"
)

// VMConfig returns the machine configuration used across tests:
// 512 MiB, one vCPU, shmem backed.
func VMConfig() bridge.VMConfig {
	return bridge.VMConfig{
		VCPUCount:    1,
		MaxVCPUCount: 1,
		MemSizeMiB:   512,
		MemType:      bridge.MemoryTypeShmem,
	}
}

// BootSource writes placeholder kernel and initrd files under t.TempDir()
// and returns a boot source pointing at them.
func BootSource(t *testing.T) bridge.BootSourceConfig {
	t.Helper()

	dir := t.TempDir()
	kernel := filepath.Join(dir, "vmlinux")
	initrd := filepath.Join(dir, "initramfs.img")
	for _, p := range []string{kernel, initrd} {
		if err := os.WriteFile(p, []byte("test"), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", p, err)
		}
	}

	return bridge.BootSourceConfig{
		KernelPath: kernel,
		InitrdPath: initrd,
		BootArgs:   "console=ttyS0 reboot=k panic=1 pci=off",
	}
}

// FakeDriver is an in-memory hypervisor.Driver. It records every lifecycle
// call and never touches real hardware.
type FakeDriver struct {
	mu      sync.Mutex
	calls   []string
	cfg     *hypervisor.VMConfig
	exitCh  chan error
	running bool

	// Errors injected per lifecycle call, keyed by call name.
	Fail map[string]error

	// Caps is returned by Capabilities.
	Caps hypervisor.Capabilities

	// IgnoreStop makes Stop succeed while the guest keeps running, like a
	// guest that never answers the shutdown request.
	IgnoreStop bool
}

// NewFakeDriver creates a fake driver that accepts everything.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{Fail: make(map[string]error)}
}

// Factory returns a hypervisor.Factory that always yields d.
func (d *FakeDriver) Factory() hypervisor.Factory {
	return func(hypervisor.Device) (hypervisor.Driver, error) {
		return d, nil
	}
}

func (d *FakeDriver) record(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, name)
	return d.Fail[name]
}

// Calls returns the recorded lifecycle calls in order.
func (d *FakeDriver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// Config returns the configuration passed to Create.
func (d *FakeDriver) Config() *hypervisor.VMConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Running reports whether Start succeeded and nothing stopped the VM since.
func (d *FakeDriver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Exit simulates the guest exiting on its own.
func (d *FakeDriver) Exit(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = false
	if d.exitCh != nil {
		d.exitCh <- err
	}
}

func (d *FakeDriver) Info() hypervisor.Info {
	return hypervisor.Info{Name: "fake", Version: "test", Arch: runtime.GOARCH}
}

func (d *FakeDriver) Capabilities() hypervisor.Capabilities {
	return d.Caps
}

func (d *FakeDriver) Validate(ctx context.Context, cfg *hypervisor.VMConfig) error {
	if err := d.record("validate"); err != nil {
		return err
	}
	return cfg.Validate()
}

func (d *FakeDriver) Create(ctx context.Context, cfg *hypervisor.VMConfig) error {
	if err := d.record("create"); err != nil {
		return err
	}
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	return nil
}

func (d *FakeDriver) Start(ctx context.Context) (chan error, error) {
	if err := d.record("start"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.exitCh = make(chan error, 1)
	d.running = true
	return d.exitCh, nil
}

// Stop asks the guest to stop. The guest exits right away and reports it on
// the channel returned by Start, unless IgnoreStop is set.
func (d *FakeDriver) Stop(ctx context.Context) error {
	if err := d.record("stop"); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return hypervisor.ErrNotRunning
	}
	if d.IgnoreStop {
		return nil
	}
	d.running = false
	select {
	case d.exitCh <- nil:
	default:
	}
	return nil
}

func (d *FakeDriver) Kill(ctx context.Context) error {
	if err := d.record("kill"); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return hypervisor.ErrNotRunning
	}
	d.running = false
	return nil
}
