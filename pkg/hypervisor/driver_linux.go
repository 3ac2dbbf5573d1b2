//go:build linux

package hypervisor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	hypeos "github.com/c35s/hype/os/linux"
	"github.com/c35s/hype/virtio"
	"github.com/c35s/hype/vmm"
	"golang.org/x/sys/unix"
)

// kvmDriver implements Driver using Linux KVM via hype.
type kvmDriver struct {
	mu     sync.Mutex
	dev    Device
	cfg    *VMConfig
	vm     *vmm.VM
	state  driverState
	cancel context.CancelFunc

	// consoleIn is never written; closing it gives the guest EOF.
	consoleIn  *os.File
	consoleRd  *os.File
	serialFile *os.File
}

type driverState int

const (
	stateNew driverState = iota
	stateCreated
	stateRunning
	stateStopped
)

// NewDriver creates a KVM driver bound to an already-open /dev/kvm handle.
func NewDriver(dev Device) (Driver, error) {
	if dev == nil {
		return nil, ErrNoDevice
	}
	var st unix.Stat_t
	if err := unix.Fstat(int(dev.Fd()), &st); err != nil {
		return nil, fmt.Errorf("kvmDriver: stat %s: %w", dev.Name(), err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return nil, fmt.Errorf("kvmDriver: %s is not a character device", dev.Name())
	}
	return &kvmDriver{
		dev:   dev,
		state: stateNew,
	}, nil
}

func (d *kvmDriver) Info() Info {
	return Info{
		Name:    "kvm",
		Version: "1.0.0",
		Arch:    runtime.GOARCH,
	}
}

func (d *kvmDriver) Validate(ctx context.Context, cfg *VMConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	// Check kernel file exists
	if _, err := os.Stat(cfg.Kernel); err != nil {
		return fmt.Errorf("kvmDriver: kernel not found: %w", err)
	}
	if cfg.Initrd != "" {
		if _, err := os.Stat(cfg.Initrd); err != nil {
			return fmt.Errorf("kvmDriver: initrd not found: %w", err)
		}
	}
	return nil
}

func (d *kvmDriver) Create(ctx context.Context, cfg *VMConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateNew {
		return ErrAlreadyCreated
	}

	kernel, err := os.ReadFile(cfg.Kernel)
	if err != nil {
		return fmt.Errorf("kvmDriver: read kernel: %w", err)
	}

	var initrd []byte
	if cfg.Initrd != "" {
		initrd, err = os.ReadFile(cfg.Initrd)
		if err != nil {
			return fmt.Errorf("kvmDriver: read initrd: %w", err)
		}
	}

	serialPath := cfg.SerialPath
	if serialPath == "" {
		serialPath = os.DevNull
	}
	serial, err := os.OpenFile(serialPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("kvmDriver: open serial %s: %w", serialPath, err)
	}

	inputReader, inputWriter, err := os.Pipe()
	if err != nil {
		serial.Close()
		return fmt.Errorf("kvmDriver: create input pipe: %w", err)
	}

	hypeCfg := vmm.Config{
		MemSize: cfg.MemoryMB * 1024 * 1024,
		Devices: []virtio.DeviceConfig{
			&virtio.ConsoleDevice{
				In:  inputReader,
				Out: serial,
			},
		},
		Loader: &hypeos.Loader{
			Kernel:  kernel,
			Initrd:  initrd,
			Cmdline: cfg.Cmdline,
		},
	}

	vm, err := vmm.New(hypeCfg)
	if err != nil {
		inputReader.Close()
		inputWriter.Close()
		serial.Close()
		return fmt.Errorf("kvmDriver: create VM: %w", err)
	}

	d.cfg = cfg
	d.vm = vm
	d.consoleIn = inputWriter
	d.consoleRd = inputReader
	d.serialFile = serial
	d.state = stateCreated

	return nil
}

func (d *kvmDriver) Start(ctx context.Context) (chan error, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateCreated {
		return nil, ErrNotCreated
	}

	errCh := make(chan error, 1)
	startedCh := make(chan struct{})
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go func() {
		// vCPU ioctls must stay on one OS thread.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		close(startedCh)

		err := d.vm.Run(runCtx)
		d.mu.Lock()
		d.state = stateStopped
		d.mu.Unlock()
		errCh <- err
	}()

	<-startedCh
	d.state = stateRunning

	return errCh, nil
}

func (d *kvmDriver) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateRunning {
		return ErrNotRunning
	}

	if d.cancel != nil {
		d.cancel()
	}
	d.state = stateStopped
	return nil
}

func (d *kvmDriver) Kill(ctx context.Context) error {
	// For KVM, Kill is the same as Stop (context cancellation)
	err := d.Stop(ctx)

	d.mu.Lock()
	for _, f := range []*os.File{d.consoleIn, d.consoleRd, d.serialFile} {
		if f != nil {
			f.Close()
		}
	}
	d.consoleIn, d.consoleRd, d.serialFile = nil, nil, nil
	d.mu.Unlock()

	return err
}

func (d *kvmDriver) Capabilities() Capabilities {
	return Capabilities{
		HugePages:  false, // hype maps anonymous memory only
		CPUHotplug: false,
		SerialFile: true,
	}
}
