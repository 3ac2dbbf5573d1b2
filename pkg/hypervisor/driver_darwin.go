//go:build darwin

package hypervisor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/Code-Hex/vz/v3"
)

// vzDriver implements Driver using macOS Virtualization.framework.
type vzDriver struct {
	mu    sync.Mutex
	cfg   *VMConfig
	vm    *vz.VirtualMachine
	state driverState

	inputWriter *os.File
	inputReader *os.File
	serialFile  *os.File
}

type driverState int

const (
	stateNew driverState = iota
	stateCreated
	stateRunning
	stateStopped
)

// NewDriver creates a new vz-based driver for macOS. Virtualization.framework
// needs no device handle, so dev may be nil.
func NewDriver(dev Device) (Driver, error) {
	return &vzDriver{
		state: stateNew,
	}, nil
}

func (d *vzDriver) Info() Info {
	return Info{
		Name:    "vz",
		Version: "1.0.0",
		Arch:    runtime.GOARCH,
	}
}

func (d *vzDriver) Validate(ctx context.Context, cfg *VMConfig) error {
	return cfg.Validate()
}

func (d *vzDriver) Create(ctx context.Context, cfg *VMConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateNew {
		return ErrAlreadyCreated
	}

	bootLoader, err := vz.NewLinuxBootLoader(cfg.Kernel, bootLoaderOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("vzDriver: create boot loader: %w", err)
	}

	vmCfg, err := vz.NewVirtualMachineConfiguration(
		bootLoader,
		uint(cfg.CPUs),
		uint64(cfg.MemoryMB)*1024*1024,
	)
	if err != nil {
		return fmt.Errorf("vzDriver: create VM config: %w", err)
	}

	platform, err := vz.NewGenericPlatformConfiguration()
	if err != nil {
		return fmt.Errorf("vzDriver: create platform config: %w", err)
	}
	vmCfg.SetPlatformVirtualMachineConfiguration(platform)

	serialPath := cfg.SerialPath
	if serialPath == "" {
		serialPath = os.DevNull
	}
	serial, err := os.OpenFile(serialPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("vzDriver: open serial %s: %w", serialPath, err)
	}
	inputReader, inputWriter, err := os.Pipe()
	if err != nil {
		serial.Close()
		return fmt.Errorf("vzDriver: create input pipe: %w", err)
	}

	serialCfg, err := vz.NewVirtioConsoleDeviceSerialPortConfiguration(
		vz.NewFileHandleSerialPortAttachment(inputReader, serial),
	)
	if err != nil {
		inputReader.Close()
		inputWriter.Close()
		serial.Close()
		return fmt.Errorf("vzDriver: create serial config: %w", err)
	}
	vmCfg.SetSerialPortsVirtualMachineConfiguration([]*vz.VirtioConsoleDeviceSerialPortConfiguration{
		serialCfg,
	})

	ok, err := vmCfg.Validate()
	if !ok || err != nil {
		inputReader.Close()
		inputWriter.Close()
		serial.Close()
		return fmt.Errorf("vzDriver: invalid configuration: %w", err)
	}

	vm, err := vz.NewVirtualMachine(vmCfg)
	if err != nil {
		inputReader.Close()
		inputWriter.Close()
		serial.Close()
		return fmt.Errorf("vzDriver: create VM: %w", err)
	}

	d.cfg = cfg
	d.vm = vm
	d.inputReader = inputReader
	d.inputWriter = inputWriter
	d.serialFile = serial
	d.state = stateCreated

	return nil
}

func (d *vzDriver) Start(ctx context.Context) (chan error, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateCreated {
		return nil, ErrNotCreated
	}

	errCh := make(chan error, 1)

	if err := d.vm.Start(); err != nil {
		return nil, fmt.Errorf("vzDriver: start VM: %w", err)
	}

	d.state = stateRunning

	go func() {
		for state := range d.vm.StateChangedNotify() {
			if state == vz.VirtualMachineStateStopped || state == vz.VirtualMachineStateError {
				d.mu.Lock()
				d.state = stateStopped
				d.mu.Unlock()
				errCh <- nil
				return
			}
		}
	}()

	return errCh, nil
}

func (d *vzDriver) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateRunning {
		return ErrNotRunning
	}

	canStop, err := d.vm.CanRequestStop()
	if err != nil {
		return fmt.Errorf("vzDriver: check can stop: %w", err)
	}

	if canStop {
		ok, err := d.vm.RequestStop()
		if err != nil || !ok {
			return fmt.Errorf("vzDriver: request stop failed: %w", err)
		}
	}

	d.state = stateStopped
	return nil
}

func (d *vzDriver) Kill(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateRunning {
		return ErrNotRunning
	}

	if err := d.vm.Stop(); err != nil {
		return fmt.Errorf("vzDriver: force stop: %w", err)
	}

	for _, f := range []*os.File{d.inputWriter, d.inputReader, d.serialFile} {
		if f != nil {
			f.Close()
		}
	}
	d.inputWriter, d.inputReader, d.serialFile = nil, nil, nil

	d.state = stateStopped
	return nil
}

func (d *vzDriver) Capabilities() Capabilities {
	return Capabilities{
		HugePages:  false,
		CPUHotplug: false,
		SerialFile: true,
	}
}
