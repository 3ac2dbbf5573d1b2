package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/javanstorm/vmmctl/internal/bridge"
	"github.com/javanstorm/vmmctl/internal/version"
	"github.com/javanstorm/vmmctl/pkg/hypervisor"
)

const (
	// minMemoryMiB matches the hypervisor driver floor.
	minMemoryMiB = 128

	// DefaultStopTimeout bounds how long Shutdown waits for a graceful stop
	// before killing the VM.
	DefaultStopTimeout = 10 * time.Second
)

// Executor owns VM state and executes actions against it. It is only ever
// touched by the monitor goroutine, so implementations need no locking.
type Executor interface {
	Execute(ctx context.Context, a bridge.Action) bridge.Outcome
	Shutdown(ctx context.Context) error
}

// Config holds construction parameters for a VMM.
type Config struct {
	// ID identifies the instance. Empty generates a random UUID.
	ID string

	// Device is the already-opened virtualization handle (e.g. /dev/kvm).
	// It may be nil on platforms that need none.
	Device hypervisor.Device

	// NewDriver builds the backend on StartMicroVM. Defaults to
	// hypervisor.NewDriver.
	NewDriver hypervisor.Factory

	// DataDir holds the persistent state file. Empty disables persistence.
	DataDir string

	// StopTimeout is how long Shutdown waits for the guest to stop after a
	// graceful stop request. Zero means DefaultStopTimeout.
	StopTimeout time.Duration

	Logger *slog.Logger
}

// VMM is the monitor's VM state owner.
type VMM struct {
	id        string
	device    hypervisor.Device
	newDriver   hypervisor.Factory
	stateFile   *StateFile
	stopTimeout time.Duration
	logger      *slog.Logger

	state     bridge.InstanceState
	vmConfig  *bridge.VMConfig
	boot      *bridge.BootSourceConfig
	driver    hypervisor.Driver
	exitCh    chan error
	cancel    context.CancelFunc
	startedAt time.Time
	actions   uint64
}

var _ Executor = (*VMM)(nil)

// NewVMM creates a VMM in the uninitialized state.
func NewVMM(cfg Config) *VMM {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.NewDriver == nil {
		cfg.NewDriver = hypervisor.NewDriver
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}

	v := &VMM{
		id:          cfg.ID,
		device:      cfg.Device,
		newDriver:   cfg.NewDriver,
		stopTimeout: cfg.StopTimeout,
		logger:      cfg.Logger.With("instance", cfg.ID),
		state:       bridge.StateUninitialized,
	}
	if cfg.DataDir != "" {
		v.stateFile = NewStateFile(cfg.DataDir)
	}
	return v
}

// State returns the current lifecycle state.
func (v *VMM) State() bridge.InstanceState {
	return v.state
}

// Execute implements Executor.
func (v *VMM) Execute(ctx context.Context, a bridge.Action) bridge.Outcome {
	v.actions++
	v.reapExit()

	switch a := a.(type) {
	case bridge.SetVMConfiguration:
		return v.setVMConfiguration(a)
	case bridge.ConfigureBootSource:
		return v.configureBootSource(a)
	case bridge.StartMicroVM:
		return v.startMicroVM(ctx, a)
	case bridge.GetVMConfiguration:
		if v.vmConfig == nil {
			return bridge.Fail(a, bridge.ErrNotConfigured, "")
		}
		cfg := *v.vmConfig
		return bridge.Succeed(bridge.VMMData{VMConfig: &cfg})
	case bridge.GetInstanceInfo:
		info := v.info()
		return bridge.Succeed(bridge.VMMData{InstanceInfo: &info})
	case nil:
		return bridge.Outcome{Err: &bridge.ActionError{Kind: "nil", Reason: bridge.ErrUnsupportedAction}}
	default:
		return bridge.Fail(a, bridge.ErrUnsupportedAction, fmt.Sprintf("%T", a))
	}
}

func (v *VMM) started() bool {
	return v.state == bridge.StateRunning || v.state == bridge.StateStopped
}

func (v *VMM) setVMConfiguration(a bridge.SetVMConfiguration) bridge.Outcome {
	if v.started() {
		return bridge.Fail(a, bridge.ErrMicroVMAlreadyRunning, "configuration is fixed after boot")
	}

	cfg := a.Config
	if cfg.MaxVCPUCount == 0 {
		cfg.MaxVCPUCount = cfg.VCPUCount
	}
	if cfg.MemType == "" {
		cfg.MemType = bridge.MemoryTypeShmem
	}

	switch {
	case cfg.VCPUCount < 1:
		return bridge.Fail(a, bridge.ErrInvalidVCPUCount, fmt.Sprintf("got %d", cfg.VCPUCount))
	case cfg.VCPUCount > cfg.MaxVCPUCount:
		return bridge.Fail(a, bridge.ErrVCPUExceedsMax,
			fmt.Sprintf("%d > %d", cfg.VCPUCount, cfg.MaxVCPUCount))
	case cfg.MemSizeMiB < minMemoryMiB:
		return bridge.Fail(a, bridge.ErrInvalidMemorySize, fmt.Sprintf("got %dMiB", cfg.MemSizeMiB))
	case !cfg.MemType.Valid():
		return bridge.Fail(a, bridge.ErrInvalidMemoryType, string(cfg.MemType))
	case cfg.MemType == bridge.MemoryTypeHugetlbfs && cfg.MemFilePath == "":
		return bridge.Fail(a, bridge.ErrMissingMemoryFile, "")
	}

	v.vmConfig = &cfg
	v.refreshState()
	v.logger.Info("vm configuration set",
		"vcpus", cfg.VCPUCount, "max_vcpus", cfg.MaxVCPUCount,
		"mem_mib", cfg.MemSizeMiB, "mem_type", cfg.MemType)
	return bridge.Succeed(bridge.VMMData{})
}

func (v *VMM) configureBootSource(a bridge.ConfigureBootSource) bridge.Outcome {
	if v.started() {
		return bridge.Fail(a, bridge.ErrMicroVMAlreadyRunning, "boot source is fixed after boot")
	}
	if a.Config.KernelPath == "" {
		return bridge.Fail(a, bridge.ErrMissingKernel, "")
	}

	boot := a.Config
	v.boot = &boot
	v.refreshState()
	v.logger.Info("boot source configured",
		"kernel", boot.KernelPath, "initrd", boot.InitrdPath)
	return bridge.Succeed(bridge.VMMData{})
}

func (v *VMM) startMicroVM(ctx context.Context, a bridge.StartMicroVM) bridge.Outcome {
	switch {
	case v.state == bridge.StateRunning:
		return bridge.Fail(a, bridge.ErrMicroVMAlreadyRunning, "")
	case v.state == bridge.StateStopped:
		return bridge.Fail(a, bridge.ErrStartFailed, "instance already stopped")
	case v.vmConfig == nil:
		return bridge.Fail(a, bridge.ErrNotConfigured, "")
	case v.boot == nil:
		return bridge.Fail(a, bridge.ErrBootSourceNotSet, "")
	}

	driver, err := v.newDriver(v.device)
	if err != nil {
		return bridge.Fail(a, bridge.ErrStartFailed, fmt.Sprintf("create driver: %v", err))
	}

	hvCfg := v.driverConfig()
	v.warnUnsupported(driver.Capabilities(), hvCfg)

	if err := driver.Validate(ctx, hvCfg); err != nil {
		return bridge.Fail(a, bridge.ErrStartFailed, fmt.Sprintf("validate: %v", err))
	}
	if err := driver.Create(ctx, hvCfg); err != nil {
		return bridge.Fail(a, bridge.ErrStartFailed, fmt.Sprintf("create: %v", err))
	}

	// The VM outlives the action that started it.
	runCtx, cancel := context.WithCancel(context.Background())
	exitCh, err := driver.Start(runCtx)
	if err != nil {
		cancel()
		return bridge.Fail(a, bridge.ErrStartFailed, fmt.Sprintf("start: %v", err))
	}

	v.driver = driver
	v.exitCh = exitCh
	v.cancel = cancel
	v.startedAt = time.Now()
	v.state = bridge.StateRunning

	if v.stateFile != nil {
		if err := v.stateFile.RecordBoot(v.info(), hvCfg.Kernel); err != nil {
			// State tracking is non-critical.
			v.logger.Warn("failed to record boot", "error", err)
		}
	}

	info := driver.Info()
	v.logger.Info("microvm started", "driver", info.Name, "arch", info.Arch)
	return bridge.Succeed(bridge.VMMData{})
}

// Shutdown implements Executor. It asks a running VM to stop, waits up to
// the stop timeout for the guest to exit, and kills it if the request fails
// or times out. It is safe to call in any state.
func (v *VMM) Shutdown(ctx context.Context) error {
	v.reapExit()
	if v.state != bridge.StateRunning {
		return nil
	}

	clean := v.stopGracefully(ctx)
	var err error
	if !clean {
		err = v.driver.Kill(ctx)
		if errors.Is(err, hypervisor.ErrNotRunning) {
			err = nil
		}
	}
	v.cancel()
	v.state = bridge.StateStopped
	v.recordShutdown(clean)

	if err != nil {
		return fmt.Errorf("kill microvm: %w", err)
	}
	v.logger.Info("microvm stopped", "clean", clean)
	return nil
}

// stopGracefully reports whether the guest exited after a stop request.
func (v *VMM) stopGracefully(ctx context.Context) bool {
	if err := v.driver.Stop(ctx); err != nil {
		if errors.Is(err, hypervisor.ErrNotRunning) {
			return true
		}
		v.logger.Warn("graceful stop failed, killing microvm", "error", err)
		return false
	}

	timer := time.NewTimer(v.stopTimeout)
	defer timer.Stop()

	select {
	case err := <-v.exitCh:
		if err != nil {
			v.logger.Debug("microvm exited after stop request", "error", err)
		}
		return true
	case <-timer.C:
		v.logger.Warn("microvm did not stop in time, killing it", "timeout", v.stopTimeout)
		return false
	case <-ctx.Done():
		return false
	}
}

// reapExit notices a guest that exited on its own.
func (v *VMM) reapExit() {
	if v.state != bridge.StateRunning || v.exitCh == nil {
		return
	}
	select {
	case err := <-v.exitCh:
		v.cancel()
		v.state = bridge.StateStopped
		if err != nil {
			v.logger.Warn("microvm exited", "error", err)
		} else {
			v.logger.Info("microvm exited")
		}
		v.recordShutdown(err == nil)
	default:
	}
}

func (v *VMM) recordShutdown(clean bool) {
	if v.stateFile == nil {
		return
	}
	if err := v.stateFile.RecordShutdown(v.info(), clean); err != nil {
		v.logger.Warn("failed to record shutdown", "error", err)
	}
}

func (v *VMM) refreshState() {
	switch {
	case v.vmConfig != nil && v.boot != nil:
		v.state = bridge.StateBootSourceSet
	case v.vmConfig != nil:
		v.state = bridge.StateConfigured
	}
}

func (v *VMM) driverConfig() *hypervisor.VMConfig {
	return &hypervisor.VMConfig{
		CPUs:       v.vmConfig.VCPUCount,
		MaxCPUs:    v.vmConfig.MaxVCPUCount,
		MemoryMB:   v.vmConfig.MemSizeMiB,
		MemoryType: string(v.vmConfig.MemType),
		MemoryFile: v.vmConfig.MemFilePath,
		Kernel:     v.boot.KernelPath,
		Initrd:     v.boot.InitrdPath,
		Cmdline:    v.boot.BootArgs,
		SerialPath: v.vmConfig.SerialPath,
	}
}

func (v *VMM) warnUnsupported(caps hypervisor.Capabilities, cfg *hypervisor.VMConfig) {
	if cfg.MemoryType != string(bridge.MemoryTypeShmem) && !caps.HugePages {
		v.logger.Warn("huge page memory not supported by driver, using anonymous memory",
			"mem_type", cfg.MemoryType)
	}
	if cfg.MaxCPUs > cfg.CPUs && !caps.CPUHotplug {
		v.logger.Warn("vcpu hotplug not supported by driver", "max_vcpus", cfg.MaxCPUs)
	}
	if cfg.SerialPath != "" && !caps.SerialFile {
		v.logger.Warn("serial path ignored by driver", "serial_path", cfg.SerialPath)
	}
}

func (v *VMM) info() bridge.InstanceInfo {
	info := bridge.InstanceInfo{
		ID:          v.id,
		VMMVersion:  version.Version,
		State:       v.state,
		StartedAt:   v.startedAt,
		ActionCount: v.actions,
	}
	if v.driver != nil {
		info.DriverName = v.driver.Info().Name
	}
	return info
}
