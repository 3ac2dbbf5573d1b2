package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javanstorm/vmmctl/internal/bridge"
	"github.com/javanstorm/vmmctl/internal/testutil"
	"github.com/javanstorm/vmmctl/pkg/hypervisor"
)

func newTestVMM(t *testing.T) (*VMM, *testutil.FakeDriver) {
	t.Helper()
	drv := testutil.NewFakeDriver()
	v := NewVMM(Config{
		ID:        "test-instance",
		NewDriver: drv.Factory(),
		DataDir:   t.TempDir(),
	})
	return v, drv
}

func TestSetVMConfigurationValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *bridge.VMConfig)
		want   error
	}{
		{"valid", func(c *bridge.VMConfig) {}, nil},
		{"zero vcpus", func(c *bridge.VMConfig) { c.VCPUCount = 0 }, bridge.ErrInvalidVCPUCount},
		{"vcpus above max", func(c *bridge.VMConfig) { c.VCPUCount = 4; c.MaxVCPUCount = 2 }, bridge.ErrVCPUExceedsMax},
		{"max defaults to vcpus", func(c *bridge.VMConfig) { c.VCPUCount = 4; c.MaxVCPUCount = 0 }, nil},
		{"small memory", func(c *bridge.VMConfig) { c.MemSizeMiB = 64 }, bridge.ErrInvalidMemorySize},
		{"unknown memory type", func(c *bridge.VMConfig) { c.MemType = "anon" }, bridge.ErrInvalidMemoryType},
		{"hugetlbfs without file", func(c *bridge.VMConfig) { c.MemType = bridge.MemoryTypeHugetlbfs }, bridge.ErrMissingMemoryFile},
		{"hugetlbfs with file", func(c *bridge.VMConfig) {
			c.MemType = bridge.MemoryTypeHugetlbfs
			c.MemFilePath = "/dev/hugepages/vm"
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newTestVMM(t)
			cfg := testutil.VMConfig()
			tt.mutate(&cfg)

			out := v.Execute(context.Background(), bridge.SetVMConfiguration{Config: cfg})
			if tt.want == nil {
				assert.True(t, out.OK(), "unexpected error: %v", out.Err)
				assert.Equal(t, bridge.StateConfigured, v.State())
				return
			}
			require.False(t, out.OK())
			assert.ErrorIs(t, out.Err, tt.want)
			assert.Equal(t, "set-vm-configuration", out.Err.Kind)
			assert.Equal(t, bridge.StateUninitialized, v.State())
		})
	}
}

func TestGetVMConfigurationNormalizes(t *testing.T) {
	v, _ := newTestVMM(t)
	ctx := context.Background()

	out := v.Execute(ctx, bridge.GetVMConfiguration{})
	assert.ErrorIs(t, out.Err, bridge.ErrNotConfigured)

	out = v.Execute(ctx, bridge.SetVMConfiguration{Config: bridge.VMConfig{VCPUCount: 2, MemSizeMiB: 256}})
	require.True(t, out.OK())

	out = v.Execute(ctx, bridge.GetVMConfiguration{})
	require.True(t, out.OK())
	require.NotNil(t, out.Data.VMConfig)
	assert.Equal(t, 2, out.Data.VMConfig.MaxVCPUCount)
	assert.Equal(t, bridge.MemoryTypeShmem, out.Data.VMConfig.MemType)
}

func TestStartRequiresConfiguration(t *testing.T) {
	ctx := context.Background()

	v, drv := newTestVMM(t)
	out := v.Execute(ctx, bridge.StartMicroVM{})
	assert.ErrorIs(t, out.Err, bridge.ErrNotConfigured)

	require.True(t, v.Execute(ctx, bridge.SetVMConfiguration{Config: testutil.VMConfig()}).OK())
	out = v.Execute(ctx, bridge.StartMicroVM{})
	assert.ErrorIs(t, out.Err, bridge.ErrBootSourceNotSet)

	out = v.Execute(ctx, bridge.ConfigureBootSource{Config: bridge.BootSourceConfig{}})
	assert.ErrorIs(t, out.Err, bridge.ErrMissingKernel)

	assert.Empty(t, drv.Calls(), "driver must not be touched before a valid start")
}

func TestStartMicroVM(t *testing.T) {
	ctx := context.Background()
	v, drv := newTestVMM(t)
	boot := testutil.BootSource(t)

	require.True(t, v.Execute(ctx, bridge.SetVMConfiguration{Config: testutil.VMConfig()}).OK())
	require.True(t, v.Execute(ctx, bridge.ConfigureBootSource{Config: boot}).OK())
	assert.Equal(t, bridge.StateBootSourceSet, v.State())

	out := v.Execute(ctx, bridge.StartMicroVM{})
	require.True(t, out.OK(), "start failed: %v", out.Err)
	assert.Equal(t, bridge.StateRunning, v.State())
	assert.Equal(t, []string{"validate", "create", "start"}, drv.Calls())

	cfg := drv.Config()
	require.NotNil(t, cfg)
	assert.Equal(t, 512, cfg.MemoryMB)
	assert.Equal(t, 1, cfg.CPUs)
	assert.Equal(t, boot.KernelPath, cfg.Kernel)
	assert.Equal(t, boot.InitrdPath, cfg.Initrd)
	assert.Equal(t, boot.BootArgs, cfg.Cmdline)

	// Second start and late reconfiguration are rejected.
	out = v.Execute(ctx, bridge.StartMicroVM{})
	assert.ErrorIs(t, out.Err, bridge.ErrMicroVMAlreadyRunning)
	out = v.Execute(ctx, bridge.SetVMConfiguration{Config: testutil.VMConfig()})
	assert.ErrorIs(t, out.Err, bridge.ErrMicroVMAlreadyRunning)
	out = v.Execute(ctx, bridge.ConfigureBootSource{Config: boot})
	assert.ErrorIs(t, out.Err, bridge.ErrMicroVMAlreadyRunning)

	info := v.Execute(ctx, bridge.GetInstanceInfo{}).Data.InstanceInfo
	require.NotNil(t, info)
	assert.Equal(t, "test-instance", info.ID)
	assert.Equal(t, bridge.StateRunning, info.State)
	assert.Equal(t, "fake", info.DriverName)
	assert.False(t, info.StartedAt.IsZero())
	assert.Equal(t, uint64(7), info.ActionCount)

	state, err := v.stateFile.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, state.BootCount)
	assert.Equal(t, "test-instance", state.Instance.ID)
	assert.Equal(t, bridge.StateRunning, state.Instance.State)
	assert.Equal(t, "fake", state.Instance.DriverName)
	assert.Equal(t, boot.KernelPath, state.Kernel)
}

func TestStartDriverFailure(t *testing.T) {
	ctx := context.Background()
	v, drv := newTestVMM(t)
	drv.Fail["create"] = errors.New("no memory slots")

	require.True(t, v.Execute(ctx, bridge.SetVMConfiguration{Config: testutil.VMConfig()}).OK())
	require.True(t, v.Execute(ctx, bridge.ConfigureBootSource{Config: testutil.BootSource(t)}).OK())

	out := v.Execute(ctx, bridge.StartMicroVM{})
	require.False(t, out.OK())
	assert.ErrorIs(t, out.Err, bridge.ErrStartFailed)
	assert.Contains(t, out.Err.Detail, "no memory slots")
	assert.Equal(t, bridge.StateBootSourceSet, v.State())
}

func TestStartDriverFactoryFailure(t *testing.T) {
	ctx := context.Background()
	v := NewVMM(Config{
		NewDriver: func(hypervisor.Device) (hypervisor.Driver, error) {
			return nil, hypervisor.ErrNoDevice
		},
	})

	require.True(t, v.Execute(ctx, bridge.SetVMConfiguration{Config: testutil.VMConfig()}).OK())
	require.True(t, v.Execute(ctx, bridge.ConfigureBootSource{Config: testutil.BootSource(t)}).OK())

	out := v.Execute(ctx, bridge.StartMicroVM{})
	assert.ErrorIs(t, out.Err, bridge.ErrStartFailed)
	assert.Contains(t, out.Err.Detail, "no virtualization device handle")
}

func TestGuestExitIsNoticed(t *testing.T) {
	ctx := context.Background()
	v, drv := newTestVMM(t)

	require.True(t, v.Execute(ctx, bridge.SetVMConfiguration{Config: testutil.VMConfig()}).OK())
	require.True(t, v.Execute(ctx, bridge.ConfigureBootSource{Config: testutil.BootSource(t)}).OK())
	require.True(t, v.Execute(ctx, bridge.StartMicroVM{}).OK())

	drv.Exit(nil)

	info := v.Execute(ctx, bridge.GetInstanceInfo{}).Data.InstanceInfo
	require.NotNil(t, info)
	assert.Equal(t, bridge.StateStopped, info.State)

	out := v.Execute(ctx, bridge.StartMicroVM{})
	assert.ErrorIs(t, out.Err, bridge.ErrStartFailed)

	state, err := v.stateFile.Load()
	require.NoError(t, err)
	assert.True(t, state.CleanShutdown)
	assert.Equal(t, bridge.StateStopped, state.Instance.State)
}

func startedVMM(t *testing.T, v *VMM) {
	t.Helper()
	ctx := context.Background()
	require.True(t, v.Execute(ctx, bridge.SetVMConfiguration{Config: testutil.VMConfig()}).OK())
	require.True(t, v.Execute(ctx, bridge.ConfigureBootSource{Config: testutil.BootSource(t)}).OK())
	require.True(t, v.Execute(ctx, bridge.StartMicroVM{}).OK())
}

func TestShutdown(t *testing.T) {
	ctx := context.Background()
	v, drv := newTestVMM(t)

	// Nothing to stop yet.
	require.NoError(t, v.Shutdown(ctx))

	startedVMM(t, v)

	require.NoError(t, v.Shutdown(ctx))
	assert.Equal(t, bridge.StateStopped, v.State())
	assert.False(t, drv.Running())
	assert.Equal(t, []string{"validate", "create", "start", "stop"}, drv.Calls(),
		"a guest that honours stop is never killed")

	require.NoError(t, v.Shutdown(ctx), "second shutdown is a no-op")

	state, err := v.stateFile.Load()
	require.NoError(t, err)
	assert.True(t, state.CleanShutdown)
	assert.False(t, state.StoppedAt.IsZero())
	assert.Equal(t, bridge.StateStopped, state.Instance.State)
}

func TestShutdownKillsWhenStopFails(t *testing.T) {
	ctx := context.Background()
	v, drv := newTestVMM(t)
	drv.Fail["stop"] = errors.New("acpi unavailable")
	startedVMM(t, v)

	require.NoError(t, v.Shutdown(ctx))
	assert.Equal(t, []string{"validate", "create", "start", "stop", "kill"}, drv.Calls())
	assert.False(t, drv.Running())

	state, err := v.stateFile.Load()
	require.NoError(t, err)
	assert.False(t, state.CleanShutdown)
}

func TestShutdownKillsAfterStopTimeout(t *testing.T) {
	ctx := context.Background()
	drv := testutil.NewFakeDriver()
	drv.IgnoreStop = true
	v := NewVMM(Config{
		ID:          "test-instance",
		NewDriver:   drv.Factory(),
		DataDir:     t.TempDir(),
		StopTimeout: 20 * time.Millisecond,
	})
	startedVMM(t, v)

	require.NoError(t, v.Shutdown(ctx))
	assert.Equal(t, []string{"validate", "create", "start", "stop", "kill"}, drv.Calls())
	assert.False(t, drv.Running())

	state, err := v.stateFile.Load()
	require.NoError(t, err)
	assert.False(t, state.CleanShutdown)
}

func TestNewVMMGeneratesID(t *testing.T) {
	a := NewVMM(Config{})
	b := NewVMM(Config{})
	assert.NotEmpty(t, a.id)
	assert.NotEqual(t, a.id, b.id)
	assert.Nil(t, a.stateFile, "no data dir disables persistence")
	assert.Equal(t, DefaultStopTimeout, a.stopTimeout)
}
