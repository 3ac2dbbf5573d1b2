package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/javanstorm/vmmctl/internal/bridge"
	"github.com/javanstorm/vmmctl/internal/config"
	"github.com/javanstorm/vmmctl/internal/monitor"
	"github.com/javanstorm/vmmctl/internal/timing"
	"github.com/javanstorm/vmmctl/internal/wakeup"
	"github.com/javanstorm/vmmctl/pkg/hypervisor"
)

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Configure and start a microVM",
	Long: `Start a monitor thread, then send it the VM configuration, the boot
source and the start action, in that order. The first failure stops the
sequence and is reported as-is.

Once the VM is running vmmctl waits until the guest exits or it receives
SIGINT/SIGTERM, then shuts the monitor down, which stops the VM.

Run with --timing (or VMMCTL_TIMING=1) to see how long each action took.`,
	RunE: runBoot,
}

var (
	bootTiming        bool
	bootExitAfterBoot bool
)

func init() {
	f := bootCmd.Flags()
	f.String("instance-id", "", "instance ID (default random UUID)")
	f.String("device", "", "virtualization device (default /dev/kvm)")
	f.Int("vcpus", 0, "number of vCPUs (default 1)")
	f.Int("max-vcpus", 0, "vCPU hotplug ceiling (default same as --vcpus)")
	f.IntP("memory", "m", 0, "guest memory in MiB (default 512)")
	f.String("mem-type", "", "memory backing: shmem, hugetlbfs, hugeshmem")
	f.String("mem-file", "", "backing file for hugetlbfs memory")
	f.String("serial", "", "host path for guest serial output")
	f.StringP("kernel", "k", "", "guest kernel image")
	f.StringP("initrd", "i", "", "initial ramdisk")
	f.String("boot-args", "", "kernel command line")
	f.BoolVar(&bootTiming, "timing", os.Getenv("VMMCTL_TIMING") == "1", "print per-action timing")
	f.BoolVar(&bootExitAfterBoot, "exit-after-boot", false, "stop the VM as soon as it has started")
}

// bootOptions carries what runBoot wires from the real environment so tests
// can substitute their own.
type bootOptions struct {
	newDriver    hypervisor.Factory
	newSignal    func() (wakeup.Signal, error)
	out          io.Writer
	wait         bool
	showTiming   bool
	pollInterval time.Duration
}

func runBoot(cmd *cobra.Command, args []string) error {
	if !hypervisor.SupportedPlatform() {
		return fmt.Errorf("boot on %s: %w", runtime.GOOS, hypervisor.ErrUnsupportedPlatform)
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		fmt.Fprint(cmd.ErrOrStderr(), config.FormatValidationErrors(errs))
		if config.HasFatal(errs) {
			return errors.New("invalid configuration")
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err := bootMicroVM(ctx, cfg, logger, bootOptions{
		newDriver:    hypervisor.NewDriver,
		newSignal:    wakeup.New,
		out:          cmd.OutOrStdout(),
		wait:         !bootExitAfterBoot,
		showTiming:   bootTiming,
		pollInterval: time.Second,
	})
	return err
}

// bootMicroVM runs the monitor loop and the controller side by side. The
// controller boots the VM and then, if opts.wait is set, waits for the guest
// to stop or ctx to end. Closing the endpoint makes the monitor exit, which
// shuts the VM down.
func bootMicroVM(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts bootOptions) (bridge.InstanceInfo, error) {
	var info bridge.InstanceInfo

	dev, err := openDevice(cfg.Device)
	if err != nil {
		return info, err
	}
	var device hypervisor.Device
	if dev != nil {
		defer dev.Close()
		device = dev
	}

	sig, err := opts.newSignal()
	if err != nil {
		return info, fmt.Errorf("create wakeup signal: %w", err)
	}

	rec := timing.New()
	ep, side, err := bridge.New(sig,
		bridge.WithLogger(logger),
		bridge.WithObserver(func(a bridge.Action, d time.Duration, err error) {
			rec.Observe(a.Kind(), d, err)
		}))
	if err != nil {
		sig.Close()
		return info, err
	}

	vmm := monitor.NewVMM(monitor.Config{
		ID:        cfg.InstanceID,
		Device:    device,
		NewDriver: opts.newDriver,
		DataDir:   cfg.DataDir,
		Logger:    logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		loop := &monitor.Loop{Logger: logger}
		if code := loop.Run(vmm, side); code != monitor.ExitOK {
			return fmt.Errorf("monitor exited with code %d", code)
		}
		return nil
	})

	g.Go(func() error {
		defer ep.Close()

		if err := ep.Boot(gctx, cfg.VMConfig(), cfg.BootSource()); err != nil {
			if opts.showTiming {
				rec.Report(opts.out)
			}
			return fmt.Errorf("boot microvm: %w", err)
		}

		var err error
		info, err = ep.InstanceInfo(gctx)
		if err != nil {
			return fmt.Errorf("query instance: %w", err)
		}
		fmt.Fprintf(opts.out, "microVM %s %s (driver %s, vmm %s)\n",
			info.ID, info.State, info.DriverName, info.VMMVersion)
		if opts.showTiming {
			rec.Report(opts.out)
		}

		if !opts.wait {
			return nil
		}
		return waitForStop(gctx, logger, ep, opts.pollInterval)
	})

	err = g.Wait()
	return info, err
}

// waitForStop polls the monitor until the guest stops. Cancellation of ctx
// is a normal way out.
func waitForStop(ctx context.Context, logger *slog.Logger, ep *bridge.Endpoint, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			info, err := ep.InstanceInfo(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("query instance: %w", err)
			}
			if info.State == bridge.StateStopped {
				logger.Info("guest stopped", "instance", info.ID)
				return nil
			}
		}
	}
}

// openDevice opens the virtualization device. macOS drivers need none.
func openDevice(path string) (*os.File, error) {
	if path == "" || runtime.GOOS == "darwin" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}
