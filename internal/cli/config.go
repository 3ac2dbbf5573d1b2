package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/javanstorm/vmmctl/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved configuration",
	Long: `Print the configuration vmmctl would boot with after merging the
config file, VMMCTL_* environment variables and flags, followed by any
validation warnings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		printConfig(cmd.OutOrStdout(), cfg)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long: `Write the current configuration to a config file so it can be edited.
Without --config the file goes to the platform config directory. An
existing file is never overwritten.`,
	RunE: runConfigInit,
}

func init() {
	configCmd.AddCommand(configInitCmd)
}

func printConfig(w io.Writer, c *config.Config) {
	fmt.Fprintln(w, "vmmctl Configuration")
	fmt.Fprintln(w, "====================")
	if used := c.ConfigFileUsed(); used != "" {
		fmt.Fprintf(w, "Config file: %s\n", used)
	} else {
		fmt.Fprintln(w, "Config file: (none, using defaults)")
	}
	fmt.Fprintln(w)

	instanceID := c.InstanceID
	if instanceID == "" {
		instanceID = "(random)"
	}
	fmt.Fprintf(w, "Instance ID:  %s\n", instanceID)
	fmt.Fprintf(w, "Device:       %s\n", c.Device)
	fmt.Fprintf(w, "Data Dir:     %s\n", c.DataDir)
	fmt.Fprintf(w, "Log Level:    %s\n", c.LogLevel)
	fmt.Fprintln(w)

	vm := c.VMConfig()
	fmt.Fprintf(w, "vCPUs:        %d (max %d)\n", vm.VCPUCount, max(vm.MaxVCPUCount, vm.VCPUCount))
	fmt.Fprintf(w, "Memory:       %d MiB (%s)\n", vm.MemSizeMiB, vm.MemType)
	if vm.MemFilePath != "" {
		fmt.Fprintf(w, "Memory File:  %s\n", vm.MemFilePath)
	}
	fmt.Fprintf(w, "Serial:       %s\n", vm.SerialPath)
	fmt.Fprintln(w)

	boot := c.BootSource()
	fmt.Fprintf(w, "Kernel:       %s\n", orNone(boot.KernelPath))
	fmt.Fprintf(w, "Initrd:       %s\n", orNone(boot.InitrdPath))
	fmt.Fprintf(w, "Boot Args:    %s\n", boot.BootArgs)

	if errs := config.Validate(c); len(errs) > 0 {
		fmt.Fprintln(w)
		fmt.Fprint(w, config.FormatValidationErrors(errs))
	}
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		paths, err := config.GetPaths()
		if err != nil {
			return fmt.Errorf("failed to determine paths: %w", err)
		}
		if err := paths.EnsureDirectories(); err != nil {
			return fmt.Errorf("failed to create directories: %w", err)
		}
		path = paths.ConfigFile
	}

	if err := cfg.Write(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
