package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/javanstorm/vmmctl/internal/bridge"
)

// DefaultBootArgs is the guest kernel command line used when none is set.
const DefaultBootArgs = "console=ttyS0 reboot=k panic=1 pci=off"

// Config holds all vmmctl configuration.
type Config struct {
	// InstanceID names the microVM. Empty generates a UUID at boot.
	InstanceID string `mapstructure:"instance_id"`

	// Device is the virtualization device opened by the controller.
	// Ignored on macOS.
	Device string `mapstructure:"device"`

	// DataDir holds the persistent instance state file.
	DataDir string `mapstructure:"data_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	// VCPUCount is the number of vCPUs at boot.
	VCPUCount int `mapstructure:"vcpu_count"`

	// MaxVCPUCount is the hotplug ceiling (0 = same as VCPUCount).
	MaxVCPUCount int `mapstructure:"max_vcpu_count"`

	// MemSizeMiB is guest RAM in MiB.
	MemSizeMiB int `mapstructure:"mem_size_mib"`

	// MemType is the guest memory backing: shmem, hugetlbfs or hugeshmem.
	MemType string `mapstructure:"mem_type"`

	// MemFilePath backs hugetlbfs memory.
	MemFilePath string `mapstructure:"mem_file_path"`

	// SerialPath receives guest serial output.
	SerialPath string `mapstructure:"serial_path"`

	// KernelPath is the guest kernel image.
	KernelPath string `mapstructure:"kernel_path"`

	// InitrdPath is the optional initial ramdisk.
	InitrdPath string `mapstructure:"initrd_path"`

	// BootArgs is the guest kernel command line.
	BootArgs string `mapstructure:"boot_args"`

	configFile string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	paths, err := GetPaths()
	if err != nil {
		// Fallback if we can't determine home directory
		paths = &Paths{
			DataDir: filepath.Join(os.TempDir(), "vmmctl"),
		}
	}

	return &Config{
		Device:     "/dev/kvm",
		DataDir:    paths.DataDir,
		LogLevel:   "info",
		VCPUCount:  1,
		MemSizeMiB: 512,
		MemType:    string(bridge.MemoryTypeShmem),
		SerialPath: "/tmp/console.sock",
		BootArgs:   DefaultBootArgs,
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"instance-id": "instance_id",
	"device":      "device",
	"data-dir":    "data_dir",
	"log-level":   "log_level",
	"vcpus":       "vcpu_count",
	"max-vcpus":   "max_vcpu_count",
	"memory":      "mem_size_mib",
	"mem-type":    "mem_type",
	"mem-file":    "mem_file_path",
	"serial":      "serial_path",
	"kernel":      "kernel_path",
	"initrd":      "initrd_path",
	"boot-args":   "boot_args",
}

// Load reads configuration from defaults, the config file, VMMCTL_*
// environment variables and flags, in increasing order of precedence.
// An explicit configFile must exist; otherwise a missing file is fine.
// Flags not present in flags are skipped.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	for key, val := range DefaultConfig().settings() {
		v.SetDefault(key, val)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if paths, err := GetPaths(); err == nil {
			v.AddConfigPath(paths.DataDir)
			v.AddConfigPath(paths.ConfigDir)
		}
	}

	// Environment variable support: VMMCTL_MEM_SIZE_MIB, VMMCTL_KERNEL_PATH, etc.
	v.SetEnvPrefix("VMMCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.configFile = v.ConfigFileUsed()
	return cfg, nil
}

// Write saves c as a config file at path. It refuses to overwrite an
// existing file.
func (c *Config) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	for key, val := range c.settings() {
		v.Set(key, val)
	}
	if err := v.SafeWriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) settings() map[string]any {
	return map[string]any{
		"instance_id":    c.InstanceID,
		"device":         c.Device,
		"data_dir":       c.DataDir,
		"log_level":      c.LogLevel,
		"vcpu_count":     c.VCPUCount,
		"max_vcpu_count": c.MaxVCPUCount,
		"mem_size_mib":   c.MemSizeMiB,
		"mem_type":       c.MemType,
		"mem_file_path":  c.MemFilePath,
		"serial_path":    c.SerialPath,
		"kernel_path":    c.KernelPath,
		"initrd_path":    c.InitrdPath,
		"boot_args":      c.BootArgs,
	}
}

// ConfigFileUsed returns the path of the config file that was read, if any.
func (c *Config) ConfigFileUsed() string {
	return c.configFile
}

// VMConfig returns the machine configuration to send to the monitor.
func (c *Config) VMConfig() bridge.VMConfig {
	return bridge.VMConfig{
		VCPUCount:    c.VCPUCount,
		MaxVCPUCount: c.MaxVCPUCount,
		MemSizeMiB:   c.MemSizeMiB,
		MemType:      bridge.MemoryType(c.MemType),
		MemFilePath:  c.MemFilePath,
		SerialPath:   c.SerialPath,
	}
}

// BootSource returns the boot source to send to the monitor.
func (c *Config) BootSource() bridge.BootSourceConfig {
	return bridge.BootSourceConfig{
		KernelPath: c.KernelPath,
		InitrdPath: c.InitrdPath,
		BootArgs:   c.BootArgs,
	}
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
