package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/javanstorm/vmmctl/internal/bridge"
)

// ValidationError represents a configuration issue.
type ValidationError struct {
	Field   string
	Message string
	Fatal   bool // true = can't proceed, false = will be ignored
}

// Validate checks host-side settings before anything is sent to the monitor.
// Machine limits (vCPU count, memory floor) are left to the monitor so its
// action errors reach the caller unchanged.
func Validate(c *Config) []ValidationError {
	var errs []ValidationError

	if c.KernelPath == "" {
		errs = append(errs, ValidationError{
			Field:   "kernel_path",
			Message: "no kernel image configured (set --kernel or VMMCTL_KERNEL_PATH)",
			Fatal:   true,
		})
	} else if err := checkFile(c.KernelPath); err != nil {
		errs = append(errs, ValidationError{Field: "kernel_path", Message: err.Error(), Fatal: true})
	}

	if c.InitrdPath == "" {
		errs = append(errs, ValidationError{
			Field:   "initrd_path",
			Message: "no initrd configured, kernel must mount its own root",
		})
	} else if err := checkFile(c.InitrdPath); err != nil {
		errs = append(errs, ValidationError{Field: "initrd_path", Message: err.Error(), Fatal: true})
	}

	memType := bridge.MemoryType(c.MemType)
	if !memType.Valid() {
		errs = append(errs, ValidationError{
			Field:   "mem_type",
			Message: fmt.Sprintf("unknown memory type %q (want shmem, hugetlbfs or hugeshmem)", c.MemType),
			Fatal:   true,
		})
	}
	if memType == bridge.MemoryTypeHugetlbfs && c.MemFilePath == "" {
		errs = append(errs, ValidationError{
			Field:   "mem_file_path",
			Message: "hugetlbfs memory needs a backing file",
			Fatal:   true,
		})
	}

	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, ValidationError{Field: "log_level", Message: err.Error(), Fatal: true})
	}

	return errs
}

// HasFatal reports whether any of errs prevents booting.
func HasFatal(errs []ValidationError) bool {
	for _, e := range errs {
		if e.Fatal {
			return true
		}
	}
	return false
}

func checkFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

// FormatValidationErrors returns human-readable error summary.
func FormatValidationErrors(errors []ValidationError) string {
	if len(errors) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Configuration warnings:\n")
	for _, e := range errors {
		prefix := "Warning"
		if e.Fatal {
			prefix = "Error"
		}
		fmt.Fprintf(&b, "  %s [%s]: %s\n", prefix, e.Field, e.Message)
	}
	return b.String()
}
