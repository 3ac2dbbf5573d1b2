//go:build darwin

package hypervisor

import "github.com/Code-Hex/vz/v3"

// bootLoaderOptions builds the vz boot loader options. vz stats every path
// it is given, so an absent initrd must not be passed at all.
func bootLoaderOptions(cfg *VMConfig) []vz.LinuxBootLoaderOption {
	opts := []vz.LinuxBootLoaderOption{vz.WithCommandLine(cfg.Cmdline)}
	if cfg.Initrd != "" {
		opts = append(opts, vz.WithInitrd(cfg.Initrd))
	}
	return opts
}
