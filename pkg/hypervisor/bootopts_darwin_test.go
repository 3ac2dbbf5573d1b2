//go:build darwin

package hypervisor

import "testing"

func TestBootLoaderOptionsInitrd(t *testing.T) {
	tests := []struct {
		name   string
		initrd string
		want   int
	}{
		{"kernel only", "", 1},
		{"with initrd", "/boot/initramfs.img", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &VMConfig{Kernel: "/boot/vmlinuz", Initrd: tt.initrd, Cmdline: "console=hvc0"}
			if got := len(bootLoaderOptions(cfg)); got != tt.want {
				t.Errorf("got %d options, want %d", got, tt.want)
			}
		})
	}
}
