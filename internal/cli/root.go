// Package cli provides the command-line interface for vmmctl.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/javanstorm/vmmctl/internal/config"
)

var (
	// cfg is the configuration resolved for the running command.
	cfg *config.Config

	// logger is built from cfg.LogLevel once config is loaded.
	logger = slog.Default()

	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "vmmctl",
	Short: "vmmctl - drive a microVM monitor from the command line",
	Long: `vmmctl boots a microVM by sending configuration, boot source and start
actions to a monitor running on its own thread, then keeps the VM alive
until it exits or you interrupt it.

Settings come from ~/.vmmctl/config.yaml, VMMCTL_* environment variables
and flags, with flags taking precedence.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for commands that don't need it
		switch cmd.Name() {
		case "version", "completion":
			return nil
		}

		file := configFile
		if cmd == configInitCmd {
			// init creates the file, so it need not exist yet.
			file = ""
		}
		loaded, err := config.Load(file, cmd.Flags())
		if err != nil {
			return err
		}
		level, err := loaded.SlogLevel()
		if err != nil {
			return err
		}
		cfg = loaded
		logger = newLogger(cmd.ErrOrStderr(), level)
		slog.SetDefault(logger)
		return nil
	},
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ~/.vmmctl/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("data-dir", "", "directory for instance state")
	rootCmd.SetErr(os.Stderr)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(bootCmd)
	rootCmd.AddCommand(configCmd)
}
