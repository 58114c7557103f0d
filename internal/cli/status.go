package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ferrybot/ferry/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and configuration status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if pid, running := readRunningPID(pidFilePath()); running {
		fmt.Fprintf(out, "Daemon: running (pid %d)\n", pid)
	} else {
		fmt.Fprintln(out, "Daemon: not running")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "Config: failed to load (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", configPath())
	fmt.Fprintf(out, "Provider: %s (%s)\n", cfg.AI.Provider, cfg.AI.Model)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "Validation: %v\n", err)
	} else {
		fmt.Fprintln(out, "Validation: ok")
	}
	return nil
}
