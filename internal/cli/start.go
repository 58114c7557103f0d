package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ferrybot/ferry/internal/config"
	"github.com/ferrybot/ferry/internal/daemon"
	"github.com/ferrybot/ferry/internal/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Ferry daemon",
	Long: `Start the Ferry daemon in the foreground.
The daemon relays Telegram messages to the configured AI backend and streams
replies back. Stop it with Ctrl-C or "ferry stop" from another shell.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	pidFile := pidFilePath()
	if pid, running := readRunningPID(pidFile); running {
		return fmt.Errorf("daemon is already running (pid %d)", pid)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(logger.FromConfig(cfg.Logging, true))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	if err := d.Start(); err != nil {
		return err
	}
	zl := log.GetZerolog()
	if err := d.WatchConfig(configPath()); err != nil {
		zl.Warn().Err(err).Msg("Config watching disabled")
	}

	if err := writePID(pidFile); err != nil {
		zl.Warn().Err(err).Msg("Failed to write PID file")
	}
	defer os.Remove(pidFile)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	zl.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	return d.Stop()
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.NewLoader("").GetConfigPath()
}

func pidFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/ferry.pid"
	}
	return filepath.Join(home, ".ferry", "ferry.pid")
}

func writePID(pidFile string) error {
	if err := os.MkdirAll(filepath.Dir(pidFile), 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// readRunningPID returns the PID recorded in pidFile and whether that
// process is still alive. A stale file reads as not running.
func readRunningPID(pidFile string) (int, bool) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil || pid <= 0 {
		return 0, false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}

	// FindProcess always succeeds on Unix; signal 0 probes liveness.
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	return pid, true
}
