package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go-daw/config"
	"go-daw/debug"
)

var (
	configPath string
	logLevel   string
	logFile    string
)

var rootCmd = &cobra.Command{
	Use:   "go-daw",
	Short: "A headless tracker-style MIDI step sequencer",
	Long: `go-daw plays step sequences to MIDI output ports with sub-step timing
(rolls, repeats, swing, held notes) and broadcasts beat sync to remote UIs.

Sequences are driven through the sequencer API; the serve command runs the
engine with an optional terminal monitor.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/go-daw/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file (overrides config)")
}

// loadConfig reads the config file and applies the persistent flag overrides.
func loadConfig() (*config.Config, string, error) {
	path := configPath
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return nil, "", err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	if err := debug.SetLevel(cfg.LogLevel); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// setupLogging routes logs to the configured file, or to fallback when none
// is set. With no file and no fallback, logs go to the default debug path.
func setupLogging(cfg *config.Config, fallback *os.File) error {
	switch {
	case cfg.LogFile != "":
		return debug.Enable(cfg.LogFile)
	case fallback != nil:
		debug.SetOutput(fallback)
		return nil
	default:
		return debug.Enable(debug.DefaultPath())
	}
}
