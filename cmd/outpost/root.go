package main

import (
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/outposthq/outpost/internal/config"
	"github.com/outposthq/outpost/internal/store"
)

var (
	flagConfig  string
	flagDataDir string
	flagEngine  string
)

var rootCmd = &cobra.Command{
	Use:   "outpost",
	Short: "Local-first persistence and sync daemon",
	Long: `Outpost keeps application data in an embedded local store and
delivers queued mutations to the remote service whenever connectivity
allows. Reads and writes always hit the local store first; the network
is an optimization, not a requirement.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "override data directory")
	rootCmd.PersistentFlags().StringVar(&flagEngine, "engine", "", "override storage engine (sqlite or jsondoc)")
}

// loadConfig resolves configuration from file, environment and flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagEngine != "" {
		cfg.Engine = store.Engine(flagEngine)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger. With a log file configured the
// output is duplicated to a size-rotated file and stderr.
func newLogger(cfg *config.Config, prefix string) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	return log.New(out, prefix, log.LstdFlags)
}
