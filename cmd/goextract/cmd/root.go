package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/goextract/internal/config"
)

// Version information (set via ldflags at build time)
var (
	Version = "0.0.1-dev"
	Commit  = "unknown"
)

// CLI flags that override config file values
var (
	cfgFile      string
	logLevel     string
	logFormat    string
	snapshotPath string
	outputDir    string
)

var rootCmd = &cobra.Command{
	Use:   "goextract",
	Short: "Game data extractor for live managed heaps",
	Long: `A CLI tool that extracts typed game data records out of a running
host's managed heap without disturbing it.

Features:
  - Two-pass extraction: root kinds first, then loose kinds they reveal
  - Three-phase reads with liveness checks against a moving heap
  - Stability tracking so an unlucky run is never marked current
  - File (JSON) or SQL (MySQL, SQLite) sinks and run ledgers
  - Output validation and schema diffing`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "goextract.yaml",
		"Path to configuration file")

	// Logging overrides
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Override log format (json, text)")

	// Source and output overrides
	rootCmd.PersistentFlags().StringVar(&snapshotPath, "snapshot", "",
		"Override heap snapshot path")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "",
		"Override output directory for the file sink")
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// CLIOverrides contains flag values that override config file settings
type CLIOverrides struct {
	LogLevel  string
	LogFormat string
	Snapshot  string
	OutputDir string
}

// GetCLIOverrides returns the CLI flag override values
func GetCLIOverrides() CLIOverrides {
	return CLIOverrides{
		LogLevel:  logLevel,
		LogFormat: logFormat,
		Snapshot:  snapshotPath,
		OutputDir: outputDir,
	}
}

// loadConfig reads the config file and applies the CLI overrides. A missing
// config file is only tolerated when it is the default one.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile := GetConfigFile()

	var cfg *config.Config
	if _, err := os.Stat(configFile); os.IsNotExist(err) && !cmd.Flags().Changed("config") {
		cfg = config.DefaultConfig()
	} else {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	o := GetCLIOverrides()
	cfg.ApplyOverrides(o.LogLevel, o.LogFormat, o.Snapshot, o.OutputDir)
	return cfg, nil
}

// exitError carries a process exit code for report-style commands.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string {
	return e.msg
}

func exitCode(err error) int {
	if e, ok := err.(*exitError); ok {
		return e.code
	}
	return 1
}
