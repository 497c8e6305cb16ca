package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/smallnest/fepstate/log"
)

var (
	configPath string
	logLevel   string
	cfg        cliConfig
)

// cliConfig holds defaults loadable from a YAML file; flags override.
type cliConfig struct {
	Checkpoint string `yaml:"checkpoint"`
	StorageDir string `yaml:"storage_dir"`
	LogLevel   string `yaml:"log_level"`
}

var rootCmd = &cobra.Command{
	Use:   "fepstate",
	Short: "Inspect checkpoints and manage backup storage for FEP pipelines",
	Long: `fepstate works with the checkpoint files and the backup storage
directory produced by perturbation pipelines: it validates and summarizes
checkpoint contents and lists or cleans timestamped backups.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return fmt.Errorf("read config %s: %w", configPath, err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return fmt.Errorf("parse config %s: %w", configPath, err)
			}
		}

		level := logLevel
		if level == "" {
			level = cfg.LogLevel
		}
		return configureLogging(level)
	},
}

// configureLogging installs a golog-backed logger as the package default for
// every component the commands touch. An unrecognized level is an error, not
// a silent fallback.
func configureLogging(level string) error {
	parsed := log.LogLevelInfo
	switch level {
	case "", "info":
		parsed = log.LogLevelInfo
	case "debug":
		parsed = log.LogLevelDebug
	case "warn":
		parsed = log.LogLevelWarn
	case "error":
		parsed = log.LogLevelError
	case "none":
		parsed = log.LogLevelNone
	default:
		return fmt.Errorf("invalid log level %q (expected debug, info, warn, error or none)", level)
	}
	log.SetDefaultLogger(log.NewGolog(parsed))
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file with defaults")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error, none)")
}

// formatBytes formats bytes as a human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
