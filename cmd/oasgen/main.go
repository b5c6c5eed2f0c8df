package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"oasgen/internal/config"
	"oasgen/internal/scoring"
	"oasgen/internal/storage"
	"oasgen/internal/validate"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	rootCmd = &cobra.Command{
		Use:           "oasgen",
		Short:         "Generate and score OpenAPI 3.0 specifications from API documentation",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	configPath string
	dbPath     string
	logLevel   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Path to the SQLite run ledger (overrides storage.db)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides log.level)")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(promptCmd)
	rootCmd.AddCommand(mcpCmd)
}

// loadConfig reads the config file and applies the persistent flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbPath != "" {
		cfg.Storage.DB = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// newLogger writes to stderr so stdout stays clean for command output.
func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)}
	var h slog.Handler
	if strings.EqualFold(cfg.Log.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadSchema returns nil when no schema is configured.
func loadSchema(path string) (*validate.Schema, error) {
	if path == "" {
		return nil, nil
	}
	schema, err := validate.LoadSchema(path)
	if err != nil {
		return nil, err
	}
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("schema %s is unusable: %w", path, err)
	}
	return schema, nil
}

func newScorer(cfg *config.Config, logger *slog.Logger) (*scoring.Scorer, error) {
	var tool scoring.DiffTool
	switch strings.ToLower(strings.TrimSpace(cfg.Scoring.Backend)) {
	case "", "exec":
		tool = scoring.NewExecTool(cfg.Scoring.ToolPath, cfg.Scoring.Timeout.Std())
	case "oastools":
		tool = scoring.OASToolsDiff{}
	default:
		return nil, fmt.Errorf("unsupported scoring backend: %s", cfg.Scoring.Backend)
	}
	s := scoring.NewScorer(tool)
	s.Logger = logger
	return s, nil
}

// openLedger returns nil when storage.db is empty.
func openLedger(cfg *config.Config) (*storage.SQLiteStore, error) {
	if cfg.Storage.DB == "" {
		return nil, nil
	}
	store, err := storage.NewSQLiteStore(cfg.Storage.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return store, nil
}
