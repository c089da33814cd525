package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/becmacc/beyflow-chat-sub000/internal/config"
)

type rootOptions struct {
	configPath string
	envFile    string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "beyflow-hub",
		Short:         "BeyFlow integration hub",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newValidateCommand())
	cmd.AddCommand(newTokenCommand(opts))
	return cmd
}

// load reads the dotenv file (if present) and the layered config, then
// configures the default logger.
func (o *rootOptions) load() (*config.Config, error) {
	if strings.TrimSpace(o.envFile) != "" {
		if err := godotenv.Load(o.envFile); err != nil && !os.IsNotExist(err) {
			slog.Warn("dotenv load failed", "file", o.envFile, "error", err)
		}
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

func setupLogging(level, format string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, hopts)
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		h = slog.NewJSONHandler(os.Stdout, hopts)
	}
	slog.SetDefault(slog.New(h))
}
