package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/goccy/go-yaml"

	"metasync/pkg/config"
)

// loadConfig reads the YAML config at path. The file is overlaid onto
// config.Default, so partial configs keep the default timings; a
// missing file falls back to the defaults entirely.
func loadConfig(path string) (config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("config file not found, starting from defaults", "path", path)
			return config.Default(), nil
		}
		return config.Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := config.Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return config.Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// setupLogger installs the process-wide slog logger, JSON or text per
// config. An unknown level string degrades to info rather than failing
// startup.
func setupLogger(cfg config.LoggerConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", "level", level.String(), "json", cfg.JSON)
}
