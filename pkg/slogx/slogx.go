package slogx

import (
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	Service string // logical service name, "vigil" when empty
	Version string
	Env     string // "dev" adds source locations
	Level   string // minimum level, defaults to info
	Format  string // "json" (default) or "text"
}

// New builds the process-wide logger and installs it as slog's default,
// so library code logging through the package-level functions lands in
// the same stream. Output goes to stderr; stdout stays free for actual
// program output.
func New(cfg Config) *slog.Logger {
	if cfg.Service == "" {
		cfg.Service = "vigil"
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.Env == "dev",
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := slog.New(handler).With(
		"service", cfg.Service,
		"version", cfg.Version,
		"env", cfg.Env,
	)

	slog.SetDefault(logger)
	return logger
}

// parseLevel leans on slog.Level's own case-insensitive text form.
// Anything unparseable means info.
func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
