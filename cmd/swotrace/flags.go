package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"swotrace/internal/config"
	"swotrace/internal/logging"
)

func configFlag(required bool) cli.Flag {
	return &cli.StringFlag{
		Name:     "config",
		Aliases:  []string{"c"},
		Usage:    "Path to swotrace.yaml",
		EnvVars:  []string{"SWOTRACE_CONFIG"},
		Required: required,
	}
}

func logFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn, error (overrides config)"},
		&cli.StringFlag{Name: "log-format", Usage: "Log format: json or console (default: console on a terminal)"},
	}
}

// loadConfig reads --config, or returns a config with defaults applied
// when the flag is unset.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		cfg := &config.Config{}
		cfg.ApplyDefaults()
		return cfg, nil
	}
	return config.Load(path)
}

// newLogger builds the CLI logger. The returned closer releases the log
// file, if any.
func newLogger(c *cli.Context, lc config.LogConfig) (*zap.Logger, func() error, error) {
	level := lc.Level
	if v := c.String("log-level"); v != "" {
		level = v
	}
	format := logging.Format(lc.Format)
	if v := c.String("log-format"); v != "" {
		format = logging.Format(v)
	}

	var out io.Writer = c.App.ErrWriter
	if out == nil {
		out = os.Stderr
	}
	closer := func() error { return nil }
	if lc.File != "" {
		f, err := os.OpenFile(lc.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot open log file: %w", err)
		}
		out = f
		closer = f.Close
	}
	if format == "" {
		format = logging.FormatJSON
		if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			format = logging.FormatConsole
		}
	}

	log, err := logging.New(logging.Options{Level: level, Format: format, Output: out})
	if err != nil {
		closer()
		return nil, nil, err
	}
	return log, closer, nil
}
