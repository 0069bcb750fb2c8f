package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/xid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"swotrace/internal/config"
	"swotrace/internal/router"
	"swotrace/internal/session"
	"swotrace/internal/sink"
	"swotrace/internal/sink/httpfeed"
	"swotrace/internal/sink/msgpackfeed"
	"swotrace/internal/sink/redisfeed"
	"swotrace/internal/sink/sqlitefeed"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Trace a live target until interrupted or the source ends",
		Flags: append([]cli.Flag{
			configFlag(true),
			&cli.IntFlag{Name: "jlink-port", Usage: "J-Link SWO server port (overrides config source)"},
			&cli.StringFlag{Name: "jlink-host", Usage: "J-Link SWO server host", Value: "localhost"},
			&cli.StringFlag{Name: "openocd-path", Usage: "OpenOCD trace file or pipe (overrides config source)"},
		}, logFlags()...),
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	src := cfg.Source
	switch {
	case c.IsSet("jlink-port") && c.IsSet("openocd-path"):
		return cli.Exit("--jlink-port and --openocd-path are mutually exclusive", 1)
	case c.IsSet("jlink-port"):
		src = config.SourceEvent{Type: config.SourceJLink, Host: c.String("jlink-host"), Port: c.Int("jlink-port")}
	case c.IsSet("openocd-path"):
		src = config.SourceEvent{Type: config.SourceOpenOCD, Path: c.String("openocd-path"), Follow: true}
	}
	if src.Type == "" {
		return cli.Exit("no swo source: set source in the config or pass --jlink-port or --openocd-path", 1)
	}
	return trace(c, cfg, src)
}

func decodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "Decode a captured SWO stream with the configured channels",
		ArgsUsage: "<capture>",
		Flags:     append([]cli.Flag{configFlag(false)}, logFlags()...),
		Action:    decodeAction,
	}
}

func decodeAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("decode requires exactly one capture file", 1)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if len(cfg.Launch.SWOConfig.Ports) == 0 {
		cfg.Launch.SWOConfig.Ports = []config.ChannelConfig{{Number: 0}}
	}
	// a capture is decoded whatever the config says
	cfg.Launch.SWOConfig.Enabled = true
	return trace(c, cfg, config.SourceEvent{Type: config.SourceOpenOCD, Path: c.Args().First()})
}

type notifier struct {
	w io.Writer
}

func (n notifier) ShowError(msg string) {
	fmt.Fprintf(n.w, "swotrace: %s\n", msg)
}

// trace drives one session controller the way a debug session would:
// configure, start, wait, terminate.
func trace(c *cli.Context, cfg *config.Config, src config.SourceEvent) error {
	log, closeLog, err := newLogger(c, cfg.Log)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer closeLog()
	defer log.Sync()

	id := xid.New().String()
	feed, err := buildFeeds(cfg.Feeds, id, log)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	opts := session.OptionsFrom(cfg.Core)
	opts.ID = id
	opts.Logger = log
	opts.Consoles = sink.NewWriterConsoles(c.App.Writer)
	opts.Feed = feed
	opts.Notifier = notifier{w: errWriter(c)}
	ctl := session.New(opts)

	body, err := json.Marshal(src)
	if err != nil {
		return err
	}
	if err := ctl.HandleEvent(session.Event{Name: session.EventSWOConfigure, Body: body}); err != nil {
		ctl.Terminate()
		return cli.Exit(err.Error(), 1)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ctl.Start(ctx, cfg.Launch); err != nil {
		ctl.Terminate()
		return cli.Exit("", 1)
	}
	if done := ctl.Done(); done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			log.Info("interrupted")
		}
	}

	if err := ctl.Terminate(); err != nil {
		log.Warn("terminate", zap.Error(err))
	}
	runErr := ctl.Err()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return cli.Exit("", 2)
	}
	return nil
}

func errWriter(c *cli.Context) io.Writer {
	if c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}

// buildFeeds opens every feed the config enables. It returns nil when none
// is enabled.
func buildFeeds(fc config.FeedsConfig, id string, log *zap.Logger) (feed router.GraphFeed, err error) {
	var feeds []router.GraphFeed
	defer func() {
		if err != nil {
			for _, f := range feeds {
				f.Close()
			}
		}
	}()

	if fc.Msgpack.Path != "" {
		f, err := os.Create(fc.Msgpack.Path)
		if err != nil {
			return nil, fmt.Errorf("msgpack feed: %w", err)
		}
		feeds = append(feeds, msgpackfeed.New(f))
	}
	if fc.Redis.Addr != "" {
		f, err := redisfeed.New(redisfeed.ConfigFrom(fc.Redis, id), log)
		if err != nil {
			return nil, fmt.Errorf("redis feed: %w", err)
		}
		feeds = append(feeds, f)
	}
	if fc.SQLite.Path != "" {
		f, err := sqlitefeed.FromConfig(fc.SQLite, id, log)
		if err != nil {
			return nil, fmt.Errorf("sqlite feed: %w", err)
		}
		feeds = append(feeds, f)
	}
	if fc.HTTP.Addr != "" {
		f := httpfeed.New(fc.HTTP.History, log)
		if err := f.Start(fc.HTTP.Addr); err != nil {
			return nil, fmt.Errorf("http feed: %w", err)
		}
		log.Info("http feed listening", zap.Stringer("addr", f.Addr()))
		feeds = append(feeds, f)
	}
	return sink.NewMultiFeed(feeds...), nil
}
