package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"swotrace/internal/ocsd"
	"swotrace/internal/pipeline"
	"swotrace/internal/printers"
)

func packetsCommand() *cli.Command {
	return &cli.Command{
		Name:      "packets",
		Usage:     "List the ITM packets of a captured SWO stream",
		ArgsUsage: "<capture>",
		Flags: append([]cli.Flag{
			configFlag(false),
			&cli.BoolFlag{Name: "stats", Usage: "Print a packet statistics table after the listing"},
			&cli.BoolFlag{Name: "frames", Usage: "Also print TPIU frames (formatted streams only)"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Suppress the packet listing"},
			&cli.BoolFlag{Name: "formatter", Usage: "The capture is TPIU formatted (overrides config)"},
			&cli.UintFlag{Name: "trace-id", Usage: "Trace ID of the ITM in a formatted capture"},
			&cli.IntFlag{Name: "chunk-size", Usage: "Read size in bytes", Value: 4096},
		}, logFlags()...),
		Action: packetsAction,
	}
}

func packetsAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("packets requires exactly one capture file", 1)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	log, closeLog, err := newLogger(c, cfg.Log)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer closeLog()
	defer log.Sync()

	swo := cfg.Launch.SWOConfig
	if c.IsSet("formatter") {
		swo.Formatter = c.Bool("formatter")
	}
	if c.IsSet("trace-id") {
		swo.TraceID = uint8(c.Uint("trace-id"))
	}
	if err := swo.Validate(); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	channels, err := cfg.Launch.Channels()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	tree, err := pipeline.NewDecodeTree(channels, pipeline.OptionsFrom(swo, log))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	out := c.App.Writer
	pp := printers.NewPacketPrinter(out)
	pp.SetMute(c.Bool("quiet"))
	if e := tree.AttachMonitor(pp); e != ocsd.OK {
		return fmt.Errorf("attach packet printer: %v", e)
	}
	if c.Bool("frames") {
		fp := printers.NewRawFramePrinter(out)
		fp.SetMute(c.Bool("quiet"))
		if e := tree.AttachFrameMonitor(fp); e != ocsd.OK {
			return cli.Exit("--frames needs a TPIU formatted capture (--formatter)", 1)
		}
	}

	f, err := os.Open(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer f.Close()
	if err := decodeAll(tree, f, c.Int("chunk-size")); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if c.Bool("stats") {
		return printers.StatsTable(out, pp.Counts(), tree.Stats())
	}
	return nil
}

// decodeAll pushes r through the tree in chunks and flushes at end of file.
func decodeAll(tree *pipeline.DecodeTree, r io.Reader, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if werr := tree.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return tree.Flush()
		}
		if err != nil {
			return err
		}
	}
}
