// Package core runs one SWO decode session: it reads the byte source,
// drives the decode pipeline and owns the router that delivers the output.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"swotrace/internal/common"
	"swotrace/internal/config"
	"swotrace/internal/logging"
	"swotrace/internal/ocsd"
	"swotrace/internal/pipeline"
	"swotrace/internal/router"
	"swotrace/internal/source"
)

const (
	DefaultChunkSize = 4096
	maxBackoff       = 30 * time.Second
)

type State int

const (
	StateUninitialized State = iota
	StateActive
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateDisposed:
		return "disposed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Options struct {
	Pipeline pipeline.Options

	Consoles   router.ConsoleFactory
	Feed       router.GraphFeed
	Graphs     []config.GraphSpec
	OnOverflow func()

	// Retries is the number of consecutive reconnect attempts after a
	// retryable connection error; Backoff is the first wait, doubled on
	// each further attempt.
	Retries   int
	Backoff   time.Duration
	ChunkSize int

	Logger *zap.Logger
}

type Stats struct {
	BytesRead  uint64
	Reconnects int
	Pipeline   pipeline.Stats
	Router     router.Stats
}

// Core is the SWO session coordinator. Run drives it from one goroutine;
// Dispose, Feed, State and Stats may be called from any goroutine.
type Core struct {
	src    source.ByteSource
	tree   *pipeline.DecodeTree
	router *router.Router
	opts   Options
	log    *zap.Logger

	stop chan struct{} // closed when disposal starts

	mu         sync.Mutex // guards the fields below and every pipeline call
	state      State
	running    bool
	loopDone   chan struct{}
	bytesRead  uint64
	reconnects int

	disposeOnce sync.Once
	disposeErr  error
}

// New creates an active core reading from src. channels must hold at least
// one channel.
func New(src source.ByteSource, channels config.ChannelMap, opts Options) (*Core, error) {
	if src == nil {
		return nil, common.NewErrorMsg(ocsd.ErrSevError, ocsd.ErrInvalidParamVal, "core: nil byte source")
	}
	if channels.Len() == 0 {
		return nil, common.NewErrorMsg(ocsd.ErrSevError, ocsd.ErrInvalidParamVal, "core: no channels configured")
	}

	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Pipeline.Logger == nil {
		opts.Pipeline.Logger = log
	}

	tree, err := pipeline.NewDecodeTree(channels, opts.Pipeline)
	if err != nil {
		return nil, err
	}
	rtr := router.New(channels, opts.Consoles, opts.Feed, router.Options{
		Graphs:     opts.Graphs,
		OnOverflow: opts.OnOverflow,
		Logger:     log.Named("router"),
	})
	if e := tree.AttachUnits(rtr); e != ocsd.OK {
		return nil, common.NewErrorMsg(ocsd.ErrSevError, e, "core: attach router")
	}

	return &Core{
		src:    src,
		tree:   tree,
		router: rtr,
		opts:   opts,
		log:    log.Named("core"),
		stop:   make(chan struct{}),
		state:  StateActive,
	}, nil
}

func (c *Core) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func disposedError() *common.Error {
	return common.NewErrorMsg(ocsd.ErrSevError, ocsd.ErrDisposed, "core disposed")
}

// Run opens the source and decodes until the stream ends, a connection
// error cannot be recovered, ctx is cancelled or Dispose is called. The
// core is always disposed when Run returns. The result is nil for a clean
// end or a disposal, otherwise the connection or context error.
func (c *Core) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateActive || c.stopping() {
		c.mu.Unlock()
		return disposedError()
	}
	if c.running {
		c.mu.Unlock()
		return common.NewErrorMsg(ocsd.ErrSevError, ocsd.ErrFail, "core: already running")
	}
	c.running = true
	c.loopDone = make(chan struct{})
	c.mu.Unlock()

	// a blocked Read only returns when the source is closed
	stopAfter := context.AfterFunc(ctx, func() { c.src.Close() })
	err := c.loop(ctx)
	stopAfter()
	close(c.loopDone)
	disposed := c.stopping()

	if derr := c.Dispose(); derr != nil {
		c.log.Warn("dispose", zap.Error(derr))
	}

	switch {
	case disposed:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return err
}

func (c *Core) stopping() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

func (c *Core) loop(ctx context.Context) error {
	buf := make([]byte, c.opts.ChunkSize)
	attempt := 0
	opened := false

	for {
		err := c.src.Open(ctx)
		if err == nil {
			if opened {
				c.reconnected()
			}
			opened = true
			attempt = 0
			c.log.Info("source open", zap.Stringer("source", c.src))
			err = c.read(buf)
			if err == nil {
				c.log.Info("source ended", zap.Stringer("source", c.src))
				return nil
			}
		}

		if c.stopping() || ctx.Err() != nil || errors.Is(err, source.ErrClosed) {
			return nil
		}
		if !common.IsRetryable(err) || attempt >= c.opts.Retries {
			c.log.Error("source failed", zap.Stringer("source", c.src), zap.Error(err))
			return err
		}

		attempt++
		wait := c.backoff(attempt)
		c.log.Warn("source unavailable, retrying",
			zap.Error(err), zap.Int("attempt", attempt), zap.Duration("wait", wait))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		}
	}
}

func (c *Core) backoff(attempt int) time.Duration {
	d := c.opts.Backoff
	for i := 1; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}

// reconnected drops partial state from the lost connection; the new stream
// starts at an arbitrary byte.
func (c *Core) reconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnects++
	if err := c.tree.Reset(); err != nil {
		c.log.Warn("pipeline reset", zap.Error(err))
	}
}

func (c *Core) read(buf []byte) error {
	for {
		n, err := c.src.Read(buf)
		if n > 0 {
			if werr := c.write(buf[:n]); werr != nil {
				return werr
			}
		}
		// only a bare EOF ends the stream; a wrapped EOF is a lost connection
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (c *Core) write(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive || c.stopping() {
		return disposedError()
	}
	c.bytesRead += uint64(len(chunk))
	return c.tree.Write(chunk)
}

// Feed decodes chunk synchronously, for callers that do their own reading.
// It fails with ocsd.ErrDisposed after Dispose.
func (c *Core) Feed(chunk []byte) error {
	return c.write(chunk)
}

// Dispose stops the session: the source is closed, the read loop is waited
// for, partial console lines are flushed and every sink is closed. Only the
// first call does anything; later calls return the same result.
func (c *Core) Dispose() error {
	c.disposeOnce.Do(func() {
		close(c.stop)
		c.src.Close()

		c.mu.Lock()
		running, done := c.running, c.loopDone
		c.mu.Unlock()
		if running {
			<-done
		}

		c.mu.Lock()
		var errs []error
		if err := c.tree.Flush(); err != nil {
			errs = append(errs, err)
		}
		c.state = StateDisposed
		c.mu.Unlock()

		if err := c.router.Close(); err != nil {
			errs = append(errs, err)
		}
		c.disposeErr = errors.Join(errs...)
		c.log.Info("disposed")
	})
	return c.disposeErr
}

func (c *Core) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		BytesRead:  c.bytesRead,
		Reconnects: c.reconnects,
		Pipeline:   c.tree.Stats(),
		Router:     c.router.Stats(),
	}
}
