// Package session ties the SWO engine to a debug session: it receives the
// session's custom events, builds the core when the session starts with
// tracing enabled and tears everything down when the session terminates.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"swotrace/internal/common"
	"swotrace/internal/config"
	"swotrace/internal/core"
	"swotrace/internal/logging"
	"swotrace/internal/ocsd"
	"swotrace/internal/pipeline"
	"swotrace/internal/router"
	"swotrace/internal/sink"
	"swotrace/internal/source"
)

// Custom event names.
const (
	EventSWOConfigure  = "swo-configure"
	EventAdapterOutput = "adapter-output"
)

// MsgNoSource is shown when a session enables SWO before any source was
// configured.
const MsgNoSource = "SWO is Enabled - but extension did not get an SWO Source Configuration Event"

// Event is a custom event received from the debug adapter.
type Event struct {
	Name string          `json:"event"`
	Body json.RawMessage `json:"body"`
}

// AdapterOutput is the body of an adapter-output event.
type AdapterOutput struct {
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
}

// Notifier shows errors to the user.
type Notifier interface {
	ShowError(msg string)
}

// SourceFactory builds a byte source for a swo-configure event.
type SourceFactory func(config.SourceEvent, *zap.Logger) (source.ByteSource, error)

type Options struct {
	Consoles router.ConsoleFactory
	// Feed receives graph samples. The controller owns it: the core closes
	// it on disposal, Terminate closes it if no core was built.
	Feed router.GraphFeed
	// AdapterOutput is where adapter-output events are written. Nil logs
	// them instead.
	AdapterOutput io.Writer
	Notifier      Notifier
	NewSource     SourceFactory

	Retries   int
	Backoff   time.Duration
	ChunkSize int

	ID     string
	Logger *zap.Logger
}

// OptionsFrom fills the core settings from the configuration file.
func OptionsFrom(c config.CoreConfig) Options {
	return Options{
		Retries:   c.Retries,
		Backoff:   c.Backoff.Duration,
		ChunkSize: c.ChunkSize,
	}
}

// Controller owns everything a debug session creates. All methods may be
// called from any goroutine.
type Controller struct {
	opts Options
	id   string
	log  *zap.Logger

	mu         sync.Mutex
	src        source.ByteSource // last configured source
	core       *core.Core
	adapter    *sink.TextSink
	done       chan struct{} // closed when the core's Run returns
	runErr     error
	terminated bool

	overflows atomic.Uint64
}

func New(opts Options) *Controller {
	id := opts.ID
	if id == "" {
		id = xid.New().String()
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	if opts.NewSource == nil {
		opts.NewSource = source.New
	}
	return &Controller{
		opts: opts,
		id:   id,
		log:  log.With(zap.String("session", id)),
	}
}

// ID returns the session id attached to every log entry.
func (c *Controller) ID() string { return c.id }

// Logger returns the session logger.
func (c *Controller) Logger() *zap.Logger { return c.log }

func terminatedError() *common.Error {
	return common.NewErrorMsg(ocsd.ErrSevError, ocsd.ErrDisposed, "session terminated")
}

// HandleEvent processes a custom event. Unknown events are ignored.
func (c *Controller) HandleEvent(ev Event) error {
	switch ev.Name {
	case EventSWOConfigure:
		var body config.SourceEvent
		if err := json.Unmarshal(ev.Body, &body); err != nil {
			return common.WrapError(ocsd.ErrInvalidParamVal, err, "swo-configure body")
		}
		return c.configure(body)
	case EventAdapterOutput:
		var body AdapterOutput
		if err := json.Unmarshal(ev.Body, &body); err != nil {
			return common.WrapError(ocsd.ErrInvalidParamVal, err, "adapter-output body")
		}
		return c.adapterOutput(body.Content)
	}
	c.log.Debug("ignoring event", zap.String("event", ev.Name))
	return nil
}

func (c *Controller) configure(ev config.SourceEvent) error {
	src, err := c.opts.NewSource(ev, c.log)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		src.Close()
		return terminatedError()
	}
	prev := c.src
	c.src = src
	inUse := c.core != nil
	c.mu.Unlock()

	// a source already handed to the core is closed by the core
	if prev != nil && !inUse {
		prev.Close()
	}
	c.log.Info("swo source configured", zap.Stringer("source", src))
	return nil
}

func (c *Controller) adapterOutput(content string) error {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return terminatedError()
	}
	if c.opts.AdapterOutput == nil {
		c.mu.Unlock()
		c.log.Info("adapter output", zap.String("content", content))
		return nil
	}
	if c.adapter == nil {
		c.adapter = sink.NewTextSink(c.opts.AdapterOutput)
	}
	out := c.adapter
	c.mu.Unlock()
	return out.Write(content)
}

// Start begins tracing for a session. With SWO disabled it does nothing.
// With SWO enabled but no configured source it reports a configuration
// mismatch and the session continues without tracing. Otherwise the core
// is built and run in its own goroutine until ctx ends, the stream ends or
// Terminate is called.
func (c *Controller) Start(ctx context.Context, args config.LaunchArgs) error {
	if !args.SWOConfig.Enabled {
		c.log.Debug("swo disabled")
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminated {
		return terminatedError()
	}
	if c.core != nil {
		return common.NewErrorMsg(ocsd.ErrSevError, ocsd.ErrInvalidParamVal, "session already started")
	}
	if c.src == nil {
		c.showError(MsgNoSource)
		return common.NewErrorMsg(ocsd.ErrSevError, ocsd.ErrConfigMismatch, MsgNoSource)
	}
	if err := args.SWOConfig.Validate(); err != nil {
		c.showError(err.Error())
		return err
	}
	channels, err := args.Channels()
	if err != nil {
		c.showError(err.Error())
		return err
	}

	cr, err := core.New(c.src, channels, core.Options{
		Pipeline:   pipeline.OptionsFrom(args.SWOConfig, c.log),
		Consoles:   c.opts.Consoles,
		Feed:       c.opts.Feed,
		Graphs:     args.GraphConfig,
		OnOverflow: c.overflow,
		Retries:    c.opts.Retries,
		Backoff:    c.opts.Backoff,
		ChunkSize:  c.opts.ChunkSize,
		Logger:     c.log,
	})
	if err != nil {
		c.showError(err.Error())
		return err
	}
	c.core = cr
	c.done = make(chan struct{})

	c.log.Info("swo tracing started",
		zap.Stringer("source", c.src),
		zap.Int("channels", channels.Len()),
		zap.Int("graphs", len(args.GraphConfig)))

	go c.run(ctx, cr, c.done)
	return nil
}

func (c *Controller) run(ctx context.Context, cr *core.Core, done chan struct{}) {
	err := cr.Run(ctx)
	if common.IsCode(err, ocsd.ErrDisposed) {
		// terminated before the loop started
		err = nil
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		c.log.Error("swo tracing stopped", zap.Error(err))
		c.showError(fmt.Sprintf("SWO tracing stopped: %v", err))
	}
	c.mu.Lock()
	c.runErr = err
	c.mu.Unlock()
	close(done)
}

func (c *Controller) overflow() {
	if c.overflows.Add(1) == 1 {
		c.log.Warn("ITM overflow: trace data was lost; further overflows are only counted")
	}
}

func (c *Controller) showError(msg string) {
	if c.opts.Notifier != nil {
		c.opts.Notifier.ShowError(msg)
	}
}

// Done is closed when the core stops. It is nil before a successful Start.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns the core's Run result once Done is closed.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runErr
}

// Core returns the running core, or nil.
func (c *Controller) Core() *core.Core {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.core
}

// Overflows returns the number of ITM overflow packets seen.
func (c *Controller) Overflows() uint64 { return c.overflows.Load() }

// Terminate ends the session: the adapter output sink is closed, the core
// disposed and the configured source closed. It is idempotent.
func (c *Controller) Terminate() error {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return nil
	}
	c.terminated = true
	adapter, cr, src, done := c.adapter, c.core, c.src, c.done
	c.mu.Unlock()

	var errs []error
	if adapter != nil {
		errs = append(errs, adapter.Close())
	}
	if cr != nil {
		errs = append(errs, cr.Dispose())
		<-done
	} else if c.opts.Feed != nil {
		errs = append(errs, c.opts.Feed.Close())
	}
	if src != nil {
		errs = append(errs, src.Close())
	}
	c.log.Info("session terminated")
	return errors.Join(errs...)
}
