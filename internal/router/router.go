// Package router delivers demultiplexed units to their outputs: console
// lines to a per-channel console sink and graph samples to the graph feed.
package router

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"swotrace/internal/common"
	"swotrace/internal/config"
	"swotrace/internal/demux"
	"swotrace/internal/logging"
	"swotrace/internal/ocsd"
)

//go:generate mockgen -destination mock_router.go -package router -write_package_comment=false swotrace/internal/router ConsoleSink,ConsoleFactory,GraphFeed

// ConsoleSink receives the text lines of one console channel.
type ConsoleSink interface {
	WriteLine(l demux.Line) error
	Close() error
}

// ConsoleFactory creates the console sink for a channel on first use.
type ConsoleFactory interface {
	NewConsole(channel int, label string) (ConsoleSink, error)
}

// GraphFeed receives graph samples. Describe is called once with the
// session's graph definitions before the first sample.
type GraphFeed interface {
	Describe(graphs []config.GraphSpec) error
	Sample(s demux.Sample) error
	Close() error
}

type Options struct {
	Graphs     []config.GraphSpec
	OnOverflow func()
	Logger     *zap.Logger
}

type Stats struct {
	Lines      uint64
	Samples    uint64
	Overflows  uint64
	Dropped    uint64 // units for unconfigured or mismatched channels
	SinkErrors uint64
}

// Router implements demux.UnitOut.
type Router struct {
	channels   config.ChannelMap
	consoles   ConsoleFactory
	feed       GraphFeed
	onOverflow func()
	log        *zap.Logger

	mu     sync.Mutex
	sinks  [ocsd.NumChannels]ConsoleSink
	failed [ocsd.NumChannels]bool // console creation failed, don't retry
	closed bool
	stats  Stats
}

// New creates a router. consoles and feed may be nil, in which case the
// matching units are dropped.
func New(channels config.ChannelMap, consoles ConsoleFactory, feed GraphFeed, opts Options) *Router {
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	r := &Router{
		channels:   channels,
		consoles:   consoles,
		feed:       feed,
		onOverflow: opts.OnOverflow,
		log:        log,
	}
	if feed != nil && len(opts.Graphs) > 0 {
		if err := feed.Describe(opts.Graphs); err != nil {
			r.sinkError("describe graphs", -1, err)
		}
	}
	return r
}

func (r *Router) sinkError(what string, ch int, err error) {
	r.stats.SinkErrors++
	fields := []zap.Field{zap.Error(err)}
	if ch >= 0 {
		fields = append(fields, zap.Int("channel", ch))
	}
	r.log.Warn(what+" failed", fields...)
}

func (r *Router) LineIn(l demux.Line) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	cfg, ok := r.channels.Lookup(l.Channel)
	if !ok || cfg.Type != config.ChannelConsole || r.consoles == nil {
		r.stats.Dropped++
		return
	}

	sink := r.sinks[l.Channel]
	if sink == nil {
		if r.failed[l.Channel] {
			r.stats.Dropped++
			return
		}
		var err error
		sink, err = r.consoles.NewConsole(l.Channel, cfg.Label)
		if err != nil {
			r.failed[l.Channel] = true
			r.sinkError("create console", l.Channel, err)
			return
		}
		r.sinks[l.Channel] = sink
	}

	if err := sink.WriteLine(l); err != nil {
		r.sinkError("write line", l.Channel, err)
		return
	}
	r.stats.Lines++
}

func (r *Router) SampleIn(s demux.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	cfg, ok := r.channels.Lookup(s.Channel)
	if !ok || cfg.Type != config.ChannelGraph || r.feed == nil {
		r.stats.Dropped++
		return
	}
	if err := r.feed.Sample(s); err != nil {
		r.sinkError("graph sample", s.Channel, err)
		return
	}
	r.stats.Samples++
}

func (r *Router) OverflowIn() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.stats.Overflows++
	cb := r.onOverflow
	r.mu.Unlock()

	r.log.Info("target reported ITM overflow; partial channel data discarded",
		zap.String("code", common.ErrorCodeName(ocsd.ErrOverflow)))
	if cb != nil {
		cb()
	}
}

// Close closes every console sink and the graph feed. Later units are
// ignored. Safe to call more than once.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for ch, sink := range r.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
		r.sinks[ch] = nil
	}
	if r.feed != nil {
		if err := r.feed.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return common.WrapError(ocsd.ErrSinkWrite, err, "router close")
	}
	return nil
}

func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
