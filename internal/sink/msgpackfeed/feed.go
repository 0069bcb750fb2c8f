// Package msgpackfeed writes graph data as length-prefixed msgpack frames.
//
// Every frame is a 4 byte big-endian payload length followed by a msgpack
// map with a "type" discriminant. A stream starts with one "graphs" frame
// describing the configured graphs, followed by one "sample" frame per
// decoded sample.
package msgpackfeed

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"swotrace/internal/common"
	"swotrace/internal/config"
	"swotrace/internal/demux"
	"swotrace/internal/ocsd"
)

const (
	// LengthPrefixSize is the size of the frame length prefix in bytes.
	LengthPrefixSize = 4
	// MaxPayloadSize bounds a single frame payload (1 MiB).
	MaxPayloadSize = 1 << 20
)

// Frame type discriminants.
const (
	GraphsType = "graphs"
	SampleType = "sample"
)

// GraphsFrame announces the graphs samples will be plotted on.
type GraphsFrame struct {
	Type   string       `msgpack:"type"`
	Graphs []GraphFrame `msgpack:"graphs"`
}

type GraphFrame struct {
	ID       string      `msgpack:"id"`
	Label    string      `msgpack:"label,omitempty"`
	Kind     string      `msgpack:"kind"`
	Min      float64     `msgpack:"min,omitempty"`
	Max      float64     `msgpack:"max,omitempty"`
	Timespan float64     `msgpack:"timespan,omitempty"`
	Plots    []PlotFrame `msgpack:"plots,omitempty"`
}

type PlotFrame struct {
	Port  int    `msgpack:"port"`
	Label string `msgpack:"label,omitempty"`
	Color string `msgpack:"color,omitempty"`
}

// SampleFrame carries one decoded value.
type SampleFrame struct {
	Type      string  `msgpack:"type"`
	Seq       uint64  `msgpack:"seq"`
	Channel   int     `msgpack:"channel"`
	Value     float64 `msgpack:"value"`
	Raw       uint32  `msgpack:"raw"`
	Timestamp uint64  `msgpack:"ts"`
}

// Feed is a router.GraphFeed writing frames to w. If w is an io.Closer it is
// closed with the feed.
type Feed struct {
	mu     sync.Mutex
	w      io.Writer
	seq    uint64
	closed bool
}

func New(w io.Writer) *Feed {
	return &Feed{w: w}
}

func (f *Feed) Describe(graphs []config.GraphSpec) error {
	frame := GraphsFrame{Type: GraphsType, Graphs: make([]GraphFrame, 0, len(graphs))}
	for _, g := range graphs {
		gf := GraphFrame{
			ID:       g.ID,
			Label:    g.Label,
			Kind:     string(g.Type),
			Min:      g.Min,
			Max:      g.Max,
			Timespan: g.Timespan,
		}
		for _, p := range g.Plots {
			gf.Plots = append(gf.Plots, PlotFrame(p))
		}
		frame.Graphs = append(frame.Graphs, gf)
	}
	return f.write(&frame)
}

func (f *Feed) Sample(s demux.Sample) error {
	f.mu.Lock()
	f.seq++
	seq := f.seq
	f.mu.Unlock()
	return f.write(&SampleFrame{
		Type:      SampleType,
		Seq:       seq,
		Channel:   s.Channel,
		Value:     s.Value,
		Raw:       s.Raw,
		Timestamp: s.Timestamp,
	})
}

func (f *Feed) write(v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return common.WrapError(ocsd.ErrSinkWrite, err, "msgpack encode")
	}
	if len(payload) > MaxPayloadSize {
		return common.NewErrorMsg(ocsd.ErrSevError, ocsd.ErrSinkWrite,
			fmt.Sprintf("msgpack frame of %d bytes exceeds %d", len(payload), MaxPayloadSize))
	}
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return common.NewErrorMsg(ocsd.ErrSevError, ocsd.ErrDisposed, "msgpack feed closed")
	}
	if _, err := f.w.Write(buf); err != nil {
		return common.WrapError(ocsd.ErrSinkWrite, err, "msgpack write")
	}
	return nil
}

func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if c, ok := f.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ErrFrameTooLarge is returned by ReadFrame for a length prefix above
// MaxPayloadSize.
var ErrFrameTooLarge = errors.New("msgpackfeed: frame too large")

// Reader reads frames written by a Feed.
type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadFrame returns the next frame, either a *GraphsFrame or a
// *SampleFrame. It returns io.EOF at a clean end of stream and
// io.ErrUnexpectedEOF for a truncated frame.
func (r *Reader) ReadFrame() (any, error) {
	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(r.r, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	var probe struct {
		Type string `msgpack:"type"`
	}
	if err := msgpack.Unmarshal(payload, &probe); err != nil {
		return nil, fmt.Errorf("decode frame type: %w", err)
	}
	switch probe.Type {
	case GraphsType:
		var g GraphsFrame
		if err := msgpack.Unmarshal(payload, &g); err != nil {
			return nil, fmt.Errorf("decode graphs frame: %w", err)
		}
		return &g, nil
	case SampleType:
		var s SampleFrame
		if err := msgpack.Unmarshal(payload, &s); err != nil {
			return nil, fmt.Errorf("decode sample frame: %w", err)
		}
		return &s, nil
	}
	return nil, fmt.Errorf("unknown frame type %q", probe.Type)
}
