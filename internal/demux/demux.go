// Package demux splits decoded ITM packets into per-channel units: text
// lines for console channels and numeric samples for graph channels.
package demux

import (
	"encoding/binary"
	"fmt"
	"maps"
	"math"

	"swotrace/internal/common"
	"swotrace/internal/config"
	"swotrace/internal/itm"
	"swotrace/internal/ocsd"
)

const lineTerminator = 0x0A

// Line is one complete console line, terminator removed.
type Line struct {
	Channel   int
	Text      string
	Timestamp uint64
}

// Sample is one decoded graph value. Raw holds the sample bits as received.
type Sample struct {
	Channel   int
	Value     float64
	Raw       uint32
	Timestamp uint64
}

// UnitOut receives the units the demultiplexer assembles.
type UnitOut interface {
	LineIn(l Line)
	SampleIn(s Sample)
	OverflowIn()
}

// Stats counts what the demultiplexer has seen and produced.
type Stats struct {
	Lines            uint64
	Samples          uint64
	Overflows        uint64
	DiscardedBytes   uint64 // dropped by overflow or reset
	DiscardedSamples uint64 // partial samples dropped at flush
	Unconfigured     uint64 // payload bytes on channels with no config
	Packets          map[itm.PktType]uint64
}

type channelState struct {
	cfg   config.ChannelConfig
	graph bool
	buf   []byte
}

// Demux is the channel demultiplexer. It is driven by a single decode loop
// and does no locking.
type Demux struct {
	common.TraceComponent

	channels  config.ChannelMap
	state     [ocsd.NumChannels]*channelState
	out       common.AttachPt[UnitOut]
	prescale  uint64
	timestamp uint64
	stats     Stats
}

// New creates a demultiplexer for channels. prescale multiplies each local
// timestamp delta; 0 is treated as 1.
func New(channels config.ChannelMap, prescale uint32) *Demux {
	d := &Demux{
		channels: channels,
		out:      *common.NewAttachPt[UnitOut](),
		prescale: uint64(max(prescale, 1)),
	}
	d.InitTraceComponent("DEMUX_ITM")
	d.stats.Packets = make(map[itm.PktType]uint64)
	return d
}

// UnitOutAttachPt is where the router attaches.
func (d *Demux) UnitOutAttachPt() *common.AttachPt[UnitOut] {
	return &d.out
}

// PacketDataIn implements common.PktDataIn[itm.Packet].
func (d *Demux) PacketDataIn(op ocsd.DatapathOp, indexSOP ocsd.TrcIndex, pkt *itm.Packet) ocsd.DatapathResp {
	switch op {
	case ocsd.OpData:
		if pkt == nil {
			return ocsd.RespFatalInvalidParam
		}
		d.packetIn(indexSOP, pkt)
	case ocsd.OpEOT, ocsd.OpFlush:
		d.Flush()
	case ocsd.OpReset:
		d.Reset()
	default:
		return ocsd.RespFatalInvalidOp
	}
	return ocsd.RespCont
}

func (d *Demux) packetIn(index ocsd.TrcIndex, pkt *itm.Packet) {
	d.stats.Packets[pkt.Type]++
	if pkt.IsBadPacket() {
		return
	}

	switch pkt.Type {
	case itm.PktSWIT:
		d.channelData(int(pkt.SrcID), pkt.Data)
	case itm.PktOverflow:
		d.overflow(index)
	case itm.PktTSLocal:
		d.timestamp += uint64(pkt.Value) * d.prescale
	}
}

// channelState returns nil for a channel with no config.
func (d *Demux) channelState(ch int) *channelState {
	st := d.state[ch]
	if st == nil {
		cfg, ok := d.channels.Lookup(ch)
		if !ok {
			return nil
		}
		st = &channelState{cfg: cfg, graph: cfg.Type == config.ChannelGraph}
		d.state[ch] = st
	}
	return st
}

func (d *Demux) channelData(ch int, data []byte) {
	st := d.channelState(ch)
	if st == nil {
		d.stats.Unconfigured += uint64(len(data))
		return
	}
	for _, b := range data {
		if !st.graph {
			if b == lineTerminator {
				d.emitLine(ch, st)
				continue
			}
			st.buf = append(st.buf, b)
			continue
		}
		st.buf = append(st.buf, b)
		if len(st.buf) == st.cfg.Width {
			d.emitSample(ch, st)
		}
	}
}

func (d *Demux) emitLine(ch int, st *channelState) {
	text := st.buf
	if n := len(text); n > 0 && text[n-1] == '\r' {
		text = text[:n-1]
	}
	l := Line{Channel: ch, Text: string(text), Timestamp: d.timestamp}
	st.buf = st.buf[:0]
	d.stats.Lines++
	if d.out.HasAttached() {
		d.out.First().LineIn(l)
	}
}

func (d *Demux) emitSample(ch int, st *channelState) {
	raw, value := DecodeSample(st.buf, st.cfg.Format)
	st.buf = st.buf[:0]
	s := Sample{Channel: ch, Value: value * st.cfg.Scale, Raw: raw, Timestamp: d.timestamp}
	d.stats.Samples++
	if d.out.HasAttached() {
		d.out.First().SampleIn(s)
	}
}

// DecodeSample interprets a little-endian sample of 1, 2 or 4 bytes.
func DecodeSample(b []byte, format config.GraphFormat) (uint32, float64) {
	var raw uint32
	switch len(b) {
	case 1:
		raw = uint32(b[0])
	case 2:
		raw = uint32(binary.LittleEndian.Uint16(b))
	case 4:
		raw = binary.LittleEndian.Uint32(b)
	default:
		return 0, 0
	}

	switch format {
	case config.FormatSigned:
		switch len(b) {
		case 1:
			return raw, float64(int8(raw))
		case 2:
			return raw, float64(int16(raw))
		default:
			return raw, float64(int32(raw))
		}
	case config.FormatFloat:
		return raw, float64(math.Float32frombits(raw))
	default:
		return raw, float64(raw)
	}
}

func (d *Demux) overflow(index ocsd.TrcIndex) {
	d.stats.Overflows++
	d.clear()
	d.timestamp = 0
	if d.IsLoggingErrorLevel(ocsd.ErrSevInfo) {
		d.LogMessage(ocsd.ErrSevInfo, fmt.Sprintf("ITM overflow at trace index %d; channel buffers cleared", index))
	}
	if d.out.HasAttached() {
		d.out.First().OverflowIn()
	}
}

func (d *Demux) clear() {
	for _, st := range d.state {
		if st != nil {
			d.stats.DiscardedBytes += uint64(len(st.buf))
			st.buf = st.buf[:0]
		}
	}
}

// Flush emits every partial console line and drops partial samples. Called
// at session end; a second call finds nothing to emit.
func (d *Demux) Flush() {
	for ch, st := range d.state {
		if st == nil || len(st.buf) == 0 {
			continue
		}
		if st.graph {
			d.stats.DiscardedSamples++
			st.buf = st.buf[:0]
			continue
		}
		d.emitLine(ch, st)
	}
}

// Reset drops all channel buffers without emitting anything and restarts
// the timestamp. Used when the byte stream restarts.
func (d *Demux) Reset() {
	d.clear()
	d.timestamp = 0
}

// Timestamp is the accumulated local timestamp.
func (d *Demux) Timestamp() uint64 { return d.timestamp }

func (d *Demux) Stats() Stats {
	s := d.stats
	s.Packets = maps.Clone(d.stats.Packets)
	return s
}
