// Package pipeline wires the decode stages for one SWO session:
// [TPIU deformatter] -> ITM packet processor -> channel demultiplexer.
package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"swotrace/internal/common"
	"swotrace/internal/config"
	"swotrace/internal/demux"
	"swotrace/internal/formatter"
	"swotrace/internal/itm"
	"swotrace/internal/logging"
	"swotrace/internal/ocsd"
)

// defaultTraceID is used for formatted streams when no ID is configured.
const defaultTraceID = 1

type Options struct {
	// Formatter enables TPIU deframing; TraceID selects the ITM's bytes.
	Formatter bool
	TraceID   uint8

	WaitForSync bool
	TSPrescale  uint8 // prescaler selector 0..3
	Logger      *zap.Logger
}

// OptionsFrom maps the session's SWO configuration onto pipeline options.
func OptionsFrom(swo config.SWOConfig, log *zap.Logger) Options {
	return Options{
		Formatter:   swo.Formatter,
		TraceID:     swo.TraceID,
		WaitForSync: swo.WaitForSync,
		TSPrescale:  swo.TSPrescale,
		Logger:      log,
	}
}

// Stats aggregates the counters of every stage.
type Stats struct {
	Frames ocsd.DemuxStats
	Decode ocsd.DecodeStats
	Demux  demux.Stats
}

// DecodeTree owns the stages of one pipeline. It is not safe for
// concurrent use; the session's read loop is its only caller.
type DecodeTree struct {
	Deformatter *formatter.Deformatter // nil for a raw ITM stream
	Decoder     *itm.PktProc
	Demux       *demux.Demux

	input common.TrcDataIn
	index ocsd.TrcIndex
}

func NewDecodeTree(channels config.ChannelMap, opts Options) (*DecodeTree, error) {
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}

	cfg := itm.NewConfig()
	cfg.WaitForSync = opts.WaitForSync
	cfg.SetTSPrescale(opts.TSPrescale)

	t := &DecodeTree{
		Decoder: itm.NewPktProc(cfg),
		Demux:   demux.New(channels, cfg.TSPrescaleValue()),
	}
	logging.Attach(t.Decoder, log.Named("itm"))
	logging.Attach(t.Demux, log.Named("demux"))

	if err := t.Decoder.PktOutI.Attach(t.Demux); err != ocsd.OK {
		return nil, common.NewErrorMsg(ocsd.ErrSevError, err, "attach demux to packet processor")
	}
	t.input = t.Decoder

	if opts.Formatter {
		id := opts.TraceID
		if id == 0 {
			id = defaultTraceID
		}
		cfg.SetTraceID(id)

		dfmt, err := formatter.NewDeformatter(0)
		if err != nil {
			return nil, err
		}
		if e := dfmt.Attach(id, t.Decoder); e != ocsd.OK {
			return nil, common.NewErrorMsg(ocsd.ErrSevError, e, fmt.Sprintf("invalid trace ID 0x%02x", id))
		}
		logging.Attach(dfmt, log.Named("tpiu"))
		t.Deformatter = dfmt
		t.input = dfmt
	}
	return t, nil
}

// AttachUnits connects the demultiplexer output.
func (t *DecodeTree) AttachUnits(out demux.UnitOut) ocsd.Err {
	return t.Demux.UnitOutAttachPt().ReplaceFirst(out)
}

// AttachMonitor connects a raw packet monitor, e.g. a packet printer.
func (t *DecodeTree) AttachMonitor(mon common.PktRawDataMon[itm.Packet]) ocsd.Err {
	return t.Decoder.PktRawMonI.ReplaceFirst(mon)
}

// AttachFrameMonitor connects a TPIU frame monitor. Without a formatter
// stage there are no frames and ocsd.ErrNotInit is returned.
func (t *DecodeTree) AttachFrameMonitor(mon common.TrcRawFrameIn) ocsd.Err {
	if t.Deformatter == nil {
		return ocsd.ErrNotInit
	}
	return t.Deformatter.FrameMonI.ReplaceFirst(mon)
}

func (t *DecodeTree) push(op ocsd.DatapathOp, data []byte) error {
	_, resp := t.input.TraceDataIn(op, t.index, data)
	if ocsd.DataRespIsFatal(resp) {
		return common.NewErrorWithIdxMsg(ocsd.ErrSevError, ocsd.ErrFail, t.index,
			fmt.Sprintf("%s: %s", op, common.DataRespStr(resp)))
	}
	return nil
}

// Write pushes one chunk through every stage. Any split of the stream
// into chunks produces the same output.
func (t *DecodeTree) Write(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	err := t.push(ocsd.OpData, chunk)
	t.index += ocsd.TrcIndex(len(chunk))
	return err
}

// Flush signals end of trace: an incomplete packet is reported, partial
// console lines are emitted and partial samples dropped.
func (t *DecodeTree) Flush() error {
	return t.push(ocsd.OpEOT, nil)
}

// Reset discards all partial state in every stage, as after a reconnect.
func (t *DecodeTree) Reset() error {
	err := t.push(ocsd.OpReset, nil)
	t.index = 0
	return err
}

// Index is the number of bytes written since creation or the last Reset.
func (t *DecodeTree) Index() ocsd.TrcIndex { return t.index }

func (t *DecodeTree) Stats() Stats {
	s := Stats{
		Decode: t.Decoder.Stats,
		Demux:  t.Demux.Stats(),
	}
	if t.Deformatter != nil {
		s.Frames = t.Deformatter.Stats()
	}
	return s
}
