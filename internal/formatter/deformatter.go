package formatter

import (
	"encoding/binary"

	"swotrace/internal/common"
	"swotrace/internal/ocsd"
)

const (
	FrameSize    = ocsd.DfrmtrFrameSize
	fsyncPattern = uint32(0x7FFFFFFF) // little endian FSYNC
	hsyncPattern = uint16(0x7FFF)
)

// Deformatter strips CoreSight TPIU framing from a trace stream and passes
// the bytes of each trace ID to the receiver attached for that ID. Bytes for
// IDs with no receiver are counted and dropped.
type Deformatter struct {
	common.TraceComponent

	// FrameMonI sees every FSYNC, packed frame and per-ID run.
	FrameMonI common.AttachPt[common.TrcRawFrameIn]

	cfgFlags  uint32
	receivers map[uint8]common.TrcDataIn
	currID    uint8
	buffer    []byte
	bufIndex  ocsd.TrcIndex
	synced    bool
	stats     ocsd.DemuxStats

	// bytes for one ID collected while unpacking a frame
	run      []byte
	runID    uint8
	runIndex ocsd.TrcIndex
	runResp  ocsd.DatapathResp
}

// NewDeformatter returns a deformatter for the given ocsd.Dfrmtr* flags.
// With DfrmtrHasFsyncs set no frame is decoded until the first FSYNC.
func NewDeformatter(flags uint32) (*Deformatter, error) {
	d := &Deformatter{
		receivers: make(map[uint8]common.TrcDataIn),
		buffer:    make([]byte, 0, FrameSize*2),
	}
	d.InitTraceComponent("DFMT_CS_TPIU")
	d.FrameMonI = *common.NewAttachPt[common.TrcRawFrameIn]()
	if flags&^uint32(ocsd.DfrmtrValidMask) != 0 {
		return nil, common.NewErrorMsg(ocsd.ErrSevError, ocsd.ErrInvalidParamVal, "Invalid Config Flags")
	}
	d.cfgFlags = flags
	d.resetState()
	return d, nil
}

func (d *Deformatter) resetState() {
	d.currID = ocsd.BadCSSrcID
	d.buffer = d.buffer[:0]
	d.bufIndex = 0
	d.synced = d.cfgFlags&ocsd.DfrmtrHasFsyncs == 0
	d.run = d.run[:0]
}

func (d *Deformatter) Attach(id uint8, receiver common.TrcDataIn) ocsd.Err {
	if !ocsd.IsValidCSSrcID(id) {
		return ocsd.ErrInvalidParamVal
	}
	d.receivers[id] = receiver
	return ocsd.OK
}

func (d *Deformatter) Stats() ocsd.DemuxStats { return d.stats }

// TraceDataIn implements common.TrcDataIn.
func (d *Deformatter) TraceDataIn(op ocsd.DatapathOp, index ocsd.TrcIndex, data []byte) (uint32, ocsd.DatapathResp) {
	switch op {
	case ocsd.OpData:
	case ocsd.OpReset:
		d.resetState()
		return 0, d.allReceivers(op, index)
	default:
		return 0, d.allReceivers(op, index)
	}

	if len(d.buffer) == 0 {
		d.bufIndex = index
	}
	d.buffer = append(d.buffer, data...)
	resp := ocsd.RespCont

	if !d.synced {
		for len(d.buffer) >= 4 {
			if binary.LittleEndian.Uint32(d.buffer[:4]) == fsyncPattern {
				d.synced = true
				d.monitor(ocsd.FrmFsync, d.bufIndex, d.buffer[:4], ocsd.BadCSSrcID)
				d.consume(4)
				break
			}
			d.consume(1)
		}
		if !d.synced {
			return uint32(len(data)), resp
		}
	}

	for len(d.buffer) >= FrameSize && ocsd.DataRespIsCont(resp) {
		// FSYNCs are padding between frames
		if binary.LittleEndian.Uint32(d.buffer[:4]) == fsyncPattern {
			d.monitor(ocsd.FrmFsync, d.bufIndex, d.buffer[:4], ocsd.BadCSSrcID)
			d.consume(4)
			continue
		}
		resp = ocsd.WorstResp(resp, d.unpackFrame(d.buffer[:FrameSize], d.bufIndex))
		d.stats.FrameBytes += FrameSize
		d.consume(FrameSize)
	}
	return uint32(len(data)), resp
}

func (d *Deformatter) monitor(elem ocsd.RawframeElem, index ocsd.TrcIndex, data []byte, id uint8) {
	if d.FrameMonI.HasAttached() {
		d.FrameMonI.First().TraceRawFrameIn(ocsd.OpData, index, elem, data, id)
	}
}

func (d *Deformatter) consume(n int) {
	d.buffer = d.buffer[:copy(d.buffer, d.buffer[n:])]
	d.bufIndex += ocsd.TrcIndex(n)
}

func (d *Deformatter) allReceivers(op ocsd.DatapathOp, index ocsd.TrcIndex) ocsd.DatapathResp {
	resp := ocsd.RespCont
	for _, r := range d.receivers {
		_, rr := r.TraceDataIn(op, index, nil)
		resp = ocsd.WorstResp(resp, rr)
	}
	return resp
}

// unpackFrame decodes one 16 byte frame. Byte 15 holds the auxiliary bits:
// bit n is the LSB of data byte 2n, or for an ID byte, set when the new ID
// takes effect only after the following byte.
func (d *Deformatter) unpackFrame(frame []byte, index ocsd.TrcIndex) ocsd.DatapathResp {
	flags := frame[15]

	if d.cfgFlags&ocsd.DfrmtrHasHsyncs != 0 {
		// a frame made only of HSYNC pairs carries nothing
		allHsync := true
		for i := 0; i < 14; i += 2 {
			if binary.LittleEndian.Uint16(frame[i:]) != hsyncPattern {
				allHsync = false
				break
			}
		}
		if allHsync {
			d.monitor(ocsd.FrmHsync, index, frame, ocsd.BadCSSrcID)
			return ocsd.RespCont
		}
	}
	d.monitor(ocsd.FrmPacked, index, frame, ocsd.BadCSSrcID)

	for i := 0; i < 15; i += 2 {
		flag := flags&(1<<(i/2)) != 0
		b := frame[i]
		delayedID := false

		if b&0x01 != 0 {
			if flag && i < 14 {
				delayedID = true
			} else {
				d.currID = (b >> 1) & 0x7F
			}
		} else {
			if flag {
				b |= 0x01
			}
			d.outputByte(b, index+ocsd.TrcIndex(i))
		}

		if i == 14 {
			break
		}
		d.outputByte(frame[i+1], index+ocsd.TrcIndex(i+1))
		if delayedID {
			d.currID = (frame[i] >> 1) & 0x7F
		}
	}
	resp := ocsd.WorstResp(d.runResp, d.flushRun())
	d.runResp = ocsd.RespCont
	return resp
}

func (d *Deformatter) outputByte(b byte, index ocsd.TrcIndex) {
	switch {
	case d.currID == 0 || d.currID == ocsd.BadCSSrcID:
		d.stats.NoIDBytes++
		return
	case !ocsd.IsValidCSSrcID(d.currID):
		d.stats.ReservedIDBytes++
		return
	}
	d.stats.ValidIDBytes++
	if len(d.run) > 0 && d.runID != d.currID {
		d.runResp = ocsd.WorstResp(d.runResp, d.flushRun())
	}
	if len(d.run) == 0 {
		d.runID = d.currID
		d.runIndex = index
	}
	d.run = append(d.run, b)
}

func (d *Deformatter) flushRun() ocsd.DatapathResp {
	if len(d.run) == 0 {
		return ocsd.RespCont
	}
	d.monitor(ocsd.FrmIDData, d.runIndex, d.run, d.runID)
	resp := ocsd.RespCont
	if r, ok := d.receivers[d.runID]; ok {
		_, resp = r.TraceDataIn(ocsd.OpData, d.runIndex, d.run)
	}
	d.run = d.run[:0]
	return resp
}
