package itm

import (
	"fmt"
	"iter"

	"swotrace/internal/common"
	"swotrace/internal/ocsd"
)

type processState int

const (
	procWaitSync processState = iota
	procHdr
	procData
	procAsync
	procSkipCont // dropping the tail of an over long continuation packet
)

const (
	syncZeroBytes = 5    // minimum zero bytes before the sync terminator
	syncEnd       = 0x80 // sync terminator
	overflowHdr   = 0x70
	unsyncedFlush = 8 // bytes gathered before the monitor sees them
)

// PktProc converts an incoming SWO byte stream into ITM packets.
//
// All parse state lives in the struct, so a packet split across input
// blocks is resumed when the next block arrives. Bytes that cannot start or
// continue a packet are dropped and never reach the decode path.
type PktProc struct {
	common.PktProcBase[Packet, Config]

	procState processState
	synced    bool

	currPacket  Packet
	headerByte  uint8
	packetData  []byte
	packetIndex ocsd.TrcIndex
	nextIndex   ocsd.TrcIndex

	payloadReq int // stimulus payload size
	contLimit  int // max packet length for continuation encoded packets
	currPktFn  func(b byte) bool

	zeroRun       int
	unsynced      []byte
	unsyncedIndex ocsd.TrcIndex
}

// NewPktProc creates an ITM packet processor using cfg, or defaults if nil.
func NewPktProc(cfg *Config) *PktProc {
	p := &PktProc{}
	p.InitPktProcBase("PKTP_ITM")
	p.FnProcessData = p.processData
	p.FnOnEOT = p.onEOT
	p.FnOnReset = p.onReset
	p.FnOnFlush = p.onFlush
	p.FnOnProtocolConfig = p.onProtocolConfig

	if cfg == nil {
		cfg = NewConfig()
	}
	p.SetProtocolConfig(cfg)
	return p
}

func (p *PktProc) initProcessorState() {
	p.synced = p.Config == nil || !p.Config.WaitForSync
	if p.synced {
		p.procState = procHdr
	} else {
		p.procState = procWaitSync
	}
	p.zeroRun = 0
	p.unsynced = p.unsynced[:0]
	p.nextIndex = 0
	p.initNextPacket()
}

func (p *PktProc) initNextPacket() {
	p.packetData = p.packetData[:0]
	p.currPacket.InitPacket()
	p.currPktFn = nil
}

// Packets decodes chunk and yields each completed packet. Packets go only
// to the consumer of the sequence, not to an attached PktDataIn. Breaking
// out of the loop early still consumes the rest of chunk, so decoder state
// stays aligned with the stream, but the remaining packets are lost.
func (p *PktProc) Packets(chunk []byte) iter.Seq[Packet] {
	return func(yield func(Packet) bool) {
		wanted := true
		for _, b := range chunk {
			if !p.processByte(b) {
				continue
			}
			pkt := p.currPacket
			p.completePacket()
			if wanted {
				wanted = yield(pkt)
			}
		}
		p.flushUnsynced(false)
	}
}

// Synced reports whether the processor is decoding packets (as opposed to
// waiting for the first sync).
func (p *PktProc) Synced() bool { return p.synced }

func (p *PktProc) processData(index ocsd.TrcIndex, dataBlock []byte) (uint32, ocsd.DatapathResp) {
	resp := ocsd.RespCont
	p.nextIndex = index
	var used uint32

	for _, b := range dataBlock {
		used++
		if p.processByte(b) {
			resp = ocsd.WorstResp(resp, p.outputPacket())
			if !ocsd.DataRespIsCont(resp) {
				break
			}
		}
	}
	p.flushUnsynced(false)
	return used, resp
}

// processByte advances the state machine by one byte and reports whether
// currPacket is now complete.
func (p *PktProc) processByte(b byte) bool {
	idx := p.nextIndex
	p.nextIndex++
	p.StatsAddTotalCount(1)

	if b == syncEnd && p.zeroRun >= syncZeroBytes {
		return p.foundSync(idx)
	}
	if b == 0x00 {
		p.zeroRun++
	} else {
		p.zeroRun = 0
	}

	switch p.procState {
	case procWaitSync:
		if len(p.unsynced) == 0 {
			p.unsyncedIndex = idx
		}
		p.unsynced = append(p.unsynced, b)
		return false

	case procAsync:
		if b == 0x00 {
			p.packetData = append(p.packetData, b)
			return false
		}
		p.dropPacket(PktBadSequence, ocsd.ErrBadPacketSeq, "Async packet: zero run ended without sync")
		return p.processHdr(idx, b)

	case procData:
		p.packetData = append(p.packetData, b)
		return p.currPktFn(b)

	case procSkipCont:
		if b&0x80 != 0 {
			return false
		}
		return p.processHdr(idx, b)

	default:
		return p.processHdr(idx, b)
	}
}

func (p *PktProc) foundSync(idx ocsd.TrcIndex) bool {
	zeros := p.zeroRun
	p.zeroRun = 0

	switch p.procState {
	case procWaitSync:
		n := max(len(p.unsynced)-zeros, 0)
		p.unsynced = p.unsynced[:n]
		p.flushUnsynced(true)
	case procAsync:
		zeros = len(p.packetData)
	case procData:
		p.dropPacket(PktBadSequence, ocsd.ErrBadPacketSeq, "Packet interrupted by sync")
	}

	p.initNextPacket()
	p.currPacket.Type = PktAsync
	p.packetIndex = idx - ocsd.TrcIndex(zeros)
	for range zeros {
		p.packetData = append(p.packetData, 0x00)
	}
	p.packetData = append(p.packetData, syncEnd)
	p.synced = true
	p.procState = procHdr
	return true
}

func (p *PktProc) processHdr(idx ocsd.TrcIndex, b byte) bool {
	p.initNextPacket()
	p.packetIndex = idx
	p.headerByte = b
	p.packetData = append(p.packetData, b)

	switch {
	case b&0x03 != 0x00: // stimulus
		if b&0x04 != 0 {
			p.currPacket.Type = PktDWT
		} else {
			p.currPacket.Type = PktSWIT
		}
		p.currPacket.SrcID = (b >> 3) & 0x1F
		p.payloadReq = int(b & 0x3)
		if p.payloadReq == 3 {
			p.payloadReq = 4
		}
		p.currPktFn = p.pktStimulus

	case b == 0x00:
		p.currPacket.Type = PktAsync
		p.procState = procAsync
		return false

	case b == overflowHdr:
		p.currPacket.Type = PktOverflow
		return true

	case b&0x0F == 0x00:
		p.currPacket.Type = PktTSLocal
		if b&0x80 == 0 {
			p.currPacket.SetValue(uint32((b>>4)&0x7), 1)
			return true
		}
		p.currPacket.SrcID = (b >> 4) & 0x3
		p.contLimit = 5
		p.currPktFn = p.pktLocalTS

	case b&0x0B == 0x08:
		p.currPacket.Type = PktExtension
		if b&0x80 == 0 {
			p.finishExtension()
			return true
		}
		p.contLimit = 5
		p.currPktFn = p.pktExtension

	case b&0xDF == 0x94:
		if b&0x20 == 0 {
			p.currPacket.Type = PktTSGlobal1
			p.contLimit = 5
			p.currPktFn = p.pktGlobalTS1
		} else {
			p.currPacket.Type = PktTSGlobal2
			p.contLimit = 7
			p.currPktFn = p.pktGlobalTS2
		}

	default:
		p.dropPacket(PktReserved, ocsd.ErrInvalidPcktHdr, fmt.Sprintf("Reserved header 0x%02X", b))
		return false
	}

	p.procState = procData
	return false
}

func (p *PktProc) pktStimulus(byte) bool {
	if len(p.packetData)-1 < p.payloadReq {
		return false
	}
	payload := p.packetData[1:]
	var value uint32
	for i, v := range payload {
		value |= uint32(v) << (8 * i)
	}
	p.currPacket.SetValue(value, uint8(p.payloadReq))
	p.currPacket.Data = append([]byte(nil), payload...)
	return true
}

// contDone checks the continuation bit of b against the packet size limit.
// An over long packet is dropped along with its remaining continuation
// bytes.
func (p *PktProc) contDone(b byte, what string) bool {
	if b&0x80 == 0 {
		return true
	}
	if len(p.packetData) >= p.contLimit {
		p.dropPacket(PktBadSequence, ocsd.ErrBadPacketSeq, what+" packet: Payload continuation value too long")
		p.procState = procSkipCont
	}
	return false
}

func (p *PktProc) extractContVal64() uint64 {
	var value uint64
	shift := 0
	for _, b := range p.packetData[1:] {
		value |= uint64(b&0x7F) << shift
		shift += 7
	}
	return value
}

func (p *PktProc) pktLocalTS(b byte) bool {
	if !p.contDone(b, "Local TS") {
		return false
	}
	p.currPacket.SetValue(uint32(p.extractContVal64()), uint8(len(p.packetData)-1))
	return true
}

func (p *PktProc) pktGlobalTS1(b byte) bool {
	if !p.contDone(b, "GTS1") {
		return false
	}
	value := p.extractContVal64()
	if len(p.packetData) == 5 {
		// top payload byte carries wrap / clock change in [6:5]
		p.currPacket.SrcID = (p.packetData[4] >> 5) & 0x3
		value &= 0x3FFFFFF
	}
	p.currPacket.SetValue(uint32(value), uint8(len(p.packetData)-1))
	return true
}

func (p *PktProc) pktGlobalTS2(b byte) bool {
	if !p.contDone(b, "GTS2") {
		return false
	}
	if len(p.packetData) <= 5 {
		p.currPacket.SetValue(uint32(p.extractContVal64()), uint8(len(p.packetData)-1))
	} else {
		p.currPacket.SetExtValue(p.extractContVal64())
	}
	return true
}

func (p *PktProc) pktExtension(b byte) bool {
	if !p.contDone(b, "Extension") {
		return false
	}
	p.finishExtension()
	return true
}

func (p *PktProc) finishExtension() {
	nBitLength := [...]uint8{2, 9, 16, 23, 31}
	srcID := nBitLength[len(p.packetData)-1]
	if p.headerByte&0x04 != 0 {
		srcID |= 0x80
	}
	p.currPacket.SrcID = srcID

	var value uint32
	if len(p.packetData) > 1 {
		value = uint32(p.extractContVal64()) << 3
	}
	value |= uint32((p.headerByte >> 4) & 0x7)
	p.currPacket.SetValue(value, 4)
}

// dropPacket abandons the packet under assembly. The monitor sees it as an
// error packet, the decode path never does.
func (p *PktProc) dropPacket(errType PktType, code ocsd.Err, msg string) {
	if errType == PktReserved {
		p.StatsAddBadHdrCount(1)
		p.currPacket.Type = PktReserved
	} else {
		p.StatsAddBadSeqCount(1)
		p.currPacket.UpdateErrType(errType)
	}
	p.LogError(common.NewErrorWithIdxMsg(ocsd.ErrSevDebug, code, p.packetIndex, msg))
	p.OutputRawPacketToMonitor(p.packetIndex, &p.currPacket, p.packetData)
	p.initNextPacket()
	p.procState = procHdr
}

func (p *PktProc) completePacket() {
	p.Stats.Packets++
	p.OutputRawPacketToMonitor(p.packetIndex, &p.currPacket, p.packetData)
	p.initNextPacket()
	p.procState = procHdr
}

func (p *PktProc) outputPacket() ocsd.DatapathResp {
	pkt := p.currPacket
	idx := p.packetIndex
	p.completePacket()
	return p.OutputDecodedPacket(idx, &pkt)
}

func (p *PktProc) flushUnsynced(force bool) {
	n := len(p.unsynced)
	if !force {
		// trailing zeros may still turn into a sync
		n -= min(p.zeroRun, n)
		if n < unsyncedFlush {
			return
		}
	}
	if n == 0 {
		return
	}
	p.StatsAddUnsyncCount(uint64(n))
	var pkt Packet
	pkt.InitPacket()
	p.OutputRawPacketToMonitor(p.unsyncedIndex, &pkt, p.unsynced[:n])
	p.unsyncedIndex += ocsd.TrcIndex(n)
	p.unsynced = append(p.unsynced[:0], p.unsynced[n:]...)
}

func (p *PktProc) onEOT() ocsd.DatapathResp {
	if p.procState == procWaitSync {
		p.flushUnsynced(true)
		return ocsd.RespCont
	}
	if p.procState == procData || p.procState == procAsync {
		p.currPacket.UpdateErrType(PktIncompleteEOT)
		p.OutputRawPacketToMonitor(p.packetIndex, &p.currPacket, p.packetData)
		p.initNextPacket()
	}
	p.procState = procHdr
	return ocsd.RespCont
}

func (p *PktProc) onReset() ocsd.DatapathResp {
	p.initProcessorState()
	return ocsd.RespCont
}

func (p *PktProc) onFlush() ocsd.DatapathResp {
	return ocsd.RespCont
}

func (p *PktProc) onProtocolConfig() ocsd.Err {
	p.initProcessorState()
	return ocsd.OK
}
