package itm

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// PktType represents the ITM packet type.
type PktType int

const (
	// markers only seen by the raw packet monitor
	PktNotSync       PktType = iota // bytes dropped while waiting for sync
	PktIncompleteEOT                // partial packet left at end of trace
	PktNoErrType

	// valid packet types
	PktAsync     // synchronisation
	PktOverflow  // target dropped trace data
	PktSWIT      // software (instrumentation) stimulus
	PktDWT       // DWT hardware source
	PktTSLocal   // local timestamp
	PktTSGlobal1 // global timestamp bits [25:0]
	PktTSGlobal2 // global timestamp bits [63:26] or [47:26]
	PktExtension // stimulus page / extension information

	// errors, monitor only
	PktBadSequence
	PktReserved
)

var pktTypeNames = map[PktType][2]string{
	PktNotSync:       {"NOTSYNC", "ITM not synchronised"},
	PktIncompleteEOT: {"INCOMPLETE_EOT", "Incomplete packet at end of trace"},
	PktAsync:         {"ASYNC", "Alignment synchronisation packet"},
	PktOverflow:      {"OVERFLOW", "Overflow packet"},
	PktSWIT:          {"SWIT", "Software stimulus packet"},
	PktDWT:           {"DWT", "Hardware stimulus packet"},
	PktTSLocal:       {"TS_L", "Local timestamp packet"},
	PktTSGlobal1:     {"TS_G1", "Global timestamp packet 1"},
	PktTSGlobal2:     {"TS_G2", "Global timestamp packet 2"},
	PktExtension:     {"EXTENSION", "Extension packet"},
	PktBadSequence:   {"BAD_SEQUENCE", "Invalid sequence in packet"},
	PktReserved:      {"RESERVED", "Reserved packet header"},
}

func (t PktType) String() string {
	if n, ok := pktTypeNames[t]; ok {
		return n[0]
	}
	return "UNKNOWN"
}

// Packet is one decoded ITM packet.
//
// SrcID depends on Type:
//   - SWIT: stimulus port [4:0]
//   - DWT: discriminator [4:0]
//   - TS_L: TC flags [1:0]
//   - TS_G1: clock wrap [1] / frequency change [0]
//   - Extension: SW(0)/HW(1) in [7], bit length of Value in [4:0]
type Packet struct {
	Type    PktType
	SrcID   uint8
	Value   uint32 // little-endian payload or decoded continuation value
	ValSz   uint8  // payload size in bytes
	ValExt  uint8  // bits [37:32] of a TS_G2 value
	Data    []byte // stimulus payload bytes as sent; owned by the packet
	ErrType PktType
}

func (p *Packet) InitPacket() {
	*p = Packet{Type: PktNotSync, ErrType: PktNoErrType}
}

// UpdateErrType marks the packet as errType, keeping the original type in ErrType.
func (p *Packet) UpdateErrType(errType PktType) {
	p.ErrType = p.Type
	p.Type = errType
}

func (p *Packet) SetValue(val uint32, valSzBytes uint8) {
	p.Value = val
	p.ValSz = valSzBytes
}

// SetExtValue stores a 38 bit global timestamp value.
func (p *Packet) SetExtValue(extVal uint64) {
	p.Value = uint32(extVal)
	p.ValExt = uint8((extVal >> 32) & 0x3F)
	p.ValSz = 5
}

func (p *Packet) ExtValue() uint64 {
	return uint64(p.Value) | uint64(p.ValExt)<<32
}

func (p *Packet) IsBadPacket() bool {
	return p.Type >= PktBadSequence
}

// IsStimulus reports a SWIT or DWT packet, the only types carrying Data.
func (p *Packet) IsStimulus() bool {
	return p.Type == PktSWIT || p.Type == PktDWT
}

// Port is the stimulus port of a SWIT packet, -1 for anything else.
func (p *Packet) Port() int {
	if p.Type != PktSWIT {
		return -1
	}
	return int(p.SrcID)
}

// TSSync reports whether a local timestamp is synchronous to the data (TC == 0).
func (p *Packet) TSSync() bool {
	return p.Type == PktTSLocal && p.SrcID&0x3 == 0
}

func (p *Packet) String() string {
	name := p.Type.String()
	desc := "Unknown Packet Type"
	if n, ok := pktTypeNames[p.Type]; ok {
		desc = n[1]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s:%s", name, desc)

	switch p.Type {
	case PktSWIT:
		fmt.Fprintf(&sb, "; %s; Port 0x%02X; Data 0x%08X", p.valSizeStr(), p.SrcID, p.Value)
	case PktDWT:
		sb.WriteString("; ")
		sb.WriteString(p.dwtPacketStr())
	case PktTSLocal:
		tc := [...]string{"TS Sync", "TS Delay", "TS Async", "TS delayed - async"}
		fmt.Fprintf(&sb, "; TC %s; TS = 0x%07X", tc[p.SrcID&0x3], p.Value)
	case PktTSGlobal1:
		fmt.Fprintf(&sb, "; TS 25:0  0x%07X", p.Value)
		if p.SrcID&0x2 != 0 {
			sb.WriteString(" (wrap)")
		}
		if p.SrcID&0x1 != 0 {
			sb.WriteString(" (clk change)")
		}
	case PktTSGlobal2:
		fmt.Fprintf(&sb, "; TS 63:26 0x%010X", p.ExtValue())
	case PktExtension:
		src := "SW"
		if p.SrcID&0x80 != 0 {
			src = "HW"
		}
		fmt.Fprintf(&sb, "; Src %s; Bits %d; Val 0x%08X", src, p.SrcID&0x1F, p.Value)
	case PktBadSequence:
		fmt.Fprintf(&sb, "[%s]", p.ErrType)
	}
	return sb.String()
}

func (p *Packet) valSizeStr() string {
	switch p.ValSz {
	case 1:
		return "8 bit"
	case 2:
		return "16 bit"
	case 4:
		return "32 bit"
	default:
		return "Unsized"
	}
}

// DWT event counter wrap flags, discriminator 0.
const (
	dwtEcntrCPI = 0x01
	dwtEcntrEXC = 0x02
	dwtEcntrSLP = 0x04
	dwtEcntrLSU = 0x08
	dwtEcntrFLD = 0x10
	dwtEcntrCYC = 0x20
)

func (p *Packet) dwtPacketStr() string {
	str := p.valSizeStr()
	var desc string

	switch id := p.SrcID; {
	case id == 0:
		desc = "Event"
		for _, f := range []struct {
			bit  uint32
			name string
		}{
			{dwtEcntrCPI, "CPI"}, {dwtEcntrEXC, "EXC"}, {dwtEcntrSLP, "SLP"},
			{dwtEcntrLSU, "LSU"}, {dwtEcntrFLD, "FLD"}, {dwtEcntrCYC, "CYC"},
		} {
			if p.Value&f.bit != 0 {
				str += " " + f.name + ";"
			}
		}
	case id == 1:
		desc = "Exception"
		str += fmt.Sprintf("; Exception Num %03d", p.Value&0x1FF)
		switch (p.Value >> 12) & 0x3 {
		case 1:
			str += " Entered"
		case 2:
			str += " Exited"
		case 3:
			str += " Returned"
		}
	case id == 2:
		desc = "PC Sample"
		str += fmt.Sprintf("; PC = 0x%08X", p.Value)
	case id == 8:
		desc = "Data Trace PC Value"
		str += fmt.Sprintf("; PC = 0x%08X", p.Value)
	case id == 9 || id == 11:
		desc = "Data Trace Address"
		str += fmt.Sprintf("; Addr = 0x%08X", p.Value)
	case id >= 16 && id <= 24:
		desc = "Data Trace Data"
		str += fmt.Sprintf("; Data = 0x%08X", p.Value)
		switch (id >> 1) & 0x3 {
		case 1:
			str += " (Read)"
		case 2:
			str += " (Write)"
		}
	default:
		desc = "Unknown"
		str += fmt.Sprintf("; ID = 0x%02X; Data = 0x%08X", id, p.Value)
	}
	return desc + " : " + str
}

// RawString renders raw packet bytes the way the packet lister prints them.
func RawString(raw []byte) string {
	if len(raw) == 0 {
		return "[]"
	}
	h := hex.EncodeToString(raw)
	var sb strings.Builder
	sb.WriteByte('[')
	for i := 0; i < len(h); i += 2 {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString("0x")
		sb.WriteString(h[i : i+2])
	}
	sb.WriteByte(']')
	return sb.String()
}
