package printers

import (
	"fmt"
	"io"
	"strings"

	"swotrace/internal/itm"
	"swotrace/internal/ocsd"
)

// PacketPrinter is an ITM raw packet monitor. Each packet is printed as
//
//	Idx:<index>; [raw bytes]; <packet description>
//
// and counted by type for PrintStats.
type PacketPrinter struct {
	ItemPrinter
	counts map[itm.PktType]uint64
	bytes  uint64
}

func NewPacketPrinter(writer io.Writer) *PacketPrinter {
	return &PacketPrinter{
		ItemPrinter: *NewItemPrinter(writer),
		counts:      make(map[itm.PktType]uint64),
	}
}

// RawPacketDataMon implements common.PktRawDataMon[itm.Packet].
func (p *PacketPrinter) RawPacketDataMon(op ocsd.DatapathOp, indexSOP ocsd.TrcIndex, pkt *itm.Packet, rawData []byte) {
	switch op {
	case ocsd.OpData:
	case ocsd.OpEOT:
		if !p.IsMuted() {
			p.ItemPrintLine("ITM: End of Trace\n")
		}
		return
	default:
		return
	}
	if pkt == nil {
		return
	}

	p.counts[pkt.Type]++
	p.bytes += uint64(len(rawData))

	if p.IsMuted() {
		return
	}
	var sb strings.Builder
	if !p.IDPrintMuted() {
		fmt.Fprintf(&sb, "Idx:%d; ", indexSOP)
	}
	sb.WriteString(itm.RawString(rawData))
	sb.WriteString("; ")
	sb.WriteString(pkt.String())
	sb.WriteString("\n")
	p.ItemPrintLine(sb.String())
}

// Counts returns the number of packets seen per type.
func (p *PacketPrinter) Counts() map[itm.PktType]uint64 {
	out := make(map[itm.PktType]uint64, len(p.counts))
	for k, v := range p.counts {
		out[k] = v
	}
	return out
}

// Bytes is the number of raw bytes covered by the printed packets.
func (p *PacketPrinter) Bytes() uint64 { return p.bytes }

// PrintStats writes the per-type counts, one "NAME : n" line each.
func (p *PacketPrinter) PrintStats() {
	var sb strings.Builder
	sb.WriteString("ITM Packets processed:-\n")
	for _, t := range statTypes {
		fmt.Fprintf(&sb, "%s : %d\n", t, p.counts[t])
	}
	sb.WriteString("\n")
	p.ItemPrintLine(sb.String())
}

// statTypes lists the packet types in report order.
var statTypes = []itm.PktType{
	itm.PktAsync,
	itm.PktOverflow,
	itm.PktSWIT,
	itm.PktDWT,
	itm.PktTSLocal,
	itm.PktTSGlobal1,
	itm.PktTSGlobal2,
	itm.PktExtension,
	itm.PktNotSync,
	itm.PktIncompleteEOT,
	itm.PktBadSequence,
	itm.PktReserved,
}
