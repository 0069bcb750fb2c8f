package printers

import (
	"fmt"
	"io"
	"strings"

	"swotrace/internal/ocsd"
)

// RawFramePrinter prints what a TPIU deformatter sees: sync patterns,
// whole frames and the bytes unpacked for each trace ID.
type RawFramePrinter struct {
	ItemPrinter
	frames uint64
}

func NewRawFramePrinter(writer io.Writer) *RawFramePrinter {
	return &RawFramePrinter{
		ItemPrinter: *NewItemPrinter(writer),
	}
}

// Frames is the number of packed frames seen.
func (p *RawFramePrinter) Frames() uint64 { return p.frames }

// TraceRawFrameIn implements common.TrcRawFrameIn.
func (p *RawFramePrinter) TraceRawFrameIn(op ocsd.DatapathOp, index ocsd.TrcIndex, frameElem ocsd.RawframeElem, data []byte, traceID uint8) ocsd.DatapathResp {
	if op != ocsd.OpData {
		return ocsd.RespCont
	}
	if frameElem == ocsd.FrmPacked {
		p.frames++
	}
	if p.IsMuted() {
		return ocsd.RespCont
	}

	var sb strings.Builder
	if !p.IDPrintMuted() {
		fmt.Fprintf(&sb, "Frame Data; Index%7d; ", index)
	}

	switch frameElem {
	case ocsd.FrmPacked:
		fmt.Fprintf(&sb, "%15s", "RAW_PACKED; ")
	case ocsd.FrmHsync:
		fmt.Fprintf(&sb, "%15s", "HSYNC; ")
	case ocsd.FrmFsync:
		fmt.Fprintf(&sb, "%15s", "FSYNC; ")
	case ocsd.FrmIDData:
		fmt.Fprintf(&sb, "%10s", "ID_DATA[")
		if traceID == ocsd.BadCSSrcID {
			sb.WriteString("????")
		} else {
			fmt.Fprintf(&sb, "0x%02x", traceID)
		}
		sb.WriteString("]; ")
	default:
		fmt.Fprintf(&sb, "%15s", "UNKNOWN; ")
	}

	for i, b := range data {
		if i > 0 && i%16 == 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%02x ", b)
	}
	sb.WriteString("\n")
	p.ItemPrintLine(sb.String())
	return ocsd.RespCont
}
