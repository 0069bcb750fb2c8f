// Package printers renders the datapath for humans: ITM packets with the
// raw bytes they were decoded from, TPIU frames, and summary tables.
package printers

import (
	"fmt"
	"io"

	"swotrace/internal/common"
	"swotrace/internal/ocsd"
)

// ItemPrinter is the output half shared by the printers.
type ItemPrinter struct {
	writer      io.Writer
	errLog      common.TraceErrorLog
	muted       bool
	idPrintMute bool
}

func NewItemPrinter(writer io.Writer) *ItemPrinter {
	return &ItemPrinter{
		writer: writer,
	}
}

// SetMessageLogger copies every printed line to logger as well.
func (p *ItemPrinter) SetMessageLogger(logger common.TraceErrorLog) {
	p.errLog = logger
}

func (p *ItemPrinter) ItemPrintLine(msg string) {
	if p.writer != nil {
		fmt.Fprint(p.writer, msg)
	}
	if p.errLog != nil {
		p.errLog.LogMessage(ocsd.ErrSevInfo, msg)
	}
}

// SetMute stops output; counting continues.
func (p *ItemPrinter) SetMute(mute bool) { p.muted = mute }

func (p *ItemPrinter) IsMuted() bool { return p.muted }

// MuteIDPrint hides the index/ID prefix of each line.
func (p *ItemPrinter) MuteIDPrint(mute bool) { p.idPrintMute = mute }

func (p *ItemPrinter) IDPrintMuted() bool { return p.idPrintMute }
