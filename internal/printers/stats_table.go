package printers

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"swotrace/internal/itm"
	"swotrace/internal/pipeline"
)

// StatsTable renders decode statistics: per-type packet counts followed by
// the stream totals. Terminals get a rounded box, anything else plain ASCII.
func StatsTable(w io.Writer, counts map[itm.PktType]uint64, st pipeline.Stats) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	if isTerminal(w) {
		tw.SetStyle(table.StyleRounded)
	} else {
		tw.SetStyle(table.StyleDefault)
	}
	tw.Style().Options.SeparateHeader = true
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignCenter},
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignCenter},
	})

	tw.AppendHeader(table.Row{"Packet", "Count"})
	for _, t := range statTypes {
		if n := counts[t]; n > 0 {
			tw.AppendRow(table.Row{t.String(), n})
		}
	}
	if len(counts) == 0 {
		tw.AppendRow(table.Row{"(no packets)", 0})
	}

	tw.AppendSeparator()
	tw.AppendRow(table.Row{"bytes decoded", st.Decode.ChannelTotal})
	tw.AppendRow(table.Row{"bytes before sync", st.Decode.ChannelUnsynced})
	tw.AppendRow(table.Row{"bad headers", st.Decode.BadHeaderErrs})
	tw.AppendRow(table.Row{"bad sequences", st.Decode.BadSequenceErrs})
	if st.Frames.FrameBytes > 0 {
		tw.AppendRow(table.Row{"frame bytes", st.Frames.FrameBytes})
		tw.AppendRow(table.Row{"frame bytes without ID", st.Frames.NoIDBytes})
	}
	tw.AppendRow(table.Row{"lines", st.Demux.Lines})
	tw.AppendRow(table.Row{"samples", st.Demux.Samples})
	tw.AppendRow(table.Row{"overflows", st.Demux.Overflows})
	if st.Demux.Unconfigured > 0 {
		tw.AppendRow(table.Row{"unconfigured channel bytes", st.Demux.Unconfigured})
	}
	if st.Demux.DiscardedBytes > 0 || st.Demux.DiscardedSamples > 0 {
		tw.AppendRow(table.Row{"discarded", fmt.Sprintf("%d bytes, %d samples", st.Demux.DiscardedBytes, st.Demux.DiscardedSamples)})
	}

	tw.Render()
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
