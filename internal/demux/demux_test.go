package demux

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"swotrace/internal/config"
	"swotrace/internal/itm"
	"swotrace/internal/ocsd"
)

type unitCollector struct {
	lines     []Line
	samples   []Sample
	overflows int
}

func (c *unitCollector) LineIn(l Line)     { c.lines = append(c.lines, l) }
func (c *unitCollector) SampleIn(s Sample) { c.samples = append(c.samples, s) }
func (c *unitCollector) OverflowIn()       { c.overflows++ }

func newTestDemux(t *testing.T, ports ...config.ChannelConfig) (*Demux, *itm.PktProc, *unitCollector) {
	t.Helper()
	channels, err := config.NewChannelMap(ports)
	if err != nil {
		t.Fatalf("NewChannelMap: %v", err)
	}
	d := New(channels, 1)
	out := &unitCollector{}
	d.UnitOutAttachPt().Attach(out)

	p := itm.NewPktProc(nil)
	p.PktOutI.Attach(d)
	return d, p, out
}

func push(t *testing.T, p *itm.PktProc, chunks ...[]byte) {
	t.Helper()
	var idx ocsd.TrcIndex
	for _, c := range chunks {
		if _, resp := p.TraceDataIn(ocsd.OpData, idx, c); !ocsd.DataRespIsCont(resp) {
			t.Fatalf("TraceDataIn resp %v", resp)
		}
		idx += ocsd.TrcIndex(len(c))
	}
}

var async = []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x80}

func TestConsoleLine(t *testing.T) {
	_, p, out := newTestDemux(t, config.ChannelConfig{Number: 0})

	push(t, p, append(append([]byte{}, async...), 0x01, 'A', 0x01, '\n'))

	want := []Line{{Channel: 0, Text: "A"}}
	if diff := cmp.Diff(want, out.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestConsoleMultiByteAndSplitLines(t *testing.T) {
	_, p, out := newTestDemux(t, config.ChannelConfig{Number: 3})

	// a 4 byte payload on port 3 then a 2 byte one, in separate writes
	push(t, p,
		append(append([]byte{}, async...), 0x1B, 'a', 'b', '\n', 'c'),
		[]byte{0x1A, 'd', '\n'},
	)
	want := []Line{{Channel: 3, Text: "ab"}, {Channel: 3, Text: "cd"}}
	if diff := cmp.Diff(want, out.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestGraphFloatAcrossChunks(t *testing.T) {
	_, p, out := newTestDemux(t, config.ChannelConfig{
		Number: 2, Type: config.ChannelGraph, Format: config.FormatFloat, Width: 4, GraphID: "g1",
	})

	push(t, p, append(append([]byte{}, async...), 0x13, 0x00, 0x00))
	if len(out.samples) != 0 {
		t.Fatalf("sample before payload complete: %+v", out.samples)
	}
	push(t, p, []byte{0x80, 0x3F})

	want := []Sample{{Channel: 2, Value: 1.0, Raw: 0x3F800000}}
	if diff := cmp.Diff(want, out.samples); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
}

func TestGraphSampleFromSingleBytePackets(t *testing.T) {
	_, p, out := newTestDemux(t, config.ChannelConfig{
		Number: 1, Type: config.ChannelGraph, Format: config.FormatSigned, Width: 2, Scale: 0.5,
	})

	// 0xFFFE as int16 is -2, scaled by 0.5
	push(t, p, append(append([]byte{}, async...), 0x09, 0xFE, 0x09, 0xFF))

	want := []Sample{{Channel: 1, Value: -1, Raw: 0xFFFE}}
	if diff := cmp.Diff(want, out.samples); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
}

func TestOverflowDiscardsPartialUnits(t *testing.T) {
	d, p, out := newTestDemux(t,
		config.ChannelConfig{Number: 0},
		config.ChannelConfig{Number: 2, Type: config.ChannelGraph, Format: config.FormatFloat, Width: 4},
	)

	push(t, p,
		append(append([]byte{}, async...), 0x01, 'x', 0x12, 0x00, 0x00),
		[]byte{0x70},
		[]byte{0x12, 0x80, 0x3F, 0x01, 'y', 0x01, '\n'},
	)

	if len(out.samples) != 0 {
		t.Errorf("partial sample survived overflow: %+v", out.samples)
	}
	if diff := cmp.Diff([]Line{{Channel: 0, Text: "y"}}, out.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
	if out.overflows != 1 {
		t.Errorf("overflows = %d, want 1", out.overflows)
	}
	st := d.Stats()
	if st.Overflows != 1 || st.DiscardedBytes != 3 {
		t.Errorf("stats %+v", st)
	}
}

func TestFlushEmitsPartialLineOnce(t *testing.T) {
	d, p, out := newTestDemux(t,
		config.ChannelConfig{Number: 0},
		config.ChannelConfig{Number: 1, Type: config.ChannelGraph, Width: 4},
	)

	push(t, p, append(append([]byte{}, async...), 0x01, 'h', 0x01, 'i', 0x09, 0x05))
	p.TraceDataIn(ocsd.OpEOT, 0, nil)
	d.Flush()

	if diff := cmp.Diff([]Line{{Channel: 0, Text: "hi"}}, out.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
	if len(out.samples) != 0 {
		t.Errorf("partial sample emitted: %+v", out.samples)
	}
	if st := d.Stats(); st.DiscardedSamples != 1 {
		t.Errorf("DiscardedSamples = %d, want 1", st.DiscardedSamples)
	}
}

func TestUnconfiguredChannelDropped(t *testing.T) {
	d, p, out := newTestDemux(t, config.ChannelConfig{Number: 0})

	push(t, p, append(append([]byte{}, async...), 0xF9, 'z', 0xF9, '\n', 0x01, 'k', 0x01, '\n'))
	if diff := cmp.Diff([]Line{{Channel: 0, Text: "k"}}, out.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
	if st := d.Stats(); st.Unconfigured != 2 {
		t.Errorf("Unconfigured = %d, want 2", st.Unconfigured)
	}
	d.Flush()
	if len(out.lines) != 1 {
		t.Errorf("flush emitted unconfigured data: %v", out.lines)
	}
}

func TestUnconfiguredChannelHoldsNoBytes(t *testing.T) {
	d, p, _ := newTestDemux(t, config.ChannelConfig{Number: 0})

	// 4 byte SWIT packets of zeros on port 5, never a terminator
	chunk := make([]byte, 0, 5*1024)
	for range 1024 {
		chunk = append(chunk, 0x2B, 0, 0, 0, 0)
	}
	push(t, p, async)
	for range 64 {
		push(t, p, chunk)
	}
	if d.state[5] != nil {
		t.Errorf("state allocated for unconfigured channel 5 (%d bytes held)", len(d.state[5].buf))
	}
	if st := d.Stats(); st.Unconfigured != 64*1024*4 {
		t.Errorf("Unconfigured = %d", st.Unconfigured)
	}
}

func TestTrailingCarriageReturnStripped(t *testing.T) {
	_, p, out := newTestDemux(t, config.ChannelConfig{Number: 0})

	push(t, p, append(append([]byte{}, async...), 0x02, 'o', 'k', 0x02, '\r', '\n', 0x01, '\r', 0x01, '\n'))
	want := []Line{{Channel: 0, Text: "ok"}, {Channel: 0, Text: ""}}
	if diff := cmp.Diff(want, out.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestLocalTimestamps(t *testing.T) {
	channels, err := config.NewChannelMap([]config.ChannelConfig{{Number: 0}})
	if err != nil {
		t.Fatal(err)
	}
	d := New(channels, 16)
	out := &unitCollector{}
	d.UnitOutAttachPt().Attach(out)

	lts := func(v uint32) *itm.Packet { return &itm.Packet{Type: itm.PktTSLocal, Value: v} }
	sw := func(b byte) *itm.Packet { return &itm.Packet{Type: itm.PktSWIT, Data: []byte{b}} }

	d.PacketDataIn(ocsd.OpData, 0, lts(2))
	d.PacketDataIn(ocsd.OpData, 1, sw('a'))
	d.PacketDataIn(ocsd.OpData, 2, lts(3))
	d.PacketDataIn(ocsd.OpData, 3, sw('\n'))

	if diff := cmp.Diff([]Line{{Channel: 0, Text: "a", Timestamp: 80}}, out.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}

	d.PacketDataIn(ocsd.OpReset, 4, nil)
	if d.Timestamp() != 0 {
		t.Errorf("timestamp after reset = %d", d.Timestamp())
	}
	if resp := d.PacketDataIn(ocsd.OpData, 5, nil); resp != ocsd.RespFatalInvalidParam {
		t.Errorf("nil packet resp = %v", resp)
	}
}

func TestDecodeSample(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		format  config.GraphFormat
		wantRaw uint32
		wantVal float64
	}{
		{"u8", []byte{0xFF}, config.FormatUnsigned, 0xFF, 255},
		{"s8", []byte{0xFF}, config.FormatSigned, 0xFF, -1},
		{"u16", []byte{0x34, 0x12}, config.FormatUnsigned, 0x1234, 0x1234},
		{"s16", []byte{0x00, 0x80}, config.FormatSigned, 0x8000, -32768},
		{"u32", []byte{0x01, 0x00, 0x00, 0x80}, config.FormatUnsigned, 0x80000001, 2147483649},
		{"s32", []byte{0xFF, 0xFF, 0xFF, 0xFF}, config.FormatSigned, 0xFFFFFFFF, -1},
		{"f32", []byte{0x00, 0x00, 0x20, 0xC0}, config.FormatFloat, 0xC0200000, -2.5},
		{"bad width", []byte{1, 2, 3}, config.FormatUnsigned, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, val := DecodeSample(tt.in, tt.format)
			if raw != tt.wantRaw || val != tt.wantVal {
				t.Errorf("DecodeSample(% x) = 0x%x, %v; want 0x%x, %v", tt.in, raw, val, tt.wantRaw, tt.wantVal)
			}
		})
	}
}

func TestBadPacketsCarryNoData(t *testing.T) {
	d, _, out := newTestDemux(t, config.ChannelConfig{Number: 0})

	d.PacketDataIn(ocsd.OpData, 0, &itm.Packet{Type: itm.PktBadSequence, Data: []byte{'x', '\n'}})
	d.PacketDataIn(ocsd.OpData, 2, &itm.Packet{Type: itm.PktSWIT, Data: []byte{'y', '\n'}})
	if diff := cmp.Diff([]Line{{Channel: 0, Text: "y"}}, out.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
	if n := d.Stats().Packets[itm.PktBadSequence]; n != 1 {
		t.Errorf("bad sequence count = %d", n)
	}
}
