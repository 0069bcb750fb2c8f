package msgpackfeed

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"swotrace/internal/common"
	"swotrace/internal/config"
	"swotrace/internal/demux"
	"swotrace/internal/ocsd"
)

func TestFeedFrames(t *testing.T) {
	var buf bytes.Buffer
	f := New(&buf)

	graphs := []config.GraphSpec{{
		ID: "temp", Label: "Temperature", Type: config.GraphRealtime, Min: -10, Max: 50,
		Plots: []config.Plot{{Port: 2, Label: "die", Color: "#ff0000"}},
	}}
	require.NoError(t, f.Describe(graphs))
	require.NoError(t, f.Sample(demux.Sample{Channel: 2, Value: 21.5, Raw: 0x41AC0000, Timestamp: 7}))
	require.NoError(t, f.Sample(demux.Sample{Channel: 2, Value: 22}))
	require.NoError(t, f.Close())

	r := NewReader(&buf)

	frame, err := r.ReadFrame()
	require.NoError(t, err)
	g, ok := frame.(*GraphsFrame)
	require.True(t, ok, "first frame is %T", frame)
	require.Equal(t, GraphsType, g.Type)
	require.Len(t, g.Graphs, 1)
	require.Equal(t, "temp", g.Graphs[0].ID)
	require.Equal(t, "realtime", g.Graphs[0].Kind)
	require.Equal(t, []PlotFrame{{Port: 2, Label: "die", Color: "#ff0000"}}, g.Graphs[0].Plots)

	frame, err = r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, &SampleFrame{Type: SampleType, Seq: 1, Channel: 2, Value: 21.5, Raw: 0x41AC0000, Timestamp: 7}, frame)

	frame, err = r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, uint64(2), frame.(*SampleFrame).Seq)

	_, err = r.ReadFrame()
	require.ErrorIs(t, err, io.EOF)
}

func TestFeedClosed(t *testing.T) {
	f := New(io.Discard)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	err := f.Sample(demux.Sample{})
	require.True(t, common.IsCode(err, ocsd.ErrDisposed), "got %v", err)
}

type closingWriter struct {
	bytes.Buffer
	closes int
}

func (w *closingWriter) Close() error {
	w.closes++
	return nil
}

func TestFeedClosesWriter(t *testing.T) {
	w := &closingWriter{}
	f := New(w)
	require.NoError(t, f.Describe(nil))
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	require.Equal(t, 1, w.closes)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestFeedWriteError(t *testing.T) {
	err := New(failingWriter{}).Sample(demux.Sample{Channel: 1})
	require.True(t, common.IsCode(err, ocsd.ErrSinkWrite), "got %v", err)
	require.ErrorContains(t, err, "disk full")
}

func TestReaderErrors(t *testing.T) {
	t.Run("truncated", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, New(&buf).Sample(demux.Sample{}))
		_, err := NewReader(bytes.NewReader(buf.Bytes()[:buf.Len()-1])).ReadFrame()
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
	t.Run("too large", func(t *testing.T) {
		var prefix [LengthPrefixSize]byte
		binary.BigEndian.PutUint32(prefix[:], MaxPayloadSize+1)
		_, err := NewReader(bytes.NewReader(prefix[:])).ReadFrame()
		require.ErrorIs(t, err, ErrFrameTooLarge)
	})
}
