package sink

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"swotrace/internal/common"
	"swotrace/internal/config"
	"swotrace/internal/demux"
	"swotrace/internal/ocsd"
)

func TestWriterConsoles(t *testing.T) {
	var buf bytes.Buffer
	f := NewWriterConsoles(&buf)

	a, err := f.NewConsole(0, "stdout")
	require.NoError(t, err)
	b, err := f.NewConsole(5, "SWO:ITM[port:5, type:console]")
	require.NoError(t, err)

	require.NoError(t, a.WriteLine(demux.Line{Channel: 0, Text: "boot"}))
	require.NoError(t, b.WriteLine(demux.Line{Channel: 5, Text: "x=1"}))
	require.NoError(t, a.WriteLine(demux.Line{Channel: 0, Text: ""}))

	require.Equal(t, "[stdout] boot\n[SWO:ITM[port:5, type:console]] x=1\n[stdout] \n", buf.String())

	require.NoError(t, a.Close())
	err = a.WriteLine(demux.Line{Text: "late"})
	require.True(t, common.IsCode(err, ocsd.ErrDisposed), "got %v", err)
	require.NoError(t, b.WriteLine(demux.Line{Channel: 5, Text: "still open"}))
}

type closeBuffer struct {
	bytes.Buffer
	closed int
}

func (c *closeBuffer) Close() error {
	c.closed++
	return nil
}

func TestTextSink(t *testing.T) {
	w := &closeBuffer{}
	s := NewTextSink(w)

	require.NoError(t, s.Write("hello"))
	require.NoError(t, s.Write("world\n"))
	require.NoError(t, s.Write(""))
	require.Equal(t, "hello\nworld\n\n", w.String())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, 1, w.closed)
	require.True(t, common.IsCode(s.Write("x"), ocsd.ErrDisposed))
}

type recordingFeed struct {
	described int
	samples   []demux.Sample
	closed    int
	err       error
}

func (r *recordingFeed) Describe([]config.GraphSpec) error { r.described++; return r.err }
func (r *recordingFeed) Sample(s demux.Sample) error {
	r.samples = append(r.samples, s)
	return r.err
}
func (r *recordingFeed) Close() error { r.closed++; return r.err }

func TestMultiFeed(t *testing.T) {
	require.Nil(t, NewMultiFeed())
	require.Nil(t, NewMultiFeed(nil, nil))

	single := &recordingFeed{}
	require.Same(t, single, NewMultiFeed(nil, single))

	boom := errors.New("boom")
	a, b := &recordingFeed{err: boom}, &recordingFeed{}
	m := NewMultiFeed(a, b)

	require.ErrorIs(t, m.Describe(nil), boom)
	err := m.Sample(demux.Sample{Channel: 1, Value: 2})
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, m.Close(), boom)

	// the healthy feed saw everything
	require.Equal(t, 1, b.described)
	require.Equal(t, []demux.Sample{{Channel: 1, Value: 2}}, b.samples)
	require.Equal(t, 1, b.closed)

	require.NoError(t, NewMultiFeed(b, &recordingFeed{}).Sample(demux.Sample{}))
}
