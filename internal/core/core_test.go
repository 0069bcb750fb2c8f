package core

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"swotrace/internal/common"
	"swotrace/internal/config"
	"swotrace/internal/demux"
	"swotrace/internal/logging"
	"swotrace/internal/ocsd"
	"swotrace/internal/router"
	"swotrace/internal/source"
)

var syncSeq = []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x80}

func bytesOf(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

type read struct {
	data []byte
	err  error
}

// fakeSource replays scripted Open and Read results, then blocks in Read
// until closed.
type fakeSource struct {
	mu       sync.Mutex
	openErrs []error
	reads    []read
	opens    int

	closed  chan struct{}
	once    sync.Once
	blocked chan struct{}
}

func newFakeSource(reads ...read) *fakeSource {
	return &fakeSource{reads: reads, closed: make(chan struct{}), blocked: make(chan struct{}, 1)}
}

func (f *fakeSource) Open(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	select {
	case <-f.closed:
		return source.ErrClosed
	default:
	}
	if len(f.openErrs) > 0 {
		err := f.openErrs[0]
		f.openErrs = f.openErrs[1:]
		return err
	}
	return nil
}

func (f *fakeSource) Read(p []byte) (int, error) {
	f.mu.Lock()
	if len(f.reads) > 0 {
		r := f.reads[0]
		f.reads = f.reads[1:]
		f.mu.Unlock()
		return copy(p, r.data), r.err
	}
	f.mu.Unlock()

	select {
	case f.blocked <- struct{}{}:
	default:
	}
	<-f.closed
	return 0, source.ErrClosed
}

func (f *fakeSource) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSource) String() string { return "fake" }

func (f *fakeSource) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

type consoles struct {
	mu     sync.Mutex
	lines  []demux.Line
	closed int
}

func (c *consoles) NewConsole(int, string) (router.ConsoleSink, error) {
	return consoleSink{c}, nil
}

func (c *consoles) snapshot() []demux.Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]demux.Line(nil), c.lines...)
}

type consoleSink struct{ c *consoles }

func (s consoleSink) WriteLine(l demux.Line) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.lines = append(s.c.lines, l)
	return nil
}

func (s consoleSink) Close() error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.closed++
	return nil
}

func newTestCore(t *testing.T, src source.ByteSource, opts Options) (*Core, *consoles) {
	t.Helper()
	channels, err := config.NewChannelMap([]config.ChannelConfig{{Number: 0}})
	if err != nil {
		t.Fatal(err)
	}
	out := &consoles{}
	opts.Consoles = out
	c, err := New(src, channels, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, out
}

func lines(texts ...string) []demux.Line {
	out := make([]demux.Line, len(texts))
	for i, s := range texts {
		out[i] = demux.Line{Channel: 0, Text: s}
	}
	return out
}

func TestNewValidation(t *testing.T) {
	channels, _ := config.NewChannelMap([]config.ChannelConfig{{Number: 0}})
	if _, err := New(nil, channels, Options{}); !common.IsCode(err, ocsd.ErrInvalidParamVal) {
		t.Errorf("nil source: %v", err)
	}
	if _, err := New(newFakeSource(), config.ChannelMap{}, Options{}); !common.IsCode(err, ocsd.ErrInvalidParamVal) {
		t.Errorf("no channels: %v", err)
	}

	c, _ := newTestCore(t, newFakeSource(), Options{})
	if c.State() != StateActive {
		t.Errorf("State = %v, want active", c.State())
	}
}

func TestRunToEndOfStream(t *testing.T) {
	src := newFakeSource(
		read{data: bytesOf(syncSeq, []byte{0x01, 'A', 0x01, '\n'})},
		read{data: []byte{0x01, 'B'}, err: io.EOF},
	)
	c, out := newTestCore(t, src, Options{})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff(lines("A", "B"), out.snapshot()); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
	if c.State() != StateDisposed {
		t.Errorf("State = %v, want disposed", c.State())
	}
	if out.closed != 1 {
		t.Errorf("console closed %d times", out.closed)
	}
	if err := c.Feed([]byte{0x01, 'C', 0x01, '\n'}); !common.IsCode(err, ocsd.ErrDisposed) {
		t.Errorf("Feed after dispose = %v", err)
	}
	if err := c.Run(context.Background()); !common.IsCode(err, ocsd.ErrDisposed) {
		t.Errorf("Run after dispose = %v", err)
	}
	if st := c.Stats(); st.BytesRead != 12 || st.Router.Lines != 2 {
		t.Errorf("stats %+v", st)
	}
}

func TestDisposeMidStreamFlushesOnce(t *testing.T) {
	src := newFakeSource(read{data: bytesOf(syncSeq, []byte{0x01, 'p', 0x01, 'q'})})
	c, out := newTestCore(t, src, Options{})

	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()

	select {
	case <-src.blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("source never read")
	}
	if err := c.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if err := <-errc; err != nil {
		t.Errorf("Run after Dispose = %v, want nil", err)
	}

	c.Dispose()
	c.Feed([]byte{0x01, 'z', 0x01, '\n'})
	if diff := cmp.Diff(lines("pq"), out.snapshot()); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestRetryThenReconnect(t *testing.T) {
	refused := common.ConnectionError(errors.New("connection refused"), true, "connect")
	lost := common.ConnectionError(io.EOF, true, "connection lost")

	src := newFakeSource(
		read{data: bytesOf(syncSeq, []byte{0x01, 'x'}), err: lost},
		read{data: []byte{0x01, 'y', 0x01, '\n'}},
		read{err: io.EOF},
	)
	src.openErrs = []error{refused, refused}
	c, out := newTestCore(t, src, Options{Retries: 3, Backoff: time.Millisecond})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// the partial "x" belongs to the lost connection
	if diff := cmp.Diff(lines("y"), out.snapshot()); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
	if src.openCount() != 4 {
		t.Errorf("opens = %d, want 4", src.openCount())
	}
	if st := c.Stats(); st.Reconnects != 1 {
		t.Errorf("Reconnects = %d", st.Reconnects)
	}
}

func TestRetriesExhausted(t *testing.T) {
	refused := common.ConnectionError(errors.New("connection refused"), true, "connect")
	src := newFakeSource()
	src.openErrs = []error{refused, refused, refused}
	c, _ := newTestCore(t, src, Options{Retries: 2, Backoff: time.Millisecond})

	err := c.Run(context.Background())
	if !common.IsCode(err, ocsd.ErrConnection) {
		t.Fatalf("Run = %v, want ErrConnection", err)
	}
	if src.openCount() != 3 {
		t.Errorf("opens = %d, want 3", src.openCount())
	}
	if c.State() != StateDisposed {
		t.Errorf("State = %v", c.State())
	}
}

func TestNonRetryableError(t *testing.T) {
	missing := common.ConnectionError(errors.New("no such file"), false, "open")
	src := newFakeSource()
	src.openErrs = []error{missing}
	c, _ := newTestCore(t, src, Options{Retries: 5, Backoff: time.Millisecond})

	if err := c.Run(context.Background()); !errors.Is(err, missing) {
		t.Fatalf("Run = %v", err)
	}
	if src.openCount() != 1 {
		t.Errorf("opens = %d, want 1", src.openCount())
	}
}

func TestContextCancel(t *testing.T) {
	src := newFakeSource()
	c, _ := newTestCore(t, src, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()
	<-src.blocked
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run not stopped by cancel")
	}
	if c.State() != StateDisposed {
		t.Errorf("State = %v", c.State())
	}
}

func TestFeedSplitChunks(t *testing.T) {
	c, out := newTestCore(t, newFakeSource(), Options{})
	stream := bytesOf(syncSeq, []byte{0x02, 'h', 'i', 0x01, '\n', 0x01, 'e'})
	for i := range stream {
		if err := c.Feed(stream[i : i+1]); err != nil {
			t.Fatalf("Feed: %v", err)
		}
	}
	if diff := cmp.Diff(lines("hi"), out.snapshot()); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
	c.Dispose()
	if diff := cmp.Diff(lines("hi", "e"), out.snapshot()); diff != "" {
		t.Errorf("lines after dispose (-want +got):\n%s", diff)
	}
}

func TestBackoff(t *testing.T) {
	c := &Core{opts: Options{Backoff: 500 * time.Millisecond}}
	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second}
	for i, w := range want {
		if got := c.backoff(i + 1); got != w {
			t.Errorf("backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
	if got := c.backoff(20); got != maxBackoff {
		t.Errorf("backoff(20) = %v, want %v", got, maxBackoff)
	}
}

// serveJLink accepts one connection per payload, writes it and drops the
// connection. The listener is closed before the last drop, so a further
// dial is refused.
func serveJLink(t *testing.T, payloads ...[]byte) *source.JLink {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for i, p := range payloads {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Write(p)
			if i == len(payloads)-1 {
				ln.Close()
			}
			conn.Close()
		}
	}()
	return source.NewJLink("127.0.0.1", ln.Addr().(*net.TCPAddr).Port, logging.Nop())
}

func TestJLinkDropIsConnectionError(t *testing.T) {
	src := serveJLink(t, bytesOf(syncSeq, []byte{0x01, 'x'}))
	c, _ := newTestCore(t, src, Options{})

	err := c.Run(context.Background())
	if !common.IsCode(err, ocsd.ErrConnection) {
		t.Fatalf("Run after server dropped the connection = %v, want ErrConnection", err)
	}
}

func TestJLinkDropReconnects(t *testing.T) {
	src := serveJLink(t,
		bytesOf(syncSeq, []byte{0x01, 'x'}),
		bytesOf(syncSeq, []byte{0x01, 'y', 0x01, '\n'}),
	)
	c, out := newTestCore(t, src, Options{Retries: 1, Backoff: time.Millisecond})

	err := c.Run(context.Background())
	if !common.IsCode(err, ocsd.ErrConnection) {
		t.Fatalf("Run = %v, want ErrConnection once the server is gone", err)
	}
	if diff := cmp.Diff(lines("y"), out.snapshot()); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
	if st := c.Stats(); st.Reconnects != 1 {
		t.Errorf("Reconnects = %d, want 1", st.Reconnects)
	}
}
