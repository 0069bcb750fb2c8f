// Package sink holds the concrete outputs for decoded SWO data: text
// consoles for lines and adapter output, and helpers shared by the graph
// feeds in the sub-packages.
package sink

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"swotrace/internal/common"
	"swotrace/internal/demux"
	"swotrace/internal/ocsd"
	"swotrace/internal/router"
)

// WriterConsoles is a router.ConsoleFactory whose consoles all write to one
// writer, each line prefixed with the channel label.
type WriterConsoles struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterConsoles(w io.Writer) *WriterConsoles {
	return &WriterConsoles{w: w}
}

func (f *WriterConsoles) NewConsole(channel int, label string) (router.ConsoleSink, error) {
	return &writerConsole{parent: f, channel: channel, label: label}, nil
}

func (f *WriterConsoles) writeString(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := io.WriteString(f.w, s)
	return err
}

type writerConsole struct {
	parent  *WriterConsoles
	channel int
	label   string

	mu     sync.Mutex
	closed bool
}

func (c *writerConsole) WriteLine(l demux.Line) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return common.NewErrorMsg(ocsd.ErrSevError, ocsd.ErrDisposed, fmt.Sprintf("console %d closed", c.channel))
	}
	if err := c.parent.writeString("[" + c.label + "] " + l.Text + "\n"); err != nil {
		return common.WrapError(ocsd.ErrSinkWrite, err, fmt.Sprintf("console %d", c.channel))
	}
	return nil
}

func (c *writerConsole) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// TextSink passes adapter output through to a writer, one message at a
// time, terminating every message with a newline.
type TextSink struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	closed bool
}

// NewTextSink writes to w. If w is also an io.Closer it is closed with the
// sink.
func NewTextSink(w io.Writer) *TextSink {
	s := &TextSink{w: w}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

func (s *TextSink) Write(content string) error {
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return common.NewErrorMsg(ocsd.ErrSevError, ocsd.ErrDisposed, "adapter output closed")
	}
	if _, err := io.WriteString(s.w, content); err != nil {
		return common.WrapError(ocsd.ErrSinkWrite, err, "adapter output")
	}
	return nil
}

func (s *TextSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
