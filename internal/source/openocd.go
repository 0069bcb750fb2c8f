package source

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"swotrace/internal/common"
	"swotrace/internal/ocsd"
)

const defaultPollInterval = 100 * time.Millisecond

// OpenOCD reads the trace OpenOCD writes with `tpiu config internal <path>`.
// The path is a regular file or a named pipe. With Follow set, end of file
// is not terminal: Read polls until more data arrives or Close is called.
type OpenOCD struct {
	Path         string
	Follow       bool
	PollInterval time.Duration

	log *zap.Logger

	mu     sync.Mutex
	f      *os.File
	closed bool
	done   chan struct{}
}

func NewOpenOCD(path string, log *zap.Logger) *OpenOCD {
	return &OpenOCD{
		Path:         path,
		PollInterval: defaultPollInterval,
		log:          log,
		done:         make(chan struct{}),
	}
}

func (o *OpenOCD) String() string { return "openocd://" + o.Path }

type openResult struct {
	f   *os.File
	err error
}

// Open opens the path. Opening a FIFO blocks until a writer appears, so
// the open runs in its own goroutine and Close or ctx can abandon it.
func (o *OpenOCD) Open(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.f != nil {
		o.f.Close()
		o.f = nil
	}
	o.mu.Unlock()

	ch := make(chan openResult, 1)
	go func() {
		f, err := os.Open(o.Path)
		ch <- openResult{f, err}
	}()

	var r openResult
	select {
	case r = <-ch:
	case <-ctx.Done():
		go discardOpen(ch)
		return ctx.Err()
	case <-o.done:
		go discardOpen(ch)
		return ErrClosed
	}

	if r.err != nil {
		if errors.Is(r.err, fs.ErrNotExist) {
			return common.ConnectionError(r.err, false, "openocd: %s not found", o.Path)
		}
		return common.ConnectionError(r.err, false, "openocd: open %s", o.Path)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		r.f.Close()
		return ErrClosed
	}
	o.f = r.f
	o.log.Info("opened", zap.String("path", o.Path), zap.Bool("follow", o.Follow))
	return nil
}

func discardOpen(ch <-chan openResult) {
	if r := <-ch; r.f != nil {
		r.f.Close()
	}
}

func (o *OpenOCD) Read(p []byte) (int, error) {
	o.mu.Lock()
	f, closed := o.f, o.closed
	o.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	if f == nil {
		return 0, common.NewErrorMsg(ocsd.ErrSevError, ocsd.ErrNotInit, "openocd: read before open")
	}

	for {
		n, err := f.Read(p)
		if n > 0 {
			return n, nil
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF):
			if !o.Follow {
				return 0, io.EOF
			}
			select {
			case <-o.done:
				return 0, ErrClosed
			case <-time.After(o.PollInterval):
			}
		default:
			select {
			case <-o.done:
				return 0, ErrClosed
			default:
			}
			return 0, common.ConnectionError(err, false, "openocd: read %s", o.Path)
		}
	}
}

func (o *OpenOCD) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	close(o.done)
	if o.f != nil {
		err := o.f.Close()
		o.f = nil
		return err
	}
	return nil
}
