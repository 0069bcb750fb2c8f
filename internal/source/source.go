// Package source provides the byte sources an SWO session reads from: a
// J-Link SWO TCP server or an OpenOCD trace file or named pipe.
package source

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"swotrace/internal/common"
	"swotrace/internal/config"
	"swotrace/internal/logging"
	"swotrace/internal/ocsd"
)

// ErrClosed is returned by Open and Read once Close has been called.
var ErrClosed = errors.New("source: closed")

// ByteSource delivers the raw SWO byte stream.
//
// Open failures and mid-stream losses are *common.Error values with code
// ocsd.ErrConnection; Retryable reports whether reopening may help. Read
// returns io.EOF when the stream ended normally and ErrClosed after Close.
// Close is idempotent and may be called from any goroutine to abort a
// blocked Open or Read.
type ByteSource interface {
	Open(ctx context.Context) error
	Read(p []byte) (int, error)
	Close() error
	String() string
}

// New builds the source described by a swo-configure event.
func New(ev config.SourceEvent, log *zap.Logger) (ByteSource, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Nop()
	}
	switch ev.Type {
	case config.SourceJLink:
		return NewJLink(ev.Host, ev.Port, log.Named("source.jlink")), nil
	case config.SourceOpenOCD:
		o := NewOpenOCD(ev.Path, log.Named("source.openocd"))
		o.Follow = ev.Follow
		return o, nil
	}
	return nil, common.NewErrorMsg(ocsd.ErrSevError, ocsd.ErrInvalidParamVal,
		fmt.Sprintf("unknown source type %q", ev.Type))
}
