package source

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"swotrace/internal/common"
	"swotrace/internal/ocsd"
)

const (
	defaultJLinkHost   = "localhost"
	defaultDialTimeout = 5 * time.Second
)

// JLink reads SWO data from the J-Link GDB server's SWO telnet port. The
// server streams raw ITM bytes with no framing of its own.
type JLink struct {
	Host        string
	Port        int
	DialTimeout time.Duration

	log *zap.Logger

	mu     sync.Mutex
	conn   net.Conn
	cancel context.CancelFunc // in-flight dial
	closed bool
}

func NewJLink(host string, port int, log *zap.Logger) *JLink {
	if host == "" {
		host = defaultJLinkHost
	}
	return &JLink{Host: host, Port: port, DialTimeout: defaultDialTimeout, log: log}
}

func (j *JLink) addr() string {
	return net.JoinHostPort(j.Host, strconv.Itoa(j.Port))
}

func (j *JLink) String() string { return "jlink://" + j.addr() }

// Open dials the server. Calling Open again after a lost connection drops
// the old connection and dials anew.
func (j *JLink) Open(ctx context.Context) error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return ErrClosed
	}
	if j.conn != nil {
		j.conn.Close()
		j.conn = nil
	}
	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.mu.Unlock()
	defer cancel()

	d := net.Dialer{Timeout: j.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", j.addr())

	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel = nil
	if j.closed {
		if conn != nil {
			conn.Close()
		}
		return ErrClosed
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return common.ConnectionError(err, true, "jlink: connect to %s", j.addr())
	}
	j.conn = conn
	j.log.Info("connected", zap.String("addr", j.addr()))
	return nil
}

func (j *JLink) Read(p []byte) (int, error) {
	j.mu.Lock()
	conn, closed := j.conn, j.closed
	j.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	if conn == nil {
		return 0, common.NewErrorMsg(ocsd.ErrSevError, ocsd.ErrNotInit, "jlink: read before open")
	}

	n, err := conn.Read(p)
	if err == nil {
		return n, nil
	}
	if j.isClosed() {
		return n, ErrClosed
	}
	// the server never ends the stream on its own; EOF means it went away
	return n, common.ConnectionError(err, true, "jlink: connection to %s lost", j.addr())
}

func (j *JLink) isClosed() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closed
}

func (j *JLink) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if j.cancel != nil {
		j.cancel()
	}
	if j.conn != nil {
		err := j.conn.Close()
		j.conn = nil
		return err
	}
	return nil
}
