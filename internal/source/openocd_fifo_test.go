//go:build linux || darwin

package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"swotrace/internal/logging"
)

func mkfifo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swo.fifo")
	if err := syscall.Mkfifo(path, 0o600); err != nil {
		t.Skipf("mkfifo: %v", err)
	}
	return path
}

func TestOpenOCDCloseAbandonsFifoOpen(t *testing.T) {
	o := NewOpenOCD(mkfifo(t), logging.Nop())

	errc := make(chan error, 1)
	go func() { errc <- o.Open(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	o.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Open = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Open not abandoned by Close")
	}
}

func TestOpenOCDFifoEndOfStream(t *testing.T) {
	path := mkfifo(t)
	o := NewOpenOCD(path, logging.Nop())

	go func() {
		w, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			return
		}
		w.Write([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x80})
		w.Close()
	}()

	if err := o.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer o.Close()

	got, err := io.ReadAll(o)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 6 {
		t.Errorf("read %d bytes, want 6", len(got))
	}
}
