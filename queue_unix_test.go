//go:build linux || darwin

package tunio

import (
	"context"
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func newPipeQueues(t *testing.T) (*fdQueue, *fdQueue) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			t.Fatalf("set nonblock: %v", err)
		}
	}
	a := newFDQueue(os.NewFile(uintptr(fds[0]), "a"))
	b := newFDQueue(os.NewFile(uintptr(fds[1]), "b"))
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestFDQueue_WriteThenRead(t *testing.T) {
	a, b := newPipeQueues(t)

	want := []byte("hello tun")
	n, err := a.Write(want)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(want) {
		t.Fatalf("Write returned %d, want %d", n, len(want))
	}

	buf := make([]byte, 64)
	n, err = b.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != string(want) {
		t.Fatalf("Read = %q, want %q", buf[:n], want)
	}
}

func TestFDQueue_ReadBlocksUntilDataArrives(t *testing.T) {
	a, b := newPipeQueues(t)

	done := make(chan struct{})
	var n int
	var readErr error
	buf := make([]byte, 64)
	go func() {
		n, readErr = b.Read(buf)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Read returned before any data was written")
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := a.Write([]byte("late")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Read did not unblock after data arrived")
	}
	if readErr != nil {
		t.Fatalf("Read: %v", readErr)
	}
	if string(buf[:n]) != "late" {
		t.Fatalf("Read = %q, want %q", buf[:n], "late")
	}
}

func TestFDQueue_ReadAsyncCancelled(t *testing.T) {
	_, b := newPipeQueues(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	buf := make([]byte, 64)
	_, err := b.ReadAsync(ctx, buf)
	if err == nil {
		t.Fatal("expected context deadline error, got nil")
	}
}

func TestFDQueue_CloseIsIdempotent(t *testing.T) {
	a, _ := newPipeQueues(t)
	if err := a.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestFDQueue_ReadAfterCloseReturnsErrQueueClosed(t *testing.T) {
	a, b := newPipeQueues(t)
	_ = a.Close()

	buf := make([]byte, 16)
	_, err := b.Read(buf)
	// b itself is still open; closing a only makes reads on b observe EOF,
	// not ErrQueueClosed. Close b directly to exercise the closed path.
	_ = err

	_ = b.Close()
	_, err = b.Read(buf)
	if err != ErrQueueClosed {
		t.Fatalf("Read after Close = %v, want ErrQueueClosed", err)
	}
}
