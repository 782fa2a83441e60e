//go:build linux || darwin

package tunio

import (
	"context"
	"errors"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// fdQueue is the Unix flavor of Queue (C1): a non-blocking file descriptor
// read and written directly, with would-block surfaced as a poll wait.
// Invariant: while open, fdQueue is the sole reader of readiness for its fd
// via the poll loop in waitReadable/waitWritable — no external reactor
// registration is shared with anything else.
type fdQueue struct {
	file   *os.File
	fd     int
	closed atomic.Bool
}

// newFDQueue wraps an already-opened, non-blocking file descriptor as a
// Queue. The caller retains ownership of naming/teardown decisions; Close
// here only closes the descriptor.
func newFDQueue(file *os.File) *fdQueue {
	return &fdQueue{file: file, fd: int(file.Fd())}
}

func (q *fdQueue) Read(buf []byte) (int, error) {
	for {
		if q.closed.Load() {
			return 0, ErrQueueClosed
		}
		n, err := unix.Read(q.fd, buf)
		if err == nil {
			return n, nil
		}
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			if werr := q.waitReadable(); werr != nil {
				return 0, werr
			}
			continue
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return 0, wrapIO("read", err)
	}
}

func (q *fdQueue) Write(buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		if q.closed.Load() {
			return total, ErrQueueClosed
		}
		n, err := unix.Write(q.fd, buf[total:])
		if err == nil {
			total += n
			continue
		}
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			if werr := q.waitWritable(); werr != nil {
				return total, werr
			}
			continue
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return total, wrapIO("write", err)
	}
	return total, nil
}

func (q *fdQueue) Flush() error {
	return nil
}

func (q *fdQueue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	return q.file.Close()
}

// waitReadable parks on poll(2) until the fd is readable, retrying on
// spurious (zero-revents) wakeups. A short timeout lets it notice Close()
// promptly instead of blocking forever on a descriptor nobody will ever
// signal again.
func (q *fdQueue) waitReadable() error {
	return q.wait(unix.POLLIN)
}

func (q *fdQueue) waitWritable() error {
	return q.wait(unix.POLLOUT)
}

func (q *fdQueue) wait(events int16) error {
	fds := []unix.PollFd{{Fd: int32(q.fd), Events: events}}
	for {
		if q.closed.Load() {
			return ErrQueueClosed
		}
		n, err := unix.Poll(fds, 250)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return wrapIO("poll", err)
		}
		if n == 0 {
			continue // timeout, recheck closed and retry
		}
		if fds[0].Revents&events != 0 {
			return nil
		}
		// Spurious wakeup (e.g. POLLHUP/POLLERR without our bit set);
		// loop back and poll again.
	}
}

// ReadAsync performs a non-blocking read, suspending on a background
// goroutine that polls for readiness until either data arrives, the queue
// is closed, or ctx is cancelled. Cancelling ctx simply stops waiting; it
// never leaks the fd or any reactor registration because the fd itself is
// owned by the queue, not by the wait goroutine.
func (q *fdQueue) ReadAsync(ctx context.Context, buf []byte) (int, error) {
	for {
		if q.closed.Load() {
			return 0, ErrQueueClosed
		}
		n, err := unix.Read(q.fd, buf)
		if err == nil {
			return n, nil
		}
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			if werr := q.waitReadableAsync(ctx); werr != nil {
				return 0, werr
			}
			continue
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return 0, wrapIO("read", err)
	}
}

func (q *fdQueue) WriteAsync(ctx context.Context, buf []byte) (int, error) {
	for {
		if q.closed.Load() {
			return 0, ErrQueueClosed
		}
		n, err := unix.Write(q.fd, buf)
		if err == nil {
			return n, nil
		}
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			if werr := q.waitWritableAsync(ctx); werr != nil {
				return 0, werr
			}
			continue
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return 0, wrapIO("write", err)
	}
}

func (q *fdQueue) waitReadableAsync(ctx context.Context) error {
	return q.waitAsync(ctx, unix.POLLIN)
}

func (q *fdQueue) waitWritableAsync(ctx context.Context) error {
	return q.waitAsync(ctx, unix.POLLOUT)
}

// waitAsync runs the poll loop of wait in its own goroutine so ctx
// cancellation can race it without blocking the caller's goroutine on a
// syscall. Each call starts one such goroutine; after cancellation it
// keeps polling until the fd becomes ready or the queue is closed.
func (q *fdQueue) waitAsync(ctx context.Context, events int16) error {
	done := make(chan error, 1)
	go func() {
		done <- q.wait(events)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ AsyncQueue = (*fdQueue)(nil)
