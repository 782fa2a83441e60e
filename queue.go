package tunio

import (
	"context"
	"io"
)

// Queue is the byte-stream endpoint produced by Interface.Up. Reads and
// writes deliver raw, uninspected packets in kernel/DLL order. A Queue is
// owned exclusively by its caller: concurrent writes from multiple
// goroutines are not defined behavior, but a concurrent reader and writer
// on different goroutines are permitted since they share no mutable state
// beyond the underlying device handle.
type Queue interface {
	io.Reader
	io.Writer
	// Flush is a no-op on every current backend (neither the kernel TUN
	// device nor Wintun batch writes), but is part of the contract so a
	// Queue can be used wherever an io.Writer with explicit flushing is
	// expected.
	Flush() error
	io.Closer
}

// AsyncQueue additionally exposes a cooperative, context-cancellable read
// and write. Suspension happens only at the "not ready" boundary (Unix
// EWOULDBLOCK, or Wintun's "no more items"); dropping the context is always
// safe and never leaks the underlying wait primitive.
type AsyncQueue interface {
	Queue
	ReadAsync(ctx context.Context, buf []byte) (int, error)
	WriteAsync(ctx context.Context, buf []byte) (int, error)
}
