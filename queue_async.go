package tunio

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// asyncAdapter promotes a plain Queue to AsyncQueue by running its blocking
// Read/Write on a worker goroutine and racing it against ctx. It is used
// wherever a backend has no natural non-blocking mode to poll (none of the
// current backends need it, since fdQueue and wintunQueue both implement
// AsyncQueue directly), and is kept as the generic fallback spec.md §5
// describes for any future Queue implementation that only offers blocking
// calls.
type asyncAdapter struct {
	Queue
}

// newAsyncAdapter wraps q so it satisfies AsyncQueue. If q already
// implements AsyncQueue, the caller should prefer that implementation
// directly; this adapter is strictly for Queues that don't.
func newAsyncAdapter(q Queue) AsyncQueue {
	if aq, ok := q.(AsyncQueue); ok {
		return aq
	}
	return asyncAdapter{Queue: q}
}

// ReadAsync runs q.Read on its own goroutine and returns as soon as either
// it completes or ctx is cancelled. On cancellation the goroutine is left
// to finish on its own; it has no way to be interrupted mid-syscall, so the
// caller must not reuse buf until it knows the goroutine has returned (it
// won't, typically, since a cancelled read is followed by Close).
func (a asyncAdapter) ReadAsync(ctx context.Context, buf []byte) (int, error) {
	var n int
	g, ctx := errgroup.WithContext(ctx)
	result := make(chan struct{})
	g.Go(func() error {
		var err error
		n, err = a.Queue.Read(buf)
		close(result)
		return err
	})

	select {
	case <-result:
		return n, g.Wait()
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// WriteAsync mirrors ReadAsync for writes.
func (a asyncAdapter) WriteAsync(ctx context.Context, buf []byte) (int, error) {
	var n int
	g, ctx := errgroup.WithContext(ctx)
	result := make(chan struct{})
	g.Go(func() error {
		var err error
		n, err = a.Queue.Write(buf)
		close(result)
		return err
	})

	select {
	case <-result:
		return n, g.Wait()
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

var _ AsyncQueue = asyncAdapter{}
