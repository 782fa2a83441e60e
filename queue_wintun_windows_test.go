//go:build windows

package tunio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/windows"
)

// fakeSession is an in-process stand-in for a *wintun.Session: a packet
// queue signalled by a real Win32 event, so runWaiter's
// WaitForMultipleObjects call can be exercised without the Wintun DLL.
type fakeSession struct {
	mu        sync.Mutex
	packets   [][]byte
	readEvent windows.Handle
	ended     bool
}

func newFakeSession(t *testing.T) *fakeSession {
	t.Helper()
	ev, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	s := &fakeSession{readEvent: ev}
	t.Cleanup(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.ended {
			_ = windows.CloseHandle(s.readEvent)
		}
	})
	return s
}

func (s *fakeSession) push(t *testing.T, packet []byte) {
	t.Helper()
	s.mu.Lock()
	s.packets = append(s.packets, packet)
	s.mu.Unlock()
	if err := windows.SetEvent(s.readEvent); err != nil {
		t.Fatalf("set event: %v", err)
	}
}

func (s *fakeSession) ReceivePacket() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.packets) == 0 {
		_ = windows.ResetEvent(s.readEvent)
		return nil, windows.ERROR_NO_MORE_ITEMS
	}
	p := s.packets[0]
	s.packets = s.packets[1:]
	if len(s.packets) == 0 {
		_ = windows.ResetEvent(s.readEvent)
	}
	return p, nil
}

func (s *fakeSession) ReleaseReceivePacket(_ []byte) {}

func (s *fakeSession) AllocateSendPacket(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func (s *fakeSession) SendPacket(_ []byte) {}

func (s *fakeSession) ReadWaitEvent() windows.Handle { return s.readEvent }

func (s *fakeSession) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		_ = windows.CloseHandle(s.readEvent)
		s.ended = true
	}
}

func (s *fakeSession) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

var _ wintunSession = (*fakeSession)(nil)

func newTestWintunQueue(t *testing.T, sessions ...*fakeSession) *wintunQueue {
	t.Helper()
	i := 0
	q, err := newWintunQueueWithStarter(func(uint32) (wintunSession, error) {
		if i >= len(sessions) {
			t.Fatalf("startSession called more times than expected (%d)", len(sessions))
		}
		s := sessions[i]
		i++
		return s, nil
	}, DefaultRingCapacity)
	if err != nil {
		t.Fatalf("newWintunQueueWithStarter: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestWintunQueue_ReadAsync_WaitsThenReceives(t *testing.T) {
	s := newFakeSession(t)
	q := newTestWintunQueue(t, s)

	type result struct {
		n   int
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		buf := make([]byte, 64)
		n, err := q.ReadAsync(context.Background(), buf)
		resCh <- result{n, err}
	}()

	select {
	case <-resCh:
		t.Fatal("ReadAsync returned before any packet was pushed")
	case <-time.After(50 * time.Millisecond):
	}

	s.push(t, []byte{1, 2, 3})

	select {
	case r := <-resCh:
		if r.err != nil {
			t.Fatalf("unexpected error: %v", r.err)
		}
		if r.n != 3 {
			t.Fatalf("n = %d, want 3", r.n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadAsync did not return after packet was pushed")
	}
}

func TestWintunQueue_ReadAsync_ConcurrentCallersShareWaiter(t *testing.T) {
	s := newFakeSession(t)
	q := newTestWintunQueue(t, s)

	const callers = 4
	resCh := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			buf := make([]byte, 64)
			_, err := q.ReadAsync(context.Background(), buf)
			resCh <- err
		}()
	}

	// Give every goroutine a chance to reach the waiting state before
	// any data appears.
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < callers; i++ {
		s.push(t, []byte{byte(i)})
	}

	for i := 0; i < callers; i++ {
		select {
		case err := <-resCh:
			if err != nil {
				t.Fatalf("caller %d: unexpected error: %v", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d/%d callers returned", i, callers)
		}
	}
}

func TestWintunQueue_ReadAsync_ContextCancelled(t *testing.T) {
	s := newFakeSession(t)
	q := newTestWintunQueue(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	buf := make([]byte, 64)
	_, err := q.ReadAsync(ctx, buf)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestWintunQueue_ReopenSession_DrainsInFlightBeforeEnd(t *testing.T) {
	oldSession := newFakeSession(t)
	newSession := newFakeSession(t)
	q := newTestWintunQueue(t, oldSession, newSession)

	ref, err := q.beginOp()
	if err != nil {
		t.Fatalf("beginOp: %v", err)
	}

	reopenDone := make(chan error, 1)
	go func() { reopenDone <- q.reopenSession() }()

	select {
	case <-reopenDone:
		t.Fatal("reopenSession returned while an operation was still in flight")
	case <-time.After(50 * time.Millisecond):
	}
	if oldSession.isEnded() {
		t.Fatal("old session ended before in-flight op completed")
	}

	q.endOp(ref)

	select {
	case err := <-reopenDone:
		if err != nil {
			t.Fatalf("reopenSession: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reopenSession did not complete after in-flight op finished")
	}
	if !oldSession.isEnded() {
		t.Fatal("old session was never ended")
	}
	if newSession.isEnded() {
		t.Fatal("new session ended unexpectedly")
	}

	cur := q.cur.Load()
	if cur == nil || cur.session != wintunSession(newSession) {
		t.Fatal("current session was not swapped to the new session")
	}
}

func TestWintunQueue_Close_JoinsWaiterBeforeEndingSession(t *testing.T) {
	s := newFakeSession(t)
	q := newTestWintunQueue(t, s)

	readDone := make(chan error, 1)
	go func() {
		buf := make([]byte, 64)
		_, err := q.ReadAsync(context.Background(), buf)
		readDone <- err
	}()

	// Let the reader actually reach the waiting state before closing.
	time.Sleep(50 * time.Millisecond)

	closeDone := make(chan error, 1)
	go func() { closeDone <- q.Close() }()

	select {
	case err := <-closeDone:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return; waiter was not woken by the shutdown event")
	}

	select {
	case err := <-readDone:
		if !errors.Is(err, ErrQueueClosed) {
			t.Fatalf("ReadAsync err = %v, want ErrQueueClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadAsync never returned after Close")
	}

	if !s.isEnded() {
		t.Fatal("session was not ended by Close")
	}
}

func TestWintunQueue_ReadAsync_AfterClose(t *testing.T) {
	s := newFakeSession(t)
	q := newTestWintunQueue(t, s)

	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	buf := make([]byte, 64)
	_, err := q.ReadAsync(context.Background(), buf)
	if !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("err = %v, want ErrQueueClosed", err)
	}
}
