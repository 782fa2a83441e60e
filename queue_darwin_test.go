//go:build darwin

package tunio

import (
	"encoding/binary"
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

func newUtunPipePair(t *testing.T) (*utunQueue, *fdQueue) {
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
	wrapped := wrapUtunQueue(newFDQueue(os.NewFile(uintptr(fds[0]), "a")))
	raw := newFDQueue(os.NewFile(uintptr(fds[1]), "b"))
	t.Cleanup(func() {
		_ = wrapped.Close()
		_ = raw.Close()
	})
	return wrapped, raw
}

func TestUtunQueue_WritePrependsIPv4Header(t *testing.T) {
	wrapped, raw := newUtunPipePair(t)

	packet := []byte{0x45, 0xAA, 0xBB} // first nibble 4 => IPv4
	n, err := wrapped.Write(packet)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(packet) {
		t.Fatalf("Write returned %d, want %d", n, len(packet))
	}

	raw2 := make([]byte, 64)
	m, err := raw.Read(raw2)
	if err != nil {
		t.Fatalf("Read raw: %v", err)
	}
	if m != len(packet)+4 {
		t.Fatalf("raw frame length = %d, want %d", m, len(packet)+4)
	}
	if binary.BigEndian.Uint32(raw2[:4]) != unix.AF_INET {
		t.Fatalf("header family = %d, want AF_INET", binary.BigEndian.Uint32(raw2[:4]))
	}
}

func TestUtunQueue_WritePrependsIPv6Header(t *testing.T) {
	wrapped, raw := newUtunPipePair(t)

	packet := []byte{0x60, 0xDE, 0xAD} // first nibble 6 => IPv6
	if _, err := wrapped.Write(packet); err != nil {
		t.Fatalf("Write: %v", err)
	}

	raw2 := make([]byte, 64)
	m, err := raw.Read(raw2)
	if err != nil {
		t.Fatalf("Read raw: %v", err)
	}
	if binary.BigEndian.Uint32(raw2[:4]) != unix.AF_INET6 {
		t.Fatalf("header family = %d, want AF_INET6", binary.BigEndian.Uint32(raw2[:4]))
	}
	if string(raw2[4:m]) != string(packet) {
		t.Fatalf("payload = %v, want %v", raw2[4:m], packet)
	}
}

func TestUtunQueue_ReadStripsHeader(t *testing.T) {
	wrapped, raw := newUtunPipePair(t)

	frame := make([]byte, 4+3)
	binary.BigEndian.PutUint32(frame[:4], unix.AF_INET)
	copy(frame[4:], []byte{1, 2, 3})

	if _, err := raw.Write(frame); err != nil {
		t.Fatalf("Write raw: %v", err)
	}

	out := make([]byte, 64)
	n, err := wrapped.Read(out)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(out[:n]) != string([]byte{1, 2, 3}) {
		t.Fatalf("Read = %v, want %v", out[:n], []byte{1, 2, 3})
	}
}
