//go:build darwin

package tunio

import (
	"context"
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// utunQueue strips and re-adds the 4-byte address-family header the utun
// kernel control prepends to every packet, so callers see the same bare
// IP packet layout they would on Linux. Grounded on the teacher's
// WgTunAdapter, which performs the identical translation around
// wireguard-go's tun.Device instead of a raw fd.
type utunQueue struct {
	fd *fdQueue

	readBuf [MaxPacketSize]byte
}

// MaxPacketSize bounds a single packet including the 4-byte utun header.
const MaxPacketSize = 1500 + 4

func wrapUtunQueue(q *fdQueue) *utunQueue {
	return &utunQueue{fd: q}
}

func (q *utunQueue) Read(buf []byte) (int, error) {
	n, err := q.fd.Read(q.readBuf[:])
	if err != nil {
		return 0, err
	}
	if n < 4 {
		return 0, nil
	}
	return copy(buf, q.readBuf[4:n]), nil
}

func (q *utunQueue) Write(buf []byte) (int, error) {
	var out [MaxPacketSize]byte
	family := addressFamily(buf)
	binary.BigEndian.PutUint32(out[:4], family)
	n := copy(out[4:], buf)

	if _, err := q.fd.Write(out[:4+n]); err != nil {
		return 0, err
	}
	return len(buf), nil
}

func (q *utunQueue) Flush() error { return q.fd.Flush() }
func (q *utunQueue) Close() error { return q.fd.Close() }

func (q *utunQueue) ReadAsync(ctx context.Context, buf []byte) (int, error) {
	n, err := q.fd.ReadAsync(ctx, q.readBuf[:])
	if err != nil {
		return 0, err
	}
	if n < 4 {
		return 0, nil
	}
	return copy(buf, q.readBuf[4:n]), nil
}

func (q *utunQueue) WriteAsync(ctx context.Context, buf []byte) (int, error) {
	var out [MaxPacketSize]byte
	family := addressFamily(buf)
	binary.BigEndian.PutUint32(out[:4], family)
	n := copy(out[4:], buf)

	if _, err := q.fd.WriteAsync(ctx, out[:4+n]); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// addressFamily reads the IP version nibble to pick AF_INET vs AF_INET6,
// matching what the kernel's utun driver expects in the header.
func addressFamily(packet []byte) uint32 {
	if len(packet) > 0 && packet[0]>>4 == 6 {
		return unix.AF_INET6
	}
	return unix.AF_INET
}

var _ AsyncQueue = (*utunQueue)(nil)
