// Package ifreq wraps the Linux TUNSETIFF/TUNGETIFF ioctl calls used to
// create a TUN device node and to recover the kernel-assigned name when the
// caller asked for auto-naming.
package ifreq

import (
	"fmt"
	"os"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	nameSize = 16 // IFNAMSIZ

	setIff = 0x400454ca // TUNSETIFF
	getIff = 0x800454d2 // TUNGETIFF

	FlagTun  = 0x0001 // IFF_TUN
	FlagTap  = 0x0002 // IFF_TAP
	FlagNoPI = 0x1000 // IFF_NO_PI
)

// Req mirrors struct ifreq as used by the TUN/TAP ioctls: a fixed-size name
// field followed by a flags word and padding; at 42 bytes it covers the
// kernel's 40-byte ifreq.
type Req struct {
	Name  [nameSize]byte
	Flags uint16
	_     [24]byte
}

// Create opens devPath (normally /dev/net/tun) and binds it to a TUN or TAP
// interface named name via TUNSETIFF. An empty name asks the kernel to pick
// one; call NameFromFD afterward to learn what it chose.
func Create(devPath, name string, flags uint16) (*os.File, error) {
	f, err := os.OpenFile(devPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", devPath, err)
	}

	var req Req
	copy(req.Name[:], name)
	req.Flags = flags

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(setIff), uintptr(unsafe.Pointer(&req))); errno != 0 {
		_ = f.Close()
		return nil, fmt.Errorf("ioctl TUNSETIFF %q: %w", name, errno)
	}

	// f.Fd() above pins the descriptor in blocking mode (it detaches from
	// the runtime poller); fdQueue needs it non-blocking for its
	// EAGAIN-driven read/write loop, so set that explicitly rather than
	// relying on whatever mode os.OpenFile happened to leave it in.
	if err := unix.SetNonblock(int(f.Fd()), true); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("set nonblocking %s: %w", devPath, err)
	}

	return f, nil
}

// NameFromFD recovers the kernel-assigned interface name for an
// already-open TUN/TAP file descriptor via TUNGETIFF.
func NameFromFD(f *os.File) (string, error) {
	var req Req
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(getIff), uintptr(unsafe.Pointer(&req))); errno != 0 {
		return "", fmt.Errorf("ioctl TUNGETIFF: %w", errno)
	}
	return strings.TrimRight(string(req.Name[:]), "\x00"), nil
}
