//go:build darwin

package netconfig

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"unsafe"

	"golang.org/x/net/route"
	"golang.org/x/sys/unix"
)

const ifNameSize = 16

// darwinHandle administers a link via the same ioctl surface ifconfig(8)
// uses (SIOCSIFFLAGS/SIOCSIFMTU/SIOCAIFADDR/SIOCDIFADDR) over a dedicated
// AF_INET socket. Index lookups go through golang.org/x/net/route's RIB
// fetch instead of a second ioctl round-trip.
type darwinHandle struct {
	name string
	fd   int
}

// Open dials the ioctl socket used for all subsequent administration of
// the link called name; the name itself is not checked here.
func Open(name string) (Handle, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("netconfig: open ioctl socket: %w", err)
	}
	return &darwinHandle{name: name, fd: fd}, nil
}

func (h *darwinHandle) Index() (int, error) {
	msgs, err := route.FetchRIB(unix.AF_UNSPEC, route.RIBTypeInterface, 0)
	if err != nil {
		return 0, fmt.Errorf("netconfig: fetch RIB: %w", err)
	}
	parsed, err := route.ParseRIB(route.RIBTypeInterface, msgs)
	if err != nil {
		return 0, fmt.Errorf("netconfig: parse RIB: %w", err)
	}
	for _, m := range parsed {
		ifm, ok := m.(*route.InterfaceMessage)
		if !ok {
			continue
		}
		if ifm.Name == h.name {
			return ifm.Index, nil
		}
	}
	return 0, fmt.Errorf("netconfig: interface %s not found", h.name)
}

type ifreqFlags struct {
	name  [ifNameSize]byte
	flags uint16
	_     [16]byte
}

// Flag values from <net/if.h>; utun devices need all four set to behave
// like a real point-to-point link (IFF_UP alone leaves it unable to pass
// traffic).
const (
	iffUp          = 0x1
	iffPointopoint = 0x10
	iffRunning     = 0x40
	iffMulticast   = 0x8000

	ifUpFlags = iffUp | iffPointopoint | iffRunning | iffMulticast
)

func (h *darwinHandle) SetUp(up bool) error {
	var req ifreqFlags
	copy(req.name[:], h.name)

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(h.fd), uintptr(unix.SIOCGIFFLAGS), uintptr(unsafe.Pointer(&req))); errno != 0 {
		return fmt.Errorf("netconfig: SIOCGIFFLAGS: %w", errno)
	}

	if up {
		req.flags |= ifUpFlags
	} else {
		req.flags &^= ifUpFlags
	}

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(h.fd), uintptr(unix.SIOCSIFFLAGS), uintptr(unsafe.Pointer(&req))); errno != 0 {
		return fmt.Errorf("netconfig: SIOCSIFFLAGS: %w", errno)
	}
	return nil
}

type ifreqMTU struct {
	name [ifNameSize]byte
	mtu  int32
}

func (h *darwinHandle) SetMTU(mtu int) error {
	var req ifreqMTU
	copy(req.name[:], h.name)
	req.mtu = int32(mtu)

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(h.fd), uintptr(unix.SIOCSIFMTU), uintptr(unsafe.Pointer(&req))); errno != 0 {
		return fmt.Errorf("netconfig: SIOCSIFMTU: %w", errno)
	}
	return nil
}

type sockaddrIn struct {
	len    uint8
	family uint8
	port   uint16
	addr   [4]byte
	zero   [8]byte
}

// inAliasReq mirrors struct in_aliasreq from <netinet/in_var.h>: the
// request SIOCAIFADDR/SIOCDIFADDR expect for IPv4 aliases.
type inAliasReq struct {
	name      [ifNameSize]byte
	addr      sockaddrIn
	broadAddr sockaddrIn
	mask      sockaddrIn
}

func (h *darwinHandle) AddAddress(prefix netip.Prefix) error {
	if !prefix.Addr().Is4() {
		return fmt.Errorf("netconfig: IPv6 addresses not yet supported on darwin")
	}

	var req inAliasReq
	copy(req.name[:], h.name)
	req.addr = newSockaddrIn(prefix.Addr())
	req.mask = newSockaddrIn(netip.AddrFrom4(prefixMask4(prefix.Bits())))

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(h.fd), uintptr(unix.SIOCAIFADDR), uintptr(unsafe.Pointer(&req))); errno != 0 {
		return fmt.Errorf("netconfig: SIOCAIFADDR: %w", errno)
	}
	return nil
}

func (h *darwinHandle) RemoveAddress(prefix netip.Prefix) error {
	if !prefix.Addr().Is4() {
		return fmt.Errorf("netconfig: IPv6 addresses not yet supported on darwin")
	}

	var addrReq struct {
		name [ifNameSize]byte
		addr sockaddrIn
	}
	copy(addrReq.name[:], h.name)
	addrReq.addr = newSockaddrIn(prefix.Addr())

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(h.fd), uintptr(unix.SIOCDIFADDR), uintptr(unsafe.Pointer(&addrReq))); errno != 0 {
		return fmt.Errorf("netconfig: SIOCDIFADDR: %w", errno)
	}
	return nil
}

func (h *darwinHandle) Close() error {
	return unix.Close(h.fd)
}

func newSockaddrIn(addr netip.Addr) sockaddrIn {
	var sa sockaddrIn
	sa.len = uint8(unsafe.Sizeof(sa))
	sa.family = unix.AF_INET
	raw := addr.As4()
	sa.addr = raw
	return sa
}

func prefixMask4(bits int) [4]byte {
	var mask [4]byte
	full := uint32(0xffffffff) << (32 - bits)
	binary.BigEndian.PutUint32(mask[:], full)
	return mask
}

var _ Handle = (*darwinHandle)(nil)
