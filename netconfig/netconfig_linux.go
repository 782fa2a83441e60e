//go:build linux

package netconfig

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// linuxHandle administers a link over a single rtnetlink socket, issuing
// raw RTM_NEWLINK/RTM_NEWADDR/RTM_DELADDR requests by hand since this
// package depends on mdlayher/netlink directly rather than the higher-level
// rtnetlink wrapper.
type linuxHandle struct {
	conn *netlink.Conn
	name string
}

// Open returns a Handle for the link called name, dialing a dedicated
// NETLINK_ROUTE socket. The name is resolved to a link index on each call
// that needs one, not here.
func Open(name string) (Handle, error) {
	conn, err := netlink.Dial(unix.NETLINK_ROUTE, nil)
	if err != nil {
		return nil, fmt.Errorf("netconfig: dial rtnetlink: %w", err)
	}
	return &linuxHandle{conn: conn, name: name}, nil
}

func (h *linuxHandle) Index() (int, error) {
	iface, err := net.InterfaceByName(h.name)
	if err != nil {
		return 0, fmt.Errorf("netconfig: index %s: %w", h.name, err)
	}
	return iface.Index, nil
}

// SetUp issues an RTM_NEWLINK carrying only IFF_UP in ifi_change, so it
// touches no other link flag.
func (h *linuxHandle) SetUp(up bool) error {
	idx, err := h.Index()
	if err != nil {
		return err
	}

	var flags uint32
	if up {
		flags = unix.IFF_UP
	}

	body := make([]byte, 16)
	body[0] = unix.AF_UNSPEC
	binary.LittleEndian.PutUint32(body[4:8], uint32(idx))
	binary.LittleEndian.PutUint32(body[8:12], flags)
	binary.LittleEndian.PutUint32(body[12:16], unix.IFF_UP)

	return h.execute(unix.RTM_NEWLINK, body)
}

// SetMTU issues an RTM_NEWLINK carrying an IFLA_MTU attribute.
func (h *linuxHandle) SetMTU(mtu int) error {
	idx, err := h.Index()
	if err != nil {
		return err
	}

	body := make([]byte, 16)
	body[0] = unix.AF_UNSPEC
	binary.LittleEndian.PutUint32(body[4:8], uint32(idx))
	body = append(body, rtattrU32(unix.IFLA_MTU, uint32(mtu))...)

	return h.execute(unix.RTM_NEWLINK, body)
}

func (h *linuxHandle) AddAddress(prefix netip.Prefix) error {
	return h.editAddress(unix.RTM_NEWADDR, prefix, netlink.Create|netlink.Replace)
}

func (h *linuxHandle) RemoveAddress(prefix netip.Prefix) error {
	return h.editAddress(unix.RTM_DELADDR, prefix, 0)
}

func (h *linuxHandle) editAddress(msgType uint16, prefix netip.Prefix, extra netlink.HeaderFlags) error {
	idx, err := h.Index()
	if err != nil {
		return err
	}

	family := uint8(unix.AF_INET)
	addr := prefix.Addr()
	if addr.Is6() {
		family = unix.AF_INET6
	}

	body := make([]byte, 8)
	body[0] = family
	body[1] = uint8(prefix.Bits())
	body[2] = 0 // ifa_flags
	body[3] = 0 // ifa_scope
	binary.LittleEndian.PutUint32(body[4:8], uint32(idx))

	var ip []byte
	if family == unix.AF_INET6 {
		raw6 := addr.As16()
		ip = raw6[:]
	} else {
		raw4 := addr.As4()
		ip = raw4[:]
	}
	body = append(body, rtattrBytes(unix.IFA_LOCAL, ip)...)
	body = append(body, rtattrBytes(unix.IFA_ADDRESS, ip)...)

	return h.execute(msgType, body, extra)
}

func (h *linuxHandle) execute(msgType uint16, body []byte, extra ...netlink.HeaderFlags) error {
	flags := netlink.Request | netlink.Acknowledge
	for _, f := range extra {
		flags |= f
	}

	req := netlink.Message{
		Header: netlink.Header{
			Type:  netlink.HeaderType(msgType),
			Flags: flags,
		},
		Data: body,
	}

	if _, err := h.conn.Execute(req); err != nil {
		return fmt.Errorf("netconfig: rtnetlink %d: %w", msgType, err)
	}
	return nil
}

func (h *linuxHandle) Close() error {
	return h.conn.Close()
}

// rtattrU32 encodes a 4-byte rtattr, padded to the 4-byte boundary rtattr
// values require (always a no-op for 4-byte payloads, kept for symmetry
// with rtattrBytes).
func rtattrU32(attrType uint16, v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return rtattrBytes(attrType, buf)
}

// rtattrBytes encodes one netlink rtattr: a 4-byte header (length, type)
// followed by the value, padded to a 4-byte boundary.
func rtattrBytes(attrType uint16, value []byte) []byte {
	const headerLen = 4
	length := headerLen + len(value)

	var buf bytes.Buffer
	hdr := make([]byte, headerLen)
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(length))
	binary.LittleEndian.PutUint16(hdr[2:4], attrType)
	buf.Write(hdr)
	buf.Write(value)

	if pad := rtaAlign(length) - length; pad > 0 {
		buf.Write(make([]byte, pad))
	}
	return buf.Bytes()
}

func rtaAlign(n int) int {
	const align = 4
	return (n + align - 1) &^ (align - 1)
}

var _ Handle = (*linuxHandle)(nil)
