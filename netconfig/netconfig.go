// Package netconfig is the narrow administrative side channel for a
// tunio.Interface: bringing the OS-level link up or down, setting its MTU,
// and adding or removing addresses. It is not a routing table or firewall
// library; anything beyond this surface is out of scope.
package netconfig

import "net/netip"

// Handle administers one network interface identified by OS-assigned name
// or index. Each platform file provides a constructor (Open on Linux/
// Darwin by name, OpenByLUID on Windows) returning a Handle
// backed by that platform's admin transport.
type Handle interface {
	// Index returns the OS link index for the interface.
	Index() (int, error)

	// SetUp administratively enables or disables the link.
	SetUp(up bool) error

	// SetMTU sets the link MTU in bytes.
	SetMTU(mtu int) error

	// AddAddress assigns prefix to the interface.
	AddAddress(prefix netip.Prefix) error

	// RemoveAddress removes a previously assigned prefix.
	RemoveAddress(prefix netip.Prefix) error

	// Close releases the transport the Handle uses (a netlink socket on
	// Linux, an AF_INET ioctl socket on macOS, nothing on Windows). It does
	// not touch the
	// interface itself.
	Close() error
}
