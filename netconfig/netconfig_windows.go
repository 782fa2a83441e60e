//go:build windows

package netconfig

import (
	"fmt"
	"net/netip"
	"unsafe"

	"golang.org/x/sys/windows"
)

// windowsHandle administers a Wintun adapter by LUID, using the IP Helper
// functions golang.org/x/sys/windows already binds instead of shelling out
// to netsh.
type windowsHandle struct {
	luid windows.LUID
}

// OpenByLUID returns a Handle for the adapter identified by luid, as
// returned by wintun.Adapter.LUID().
func OpenByLUID(luid uint64) Handle {
	return &windowsHandle{luid: windows.LUID{LowPart: uint32(luid), HighPart: int32(luid >> 32)}}
}

func (h *windowsHandle) Index() (int, error) {
	var idx uint32
	if err := windows.ConvertInterfaceLUIDToIndex(&h.luid, &idx); err != nil {
		return 0, fmt.Errorf("netconfig: LUID to index: %w", err)
	}
	return int(idx), nil
}

func (h *windowsHandle) SetUp(up bool) error {
	row, err := h.interfaceRow()
	if err != nil {
		return err
	}
	if up {
		row.AdminStatus = windows.IfOperStatusUp
	} else {
		row.AdminStatus = windows.IfOperStatusDown
	}
	if err := windows.SetIfEntry(row); err != nil {
		return fmt.Errorf("netconfig: SetIfEntry: %w", err)
	}
	return nil
}

func (h *windowsHandle) SetMTU(mtu int) error {
	row, err := h.interfaceRow()
	if err != nil {
		return err
	}
	row.Mtu = uint32(mtu)
	if err := windows.SetIfEntry(row); err != nil {
		return fmt.Errorf("netconfig: SetIfEntry mtu: %w", err)
	}
	return nil
}

func (h *windowsHandle) interfaceRow() (*windows.MibIfRow2, error) {
	row := &windows.MibIfRow2{InterfaceLuid: h.luid}
	if err := windows.GetIfEntry2(row); err != nil {
		return nil, fmt.Errorf("netconfig: GetIfEntry2: %w", err)
	}
	return row, nil
}

func (h *windowsHandle) AddAddress(prefix netip.Prefix) error {
	row := &windows.MibUnicastIPAddressRow{}
	windows.InitializeUnicastIPAddressEntry(row)
	row.InterfaceLuid = h.luid
	setRowAddress(row, prefix)

	if err := windows.CreateUnicastIPAddressEntry(row); err != nil {
		return fmt.Errorf("netconfig: CreateUnicastIPAddressEntry: %w", err)
	}
	return nil
}

func (h *windowsHandle) RemoveAddress(prefix netip.Prefix) error {
	row := &windows.MibUnicastIPAddressRow{}
	windows.InitializeUnicastIPAddressEntry(row)
	row.InterfaceLuid = h.luid
	setRowAddress(row, prefix)

	if err := windows.DeleteUnicastIPAddressEntry(row); err != nil {
		return fmt.Errorf("netconfig: DeleteUnicastIPAddressEntry: %w", err)
	}
	return nil
}

// setRowAddress fills the SOCKADDR_INET union by hand: RawSockaddrInet4/
// RawSockaddrInet6 share storage with RawSockaddrInet in x/sys/windows, so
// the row's address family selects which view is valid.
func setRowAddress(row *windows.MibUnicastIPAddressRow, prefix netip.Prefix) {
	addr := prefix.Addr()
	row.OnLinkPrefixLength = uint8(prefix.Bits())
	if addr.Is4() {
		row.Address.Family = windows.AF_INET
		sa := (*windows.RawSockaddrInet4)(unsafe.Pointer(&row.Address))
		sa.Addr = addr.As4()
		return
	}
	row.Address.Family = windows.AF_INET6
	sa := (*windows.RawSockaddrInet6)(unsafe.Pointer(&row.Address))
	sa.Addr = addr.As16()
}

func (h *windowsHandle) Close() error {
	return nil
}

var _ Handle = (*windowsHandle)(nil)
