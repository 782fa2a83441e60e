//go:build darwin

package tunio

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"tunio/netconfig"
)

const (
	utunControlName = "com.apple.net.utun_control"

	sysProtoControl = 2
	utunOptIfname   = 2

	// ctlIocginfo is CTLIOCGINFO, derived the same way the BSD headers
	// do: _IOWR('N', 3, struct ctl_info).
	ctlIocginfo = (0x40000000 | 0x80000000) | ((100 & 0x1fff) << 16) | uint32(byte('N'))<<8 | 3
)

type sockaddrCtl struct {
	scLen      uint8
	scFamily   uint8
	ssSysaddr  uint16
	scID       uint32
	scUnit     uint32
	scReserved [5]uint32
}

type ctlInfo struct {
	ctlID   uint32
	ctlName [96]byte
}

type darwinInterface struct {
	name string
	file *os.File
	nc   netconfig.Handle
}

func newPlatformInterface() platformInterface {
	return &darwinInterface{}
}

// create opens a PF_SYSTEM/SYSPROTO_CONTROL socket and connects it to the
// utun kernel control, which is what creates the utunN device node; there
// is no path-based open for utun as there is for /dev/net/tun on Linux.
func (p *darwinInterface) create(_ *Driver, cfg InterfaceConfig) error {
	if cfg.Layer != LayerL3 {
		return ErrLayerUnsupported
	}

	fd, err := unix.Socket(unix.AF_SYSTEM, unix.SOCK_DGRAM, sysProtoControl)
	if err != nil {
		return wrapIO("open utun control socket", err)
	}

	var info ctlInfo
	copy(info.ctlName[:], utunControlName)
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(ctlIocginfo), uintptr(unsafe.Pointer(&info))); errno != 0 {
		_ = unix.Close(fd)
		return wrapIO("CTLIOCGINFO", errno)
	}

	unit, err := utunUnit(cfg.Name)
	if err != nil {
		_ = unix.Close(fd)
		return err
	}

	sc := sockaddrCtl{
		scLen:     uint8(unsafe.Sizeof(sockaddrCtl{})),
		scFamily:  unix.AF_SYSTEM,
		ssSysaddr: 2, // AF_SYS_CONTROL
		scID:      info.ctlID,
		scUnit:    unit,
	}
	if _, _, errno := unix.RawSyscall(unix.SYS_CONNECT, uintptr(fd), uintptr(unsafe.Pointer(&sc)), unsafe.Sizeof(sc)); errno != 0 {
		_ = unix.Close(fd)
		return wrapIO("connect utun control", errno)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return wrapIO("set nonblocking", err)
	}

	file := os.NewFile(uintptr(fd), "utun")
	name, err := utunName(fd)
	if err != nil {
		_ = file.Close()
		return err
	}

	p.file = file
	p.name = name
	return nil
}

// utunUnit parses "utunN" into the 1-based unit number the control socket
// expects (0 asks the kernel to assign the next free unit).
func utunUnit(name string) (uint32, error) {
	if name == "" {
		return 0, nil
	}
	var n int
	if _, err := fmt.Sscanf(name, "utun%d", &n); err != nil || n < 0 {
		return 0, ErrInterfaceNameInvalid
	}
	return uint32(n) + 1, nil
}

// utunName recovers the kernel-assigned name via getsockopt(UTUN_OPT_IFNAME),
// since the unit number alone doesn't tell us what the kernel actually
// named the device.
func utunName(fd int) (string, error) {
	var name [16]byte
	nameLen := uintptr(len(name))
	if _, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT, uintptr(fd), sysProtoControl, utunOptIfname,
		uintptr(unsafe.Pointer(&name)), uintptr(unsafe.Pointer(&nameLen)), 0); errno != 0 {
		return "", wrapIO("UTUN_OPT_IFNAME", errno)
	}
	return string(name[:nameLen-1]), nil
}

func (p *darwinInterface) up() (AsyncQueue, error) {
	nc, err := netconfig.Open(p.name)
	if err != nil {
		return nil, &NetConfigError{Op: "open", Err: err}
	}
	if err := nc.SetUp(true); err != nil {
		_ = nc.Close()
		return nil, &NetConfigError{Op: "up", Err: err}
	}
	p.nc = nc
	return wrapUtunQueue(newFDQueue(p.file)), nil
}

func (p *darwinInterface) down() error {
	if p.nc == nil {
		return nil
	}
	err := p.nc.SetUp(false)
	_ = p.nc.Close()
	p.nc = nil
	if err != nil {
		return &NetConfigError{Op: "down", Err: err}
	}
	return nil
}

func (p *darwinInterface) destroy() error {
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	if err != nil {
		return fmt.Errorf("tunio: close utun device: %w", err)
	}
	return nil
}

func (p *darwinInterface) handle() string {
	return p.name
}
