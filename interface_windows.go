//go:build windows

package tunio

import (
	"fmt"
	"strconv"

	"golang.org/x/sys/windows"
	"golang.zx2c4.com/wintun"

	"tunio/netconfig"
)

// tunnelType is the Wintun adapter "tunnel type" string, shown to the user
// in adapter properties; it has no behavioral effect.
const tunnelType = "tunio"

type windowsInterface struct {
	adapter *wintun.Adapter
	queue   *wintunQueue
	cfg     InterfaceConfig
	nc      netconfig.Handle
}

func newPlatformInterface() platformInterface {
	return &windowsInterface{}
}

// create creates (or, if the name is already in use, opens) the Wintun
// adapter. Starting a session — and therefore allocating the ring buffer
// — is deferred to up(), matching spec.md §4.4's "session created on up,
// not construction".
func (p *windowsInterface) create(_ *Driver, cfg InterfaceConfig) error {
	if cfg.Layer != LayerL3 {
		return ErrLayerUnsupported
	}

	ringCapacity := cfg.Windows.RingCapacity
	if ringCapacity == 0 {
		ringCapacity = DefaultRingCapacity
	}
	if err := validateRingCapacity(ringCapacity); err != nil {
		return err
	}

	guid := windowsGUIDFromBytes(cfg.Windows.GUID)

	adapter, err := wintun.CreateAdapter(cfg.Name, tunnelType, guid)
	if err != nil {
		existing, openErr := wintun.OpenAdapter(cfg.Name)
		if openErr != nil {
			return fmt.Errorf("tunio: create/open wintun adapter %q: %w", cfg.Name, err)
		}
		adapter = existing
	}

	p.adapter = adapter
	p.cfg = cfg
	return nil
}

func (p *windowsInterface) up() (AsyncQueue, error) {
	ringCapacity := p.cfg.Windows.RingCapacity
	if ringCapacity == 0 {
		ringCapacity = DefaultRingCapacity
	}

	q, err := newWintunQueue(p.adapter, ringCapacity)
	if err != nil {
		return nil, err
	}

	nc := netconfig.OpenByLUID(uint64(p.adapter.LUID()))
	if err := nc.SetUp(true); err != nil {
		_ = q.Close()
		return nil, &NetConfigError{Op: "up", Err: err}
	}

	p.queue = q
	p.nc = nc
	return q, nil
}

func (p *windowsInterface) down() error {
	var err error
	if p.queue != nil {
		err = p.queue.Close()
		p.queue = nil
	}
	if p.nc != nil {
		_ = p.nc.SetUp(false)
		_ = p.nc.Close()
		p.nc = nil
	}
	if err != nil {
		return err
	}
	return nil
}

func (p *windowsInterface) destroy() error {
	if p.adapter == nil {
		return nil
	}
	err := p.adapter.Close()
	p.adapter = nil
	if err != nil {
		return fmt.Errorf("tunio: close wintun adapter: %w", err)
	}
	return nil
}

// handle returns the adapter's LUID-derived interface index, formatted as a
// decimal string, using the same lookup netconfig uses to administer the
// adapter (netconfig.OpenByLUID wraps the identical
// ConvertInterfaceLUIDToIndex call).
func (p *windowsInterface) handle() string {
	if p.adapter == nil {
		return ""
	}
	idx, err := netconfig.OpenByLUID(uint64(p.adapter.LUID())).Index()
	if err != nil {
		return ""
	}
	return strconv.FormatUint(uint64(idx), 10)
}

func windowsGUIDFromBytes(b [16]byte) *windows.GUID {
	if b == ([16]byte{}) {
		return nil
	}
	return &windows.GUID{
		Data1: uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24,
		Data2: uint16(b[4]) | uint16(b[5])<<8,
		Data3: uint16(b[6]) | uint16(b[7])<<8,
		Data4: [8]byte{b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15]},
	}
}
