//go:build linux

package tunio

import (
	"fmt"
	"os"

	"tunio/internal/ifreq"
	"tunio/netconfig"
)

const tunDevicePath = "/dev/net/tun"

type linuxInterface struct {
	name string
	file *os.File
	nc   netconfig.Handle
}

func newPlatformInterface() platformInterface {
	return &linuxInterface{}
}

func (p *linuxInterface) create(_ *Driver, cfg InterfaceConfig) error {
	devFlag := uint16(ifreq.FlagTun)
	if cfg.Layer == LayerL2 {
		devFlag = ifreq.FlagTap
	}
	flags := devFlag | ifreq.FlagNoPI
	f, err := ifreq.Create(tunDevicePath, cfg.Name, flags)
	if err != nil {
		return wrapIO("create tun", err)
	}

	// Always ask the kernel for the final name: it picks one for an empty
	// name and rewrites a "%d" placeholder.
	name, err := ifreq.NameFromFD(f)
	if err != nil {
		_ = f.Close()
		return wrapIO("resolve tun name", err)
	}

	p.file = f
	p.name = name
	return nil
}

func (p *linuxInterface) up() (AsyncQueue, error) {
	nc, err := netconfig.Open(p.name)
	if err != nil {
		return nil, &NetConfigError{Op: "open", Err: err}
	}
	if err := nc.SetUp(true); err != nil {
		_ = nc.Close()
		return nil, &NetConfigError{Op: "up", Err: err}
	}
	p.nc = nc

	return newFDQueue(p.file), nil
}

func (p *linuxInterface) down() error {
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

func (p *linuxInterface) destroy() error {
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	if err != nil {
		return fmt.Errorf("tunio: close tun device: %w", err)
	}
	return nil
}

func (p *linuxInterface) handle() string {
	return p.name
}
