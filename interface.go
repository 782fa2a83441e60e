package tunio

import "sync"

// Interface is a virtual network interface created by a Driver. Its
// lifecycle is create (New) → up (Up) → down (Down) → destroy (Close); a
// freshly created Interface exists in the OS but carries no traffic until
// Up returns a Queue.
type Interface struct {
	config InterfaceConfig
	driver *Driver

	mu    sync.Mutex
	state ifState
	queue AsyncQueue

	impl platformInterface
}

type ifState int

const (
	ifStateCreated ifState = iota
	ifStateUp
	ifStateDown
	ifStateClosed
)

// platformInterface is the per-OS hook New/Up/Down/Close delegate to.
// Implemented by interface_linux.go, interface_darwin.go, and
// interface_windows.go.
type platformInterface interface {
	create(driver *Driver, cfg InterfaceConfig) error
	up() (AsyncQueue, error)
	down() error
	destroy() error
	handle() string
}

// New creates the interface without bringing it up. The interface exists
// at the OS level (or, on Windows, the Wintun adapter is created) but
// carries no traffic until Up is called.
func New(driver *Driver, cfg InterfaceConfig) (*Interface, error) {
	if err := validateName(cfg.Name, maxNameCodeUnits); err != nil {
		return nil, err
	}

	iface := &Interface{config: cfg, driver: driver, state: ifStateCreated}
	iface.impl = newPlatformInterface()
	if err := iface.impl.create(driver, cfg); err != nil {
		return nil, err
	}
	return iface, nil
}

// NewUp is a convenience that creates the interface and immediately brings
// it up, returning the ready-to-use Queue.
func NewUp(driver *Driver, cfg InterfaceConfig) (*Interface, AsyncQueue, error) {
	iface, err := New(driver, cfg)
	if err != nil {
		return nil, nil, err
	}
	q, err := iface.Up()
	if err != nil {
		_ = iface.Close()
		return nil, nil, err
	}
	return iface, q, nil
}

// Up brings the interface up and returns its Queue. Calling Up twice
// without an intervening Down returns the existing Queue.
func (i *Interface) Up() (AsyncQueue, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state == ifStateClosed {
		return nil, ErrQueueClosed
	}
	if i.state == ifStateUp {
		return i.queue, nil
	}

	q, err := i.impl.up()
	if err != nil {
		return nil, err
	}
	i.queue = q
	i.state = ifStateUp
	return q, nil
}

// Down administratively disables the interface without destroying it; a
// subsequent Up brings it back and returns a fresh Queue. On Windows Down
// also closes the Queue (ending the Wintun session); on Linux and macOS
// the previous Queue's descriptor stays open.
func (i *Interface) Down() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != ifStateUp {
		return nil
	}
	if err := i.impl.down(); err != nil {
		return err
	}
	i.queue = nil
	i.state = ifStateDown
	return nil
}

// Handle returns the platform identifier for the interface: its name on
// Linux and macOS, its Wintun adapter's LUID-derived index on Windows.
func (i *Interface) Handle() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.impl.handle()
}

// Close tears the interface down and releases any OS-level resources. It
// is safe to call more than once.
func (i *Interface) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state == ifStateClosed {
		return nil
	}
	if i.state == ifStateUp {
		_ = i.impl.down()
		i.queue = nil
	}
	err := i.impl.destroy()
	i.state = ifStateClosed
	return err
}
