//go:build linux || darwin

package tunio

// Driver is the process-wide factory for Interfaces. On Unix platforms it
// holds only the Logger set by SetLogger: TUN/TAP and utun devices need no
// shared library and no log callback registration, unlike Wintun on Windows.
type Driver struct {
	logger Logger
}

// NewDriver constructs a Driver. On Unix this always succeeds.
func NewDriver() (*Driver, error) {
	return &Driver{logger: nullLogger{}}, nil
}

// SetLogger installs the Logger used for any backend diagnostics. Unix
// backends currently emit nothing through it, but the hook exists so
// callers can rely on a uniform Driver surface across platforms.
func (d *Driver) SetLogger(logger Logger) {
	if logger == nil {
		logger = nullLogger{}
	}
	d.logger = logger
}

// Close releases any resources owned by the Driver. On Unix there are
// none; it exists to keep the Driver lifecycle symmetric with Windows.
func (d *Driver) Close() error {
	return nil
}
