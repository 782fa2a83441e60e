//go:build windows

package tunio

import (
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/windows"
)

// wintunLoggerLevel mirrors the WINTUN_LOGGER_LEVEL values the DLL passes
// to the registered log callback. Sized as int (not int32) so it matches
// uintptr width on amd64, as windows.NewCallback requires.
type wintunLoggerLevel int

const (
	wintunLogInfo wintunLoggerLevel = iota
	wintunLogWarn
	wintunLogErr
)

var (
	modWintun            = windows.NewLazySystemDLL("wintun.dll")
	procWintunSetLogger  = modWintun.NewProc("WintunSetLogger")
	loggerInstallOnce    sync.Once
	currentDriverLogger  atomic.Pointer[Logger]
)

// Driver is the process-wide factory for Interfaces. On Windows it owns the
// loaded Wintun DLL and the process-wide log callback; both are shared by
// every Interface and Session the Driver produces.
type Driver struct {
	refs atomic.Int64
}

// NewDriver loads the Wintun DLL and installs the log callback. It fails
// with ErrLibraryNotLoaded if wintun.dll cannot be found or is incompatible.
func NewDriver() (*Driver, error) {
	if err := modWintun.Load(); err != nil {
		return nil, ErrLibraryNotLoaded
	}
	if err := procWintunSetLogger.Find(); err != nil {
		return nil, ErrLibraryNotLoaded
	}

	d := &Driver{}
	d.SetLogger(NewStdLogger())

	loggerInstallOnce.Do(func() {
		cb := windows.NewCallback(func(level wintunLoggerLevel, _ uint64, msg *uint16) uintptr {
			logger := currentDriverLogger.Load()
			text := windows.UTF16PtrToString(msg)
			if logger == nil {
				return 0
			}
			switch level {
			case wintunLogInfo:
				(*logger).Printf("[wintun] %s", text)
			case wintunLogWarn:
				(*logger).Printf("[wintun] warning: %s", text)
			case wintunLogErr:
				(*logger).Printf("[wintun] error: %s", text)
			default:
				(*logger).Printf("[wintun] [level %d] %s", level, text)
			}
			return 0
		})
		_, _, _ = syscall.SyscallN(procWintunSetLogger.Addr(), uintptr(cb))
	})

	return d, nil
}

// SetLogger installs the Logger the driver-wide Wintun callback forwards
// info/warn/error messages into.
func (d *Driver) SetLogger(logger Logger) {
	if logger == nil {
		logger = nullLogger{}
	}
	currentDriverLogger.Store(&logger)
}

// Close does nothing and always returns nil. The DLL remains mapped for
// the process (Windows has no safe unload for a
// library other modules may still be using), matching the teacher's own
// lifecycle where the Wintun DLL is loaded once per process.
func (d *Driver) Close() error {
	return nil
}

func (d *Driver) retain() {
	d.refs.Add(1)
}

func (d *Driver) release() {
	d.refs.Add(-1)
}
