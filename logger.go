package tunio

import "log"

// Logger is the single logging hook the driver uses to surface native
// backend messages (currently only the Wintun logger callback on Windows).
// Implementations must be safe for concurrent use.
type Logger interface {
	Printf(format string, v ...any)
}

// stdLogger forwards to the standard library's log package.
type stdLogger struct{}

// NewStdLogger returns a Logger backed by the standard library's default
// logger.
func NewStdLogger() Logger {
	return stdLogger{}
}

func (stdLogger) Printf(format string, v ...any) {
	log.Printf(format, v...)
}

// nullLogger discards everything. Used where the caller does not supply a
// Logger and does not want stdlib log noise.
type nullLogger struct{}

func (nullLogger) Printf(string, ...any) {}
