package logger

import "codeberg.org/mkern/rackfanctl/internal/errors"

// Logger defines the interface for logging operations.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	ErrorWithCode(err errors.Error) *LogEvent
	ErrorWithContext(err errors.Error, component, operation string) *LogEvent
	FatalWithCode(err errors.Error) *LogEvent
}

// serviceLogger adapts the package-level logger to the Logger interface
// so components can take an injected logger without reaching for
// package globals.
type serviceLogger struct{}

func (serviceLogger) Debug() *LogEvent { return Debug() }
func (serviceLogger) Info() *LogEvent  { return Info() }
func (serviceLogger) Warn() *LogEvent  { return Warn() }
func (serviceLogger) Error() *LogEvent { return Error() }

func (serviceLogger) ErrorWithCode(err errors.Error) *LogEvent {
	return ErrorWithCode(err)
}

func (serviceLogger) ErrorWithContext(err errors.Error, component, operation string) *LogEvent {
	return ErrorWithContext(err, component, operation)
}

func (serviceLogger) FatalWithCode(err errors.Error) *LogEvent {
	return FatalWithCode(err)
}

var _ Logger = serviceLogger{}

// Default returns the package-level logger as an injectable Logger.
func Default() Logger {
	return serviceLogger{}
}
