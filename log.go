package mnthr

import "go.uber.org/zap"

// defaultLogger returns the no-op logger a freshly constructed Runtime
// starts with; callers that want the runtime's diagnostics (stray poller
// events, resumption of a fiber in an unexpected phase, allocation
// failures) wired to their own sink call Runtime.SetLogger.
func defaultLogger() *zap.Logger {
	return zap.NewNop()
}

// SetLogger replaces the runtime's diagnostic logger. Passing nil
// restores the no-op logger.
func (rt *Runtime) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	rt.log = l
}
