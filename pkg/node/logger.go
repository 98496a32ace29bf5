package node

import (
	"avaneesh/trel-go/pkg/internal/logger"
)

// SetLogLevel sets the global logging level from its name
// ("debug", "info", "warn" or "error")
func SetLogLevel(level string) error {
	l, err := logger.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetDefault(logger.NewDefaultLogger(l))
	return nil
}

// EnableFrameDebug enables or disables detailed frame debugging
// When enabled, shows hex dumps of all TREL packets sent and received
func EnableFrameDebug(enable bool) {
	logger.SetFrameDebug(enable)
}

// SyncLogs flushes buffered log output
func SyncLogs() {
	if l, ok := logger.GetDefault().(*logger.DefaultLogger); ok {
		l.Sync()
	}
}
