package notification

import (
	"io"
	"time"

	"github.com/openans/ansd/internal/logger"
)

// getLogger returns the module logger from the central logger.
// Resolved per service so a logger installed with SetGlobal after init is honored.
func getLogger() logger.Logger {
	return logger.Global().Module("notification")
}

// discardLogger returns a logger that drops everything. Useful for testing.
func discardLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}
