package conf

import "github.com/openans/ansd/internal/logger"

// GetLogger returns the config package logger scoped to the config module.
// It is fetched on each call because the central logger is installed after
// configuration has been read.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
