package forward

import "github.com/openans/ansd/internal/logger"

func getLogger() logger.Logger {
	return logger.Global().Module("forward")
}
