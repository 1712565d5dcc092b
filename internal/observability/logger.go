package observability

import "github.com/openans/ansd/internal/logger"

var log = logger.Global().Module("observability")
