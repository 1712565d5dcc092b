// Package metrics provides Prometheus collectors for the notification service.
package metrics

import "github.com/openans/ansd/internal/logger"

// Package-level cached logger instance.
var log = logger.Global().Module("metrics")
