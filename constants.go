package dia

import "github.com/ehrlich-b/go-dia/internal/constants"

// Re-export constants for public API
const (
	DefaultBatchSize     = constants.DefaultBatchSize
	DefaultQueueCapacity = constants.DefaultQueueCapacity
	AutoThreads          = constants.AutoThreads
)
