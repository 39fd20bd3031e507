package httpapi

import (
	"foreman/internal/metrics"
	"foreman/internal/queue"
	"foreman/internal/shared/config"
	"foreman/internal/storage"
)

// Deps holds everything the HTTP handlers need to build per-request,
// transaction-scoped services. It is constructed once at process bootstrap
// and threaded through NewRouter.
type Deps struct {
	Pools   storage.TxRunner
	Clock   func() int64
	Broker  queue.Broker
	Metrics *metrics.Registry
	// Queue is the name tasks are enqueued on after creation. Empty disables
	// automatic enqueueing.
	Queue string
	// BrokerConfig is served (password redacted) from GET /config and its
	// /redis and /queues variants, so worker processes can discover
	// coordinates without sharing Foreman's own config file.
	BrokerConfig config.BrokerConfig
}

// Config holds HTTP-layer configuration values.
type Config struct {
	Environment      string
	AuthToken        string
	MaxTaskBodyBytes int64
}
