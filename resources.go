package playground

import (
	"context"
	"log/slog"
)

// ResourceManager lists the server's resources and reads them by URI.
type ResourceManager struct {
	*capabilityManager
}

// NewResourceManager builds the manager over the shared session context.
func NewResourceManager(
	conn *ConnectionManager,
	bus *EventBus,
	cache *Cache,
	dedupe *Deduplicator,
	cfg Config,
	logger *slog.Logger,
) *ResourceManager {
	return &ResourceManager{
		capabilityManager: newCapabilityManager(KindResource, conn, bus, cache, dedupe, cfg, logger),
	}
}

// Read fetches the resource at uri as a tracked execution. Remote failures
// land in the Execution record; the error return covers only local
// precondition violations.
func (r *ResourceManager) Read(ctx context.Context, uri string) (Execution, error) {
	return r.invoke(ctx, uri, nil)
}
