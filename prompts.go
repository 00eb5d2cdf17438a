package playground

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// PromptManager lists the server's prompts and renders them with arguments.
type PromptManager struct {
	*capabilityManager
}

// NewPromptManager builds the manager over the shared session context.
func NewPromptManager(
	conn *ConnectionManager,
	bus *EventBus,
	cache *Cache,
	dedupe *Deduplicator,
	cfg Config,
	logger *slog.Logger,
) *PromptManager {
	return &PromptManager{
		capabilityManager: newCapabilityManager(KindPrompt, conn, bus, cache, dedupe, cfg, logger),
	}
}

// Get renders the named prompt with args as a tracked execution. Missing
// required arguments declared by the listed prompt fail locally before any
// network call.
func (p *PromptManager) Get(ctx context.Context, name string, args map[string]string) (Execution, error) {
	if desc, ok := p.Descriptor(name); ok {
		for _, arg := range desc.Arguments {
			if !arg.Required {
				continue
			}
			if _, ok := args[arg.Name]; !ok {
				return Execution{}, configError(
					fmt.Sprintf("prompt %q requires argument %q", name, arg.Name), nil)
			}
		}
	}

	var params json.RawMessage
	if len(args) > 0 {
		bs, err := json.Marshal(args)
		if err != nil {
			return Execution{}, fmt.Errorf("failed to marshal prompt arguments: %w", err)
		}
		params = bs
	}

	return p.invoke(ctx, name, params)
}
