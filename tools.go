package playground

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolManager lists and invokes the server's tools. Beyond the shared
// capability contract it offers batched concurrent execution, an optional
// glob allowlist, and client-side argument validation against each tool's
// input schema.
type ToolManager struct {
	*capabilityManager

	allow []glob.Glob
}

// NewToolManager builds the manager over the shared session context. Invalid
// allowlist patterns are rejected as configuration errors.
func NewToolManager(
	conn *ConnectionManager,
	bus *EventBus,
	cache *Cache,
	dedupe *Deduplicator,
	cfg Config,
	logger *slog.Logger,
) (*ToolManager, error) {
	t := &ToolManager{
		capabilityManager: newCapabilityManager(KindTool, conn, bus, cache, dedupe, cfg, logger),
	}

	for _, pattern := range cfg.AllowedTools {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, configError(fmt.Sprintf("invalid tool allowlist pattern %q", pattern), err)
		}
		t.allow = append(t.allow, g)
	}
	if len(t.allow) > 0 {
		t.filter = t.filterAllowed
	}

	return t, nil
}

// Allowed reports whether the allowlist admits name. An empty allowlist
// admits everything.
func (t *ToolManager) Allowed(name string) bool {
	if len(t.allow) == 0 {
		return true
	}
	for _, g := range t.allow {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func (t *ToolManager) filterAllowed(descs []CapabilityDescriptor) []CapabilityDescriptor {
	out := descs[:0]
	for _, d := range descs {
		if t.Allowed(d.Name) {
			out = append(out, d)
		}
	}
	return out
}

// Execute invokes the named tool. Denied or schema-invalid calls fail locally
// before any network traffic; a remote-side failure comes back as a completed
// Execution with an error field, never as a returned error.
func (t *ToolManager) Execute(ctx context.Context, name string, args json.RawMessage) (Execution, error) {
	if !t.Allowed(name) {
		return Execution{}, configError(fmt.Sprintf("tool %q is not in the allowlist", name), nil)
	}
	if err := t.validateArgs(name, args); err != nil {
		return Execution{}, err
	}
	return t.invoke(ctx, name, args)
}

// validateArgs checks args against the tool's declared input schema when the
// tool has been listed and declares one. Validation failure is terminal;
// retrying the same arguments cannot succeed.
func (t *ToolManager) validateArgs(name string, args json.RawMessage) error {
	desc, ok := t.Descriptor(name)
	if !ok || len(desc.InputSchema) == 0 {
		return nil
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", bytes.NewReader(desc.InputSchema)); err != nil {
		return configError(fmt.Sprintf("tool %q carries a malformed input schema", name), err)
	}
	s, err := c.Compile("schema.json")
	if err != nil {
		return configError(fmt.Sprintf("tool %q carries a malformed input schema", name), err)
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var doc any
	if err := json.Unmarshal(args, &doc); err != nil {
		return configError(fmt.Sprintf("arguments for tool %q are not valid JSON", name), err)
	}
	if err := s.Validate(doc); err != nil {
		return configError(fmt.Sprintf("arguments for tool %q do not match its input schema", name), err)
	}
	return nil
}

// BatchRequest is one entry of an ExecuteBatch call.
type BatchRequest struct {
	Name string
	Args json.RawMessage
}

// BatchOptions tunes a batch run. Concurrency below one means sequential;
// Timeout applies to each individual call, not the batch as a whole.
type BatchOptions struct {
	Concurrency int
	StopOnError bool
	Timeout     time.Duration
}

// ExecuteBatch runs up to Concurrency invocations at once. The result slice
// always has one entry per request, in request order, regardless of
// completion order. With StopOnError set, no new request is scheduled after
// the first observed failure — requests are scheduled in submission order —
// while requests already handed to a worker run to completion; the requests
// never started are reported as cancelled executions so the slice keeps its
// shape.
func (t *ToolManager) ExecuteBatch(ctx context.Context, reqs []BatchRequest, opts BatchOptions) []Execution {
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]Execution, len(reqs))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var stopped atomic.Bool

	for i, req := range reqs {
		if opts.StopOnError && stopped.Load() {
			results[i] = skippedExecution(req, "not started: batch stopped after earlier failure")
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i] = skippedExecution(req, "not started: batch context cancelled")
			continue
		}

		// A failure may have been observed while this request waited for a
		// worker slot; re-check before committing to it.
		if opts.StopOnError && stopped.Load() {
			<-sem
			results[i] = skippedExecution(req, "not started: batch stopped after earlier failure")
			continue
		}

		wg.Add(1)
		go func(i int, req BatchRequest) {
			defer wg.Done()
			defer func() { <-sem }()

			cctx := ctx
			if opts.Timeout > 0 {
				var cancel context.CancelFunc
				cctx, cancel = context.WithTimeout(ctx, opts.Timeout)
				defer cancel()
			}

			exec, err := t.Execute(cctx, req.Name, req.Args)
			if err != nil {
				results[i] = localFailureExecution(req, err)
				stopped.Store(true)
				return
			}

			results[i] = exec
			if exec.Status == ExecutionError {
				stopped.Store(true)
			}
		}(i, req)
	}

	wg.Wait()
	return results
}

// skippedExecution fills a batch slot for a request that was never started.
func skippedExecution(req BatchRequest, reason string) Execution {
	now := time.Now()
	return Execution{
		ID:          uuid.New().String(),
		Kind:        KindTool,
		Target:      req.Name,
		Params:      req.Args,
		Status:      ExecutionCancelled,
		Err:         reason,
		StartedAt:   now,
		CompletedAt: now,
	}
}

// localFailureExecution fills a batch slot for a request rejected by a local
// precondition (allowlist, schema, dead session) before reaching the network.
func localFailureExecution(req BatchRequest, err error) Execution {
	now := time.Now()
	return Execution{
		ID:          uuid.New().String(),
		Kind:        KindTool,
		Target:      req.Name,
		Params:      req.Args,
		Status:      ExecutionError,
		Err:         err.Error(),
		StartedAt:   now,
		CompletedAt: now,
	}
}
