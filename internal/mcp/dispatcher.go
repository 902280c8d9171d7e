// Package mcp decodes JSON-RPC frames for the Model Context Protocol
// surface, routes tools/list and tools/call, validates arguments, and shapes
// result envelopes with meta.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/CroLens/server/internal/jsonrpc"
	"github.com/CroLens/server/internal/kvcache"
	"github.com/CroLens/server/internal/logger"
	"github.com/CroLens/server/internal/metrics"
	"github.com/CroLens/server/internal/tools"
)

// Supported JSON-RPC methods.
const (
	MethodToolsList = "tools/list"
	MethodToolsCall = "tools/call"
)

// Dispatcher routes validated tool calls into the registry.
type Dispatcher struct {
	registry *tools.Registry
	deps     *tools.Deps
	metrics  *metrics.Metrics
	deadline time.Duration
}

// New builds the dispatcher. deadline is the gateway-wide soft budget for
// one tool call; zero disables it.
func New(registry *tools.Registry, deps *tools.Deps, m *metrics.Metrics, deadline time.Duration) *Dispatcher {
	return &Dispatcher{registry: registry, deps: deps, metrics: m, deadline: deadline}
}

// toolDescriptor is the tools/list entry shape.
type toolDescriptor struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	InputSchema tools.Schema `json:"inputSchema"`
}

// ToolsList serves the static registry. Order is stable across calls.
func (d *Dispatcher) ToolsList() map[string]interface{} {
	all := d.registry.Tools()
	descriptors := make([]toolDescriptor, len(all))
	for i, tool := range all {
		descriptors[i] = toolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		}
	}
	return map[string]interface{}{"tools": descriptors}
}

// CallParams are the decoded tools/call params.
type CallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ParseCallParams enforces the tools/call params contract: an object with a
// string name and an object arguments field.
func ParseCallParams(raw json.RawMessage) (CallParams, *jsonrpc.Error) {
	if len(raw) == 0 {
		return CallParams{}, jsonrpc.InvalidParams("Invalid tools/call params")
	}
	var probe struct {
		Name      json.RawMessage `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return CallParams{}, jsonrpc.InvalidParams("Invalid tools/call params")
	}

	var params CallParams
	if err := json.Unmarshal(probe.Name, &params.Name); err != nil || params.Name == "" {
		return CallParams{}, jsonrpc.InvalidParams("Invalid tools/call params")
	}
	if len(probe.Arguments) == 0 {
		params.Arguments = map[string]interface{}{}
	} else if err := json.Unmarshal(probe.Arguments, &params.Arguments); err != nil || params.Arguments == nil {
		return CallParams{}, jsonrpc.InvalidParams("Invalid tools/call params")
	}
	return params, nil
}

// Meta is attached to every tool result.
type Meta struct {
	TraceID   string `json:"trace_id"`
	Timestamp string `json:"timestamp"`
	LatencyMS int64  `json:"latency_ms"`
	Cached    bool   `json:"cached"`
}

// CallTool validates and runs one tool. Validation failures perform no I/O.
// The result carries the meta envelope; failures come back as typed errors.
func (d *Dispatcher) CallTool(ctx context.Context, params CallParams) (map[string]interface{}, *jsonrpc.Error) {
	tool, ok := d.registry.Lookup(params.Name)
	if !ok {
		return nil, jsonrpc.MethodNotFound("Unknown tool: " + params.Name)
	}

	if err := tool.InputSchema.Validate(params.Arguments); err != nil {
		d.observe(params.Name, "error", err, 0)
		return nil, err
	}

	if d.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.deadline)
		defer cancel()
	}
	ctx, witness := kvcache.WithWitness(ctx)

	start := time.Now()
	result, err := tool.Handler(ctx, d.deps, params.Arguments)
	latency := time.Since(start)

	if err != nil {
		rpcErr := d.translate(ctx, err)
		d.observe(params.Name, "error", rpcErr, latency)
		logger.FromContext(ctx).Warn().
			Err(err).
			Str("tool", params.Name).
			Int("code", rpcErr.Code).
			Msg("mcp.tool_failed")
		return nil, rpcErr
	}

	result["meta"] = Meta{
		TraceID:   logger.TraceID(ctx),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		LatencyMS: latency.Milliseconds(),
		Cached:    witness.Hit(),
	}

	d.observe(params.Name, "success", nil, latency)
	return result, nil
}

// translate maps handler failures onto the protocol taxonomy. A blown
// deadline is a service-unavailable, not an internal fault.
func (d *Dispatcher) translate(ctx context.Context, err error) *jsonrpc.Error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return jsonrpc.ServiceUnavailable("Request deadline exceeded").WithCause(err)
	}
	return jsonrpc.FromError(err)
}

func (d *Dispatcher) observe(tool, status string, err *jsonrpc.Error, latency time.Duration) {
	if d.metrics == nil {
		return
	}
	d.metrics.ObserveToolCall(tool, status, latency)
	if err != nil {
		d.metrics.ToolErrorsTotal.WithLabelValues(tool, strconv.Itoa(err.Code)).Inc()
	}
}
