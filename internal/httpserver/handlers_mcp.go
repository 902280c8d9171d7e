package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/CroLens/server/internal/catalog"
	"github.com/CroLens/server/internal/jsonrpc"
	"github.com/CroLens/server/internal/logger"
	"github.com/CroLens/server/internal/mcp"
	"github.com/CroLens/server/pkg/responders"
)

// maxFrameBytes bounds inbound JSON-RPC frames.
const maxFrameBytes = 1 << 20

// handleMCP serves POST /: the tools/list and tools/call surface.
// Pipeline order per request: rate limit -> parse -> auth -> per-key limit
// -> quota -> dispatch -> bill -> log.
func (h *handlers) handleMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ip := logger.ClientIP(r)

	if rlErr := h.gateway.AllowJSONRPC(r.Context(), ip); rlErr != nil {
		writeRateLimited(w, nil, rlErr)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil {
		writeRPCError(w, nil, jsonrpc.InvalidRequest("Unable to read request body"))
		return
	}
	defer r.Body.Close()

	var frame jsonrpc.Request
	if err := json.Unmarshal(body, &frame); err != nil {
		writeRPCError(w, nil, jsonrpc.InvalidRequest("Invalid JSON"))
		return
	}
	if frame.JSONRPC != jsonrpc.Version {
		writeRPCError(w, frame.ID, jsonrpc.InvalidRequest("jsonrpc must be '2.0'"))
		return
	}

	switch frame.Method {
	case mcp.MethodToolsList:
		if frame.IsNotification() {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		responders.JSON(w, http.StatusOK, jsonrpc.NewResult(frame.ID, h.dispatcher.ToolsList()))

	case mcp.MethodToolsCall:
		h.handleToolCall(w, r, frame, ip, start, int64(len(body)))

	default:
		writeRPCError(w, frame.ID, jsonrpc.MethodNotFound("Method not found: "+frame.Method))
	}
}

// handleToolCall runs the authenticated tool pipeline.
func (h *handlers) handleToolCall(w http.ResponseWriter, r *http.Request, frame jsonrpc.Request, ip string, start time.Time, requestSize int64) {
	ctx := r.Context()

	params, paramsErr := mcp.ParseCallParams(frame.Params)
	if paramsErr != nil {
		h.finishToolCall(w, frame, catalog.APIKey{}, params.Name, ip, start, requestSize, nil, paramsErr)
		return
	}

	apiKeyHeader := r.Header.Get("x-api-key")
	if apiKeyHeader == "" {
		h.finishToolCall(w, frame, catalog.APIKey{}, params.Name, ip, start, requestSize, nil,
			jsonrpc.InvalidParams("Missing API key header"))
		return
	}

	rec, err := h.gateway.ResolveKey(ctx, apiKeyHeader)
	if err != nil {
		h.finishToolCall(w, frame, catalog.APIKey{}, params.Name, ip, start, requestSize, nil, jsonrpc.FromError(err))
		return
	}

	if rlErr := h.gateway.AllowToolCall(ctx, rec); rlErr != nil {
		h.finishToolCall(w, frame, rec, params.Name, ip, start, requestSize, nil, rlErr)
		return
	}

	if gateErr := h.gateway.QuotaGate(rec, params.Name); gateErr != nil {
		h.finishToolCall(w, frame, rec, params.Name, ip, start, requestSize, nil, gateErr)
		return
	}

	result, toolErr := h.dispatcher.CallTool(ctx, params)
	if toolErr != nil {
		h.finishToolCall(w, frame, rec, params.Name, ip, start, requestSize, nil, toolErr)
		return
	}

	// Billing happens-after the tool's successful completion. A billing
	// failure is surfaced: the caller did not consume a credit.
	if billErr := h.gateway.Bill(ctx, rec, params.Name); billErr != nil {
		h.finishToolCall(w, frame, rec, params.Name, ip, start, requestSize, nil,
			jsonrpc.PaymentRequired("No credits remaining", nil))
		return
	}

	h.finishToolCall(w, frame, rec, params.Name, ip, start, requestSize, result, nil)
}

// finishToolCall writes the response and records the sampled request log.
func (h *handlers) finishToolCall(w http.ResponseWriter, frame jsonrpc.Request, rec catalog.APIKey, tool, ip string, start time.Time, requestSize int64, result map[string]interface{}, rpcErr *jsonrpc.Error) {
	traceID := w.Header().Get("X-Request-ID")

	status, errorCode := "success", ""
	if rpcErr != nil {
		status = "error"
		errorCode = strconv.Itoa(rpcErr.Code)
	}
	h.reqLog.Record(catalog.RequestLog{
		TraceID:     traceID,
		APIKey:      rec.Key,
		ToolName:    tool,
		LatencyMS:   time.Since(start).Milliseconds(),
		Status:      status,
		ErrorCode:   errorCode,
		IPAddress:   ip,
		RequestSize: requestSize,
	})

	if frame.IsNotification() {
		// Notifications produce no body, whatever the outcome.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if rpcErr != nil {
		if rpcErr.Code == jsonrpc.CodeRateLimited {
			writeRateLimited(w, frame.ID, rpcErr)
			return
		}
		writeRPCError(w, frame.ID, rpcErr)
		return
	}
	responders.JSON(w, http.StatusOK, jsonrpc.NewResult(frame.ID, result))
}

// writeRPCError pairs the JSON-RPC error frame with its HTTP status.
func writeRPCError(w http.ResponseWriter, id interface{}, rpcErr *jsonrpc.Error) {
	responders.JSON(w, rpcErr.HTTPStatus(), jsonrpc.NewError(id, rpcErr))
}

// writeRateLimited adds the Retry-After header mirroring data.retry_after.
func writeRateLimited(w http.ResponseWriter, id interface{}, rpcErr *jsonrpc.Error) {
	if data, ok := rpcErr.Data.(map[string]interface{}); ok {
		if retryAfter, ok := data["retry_after"].(int); ok {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		}
	}
	writeRPCError(w, id, rpcErr)
}
