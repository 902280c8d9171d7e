package httpserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/CroLens/server/pkg/responders"
)

// probeTimeout bounds each dependency check.
const probeTimeout = 2 * time.Second

type checkResult struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// handleHealth probes the catalog store, the KV cache, and the upstream RPC
// concurrently. DB failure is unhealthy; any other failure is degraded.
func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	probes := map[string]func(context.Context) error{
		"db":  h.store.Ping,
		"kv":  h.cache.Ping,
		"rpc": h.rpc.Ping,
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	checks := make(map[string]checkResult, len(probes))

	for name, probe := range probes {
		wg.Add(1)
		go func(name string, probe func(context.Context) error) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			start := time.Now()
			err := probe(probeCtx)
			result := checkResult{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				result.Status = "failed"
				result.Error = err.Error()
			}
			mu.Lock()
			checks[name] = result
			mu.Unlock()
		}(name, probe)
	}
	wg.Wait()

	status := "ok"
	httpStatus := http.StatusOK
	if checks["db"].Status != "ok" {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else if checks["kv"].Status != "ok" || checks["rpc"].Status != "ok" {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	responders.JSON(w, httpStatus, map[string]interface{}{
		"status":    status,
		"version":   h.version,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStats serves the lightweight frontend stats endpoint.
func (h *handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	protocols, err := h.store.ListProtocols(r.Context())
	count := 0
	if err == nil {
		count = len(protocols)
	}
	responders.JSON(w, http.StatusOK, map[string]interface{}{
		"protocols_supported": count,
		"meta":                x402Meta(r),
	})
}
