package httpserver

import (
	"net/http"
	"time"

	"github.com/CroLens/server/internal/gateway"
	"github.com/CroLens/server/internal/logger"
	"github.com/CroLens/server/pkg/responders"
)

// x402Meta mirrors the tool meta envelope for the top-up endpoints.
func x402Meta(r *http.Request) map[string]interface{} {
	return map[string]interface{}{
		"trace_id":  logger.TraceID(r.Context()),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
}

// handleQuote serves GET /x402/quote.
func (h *handlers) handleQuote(w http.ResponseWriter, r *http.Request) {
	if !h.payments.Enabled() {
		responders.JSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error": "Top-up is not configured",
			"meta":  x402Meta(r),
		})
		return
	}

	quote := h.payments.Quote()
	responders.JSON(w, http.StatusOK, map[string]interface{}{
		"chain_id":             quote.ChainID,
		"payment_address":      quote.PaymentAddress,
		"credits":              quote.Credits,
		"amount_wei":           quote.AmountWei,
		"price_per_credit_wei": quote.PricePerCreditWei,
		"meta":                 x402Meta(r),
	})
}

// handleStatus serves GET /x402/status for the header-presented key.
func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get("x-api-key")
	if apiKey == "" {
		responders.JSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "Missing x-api-key",
			"meta":  x402Meta(r),
		})
		return
	}

	rec, err := h.gateway.ResolveKey(r.Context(), apiKey)
	if err != nil {
		writeX402Error(w, r, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]interface{}{
		"api_key": rec.Key,
		"tier":    string(rec.Tier),
		"credits": rec.Credits,
		"meta":    x402Meta(r),
	})
}

// verifyRequest is the POST /x402/verify body.
type verifyRequest struct {
	TxHash string `json:"tx_hash"`
}

// handleVerify serves POST /x402/verify: the credit-granting state machine.
func (h *handlers) handleVerify(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get("x-api-key")
	if apiKey == "" {
		responders.JSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "Missing x-api-key",
			"meta":  x402Meta(r),
		})
		return
	}
	if !h.payments.Enabled() {
		responders.JSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error": "Top-up is not configured",
			"meta":  x402Meta(r),
		})
		return
	}

	var req verifyRequest
	if err := decodeJSON(r.Body, &req); err != nil || !txHashPattern.MatchString(req.TxHash) {
		responders.JSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid tx_hash",
			"meta":  x402Meta(r),
		})
		return
	}

	// The key must exist (auto-provisioned if new) before crediting it.
	rec, err := h.gateway.ResolveKey(r.Context(), apiKey)
	if err != nil {
		writeX402Error(w, r, err)
		return
	}

	outcome, err := h.payments.Verify(r.Context(), rec.Key, req.TxHash)
	if err != nil {
		logger.FromContext(r.Context()).Error().Err(err).Msg("x402.verify_failed")
		responders.JSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error": "Verification temporarily unavailable",
			"meta":  x402Meta(r),
		})
		return
	}

	body := map[string]interface{}{
		"status":        outcome.Status,
		"credits_added": outcome.CreditsAdded,
		"credits":       outcome.Credits,
		"tier":          outcome.Tier,
		"meta":          x402Meta(r),
	}
	if outcome.Message != "" {
		body["error"] = map[string]interface{}{"message": outcome.Message}
	}
	responders.JSON(w, outcome.HTTPStatus, body)
}

// writeX402Error maps gateway errors onto plain HTTP semantics; the x402
// routes never speak JSON-RPC.
func writeX402Error(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "Internal error"
	if !gateway.ValidKeyFormat(r.Header.Get("x-api-key")) {
		status = http.StatusBadRequest
		message = "Invalid API key format"
	}
	responders.JSON(w, status, map[string]interface{}{
		"error": message,
		"meta":  x402Meta(r),
	})
}
