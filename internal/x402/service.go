// Package x402 implements the on-chain top-up protocol: quotes, key status,
// and the payment verify/credit state machine.
package x402

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/CroLens/server/internal/catalog"
	"github.com/CroLens/server/internal/evmrpc"
	"github.com/CroLens/server/internal/logger"
	"github.com/CroLens/server/internal/metrics"
)

// Verify outcome statuses, the states of the crediting machine.
const (
	StatusPending         = "pending"
	StatusFailed          = "failed"
	StatusRejected        = "rejected"
	StatusCredited        = "credited"
	StatusAlreadyCredited = "already_credited"
)

// Config holds the protocol parameters.
type Config struct {
	ChainID           int64
	PaymentAddress    string
	TopupCredits      int64
	PricePerCreditWei string
}

// Service verifies payments and grants credits. All crediting decisions read
// from the catalog store; the chain is consulted only for the receipt.
type Service struct {
	cfg     Config
	store   catalog.Store
	client  *evmrpc.Client
	metrics *metrics.Metrics
}

// New builds the service.
func New(cfg Config, store catalog.Store, client *evmrpc.Client, m *metrics.Metrics) *Service {
	return &Service{cfg: cfg, store: store, client: client, metrics: m}
}

// Enabled reports whether top-up is configured.
func (s *Service) Enabled() bool { return s.cfg.PaymentAddress != "" }

// Quote is the top-up offer returned by GET /x402/quote and embedded in
// -32002 error data.
type Quote struct {
	ChainID           int64  `json:"chain_id"`
	PaymentAddress    string `json:"payment_address"`
	Credits           int64  `json:"credits"`
	AmountWei         string `json:"amount_wei"`
	PricePerCreditWei string `json:"price_per_credit_wei"`
}

// Quote returns the current top-up quote.
func (s *Service) Quote() Quote {
	return Quote{
		ChainID:           s.cfg.ChainID,
		PaymentAddress:    s.cfg.PaymentAddress,
		Credits:           s.cfg.TopupCredits,
		AmountWei:         s.amountWei().String(),
		PricePerCreditWei: s.cfg.PricePerCreditWei,
	}
}

// amountWei is credits x price-per-credit.
func (s *Service) amountWei() *big.Int {
	price, ok := new(big.Int).SetString(s.cfg.PricePerCreditWei, 10)
	if !ok {
		price = big.NewInt(0)
	}
	return new(big.Int).Mul(price, big.NewInt(s.cfg.TopupCredits))
}

// Outcome is the result of one verify call, carrying both the response body
// fields and the HTTP status to pair with them.
type Outcome struct {
	Status       string `json:"status"`
	Message      string `json:"message,omitempty"`
	CreditsAdded int64  `json:"credits_added"`
	Credits      int64  `json:"credits"`
	Tier         string `json:"tier"`
	HTTPStatus   int    `json:"-"`
}

// Verify runs the crediting state machine for one tx hash.
//
//	fetch tx        -> not found          => pending
//	fetch receipt   -> not mined          => pending
//	                -> status != success  => failed
//	                -> wrong recipient    => rejected
//	                -> value below quote  => rejected
//	insert payment  -> duplicate tx hash  => already_credited
//	                -> inserted           => credited (grant + promote)
//
// The uniqueness constraint on tx_hash is the atomicity boundary: concurrent
// calls for the same hash produce at most one grant.
func (s *Service) Verify(ctx context.Context, apiKey, txHash string) (Outcome, error) {
	log := logger.FromContext(ctx)

	tx, err := s.client.GetTransactionByHash(ctx, common.HexToHash(txHash))
	if err != nil {
		return Outcome{}, fmt.Errorf("fetch transaction: %w", err)
	}
	if tx == nil {
		return s.finish(ctx, apiKey, Outcome{Status: StatusPending, HTTPStatus: http.StatusOK,
			Message: "Transaction not found yet"})
	}

	receipt, err := s.client.GetTransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return Outcome{}, fmt.Errorf("fetch receipt: %w", err)
	}
	if receipt == nil {
		return s.finish(ctx, apiKey, Outcome{Status: StatusPending, HTTPStatus: http.StatusOK,
			Message: "Transaction not mined yet"})
	}

	if receipt.Status != 1 {
		s.reject("tx_failed")
		return s.finish(ctx, apiKey, Outcome{Status: StatusFailed, HTTPStatus: http.StatusBadRequest,
			Message: "Transaction failed"})
	}
	if tx.To == nil || !strings.EqualFold(tx.To.Hex(), s.cfg.PaymentAddress) {
		s.reject("recipient_mismatch")
		return s.finish(ctx, apiKey, Outcome{Status: StatusRejected, HTTPStatus: http.StatusBadRequest,
			Message: "Transaction recipient mismatch"})
	}
	if tx.Value == nil || tx.Value.ToInt().Cmp(s.amountWei()) < 0 {
		s.reject("amount_too_low")
		return s.finish(ctx, apiKey, Outcome{Status: StatusRejected, HTTPStatus: http.StatusBadRequest,
			Message: "Payment amount too low"})
	}

	credited, err := s.store.ApplyPayment(ctx, catalog.Payment{
		TxHash:         strings.ToLower(txHash),
		APIKey:         apiKey,
		FromAddress:    tx.From.Hex(),
		ToAddress:      tx.To.Hex(),
		ValueWei:       tx.Value.ToInt().String(),
		CreditsGranted: s.cfg.TopupCredits,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("apply payment: %w", err)
	}

	if credited {
		if s.metrics != nil {
			s.metrics.PaymentsCreditedTotal.Inc()
		}
		log.Info().
			Str("tx_hash", logger.TruncateAddress(txHash)).
			Int64("credits", s.cfg.TopupCredits).
			Msg("x402.payment_credited")
		return s.finish(ctx, apiKey, Outcome{Status: StatusCredited, HTTPStatus: http.StatusOK,
			CreditsAdded: s.cfg.TopupCredits})
	}

	return s.finish(ctx, apiKey, Outcome{Status: StatusAlreadyCredited, HTTPStatus: http.StatusOK,
		CreditsAdded: 0})
}

// finish stamps the outcome with the key's current balance and tier,
// read-after-write from the catalog.
func (s *Service) finish(ctx context.Context, apiKey string, out Outcome) (Outcome, error) {
	rec, err := s.store.GetAPIKey(ctx, apiKey)
	if err == nil {
		out.Credits = rec.Credits
		out.Tier = string(rec.Tier)
	}
	return out, nil
}

func (s *Service) reject(reason string) {
	if s.metrics != nil {
		s.metrics.PaymentsRejectedTotal.WithLabelValues(reason).Inc()
	}
}
