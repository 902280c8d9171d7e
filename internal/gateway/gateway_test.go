package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/CroLens/server/internal/catalog"
	"github.com/CroLens/server/internal/jsonrpc"
	"github.com/CroLens/server/internal/kvcache"
	"github.com/CroLens/server/internal/x402"
)

func newGateway(t *testing.T) (*Gateway, *catalog.MemoryStore) {
	t.Helper()
	store := catalog.NewMemoryStore()
	payments := x402.New(x402.Config{
		ChainID:           25,
		PaymentAddress:    "0x00000000000000000000000000000000000000A1",
		TopupCredits:      1000,
		PricePerCreditWei: "1000000000000000",
	}, store, nil, nil)
	g := New(Config{
		DefaultCredits:   50,
		FreeTools:        []string{"get_gas_price"},
		ProTools:         []string{"simulate_transaction"},
		JSONRPCPerWindow: 3,
		JSONRPCWindow:    time.Minute,
		FreePerHour:      2,
		ProPerHour:       0,
	}, store, kvcache.NewMemoryCache(), payments, nil)
	return g, store
}

func TestResolveKey_AutoProvision(t *testing.T) {
	g, _ := newGateway(t)
	ctx := context.Background()

	rec, err := g.ResolveKey(ctx, "cl_sk_test_new_42")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Tier != catalog.TierFree {
		t.Errorf("tier = %s, want free", rec.Tier)
	}
	if rec.Credits != 50 {
		t.Errorf("credits = %d, want 50", rec.Credits)
	}
	if !rec.IsActive {
		t.Error("provisioned key must be active")
	}

	// Second sighting returns the same row, not a fresh one.
	rec2, err := g.ResolveKey(ctx, "cl_sk_test_new_42")
	if err != nil {
		t.Fatal(err)
	}
	if rec2.CreatedAt != rec.CreatedAt {
		t.Error("second resolve must not re-provision")
	}
}

func TestResolveKey_InvalidFormat(t *testing.T) {
	g, _ := newGateway(t)
	for _, key := range []string{"", "sk_nope", "cl_sk_", "cl_sk_has space"} {
		_, err := g.ResolveKey(context.Background(), key)
		rpcErr, ok := err.(*jsonrpc.Error)
		if !ok || rpcErr.Code != jsonrpc.CodeInvalidParams {
			t.Errorf("key %q: expected -32602, got %v", key, err)
		}
	}
}

func TestAllowJSONRPC_FixedWindow(t *testing.T) {
	g, _ := newGateway(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := g.AllowJSONRPC(ctx, "1.2.3.4"); err != nil {
			t.Fatalf("call %d rejected: %v", i, err)
		}
	}

	err := g.AllowJSONRPC(ctx, "1.2.3.4")
	if err == nil {
		t.Fatal("4th call should be limited")
	}
	if err.Code != jsonrpc.CodeRateLimited {
		t.Errorf("code = %d", err.Code)
	}
	data := err.Data.(map[string]interface{})
	retryAfter := data["retry_after"].(int)
	if retryAfter < 0 || retryAfter > 60 {
		t.Errorf("retry_after = %d, want within the window", retryAfter)
	}

	// A different IP has its own window.
	if err := g.AllowJSONRPC(ctx, "5.6.7.8"); err != nil {
		t.Errorf("other ip should pass: %v", err)
	}
}

func TestAllowToolCall_TierLimits(t *testing.T) {
	g, _ := newGateway(t)
	ctx := context.Background()

	free := catalog.APIKey{Key: "cl_sk_free", Tier: catalog.TierFree}
	for i := 0; i < 2; i++ {
		if err := g.AllowToolCall(ctx, free); err != nil {
			t.Fatalf("free call %d rejected: %v", i, err)
		}
	}
	if err := g.AllowToolCall(ctx, free); err == nil {
		t.Error("free tier should be limited at 3rd call")
	}

	// Pro tier is unlimited when ProPerHour is zero.
	pro := catalog.APIKey{Key: "cl_sk_pro", Tier: catalog.TierPro}
	for i := 0; i < 60; i++ {
		if err := g.AllowToolCall(ctx, pro); err != nil {
			t.Fatalf("pro call %d rejected: %v", i, err)
		}
	}
}

func TestQuotaGate(t *testing.T) {
	g, _ := newGateway(t)

	broke := catalog.APIKey{Key: "cl_sk_b", Tier: catalog.TierFree, Credits: 0}
	err := g.QuotaGate(broke, "get_account_summary")
	if err == nil || err.Code != jsonrpc.CodePaymentRequired {
		t.Fatalf("zero credits: %v", err)
	}
	data := err.Data.(map[string]interface{})
	if data["chain_id"] != int64(25) {
		t.Errorf("chain_id = %v", data["chain_id"])
	}
	if data["payment_address"] == "" {
		t.Error("payment_address missing from quota data")
	}

	// Free-included tools pass with zero credits.
	if err := g.QuotaGate(broke, "get_gas_price"); err != nil {
		t.Errorf("free tool gated: %v", err)
	}

	// Pro-only tool rejects free keys even with credits.
	funded := catalog.APIKey{Key: "cl_sk_f", Tier: catalog.TierFree, Credits: 10}
	if err := g.QuotaGate(funded, "simulate_transaction"); err == nil || err.Code != jsonrpc.CodePaymentRequired {
		t.Errorf("pro tool should gate free tier: %v", err)
	}

	proKey := catalog.APIKey{Key: "cl_sk_p", Tier: catalog.TierPro, Credits: 10}
	if err := g.QuotaGate(proKey, "simulate_transaction"); err != nil {
		t.Errorf("pro key gated: %v", err)
	}
}

func TestBill_ExactlyOne(t *testing.T) {
	g, store := newGateway(t)
	ctx := context.Background()

	rec, err := g.ResolveKey(ctx, "cl_sk_bill")
	if err != nil {
		t.Fatal(err)
	}

	if err := g.Bill(ctx, rec, "get_account_summary"); err != nil {
		t.Fatal(err)
	}
	after, _ := store.GetAPIKey(ctx, "cl_sk_bill")
	if after.Credits != rec.Credits-1 {
		t.Errorf("credits = %d, want %d", after.Credits, rec.Credits-1)
	}

	// Free tools are not billed.
	if err := g.Bill(ctx, after, "get_gas_price"); err != nil {
		t.Fatal(err)
	}
	unchanged, _ := store.GetAPIKey(ctx, "cl_sk_bill")
	if unchanged.Credits != after.Credits {
		t.Error("free tool must not bill")
	}
}
