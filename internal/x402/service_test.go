package x402

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/CroLens/server/internal/catalog"
	"github.com/CroLens/server/internal/evmrpc"
)

const paymentAddr = "0x00000000000000000000000000000000000000A1"

// testHash is a well-formed 32-byte hash for fixtures.
const testHash = "0xabababababababababababababababababababababababababababababababab"

// chainStub serves eth_getTransactionByHash / eth_getTransactionReceipt.
type chainStub struct {
	tx      string // raw JSON or "null"
	receipt string
}

func (c *chainStub) server(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var frame struct {
			Method string `json:"method"`
		}
		json.NewDecoder(r.Body).Decode(&frame)
		var result string
		switch frame.Method {
		case "eth_getTransactionByHash":
			result = c.tx
		case "eth_getTransactionReceipt":
			result = c.receipt
		default:
			result = "null"
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
	}))
}

func validTx(to string, valueHex string) string {
	return `{"hash":"` + testHash + `","from":"0x00000000000000000000000000000000000000b2","to":"` + to + `","value":"` + valueHex + `","input":"0x","nonce":"0x1"}`
}

func newService(t *testing.T, stub *chainStub) (*Service, *catalog.MemoryStore) {
	t.Helper()
	srv := stub.server(t)
	t.Cleanup(srv.Close)
	client := evmrpc.New(evmrpc.Config{UpstreamURL: srv.URL, Timeout: 2 * time.Second}, nil, nil)
	store := catalog.NewMemoryStore()
	store.CreateAPIKey(context.Background(), catalog.APIKey{
		Key: "cl_sk_test", Tier: catalog.TierFree, Credits: 5, IsActive: true,
		DailyResetAt: time.Now().Add(24 * time.Hour), CreatedAt: time.Now(),
	})
	svc := New(Config{
		ChainID:           25,
		PaymentAddress:    paymentAddr,
		TopupCredits:      1000,
		PricePerCreditWei: "1000000000000000", // 0.001 CRO; quote total = 1e18
	}, store, client, nil)
	return svc, store
}

func TestQuote(t *testing.T) {
	svc, _ := newService(t, &chainStub{tx: "null", receipt: "null"})
	q := svc.Quote()
	if q.ChainID != 25 {
		t.Errorf("chain id = %d", q.ChainID)
	}
	if q.AmountWei != "1000000000000000000" {
		t.Errorf("amount wei = %s, want 1e18", q.AmountWei)
	}
	if q.Credits != 1000 {
		t.Errorf("credits = %d", q.Credits)
	}
}

func TestVerify_Pending(t *testing.T) {
	svc, _ := newService(t, &chainStub{tx: "null", receipt: "null"})
	out, err := svc.Verify(context.Background(), "cl_sk_test", testHash)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusPending || out.HTTPStatus != 200 {
		t.Errorf("outcome = %+v, want pending/200", out)
	}

	// Mined tx but no receipt yet is still pending.
	svc2, _ := newService(t, &chainStub{tx: validTx(paymentAddr, "0xde0b6b3a7640000"), receipt: "null"})
	out, err = svc2.Verify(context.Background(), "cl_sk_test", testHash)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusPending {
		t.Errorf("status = %s, want pending", out.Status)
	}
}

func TestVerify_FailedReceipt(t *testing.T) {
	svc, _ := newService(t, &chainStub{
		tx:      validTx(paymentAddr, "0xde0b6b3a7640000"),
		receipt: `{"transactionHash":"` + testHash + `","status":"0x0","gasUsed":"0x5208"}`,
	})
	out, err := svc.Verify(context.Background(), "cl_sk_test", testHash)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusFailed || out.HTTPStatus != 400 || out.Message != "Transaction failed" {
		t.Errorf("outcome = %+v", out)
	}
}

func TestVerify_RecipientMismatch(t *testing.T) {
	svc, _ := newService(t, &chainStub{
		tx:      validTx("0x00000000000000000000000000000000000000c3", "0xde0b6b3a7640000"),
		receipt: `{"transactionHash":"` + testHash + `","status":"0x1","gasUsed":"0x5208"}`,
	})
	out, err := svc.Verify(context.Background(), "cl_sk_test", testHash)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusRejected || out.HTTPStatus != 400 || out.Message != "Transaction recipient mismatch" {
		t.Errorf("outcome = %+v", out)
	}
}

func TestVerify_AmountTooLow(t *testing.T) {
	// 0.5 CRO paid for a 1 CRO quote.
	svc, _ := newService(t, &chainStub{
		tx:      validTx(paymentAddr, "0x6f05b59d3b20000"),
		receipt: `{"transactionHash":"` + testHash + `","status":"0x1","gasUsed":"0x5208"}`,
	})
	out, err := svc.Verify(context.Background(), "cl_sk_test", testHash)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusRejected || out.Message != "Payment amount too low" {
		t.Errorf("outcome = %+v", out)
	}
}

func TestVerify_CreditedThenIdempotent(t *testing.T) {
	svc, store := newService(t, &chainStub{
		tx:      validTx(paymentAddr, "0xde0b6b3a7640000"), // exactly 1e18
		receipt: `{"transactionHash":"` + testHash + `","status":"0x1","gasUsed":"0x5208"}`,
	})
	ctx := context.Background()

	out, err := svc.Verify(ctx, "cl_sk_test", testHash)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusCredited || out.CreditsAdded != 1000 {
		t.Fatalf("first verify = %+v", out)
	}
	if out.Tier != "pro" {
		t.Errorf("tier = %s, want pro", out.Tier)
	}
	if out.Credits != 1005 { // 5 initial + 1000 granted
		t.Errorf("credits = %d, want 1005", out.Credits)
	}

	// Every replay observes the single grant.
	for i := 0; i < 3; i++ {
		out, err = svc.Verify(ctx, "cl_sk_test", testHash)
		if err != nil {
			t.Fatal(err)
		}
		if out.Status != StatusAlreadyCredited || out.CreditsAdded != 0 {
			t.Fatalf("replay %d = %+v", i, out)
		}
		if out.Credits != 1005 {
			t.Errorf("replay credits = %d", out.Credits)
		}
	}

	if _, err := store.GetPayment(ctx, testHash); err != nil {
		t.Errorf("payment row missing: %v", err)
	}
}
