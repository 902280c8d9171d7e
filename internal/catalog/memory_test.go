package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newKey(key string, credits int64) APIKey {
	return APIKey{
		Key:          key,
		Tier:         TierFree,
		Credits:      credits,
		DailyResetAt: time.Now().Add(24 * time.Hour),
		IsActive:     true,
		CreatedAt:    time.Now(),
	}
}

func TestDebitCredit_CAS(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.CreateAPIKey(ctx, newKey("cl_sk_a", 2)); err != nil {
		t.Fatal(err)
	}

	remaining, err := s.DebitCredit(ctx, "cl_sk_a")
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 1 {
		t.Errorf("remaining = %d, want 1", remaining)
	}
	if _, err := s.DebitCredit(ctx, "cl_sk_a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.DebitCredit(ctx, "cl_sk_a"); !errors.Is(err, ErrInsufficientCredits) {
		t.Errorf("expected ErrInsufficientCredits at zero balance, got %v", err)
	}

	rec, _ := s.GetAPIKey(ctx, "cl_sk_a")
	if rec.Credits != 0 {
		t.Errorf("credits = %d, must never go negative", rec.Credits)
	}
}

func TestDebitCredit_ConcurrentNeverNegative(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.CreateAPIKey(ctx, newKey("cl_sk_c", 10)); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var okCount int64
	var mu sync.Mutex
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.DebitCredit(ctx, "cl_sk_c"); err == nil {
				mu.Lock()
				okCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if okCount != 10 {
		t.Errorf("%d debits succeeded, want exactly 10", okCount)
	}
	rec, _ := s.GetAPIKey(ctx, "cl_sk_c")
	if rec.Credits != 0 {
		t.Errorf("credits = %d after drain", rec.Credits)
	}
}

func TestApplyPayment_Idempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.CreateAPIKey(ctx, newKey("cl_sk_p", 0)); err != nil {
		t.Fatal(err)
	}

	p := Payment{
		TxHash:         "0xabcd",
		APIKey:         "cl_sk_p",
		FromAddress:    "0x1111111111111111111111111111111111111111",
		ToAddress:      "0x2222222222222222222222222222222222222222",
		ValueWei:       "1000000000000000000",
		CreditsGranted: 1000,
		CreatedAt:      time.Now(),
	}

	credited, err := s.ApplyPayment(ctx, p)
	if err != nil || !credited {
		t.Fatalf("first apply: credited=%v err=%v", credited, err)
	}

	// Replays never grant again.
	for i := 0; i < 5; i++ {
		credited, err = s.ApplyPayment(ctx, p)
		if err != nil {
			t.Fatal(err)
		}
		if credited {
			t.Fatal("duplicate tx hash must not credit twice")
		}
	}

	rec, _ := s.GetAPIKey(ctx, "cl_sk_p")
	if rec.Credits != 1000 {
		t.Errorf("credits = %d, want 1000 from the single grant", rec.Credits)
	}
	if rec.Tier != TierPro {
		t.Errorf("tier = %s, want pro after credit", rec.Tier)
	}
}

func TestApplyPayment_ConcurrentSingleGrant(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.CreateAPIKey(ctx, newKey("cl_sk_r", 0)); err != nil {
		t.Fatal(err)
	}

	p := Payment{TxHash: "0xdeadbeef", APIKey: "cl_sk_r", CreditsGranted: 1000, CreatedAt: time.Now()}

	var wg sync.WaitGroup
	var grants int64
	var mu sync.Mutex
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			credited, err := s.ApplyPayment(ctx, p)
			if err == nil && credited {
				mu.Lock()
				grants++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if grants != 1 {
		t.Errorf("%d grants for one tx hash, want exactly 1", grants)
	}
	rec, _ := s.GetAPIKey(ctx, "cl_sk_r")
	if rec.Credits != 1000 {
		t.Errorf("credits = %d, want 1000", rec.Credits)
	}
}

func TestSearchContracts(t *testing.T) {
	s := NewMemoryStore()
	s.SeedReference(
		nil,
		[]Contract{{Address: "0xAAA1", Name: "VVS Router", Kind: "router"}},
		[]Token{{Address: "0xBBB1", Symbol: "VVS", Name: "VVSToken", Decimals: 18}},
		nil, nil,
	)
	ctx := context.Background()

	out, err := s.SearchContracts(ctx, "vvs", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d results, want 2", len(out))
	}

	out, err = s.SearchContracts(ctx, "vvs", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Errorf("limit not applied, got %d", len(out))
	}
}

func TestCreateAPIKey_RaceLoses(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.CreateAPIKey(ctx, newKey("cl_sk_x", 50)); err != nil {
		t.Fatal(err)
	}
	// Losing the provisioning race must not reset the balance.
	if _, err := s.DebitCredit(ctx, "cl_sk_x"); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateAPIKey(ctx, newKey("cl_sk_x", 50)); err != nil {
		t.Fatal(err)
	}
	rec, _ := s.GetAPIKey(ctx, "cl_sk_x")
	if rec.Credits != 49 {
		t.Errorf("credits = %d, want 49 (create must not overwrite)", rec.Credits)
	}
}
