package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests. It upholds
// the same atomicity contracts as the Postgres store (payment uniqueness,
// CAS on credits) under a mutex.
type MemoryStore struct {
	mu       sync.Mutex
	keys     map[string]APIKey
	payments map[string]Payment

	protocols []Protocol
	contracts map[string]Contract
	tokens    map[string]Token
	pools     map[string]DexPool
	markets   []LendingMarket

	logs []RequestLog
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:      make(map[string]APIKey),
		payments:  make(map[string]Payment),
		contracts: make(map[string]Contract),
		tokens:    make(map[string]Token),
		pools:     make(map[string]DexPool),
	}
}

// SeedReference loads reference data, replacing existing rows. Used by dev
// bootstrap and tests.
func (s *MemoryStore) SeedReference(protocols []Protocol, contracts []Contract, tokens []Token, pools []DexPool, markets []LendingMarket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocols = append([]Protocol(nil), protocols...)
	for _, c := range contracts {
		s.contracts[strings.ToLower(c.Address)] = c
	}
	for _, t := range tokens {
		s.tokens[strings.ToLower(t.Address)] = t
	}
	for _, p := range pools {
		s.pools[strings.ToLower(p.Address)] = p
	}
	s.markets = append([]LendingMarket(nil), markets...)
}

func (s *MemoryStore) GetAPIKey(_ context.Context, key string) (APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.keys[key]
	if !ok {
		return APIKey{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, rec APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[rec.Key]; exists {
		return nil
	}
	s.keys[rec.Key] = rec
	return nil
}

func (s *MemoryStore) DebitCredit(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.keys[key]
	if !ok || !rec.IsActive || rec.Credits <= 0 {
		return 0, ErrInsufficientCredits
	}
	rec.Credits--
	now := time.Now().UTC()
	if !rec.DailyResetAt.After(now) {
		rec.DailyUsed = 1
		rec.DailyResetAt = now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	} else {
		rec.DailyUsed++
	}
	s.keys[key] = rec
	return rec.Credits, nil
}

func (s *MemoryStore) ApplyPayment(_ context.Context, p Payment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.payments[p.TxHash]; exists {
		return false, nil
	}
	s.payments[p.TxHash] = p
	rec := s.keys[p.APIKey]
	rec.Credits += p.CreditsGranted
	rec.Tier = TierPro
	s.keys[p.APIKey] = rec
	return true, nil
}

func (s *MemoryStore) GetPayment(_ context.Context, txHash string) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[txHash]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) ListProtocols(context.Context) ([]Protocol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Protocol(nil), s.protocols...), nil
}

func (s *MemoryStore) TokenByAddress(_ context.Context, address string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[strings.ToLower(address)]
	if !ok {
		return Token{}, ErrNotFound
	}
	return tok, nil
}

func (s *MemoryStore) TokenBySymbol(_ context.Context, symbol string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tok := range s.tokens {
		if strings.EqualFold(tok.Symbol, symbol) {
			return tok, nil
		}
	}
	return Token{}, ErrNotFound
}

func (s *MemoryStore) ListTokens(context.Context) ([]Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Token, 0, len(s.tokens))
	for _, tok := range s.tokens {
		out = append(out, tok)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *MemoryStore) AnchorTokens(ctx context.Context) ([]Token, error) {
	all, _ := s.ListTokens(ctx)
	var out []Token
	for _, tok := range all {
		if tok.IsAnchor {
			out = append(out, tok)
		}
	}
	return out, nil
}

func (s *MemoryStore) ContractByAddress(_ context.Context, address string) (Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[strings.ToLower(address)]
	if !ok {
		return Contract{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) ContractByKind(_ context.Context, protocolID, kind string) (Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contracts {
		if c.ProtocolID == protocolID && c.Kind == kind {
			return c, nil
		}
	}
	return Contract{}, ErrNotFound
}

func (s *MemoryStore) SearchContracts(_ context.Context, query string, limit int) ([]SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := strings.ToLower(query)
	var out []SearchResult
	for _, c := range s.contracts {
		if strings.Contains(strings.ToLower(c.Name), q) || strings.EqualFold(c.Address, query) {
			out = append(out, SearchResult{Address: c.Address, Name: c.Name, Kind: "contract"})
		}
	}
	for _, t := range s.tokens {
		if strings.Contains(strings.ToLower(t.Symbol), q) ||
			strings.Contains(strings.ToLower(t.Name), q) ||
			strings.EqualFold(t.Address, query) {
			out = append(out, SearchResult{Address: t.Address, Name: t.Name, Kind: "token", Symbol: t.Symbol})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListPools(context.Context) ([]DexPool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DexPool, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TVLUSD > out[j].TVLUSD })
	return out, nil
}

func (s *MemoryStore) PoolsForToken(ctx context.Context, token string) ([]DexPool, error) {
	all, _ := s.ListPools(ctx)
	var out []DexPool
	for _, p := range all {
		if strings.EqualFold(p.Token0, token) || strings.EqualFold(p.Token1, token) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) PoolByAddress(_ context.Context, address string) (DexPool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[strings.ToLower(address)]
	if !ok {
		return DexPool{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) ListLendingMarkets(context.Context) ([]LendingMarket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LendingMarket(nil), s.markets...), nil
}

func (s *MemoryStore) InsertRequestLog(_ context.Context, rec RequestLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, rec)
	return nil
}

// RequestLogs returns a copy of recorded logs, for tests.
func (s *MemoryStore) RequestLogs() []RequestLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RequestLog(nil), s.logs...)
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
