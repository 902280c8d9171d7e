package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	ownsDB bool
}

// PoolSettings mirrors the connection pool knobs from configuration.
type PoolSettings struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(connectionString string, pool PoolSettings) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	store := &PostgresStore{db: db, ownsDB: true}
	if err := store.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB wraps an existing connection pool.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db, ownsDB: false}
	if err := store.createTables(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) createTables() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS api_keys (
			api_key TEXT PRIMARY KEY,
			tier TEXT NOT NULL DEFAULT 'free',
			credits BIGINT NOT NULL DEFAULT 0 CHECK (credits >= 0),
			daily_used BIGINT NOT NULL DEFAULT 0,
			daily_reset_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS payments (
			tx_hash TEXT PRIMARY KEY,
			api_key TEXT NOT NULL REFERENCES api_keys(api_key),
			from_address TEXT NOT NULL,
			to_address TEXT NOT NULL,
			value_wei NUMERIC NOT NULL,
			credits_granted BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS protocols (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			adapter_type TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS contracts (
			address TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			protocol_id TEXT REFERENCES protocols(id),
			kind TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS tokens (
			address TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			name TEXT NOT NULL,
			decimals SMALLINT NOT NULL,
			is_stable BOOLEAN NOT NULL DEFAULT FALSE,
			is_anchor BOOLEAN NOT NULL DEFAULT FALSE,
			external_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS dex_pools (
			address TEXT PRIMARY KEY,
			protocol_id TEXT REFERENCES protocols(id),
			token0 TEXT NOT NULL,
			token1 TEXT NOT NULL,
			tvl_usd DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS lending_markets (
			address TEXT PRIMARY KEY,
			protocol_id TEXT REFERENCES protocols(id),
			underlying TEXT NOT NULL DEFAULT '',
			symbol TEXT NOT NULL,
			collateral_factor DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS request_logs (
			id BIGSERIAL PRIMARY KEY,
			trace_id TEXT NOT NULL,
			api_key TEXT,
			tool_name TEXT NOT NULL DEFAULT '',
			latency_ms BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error_code TEXT NOT NULL DEFAULT '',
			ip_address TEXT NOT NULL DEFAULT '',
			request_size BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

// GetAPIKey fetches one key row.
func (s *PostgresStore) GetAPIKey(ctx context.Context, key string) (APIKey, error) {
	var rec APIKey
	err := s.db.QueryRowContext(ctx, `
		SELECT api_key, tier, credits, daily_used, daily_reset_at, is_active, created_at
		FROM api_keys WHERE api_key = $1`, key).
		Scan(&rec.Key, &rec.Tier, &rec.Credits, &rec.DailyUsed, &rec.DailyResetAt, &rec.IsActive, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return APIKey{}, ErrNotFound
	}
	if err != nil {
		return APIKey{}, fmt.Errorf("get api key: %w", err)
	}
	return rec, nil
}

// CreateAPIKey provisions a key row. Losing a concurrent create race is not
// an error: the row exists either way.
func (s *PostgresStore) CreateAPIKey(ctx context.Context, rec APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (api_key, tier, credits, daily_used, daily_reset_at, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (api_key) DO NOTHING`,
		rec.Key, rec.Tier, rec.Credits, rec.DailyUsed, rec.DailyResetAt, rec.IsActive, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// DebitCredit decrements credits by one iff the balance allows it.
// The WHERE clause is the compare-and-set.
func (s *PostgresStore) DebitCredit(ctx context.Context, key string) (int64, error) {
	var remaining int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE api_keys
		SET credits = credits - 1,
		    daily_used = CASE WHEN daily_reset_at <= now() THEN 1 ELSE daily_used + 1 END,
		    daily_reset_at = CASE WHEN daily_reset_at <= now()
		        THEN date_trunc('day', now()) + interval '1 day' ELSE daily_reset_at END
		WHERE api_key = $1 AND credits > 0 AND is_active
		RETURNING credits`, key).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrInsufficientCredits
	}
	if err != nil {
		return 0, fmt.Errorf("debit credit: %w", err)
	}
	return remaining, nil
}

// ApplyPayment inserts the payment and grants credits atomically. The
// primary key on tx_hash is the idempotency boundary: exactly one concurrent
// caller observes an inserted row.
func (s *PostgresStore) ApplyPayment(ctx context.Context, p Payment) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin payment tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO payments (tx_hash, api_key, from_address, to_address, value_wei, credits_granted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tx_hash) DO NOTHING`,
		p.TxHash, p.APIKey, p.FromAddress, p.ToAddress, p.ValueWei, p.CreditsGranted, p.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return false, nil
		}
		return false, fmt.Errorf("insert payment: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("payment rows affected: %w", err)
	}
	if inserted == 0 {
		return false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE api_keys SET credits = credits + $2, tier = 'pro'
		WHERE api_key = $1`, p.APIKey, p.CreditsGranted); err != nil {
		return false, fmt.Errorf("grant credits: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit payment: %w", err)
	}
	return true, nil
}

// GetPayment fetches one payment by tx hash.
func (s *PostgresStore) GetPayment(ctx context.Context, txHash string) (Payment, error) {
	var p Payment
	err := s.db.QueryRowContext(ctx, `
		SELECT tx_hash, api_key, from_address, to_address, value_wei::text, credits_granted, created_at
		FROM payments WHERE tx_hash = $1`, txHash).
		Scan(&p.TxHash, &p.APIKey, &p.FromAddress, &p.ToAddress, &p.ValueWei, &p.CreditsGranted, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	if err != nil {
		return Payment{}, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// ListProtocols returns all protocol rows.
func (s *PostgresStore) ListProtocols(ctx context.Context) ([]Protocol, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, adapter_type FROM protocols ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list protocols: %w", err)
	}
	defer rows.Close()

	var out []Protocol
	for rows.Next() {
		var p Protocol
		if err := rows.Scan(&p.ID, &p.Name, &p.AdapterType); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TokenByAddress fetches one token row by lowercase address.
func (s *PostgresStore) TokenByAddress(ctx context.Context, address string) (Token, error) {
	return s.scanToken(s.db.QueryRowContext(ctx, `
		SELECT address, symbol, name, decimals, is_stable, is_anchor, external_id
		FROM tokens WHERE lower(address) = lower($1)`, address))
}

// TokenBySymbol fetches one token row by symbol.
func (s *PostgresStore) TokenBySymbol(ctx context.Context, symbol string) (Token, error) {
	return s.scanToken(s.db.QueryRowContext(ctx, `
		SELECT address, symbol, name, decimals, is_stable, is_anchor, external_id
		FROM tokens WHERE upper(symbol) = upper($1)`, symbol))
}

func (s *PostgresStore) scanToken(row *sql.Row) (Token, error) {
	var tok Token
	err := row.Scan(&tok.Address, &tok.Symbol, &tok.Name, &tok.Decimals, &tok.IsStable, &tok.IsAnchor, &tok.ExternalID)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, ErrNotFound
	}
	if err != nil {
		return Token{}, fmt.Errorf("scan token: %w", err)
	}
	return tok, nil
}

// ListTokens returns all known tokens.
func (s *PostgresStore) ListTokens(ctx context.Context) ([]Token, error) {
	return s.queryTokens(ctx, `SELECT address, symbol, name, decimals, is_stable, is_anchor, external_id FROM tokens ORDER BY symbol`)
}

// AnchorTokens returns tokens with a tracked external price.
func (s *PostgresStore) AnchorTokens(ctx context.Context) ([]Token, error) {
	return s.queryTokens(ctx, `SELECT address, symbol, name, decimals, is_stable, is_anchor, external_id FROM tokens WHERE is_anchor ORDER BY symbol`)
}

func (s *PostgresStore) queryTokens(ctx context.Context, query string) ([]Token, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()

	var out []Token
	for rows.Next() {
		var tok Token
		if err := rows.Scan(&tok.Address, &tok.Symbol, &tok.Name, &tok.Decimals, &tok.IsStable, &tok.IsAnchor, &tok.ExternalID); err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, rows.Err()
}

// ContractByAddress fetches a labeled contract.
func (s *PostgresStore) ContractByAddress(ctx context.Context, address string) (Contract, error) {
	var c Contract
	var protocolID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT address, name, protocol_id, kind FROM contracts WHERE lower(address) = lower($1)`, address).
		Scan(&c.Address, &c.Name, &protocolID, &c.Kind)
	if errors.Is(err, sql.ErrNoRows) {
		return Contract{}, ErrNotFound
	}
	if err != nil {
		return Contract{}, fmt.Errorf("get contract: %w", err)
	}
	c.ProtocolID = protocolID.String
	return c, nil
}

// ContractByKind fetches a protocol's contract by role (router, factory, ...).
func (s *PostgresStore) ContractByKind(ctx context.Context, protocolID, kind string) (Contract, error) {
	var c Contract
	err := s.db.QueryRowContext(ctx, `
		SELECT address, name, protocol_id, kind FROM contracts
		WHERE protocol_id = $1 AND kind = $2 LIMIT 1`, protocolID, kind).
		Scan(&c.Address, &c.Name, &c.ProtocolID, &c.Kind)
	if errors.Is(err, sql.ErrNoRows) {
		return Contract{}, ErrNotFound
	}
	if err != nil {
		return Contract{}, fmt.Errorf("get contract by kind: %w", err)
	}
	return c, nil
}

// SearchContracts fuzzy-matches contract names, token symbols, and addresses.
func (s *PostgresStore) SearchContracts(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, name, 'contract' AS kind, '' AS symbol FROM contracts
		WHERE lower(name) LIKE $1 OR lower(address) = lower($2)
		UNION ALL
		SELECT address, name, 'token' AS kind, symbol FROM tokens
		WHERE lower(symbol) LIKE $1 OR lower(name) LIKE $1 OR lower(address) = lower($2)
		LIMIT $3`, pattern, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search contracts: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Address, &r.Name, &r.Kind, &r.Symbol); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListPools returns all pools ordered by indexed TVL, deepest first.
func (s *PostgresStore) ListPools(ctx context.Context) ([]DexPool, error) {
	return s.queryPools(ctx, `SELECT address, protocol_id, token0, token1, tvl_usd FROM dex_pools ORDER BY tvl_usd DESC`)
}

// PoolsForToken returns pools containing the token, deepest first.
func (s *PostgresStore) PoolsForToken(ctx context.Context, token string) ([]DexPool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, protocol_id, token0, token1, tvl_usd FROM dex_pools
		WHERE lower(token0) = lower($1) OR lower(token1) = lower($1)
		ORDER BY tvl_usd DESC`, token)
	if err != nil {
		return nil, fmt.Errorf("pools for token: %w", err)
	}
	return scanPools(rows)
}

// PoolByAddress fetches one pool row.
func (s *PostgresStore) PoolByAddress(ctx context.Context, address string) (DexPool, error) {
	var p DexPool
	err := s.db.QueryRowContext(ctx, `
		SELECT address, protocol_id, token0, token1, tvl_usd FROM dex_pools
		WHERE lower(address) = lower($1)`, address).
		Scan(&p.Address, &p.ProtocolID, &p.Token0, &p.Token1, &p.TVLUSD)
	if errors.Is(err, sql.ErrNoRows) {
		return DexPool{}, ErrNotFound
	}
	if err != nil {
		return DexPool{}, fmt.Errorf("get pool: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) queryPools(ctx context.Context, query string) ([]DexPool, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query pools: %w", err)
	}
	return scanPools(rows)
}

func scanPools(rows *sql.Rows) ([]DexPool, error) {
	defer rows.Close()
	var out []DexPool
	for rows.Next() {
		var p DexPool
		if err := rows.Scan(&p.Address, &p.ProtocolID, &p.Token0, &p.Token1, &p.TVLUSD); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListLendingMarkets returns all lending market rows.
func (s *PostgresStore) ListLendingMarkets(ctx context.Context) ([]LendingMarket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, protocol_id, underlying, symbol, collateral_factor FROM lending_markets ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("list lending markets: %w", err)
	}
	defer rows.Close()

	var out []LendingMarket
	for rows.Next() {
		var m LendingMarket
		if err := rows.Scan(&m.Address, &m.ProtocolID, &m.Underlying, &m.Symbol, &m.CollateralFactor); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertRequestLog appends one request record.
func (s *PostgresStore) InsertRequestLog(ctx context.Context, rec RequestLog) error {
	apiKey := sql.NullString{String: rec.APIKey, Valid: rec.APIKey != ""}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_logs (trace_id, api_key, tool_name, latency_ms, status, error_code, ip_address, request_size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.TraceID, apiKey, rec.ToolName, rec.LatencyMS, rec.Status, rec.ErrorCode, rec.IPAddress, rec.RequestSize, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert request log: %w", err)
	}
	return nil
}

// Ping probes the database for the health endpoint.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the pool when this store owns it.
func (s *PostgresStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
