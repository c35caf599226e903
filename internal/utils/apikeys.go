package utils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var (
	// ErrInvalidAPIKey signals that the provided API key is not known.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrKeyStoreNotReady signals that the key store has never been loaded,
	// typically because Postgres was unreachable at startup.
	ErrKeyStoreNotReady = errors.New("api key store not ready")
)

// APIKey is one active key and its request budget per rate limiter
// interval. A budget of 0 means unlimited.
type APIKey struct {
	Key    string
	Budget int
	Label  string
}

// KeySource lists the currently active API keys.
type KeySource interface {
	ListKeys(ctx context.Context) ([]APIKey, error)
}

// KeyStore is an in-memory snapshot of the active API keys. The zero value
// is an empty store that is not ready.
type KeyStore struct {
	mu       sync.RWMutex
	budgets  map[string]int
	loadedAt time.Time
}

// Replace swaps the snapshot for keys. An empty slice marks the store as
// ready with no valid keys.
func (s *KeyStore) Replace(keys []APIKey) {
	budgets := make(map[string]int, len(keys))
	for _, k := range keys {
		budgets[k.Key] = k.Budget
	}
	s.mu.Lock()
	s.budgets = budgets
	s.loadedAt = time.Now()
	s.mu.Unlock()
}

// Reload fetches keys from src. On failure the previous snapshot stays.
func (s *KeyStore) Reload(ctx context.Context, src KeySource) (int, error) {
	keys, err := src.ListKeys(ctx)
	if err != nil {
		return 0, err
	}
	s.Replace(keys)
	return len(keys), nil
}

// Ready reports whether a snapshot has been loaded.
func (s *KeyStore) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.budgets != nil
}

// Lookup returns the budget of key and whether the key is active.
func (s *KeyStore) Lookup(key string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	budget, ok := s.budgets[key]
	return budget, ok
}

// LoadedAt returns when the current snapshot was taken.
func (s *KeyStore) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// Watch reloads from src every interval until stop is closed.
func (s *KeyStore) Watch(src KeySource, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := s.Reload(context.Background(), src)
			if err != nil {
				Error("Failed to reload API keys", "error", err)
				continue
			}
			Info("API keys reloaded", "count", n)
		case <-stop:
			return
		}
	}
}

// PostgresKeys reads keys from the api_keys table.
type PostgresKeys struct {
	Config PostgresConfig
}

const apiKeysDDL = `CREATE TABLE IF NOT EXISTS api_keys (
	key TEXT PRIMARY KEY,
	requests_per_interval INTEGER NOT NULL DEFAULT 30,
	label TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	revoked_at TIMESTAMPTZ
);`

const activeKeysQuery = `SELECT key, requests_per_interval, COALESCE(label, '')
	FROM api_keys WHERE revoked_at IS NULL;`

// ListKeys returns every non-revoked key, creating the table on first use.
func (p PostgresKeys) ListKeys(ctx context.Context) ([]APIKey, error) {
	db, err := keyPool.open(ctx, p.Config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, apiKeysDDL); err != nil {
		return nil, fmt.Errorf("ensure api_keys table: %w", err)
	}
	rows, err := db.QueryContext(ctx, activeKeysQuery)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := []APIKey{}
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.Key, &k.Budget, &k.Label); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// dbPool keeps one connection pool per DSN so periodic reloads reuse it.
type dbPool struct {
	mu  sync.Mutex
	dsn string
	db  *sql.DB
}

var keyPool dbPool

func (p *dbPool) open(ctx context.Context, cfg PostgresConfig) (*sql.DB, error) {
	dsn, err := postgresDSN(cfg)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db != nil {
		if p.dsn == dsn {
			return p.db, nil
		}
		_ = p.db.Close()
		p.db, p.dsn = nil, ""
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	p.db, p.dsn = db, dsn
	return db, nil
}

// AuthEnabled reports whether an API key store is configured.
func AuthEnabled(cfg PostgresConfig) bool {
	return cfg.Host != ""
}

// postgresDSN accepts either a full postgres:// URL in Host or discrete
// fields. Host may carry its own port, bracketed or bare IPv6 included.
func postgresDSN(cfg PostgresConfig) (string, error) {
	if strings.HasPrefix(cfg.Host, "postgres://") || strings.HasPrefix(cfg.Host, "postgresql://") {
		return cfg.Host, nil
	}
	for _, f := range []struct{ name, val string }{
		{"host", cfg.Host}, {"database", cfg.Database}, {"user", cfg.User},
	} {
		if f.val == "" {
			return "", fmt.Errorf("postgres %s is empty", f.name)
		}
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	host := cfg.Host
	if !hasPort(host) {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
		if strings.Contains(host, ":") {
			host = "[" + host + "]"
		}
		host = fmt.Sprintf("%s:%d", host, port)
	}

	user := url.User(cfg.User)
	if cfg.Password != "" {
		user = url.UserPassword(cfg.User, cfg.Password)
	}
	dsn := url.URL{Scheme: "postgres", User: user, Host: host, Path: "/" + cfg.Database}
	if cfg.SSLMode != "" {
		dsn.RawQuery = url.Values{"sslmode": {cfg.SSLMode}}.Encode()
	}
	return dsn.String(), nil
}

// hasPort reports whether host already names a port: "db:7000" or "[::1]:5433".
func hasPort(host string) bool {
	if strings.HasPrefix(host, "[") {
		return strings.Contains(host, "]:")
	}
	return strings.Count(host, ":") == 1
}

// Keys is the process-wide key store consulted by the auth middleware.
var Keys = &KeyStore{}

// LoadAPIKeysFromPostgres replaces Keys with the active keys in Postgres.
func LoadAPIKeysFromPostgres(ctx context.Context, cfg PostgresConfig) error {
	_, err := Keys.Reload(ctx, PostgresKeys{Config: cfg})
	return err
}

// LoadAPIKeysFromMap replaces Keys with key to budget pairs from m.
func LoadAPIKeysFromMap(m map[string]int) {
	keys := make([]APIKey, 0, len(m))
	for k, budget := range m {
		keys = append(keys, APIKey{Key: k, Budget: budget})
	}
	Keys.Replace(keys)
}

// APIKeysReady reports whether Keys has been loaded at least once.
func APIKeysReady() bool {
	return Keys.Ready()
}

// ValidateAPIKey reports whether key is active.
func ValidateAPIKey(key string) bool {
	_, ok := Keys.Lookup(key)
	return ok
}

// KeyRateLimit returns the budget of key, or 0 (unlimited) when unknown.
func KeyRateLimit(key string) int {
	budget, _ := Keys.Lookup(key)
	return budget
}

// RefreshAPIKeysPeriodically reloads Keys from Postgres every interval
// until stop is closed.
func RefreshAPIKeysPeriodically(cfg PostgresConfig, interval time.Duration, stop <-chan struct{}) {
	Keys.Watch(PostgresKeys{Config: cfg}, interval, stop)
}
