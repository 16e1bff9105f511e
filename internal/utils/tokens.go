package utils

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// TokenStore holds the API keys accepted on protected routes: the static key
// from config plus any tokens loaded from Postgres, each with its own rate limit.
type TokenStore struct {
	static      string
	staticLimit int

	mu    sync.RWMutex
	cache map[string]int

	dbMu sync.Mutex
	dsn  string
	db   *sql.DB
}

// NewTokenStore returns a store that accepts staticKey with the given rate
// limit (0 disables per-token limiting for it).
func NewTokenStore(staticKey string, staticLimit int) *TokenStore {
	return &TokenStore{static: staticKey, staticLimit: staticLimit}
}

// Enabled reports whether a token database is configured.
func (cfg PostgresConfig) Enabled() bool {
	return cfg.Host != ""
}

func postgresPort(cfg PostgresConfig) int {
	if cfg.Port != 0 {
		return cfg.Port
	}
	return 5432
}

func postgresDSN(cfg PostgresConfig) (string, error) {
	if strings.HasPrefix(cfg.Host, "postgres://") || strings.HasPrefix(cfg.Host, "postgresql://") {
		return cfg.Host, nil
	}
	if cfg.Host == "" {
		return "", fmt.Errorf("postgres host is empty")
	}
	if cfg.Database == "" {
		return "", fmt.Errorf("postgres database is empty")
	}
	if cfg.User == "" {
		return "", fmt.Errorf("postgres user is empty")
	}

	hostPort := cfg.Host
	port := postgresPort(cfg)
	switch {
	case strings.HasPrefix(hostPort, "["):
		if !strings.Contains(hostPort, "]:") {
			hostPort = fmt.Sprintf("%s:%d", hostPort, port)
		}
	case strings.Count(hostPort, ":") >= 2:
		hostPort = fmt.Sprintf("[%s]:%d", hostPort, port)
	case !strings.Contains(hostPort, ":"):
		hostPort = fmt.Sprintf("%s:%d", hostPort, port)
	}

	u := &url.URL{Scheme: "postgres", Host: hostPort, Path: "/" + cfg.Database}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	} else {
		u.User = url.User(cfg.User)
	}
	q := u.Query()
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *TokenStore) getDB(ctx context.Context, cfg PostgresConfig) (*sql.DB, error) {
	dsn, err := postgresDSN(cfg)
	if err != nil {
		return nil, err
	}

	s.dbMu.Lock()
	defer s.dbMu.Unlock()

	if s.db != nil && s.dsn == dsn {
		return s.db, nil
	}
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
		s.dsn = ""
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

	s.db = db
	s.dsn = dsn
	return s.db, nil
}

const tokensDDL = `CREATE TABLE IF NOT EXISTS api_tokens (
	token TEXT PRIMARY KEY,
	rate_limit INTEGER NOT NULL DEFAULT 10,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	comment TEXT
);`

// LoadFromPostgres replaces the dynamic token set with the rows of api_tokens.
// On error the previous set is kept.
func (s *TokenStore) LoadFromPostgres(ctx context.Context, cfg PostgresConfig) error {
	db, err := s.getDB(ctx, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, tokensDDL); err != nil {
		return err
	}

	rows, err := db.QueryContext(ctx, `SELECT token, rate_limit FROM api_tokens;`)
	if err != nil {
		return err
	}
	defer rows.Close()

	cache := make(map[string]int)
	for rows.Next() {
		var token string
		var limit int
		if err := rows.Scan(&token, &limit); err != nil {
			return err
		}
		cache[token] = limit
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.Replace(cache)
	return nil
}

// Replace swaps the dynamic token set.
func (s *TokenStore) Replace(m map[string]int) {
	cache := make(map[string]int, len(m))
	for k, v := range m {
		cache[k] = v
	}
	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()
}

// Validate reports whether token is the static key or a loaded token.
func (s *TokenStore) Validate(token string) bool {
	if token == "" {
		return false
	}
	if s.static != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.static)) == 1 {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cache[token]
	return ok
}

// RateLimit returns the per-interval limit for token; 0 means unlimited.
func (s *TokenStore) RateLimit(token string) int {
	if s.static != "" && token == s.static {
		return s.staticLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache[token]
}

// RefreshPeriodically reloads tokens from Postgres until stop is closed.
func (s *TokenStore) RefreshPeriodically(cfg PostgresConfig, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.LoadFromPostgres(context.Background(), cfg); err != nil {
				Error("Failed to reload API tokens", "error", err)
			}
		case <-stop:
			return
		}
	}
}

// Close releases the database handle, if any.
func (s *TokenStore) Close() error {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.dsn = ""
	return err
}
