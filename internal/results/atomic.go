package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Aditya1198/M5-Sales-Forecasting/internal/api"
)

// noRows reports whether err is pgx's no-result sentinel, possibly wrapped.
func noRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// AtomicRedisStore implements Store using Redis SETNX for atomic first-write-wins.
//
// Ensures no race conditions even when several workers forecast the same
// series concurrently.
type AtomicRedisStore struct {
	client *redis.Client
}

// NewAtomicRedisStore creates a Redis-backed result store with atomic guarantees.
//
// Args:
//   - addr: Redis address (e.g., "localhost:6379")
//   - password: Redis password (empty string if none)
//   - db: Redis database number (0-15, typically 0)
//
// Returns:
//   - *AtomicRedisStore or error if connection fails
func NewAtomicRedisStore(addr, password string, db int) (*AtomicRedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &AtomicRedisStore{client: client}, nil
}

func (r *AtomicRedisStore) Get(ctx context.Context, key string) (*api.Forecast, error) {
	data, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil // not found
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET failed: %w", err)
	}

	var fc api.Forecast
	if err := json.Unmarshal([]byte(data), &fc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal forecast: %w", err)
	}

	return &fc, nil
}

func (r *AtomicRedisStore) Set(ctx context.Context, key string, fc *api.Forecast, ttl time.Duration) error {
	data, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("failed to marshal forecast: %w", err)
	}

	// SETNX with TTL: atomic first-write-wins
	// Returns true if key was set (first write), false if already exists
	wasSet, err := r.client.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis SETNX failed: %w", err)
	}

	// If not set, key already existed (concurrent write won)
	// This is not an error - just means we lost the race
	_ = wasSet

	return nil
}

func (r *AtomicRedisStore) Close() error {
	return r.client.Close()
}

// AtomicPostgresStore implements Store using Postgres ON CONFLICT for atomic first-write-wins.
//
// Schema:
//
//	CREATE TABLE forecast_results (
//	  cache_key VARCHAR(255) PRIMARY KEY,
//	  forecast JSONB NOT NULL,
//	  expires_at TIMESTAMP NOT NULL,
//	  created_at TIMESTAMP DEFAULT NOW()
//	);
//	CREATE INDEX idx_forecast_results_expires ON forecast_results(expires_at);
type AtomicPostgresStore struct {
	pool *pgxpool.Pool
}

// NewAtomicPostgresStore creates a Postgres-backed result store with atomic guarantees.
func NewAtomicPostgresStore(connStr string) (*AtomicPostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return &AtomicPostgresStore{pool: pool}, nil
}

func (p *AtomicPostgresStore) Get(ctx context.Context, key string) (*api.Forecast, error) {
	query := `
		SELECT forecast
		FROM forecast_results
		WHERE cache_key = $1 AND expires_at > NOW()
	`

	var fcJSON []byte
	err := p.pool.QueryRow(ctx, query, key).Scan(&fcJSON)
	if err != nil {
		if noRows(err) {
			return nil, nil // not found or expired
		}
		return nil, fmt.Errorf("postgres query failed: %w", err)
	}

	var fc api.Forecast
	if err := json.Unmarshal(fcJSON, &fc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal forecast: %w", err)
	}

	return &fc, nil
}

func (p *AtomicPostgresStore) Set(ctx context.Context, key string, fc *api.Forecast, ttl time.Duration) error {
	fcJSON, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("failed to marshal forecast: %w", err)
	}

	expiresAt := time.Now().Add(ttl)

	// ON CONFLICT DO NOTHING: atomic first-write-wins via primary key constraint
	query := `
		INSERT INTO forecast_results (cache_key, forecast, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (cache_key) DO NOTHING
	`

	_, err = p.pool.Exec(ctx, query, key, fcJSON, expiresAt)
	if err != nil {
		return fmt.Errorf("postgres insert failed: %w", err)
	}

	// Even if insert was skipped (DO NOTHING), this is success
	// The first write won, which is the desired behavior
	return nil
}

func (p *AtomicPostgresStore) Close() error {
	p.pool.Close()
	return nil
}

// CleanupExpired removes expired entries from Postgres (for maintenance cron job).
//
// This should be run periodically to prevent table bloat.
func (p *AtomicPostgresStore) CleanupExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM forecast_results WHERE expires_at <= NOW()`

	result, err := p.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}

	return result.RowsAffected(), nil
}
