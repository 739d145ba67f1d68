// Package redisstore backs the external-collaborator interfaces with Redis,
// JSON-encoding each record the way a small cache-aside blob store would.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tokengard/gateway/internal/config"
	"github.com/tokengard/gateway/internal/store"
)

// Store is a Redis-backed TenantStore, AnalyticsSink, and LogStore.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New parses cfg.RedisURL and returns a connected Store.
func New(cfg *config.Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return &Store{client: redis.NewClient(opts), ttl: 0}, nil
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func keyRecordKey(apiKey string) string  { return "gw:key:" + apiKey }
func keywordsKey(scope string) string    { return "gw:keywords:" + scope }
func logKey(proxyID string) string       { return "gw:log:" + proxyID }
func analyticsStreamKey() string         { return "gw:analytics" }

func (s *Store) ResolveKey(ctx context.Context, apiKey string) (store.KeyRecord, error) {
	raw, err := s.client.Get(ctx, keyRecordKey(apiKey)).Bytes()
	if err == redis.Nil {
		return store.KeyRecord{}, store.ErrKeyNotFound
	}
	if err != nil {
		return store.KeyRecord{}, fmt.Errorf("redis get key record: %w", err)
	}
	var rec store.KeyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return store.KeyRecord{}, fmt.Errorf("decoding key record: %w", err)
	}
	return rec, nil
}

// PutKey writes a key record, for admin/bootstrap use.
func (s *Store) PutKey(ctx context.Context, apiKey string, rec store.KeyRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keyRecordKey(apiKey), raw, 0).Err()
}

func (s *Store) TouchLastUsed(ctx context.Context, apiKey string, when time.Time) error {
	rec, err := s.ResolveKey(ctx, apiKey)
	if err != nil {
		return err
	}
	rec.LastUsed = when
	return s.PutKey(ctx, apiKey, rec)
}

func (s *Store) BannedKeywords(ctx context.Context, tenantScope string) ([]string, error) {
	raw, err := s.client.Get(ctx, keywordsKey(tenantScope)).Bytes()
	if err == redis.Nil {
		seeded := make([]string, len(store.DefaultBannedKeywords))
		copy(seeded, store.DefaultBannedKeywords)
		if setErr := s.SetBannedKeywords(ctx, tenantScope, seeded); setErr != nil {
			return nil, setErr
		}
		return seeded, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get banned keywords: %w", err)
	}
	var kws []string
	if err := json.Unmarshal(raw, &kws); err != nil {
		return nil, fmt.Errorf("decoding banned keywords: %w", err)
	}
	return kws, nil
}

func (s *Store) SetBannedKeywords(ctx context.Context, tenantScope string, keywords []string) error {
	lowered := make([]string, len(keywords))
	for i, kw := range keywords {
		lowered[i] = strings.ToLower(kw)
	}
	raw, err := json.Marshal(lowered)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keywordsKey(tenantScope), raw, 0).Err()
}

func (s *Store) Put(ctx context.Context, rec store.LogRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, logKey(rec.ProxyID), raw, 30*24*time.Hour).Err()
}

func (s *Store) Get(ctx context.Context, proxyID string) (store.LogRecord, error) {
	raw, err := s.client.Get(ctx, logKey(proxyID)).Bytes()
	if err == redis.Nil {
		return store.LogRecord{}, &store.NotFoundError{Resource: "log"}
	}
	if err != nil {
		return store.LogRecord{}, fmt.Errorf("redis get log: %w", err)
	}
	var rec store.LogRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return store.LogRecord{}, fmt.Errorf("decoding log record: %w", err)
	}
	return rec, nil
}

// Record appends one analytics row to a capped Redis stream so a
// downstream rollup job can consume it independently of request latency.
func (s *Store) Record(ctx context.Context, rec store.AnalyticsRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: analyticsStreamKey(),
		MaxLen: 100000,
		Approx: true,
		Values: map[string]interface{}{"record": raw},
	}).Err()
}
