// Package memstore is an in-process TenantStore/AnalyticsSink/LogStore,
// suitable for tests and single-node deployments with no external
// persistence configured.
package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tokengard/gateway/internal/store"
)

// Store is an in-memory implementation of store.TenantStore, store.LogStore,
// and store.AnalyticsSink, guarded by a single mutex (read-mostly access
// patterns don't warrant sharding at this scale).
type Store struct {
	mu sync.RWMutex

	keys     map[string]store.KeyRecord
	keywords map[string][]string
	logs     map[string]store.LogRecord
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		keys:     make(map[string]store.KeyRecord),
		keywords: make(map[string][]string),
		logs:     make(map[string]store.LogRecord),
	}
}

// Seed registers a key record directly, for tests and bootstrap data.
func (s *Store) Seed(apiKey string, rec store.KeyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[apiKey] = rec
}

func (s *Store) ResolveKey(ctx context.Context, apiKey string) (store.KeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.keys[apiKey]
	if !ok {
		return store.KeyRecord{}, store.ErrKeyNotFound
	}
	return rec, nil
}

func (s *Store) TouchLastUsed(ctx context.Context, apiKey string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.keys[apiKey]
	if !ok {
		return store.ErrKeyNotFound
	}
	rec.LastUsed = when
	s.keys[apiKey] = rec
	return nil
}

func (s *Store) BannedKeywords(ctx context.Context, tenantScope string) ([]string, error) {
	s.mu.RLock()
	existing, ok := s.keywords[tenantScope]
	s.mu.RUnlock()
	if ok {
		return existing, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.keywords[tenantScope]; ok {
		return existing, nil
	}
	seeded := make([]string, len(store.DefaultBannedKeywords))
	copy(seeded, store.DefaultBannedKeywords)
	s.keywords[tenantScope] = seeded
	return seeded, nil
}

func (s *Store) SetBannedKeywords(ctx context.Context, tenantScope string, keywords []string) error {
	lowered := make([]string, len(keywords))
	for i, kw := range keywords {
		lowered[i] = strings.ToLower(kw)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keywords[tenantScope] = lowered
	return nil
}

func (s *Store) Put(ctx context.Context, rec store.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[rec.ProxyID] = rec
	return nil
}

func (s *Store) Get(ctx context.Context, proxyID string) (store.LogRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.logs[proxyID]
	if !ok {
		return store.LogRecord{}, &store.NotFoundError{Resource: "log"}
	}
	return rec, nil
}

// LogSink is a default, dependency-free AnalyticsSink that writes through
// the process logger instead of an external pipeline.
type LogSink struct {
	Log func(store.AnalyticsRecord)
}

func (l *LogSink) Record(ctx context.Context, rec store.AnalyticsRecord) error {
	if l.Log != nil {
		l.Log(rec)
	}
	return nil
}
