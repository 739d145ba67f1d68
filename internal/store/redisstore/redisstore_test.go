//go:build integration
// +build integration

package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokengard/gateway/internal/config"
	"github.com/tokengard/gateway/internal/store"
)

// newTestStore connects to a local Redis instance. Skipped outside of an
// environment where one is actually running (see the `integration` build
// tag), same convention the developer-mesh example uses for tests that
// need a real backing service instead of a fake.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	cfg := &config.Config{RedisURL: "redis://127.0.0.1:6379/15"}
	s, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		t.Skipf("no reachable redis instance: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestResolveKeyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := store.KeyRecord{
		TenantID: "tenant-x", TenantScope: "scopeX", KeyName: "primary",
		State: store.KeyEnabled, TenantStatus: store.TenantActive,
	}
	require.NoError(t, s.PutKey(ctx, "redis-test-key-0001", rec))

	got, err := s.ResolveKey(ctx, "redis-test-key-0001")
	require.NoError(t, err)
	assert.Equal(t, rec.TenantScope, got.TenantScope)
	assert.Equal(t, rec.KeyName, got.KeyName)
}

func TestResolveKeyNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ResolveKey(context.Background(), "nonexistent-redis-key")
	assert.Equal(t, store.ErrKeyNotFound, err)
}

func TestBannedKeywordsSeedsDefaultsOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	kws, err := s.BannedKeywords(ctx, "scopeY")
	require.NoError(t, err)
	assert.ElementsMatch(t, store.DefaultBannedKeywords, kws)

	require.NoError(t, s.SetBannedKeywords(ctx, "scopeY", []string{"CUSTOM"}))
	kws, err = s.BannedKeywords(ctx, "scopeY")
	require.NoError(t, err)
	assert.Equal(t, []string{"custom"}, kws)
}

func TestLogPutGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := store.LogRecord{ProxyID: "proxy-redis-1", Model: "gpt-4o", Success: true, StatusCode: 200}
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, "proxy-redis-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Model, got.Model)
}

func TestRecordAppendsToStream(t *testing.T) {
	s := newTestStore(t)
	err := s.Record(context.Background(), store.AnalyticsRecord{ProxyID: "proxy-redis-2", Model: "gpt-4o"})
	assert.NoError(t, err)
}
