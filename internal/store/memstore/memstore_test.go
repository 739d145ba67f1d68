package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokengard/gateway/internal/store"
)

func TestResolveKeyNotFound(t *testing.T) {
	s := New()
	_, err := s.ResolveKey(context.Background(), "missing-key")
	assert.Equal(t, store.ErrKeyNotFound, err)
}

func TestResolveKeySeeded(t *testing.T) {
	s := New()
	s.Seed("key-123", store.KeyRecord{
		TenantID:     "tenant-a",
		TenantScope:  "scopea",
		KeyName:      "primary",
		State:        store.KeyEnabled,
		TenantStatus: store.TenantActive,
	})

	rec, err := s.ResolveKey(context.Background(), "key-123")
	require.NoError(t, err)
	assert.Equal(t, "primary", rec.KeyName)
}

func TestTouchLastUsed(t *testing.T) {
	s := New()
	s.Seed("key-123", store.KeyRecord{State: store.KeyEnabled})
	now := time.Now()

	require.NoError(t, s.TouchLastUsed(context.Background(), "key-123", now))

	rec, err := s.ResolveKey(context.Background(), "key-123")
	require.NoError(t, err)
	assert.Equal(t, now, rec.LastUsed)
}

func TestBannedKeywordsSeedsDefaultsOnce(t *testing.T) {
	s := New()
	kws, err := s.BannedKeywords(context.Background(), "scope-a")
	require.NoError(t, err)
	assert.ElementsMatch(t, store.DefaultBannedKeywords, kws)

	require.NoError(t, s.SetBannedKeywords(context.Background(), "scope-a", []string{"Custom"}))
	kws, err = s.BannedKeywords(context.Background(), "scope-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"custom"}, kws)
}

func TestLogPutGet(t *testing.T) {
	s := New()
	rec := store.LogRecord{ProxyID: "p1", Success: true}
	require.NoError(t, s.Put(context.Background(), rec))

	got, err := s.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	_, err = s.Get(context.Background(), "missing")
	assert.Error(t, err)
}
