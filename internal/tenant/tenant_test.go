package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScopeIsStableAndSixteenHex(t *testing.T) {
	a := Scope("tenant-1")
	b := Scope("tenant-1")
	c := Scope("tenant-2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}

func TestStoreRoundTripsSettings(t *testing.T) {
	store := NewStore(2592000, 0.89)

	got := store.Get("scope-a")
	assert.Equal(t, int64(2592000), got.TTLSeconds)
	assert.Equal(t, 0.89, got.SimilarityThreshold)

	store.SetTTL("scope-a", 3600)
	store.SetSimilarityThreshold("scope-a", 0.95)

	got = store.Get("scope-a")
	assert.Equal(t, int64(3600), got.TTLSeconds)
	assert.Equal(t, 0.95, got.SimilarityThreshold)

	// a different scope never observes scope-a's writes
	other := store.Get("scope-b")
	assert.Equal(t, int64(2592000), other.TTLSeconds)
}
