package semcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarityZeroNorm(t *testing.T) {
	assert.Equal(t, -1.0, CosineSimilarity([]float64{0, 0, 0}, []float64{1, 2, 3}))
	assert.Equal(t, -1.0, CosineSimilarity([]float64{}, []float64{}))
	assert.Equal(t, -1.0, CosineSimilarity([]float64{1}, []float64{1, 2}))
}

func TestCosineSimilarityIdentical(t *testing.T) {
	v := []float64{1, 2, 3}
	assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
}

func TestPutThenLookupHits(t *testing.T) {
	c := New(10)
	emb := []float64{1, 0, 0}
	require.True(t, c.Put("scope-a", "fp1", "hello", emb, []byte("resp"), 60))

	result := c.SemanticLookup("scope-a", emb, 0.89)
	require.True(t, result.Hit)
	assert.InDelta(t, 1.0, result.Similarity, 1e-9)
	assert.Equal(t, "fp1", result.Entry.Key)
}

func TestLookupMissesBelowThreshold(t *testing.T) {
	c := New(10)
	c.Put("scope-a", "fp1", "hello", []float64{1, 0, 0}, []byte("resp"), 60)

	result := c.SemanticLookup("scope-a", []float64{0, 1, 0}, 0.89)
	assert.False(t, result.Hit)
	assert.Equal(t, 1, result.CandidateCount)
}

func TestTenantIsolation(t *testing.T) {
	c := New(10)
	emb := []float64{1, 0, 0}
	c.Put("tenant-a", "fp1", "hello", emb, []byte("resp"), 60)

	result := c.SemanticLookup("tenant-b", emb, 0.89)
	assert.False(t, result.Hit)
	assert.Equal(t, 0, result.CandidateCount)
}

func TestExpiredEntrySkippedDuringLookup(t *testing.T) {
	c := New(10)
	emb := []float64{1, 0, 0}
	c.Put("scope-a", "fp1", "hello", emb, []byte("resp"), 1)

	entry := c.entries["fp1"]
	entry.CreatedAt = time.Now().Add(-2 * time.Second)

	result := c.SemanticLookup("scope-a", emb, 0.89)
	assert.False(t, result.Hit)
	assert.Equal(t, 0, result.CandidateCount)
}

func TestEvictionAtMaxSizeRemovesExactlyOne(t *testing.T) {
	c := New(3)
	for i, fp := range []string{"fp1", "fp2", "fp3"} {
		c.Put("scope-a", fp, "text", []float64{float64(i + 1), 0, 0}, []byte("r"), 60)
	}
	require.Equal(t, 3, c.Stats().Size)

	c.Put("scope-a", "fp4", "text4", []float64{4, 0, 0}, []byte("r4"), 60)

	stats := c.Stats()
	assert.Equal(t, 3, stats.Size)
	assert.Equal(t, int64(1), stats.Evictions)
}

func TestNoTwoEntriesShareFingerprint(t *testing.T) {
	c := New(10)
	c.Put("scope-a", "fp1", "v1", []float64{1, 0, 0}, []byte("r1"), 60)
	c.Put("scope-a", "fp1", "v2", []float64{0, 1, 0}, []byte("r2"), 60)

	assert.Equal(t, 1, c.Stats().Size)
	assert.Equal(t, "v2", c.entries["fp1"].PromptText)
}

func TestInvalidateTenantRemovesOnlyThatTenant(t *testing.T) {
	c := New(10)
	c.Put("tenant-a", "fp1", "a", []float64{1, 0, 0}, []byte("r"), 60)
	c.Put("tenant-b", "fp2", "b", []float64{1, 0, 0}, []byte("r"), 60)

	removed := c.InvalidateTenant("tenant-a")
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Stats().Size)
	assert.Equal(t, 0, c.TenantStats("tenant-a").Entries)
	assert.Equal(t, 1, c.TenantStats("tenant-b").Entries)
}

func TestAccessIncrementsMonotonically(t *testing.T) {
	c := New(10)
	c.Put("scope-a", "fp1", "hello", []float64{1, 0, 0}, []byte("r"), 60)
	entry := c.entries["fp1"]

	c.Access(entry)
	c.Access(entry)

	assert.Equal(t, int64(2), entry.AccessCount)
}

func TestClearResetsEverything(t *testing.T) {
	c := New(10)
	c.Put("scope-a", "fp1", "hello", []float64{1, 0, 0}, []byte("r"), 60)
	c.Clear()
	assert.Equal(t, 0, c.Stats().Size)
}

func TestPutRejectsNonPositiveTTL(t *testing.T) {
	c := New(10)
	assert.False(t, c.Put("scope-a", "fp1", "hello", []float64{1, 0, 0}, []byte("r"), 0))
	assert.Equal(t, 0, c.Stats().Size)
}
