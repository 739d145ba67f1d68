// Package embedding implements the EmbeddingEncoder: text → fixed-dimension
// vector. No external embedding provider is wired in (spec §1 treats the
// core as owning no ML runtime); the encoder is a deterministic hashing-
// trick bag-of-words vectorizer, loaded lazily and safe for concurrent use
// thereafter.
package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
)

// Encoder maps text to a fixed-dimension vector via the hashing trick:
// each token is hashed into one of Dimensions buckets and term counts
// accumulate there. Paraphrases sharing content words land in overlapping
// buckets and score high under cosine similarity.
type Encoder struct {
	once       sync.Once
	dimensions int
	ready      bool
	initErr    error
}

// New returns an Encoder for the given vector dimension. d must be > 0;
// the loading step itself happens lazily on first Encode call.
func New(dimensions int) *Encoder {
	return &Encoder{dimensions: dimensions}
}

func (e *Encoder) ensureLoaded() error {
	e.once.Do(func() {
		if e.dimensions <= 0 {
			e.initErr = fmt.Errorf("embedding: dimensions must be positive, got %d", e.dimensions)
			return
		}
		e.ready = true
	})
	return e.initErr
}

// Encode returns the embedding vector for text. ctx is accepted for
// interface parity with collaborators that do make network calls; this
// implementation never blocks on it.
func (e *Encoder) Encode(ctx context.Context, text string) ([]float64, error) {
	if err := e.ensureLoaded(); err != nil {
		return nil, fmt.Errorf("embedding encoder unavailable: %w", err)
	}

	vec := make([]float64, e.dimensions)
	for _, token := range tokenize(text) {
		if stopwords[token] {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		bucket := int(h.Sum32()) % e.dimensions
		if bucket < 0 {
			bucket += e.dimensions
		}
		vec[bucket]++
	}
	return vec, nil
}

// tokenize lowercases and splits on runs of non-alphanumeric characters.
func tokenize(text string) []string {
	lower := strings.ToLower(text)
	return strings.FieldsFunc(lower, func(r rune) bool {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		return !isAlnum
	})
}

// stopwords are filler/function words stripped before hashing so that
// paraphrases differing only in phrasing (not content words) hash to the
// same buckets. Content-bearing words carry the embedding's signal.
var stopwords = func() map[string]bool {
	words := []string{
		"a", "an", "the", "is", "are", "was", "were", "be", "been", "being",
		"to", "of", "in", "on", "at", "for", "and", "or", "so", "do", "does",
		"did", "it", "this", "that", "i", "me", "my", "we", "our", "you",
		"your", "can", "could", "would", "should", "will", "shall", "please",
		"just", "now", "really", "very", "actually", "permanently", "kindly",
		"thanks", "thank", "also", "with", "as", "if", "then",
	}
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}()
