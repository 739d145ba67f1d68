package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeIsPureFunction(t *testing.T) {
	f := Fields{TenantScope: "abc123", Text: "hello", Model: "gpt-4o", Temperature: 0.7}

	a := Compute(f)
	b := Compute(f)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestComputeDiffersOnAnyField(t *testing.T) {
	base := Fields{TenantScope: "abc123", Text: "hello", Model: "gpt-4o", Temperature: 0.7}
	baseline := Compute(base)

	variants := []Fields{
		{TenantScope: "zzz999", Text: "hello", Model: "gpt-4o", Temperature: 0.7},
		{TenantScope: "abc123", Text: "goodbye", Model: "gpt-4o", Temperature: 0.7},
		{TenantScope: "abc123", Text: "hello", Model: "claude", Temperature: 0.7},
		{TenantScope: "abc123", Text: "hello", Model: "gpt-4o", Temperature: 0.9},
	}
	for _, v := range variants {
		assert.NotEqual(t, baseline, Compute(v))
	}
}

func TestComputeHandlesUnicodeAndControlChars(t *testing.T) {
	f := Fields{TenantScope: "abc", Text: "héllo ✓ line1\nline2\t\"quoted\"", Model: "m", Temperature: 0}
	assert.NotPanics(t, func() { Compute(f) })
}
