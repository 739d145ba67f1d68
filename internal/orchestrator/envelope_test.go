package orchestrator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithProxyIDReplacesExistingFieldInPlace(t *testing.T) {
	raw := json.RawMessage(`{"id":"chatcmpl-abc","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2},"proxy_id":"old-id"}`)

	out, err := withProxyID(raw, "new-id")
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "new-id", doc["proxy_id"])

	// Top-level key order must be preserved byte-for-byte; only the
	// proxy_id value's bytes should differ from the input.
	assert.Equal(t, string(raw[:len(raw)-len(`"old-id"}`)]), string(out[:len(out)-len(`"new-id"}`)]))
}

func TestWithProxyIDInsertsMissingField(t *testing.T) {
	raw := json.RawMessage(`{"id":"chatcmpl-abc","object":"chat.completion","choices":[],"usage":{}}`)

	out, err := withProxyID(raw, "fresh-id")
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "fresh-id", doc["proxy_id"])
	assert.Equal(t, "chatcmpl-abc", doc["id"])
}

func TestWithProxyIDPreservesNestedStructureUntouched(t *testing.T) {
	raw := json.RawMessage(`{"proxy_id":"old","choices":[{"message":{"role":"assistant","content":"contains a } brace and a , comma"}}],"usage":{"total_tokens":3}}`)

	out, err := withProxyID(raw, "new")
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "new", doc["proxy_id"])

	choices := doc["choices"].([]interface{})
	msg := choices[0].(map[string]interface{})["message"].(map[string]interface{})
	assert.Equal(t, "contains a } brace and a , comma", msg["content"])
}

func TestWithProxyIDRejectsNonObjectRoot(t *testing.T) {
	_, err := withProxyID(json.RawMessage(`[1,2,3]`), "id")
	assert.Error(t, err)
}
