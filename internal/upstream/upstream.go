// Package upstream is the external-collaborator seam the Orchestrator
// invokes on cache miss: one request maps to at most one upstream call.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Request carries the normalized fields the Orchestrator forwards upstream.
type Request struct {
	Text        string
	Model       string
	Temperature float64
}

// Reply is the upstream's normalized chat-completion reply.
type Reply struct {
	Raw              json.RawMessage
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ErrorKind classifies an upstream failure so the Orchestrator can
// synthesize the spec §7 human-readable reason.
type ErrorKind string

const (
	ErrorAuth       ErrorKind = "auth"
	ErrorRateLimit  ErrorKind = "rate_limit"
	ErrorServer     ErrorKind = "server"
	ErrorCancelled  ErrorKind = "cancelled"
	ErrorDeadline   ErrorKind = "deadline"
	ErrorOther      ErrorKind = "other"
)

// Error wraps an upstream failure with its classification.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Reason renders the human-readable reason spec §7 calls for.
func (e *Error) Reason() string {
	switch e.Kind {
	case ErrorAuth:
		return "provider authentication failed"
	case ErrorRateLimit:
		return "provider rate limit exceeded"
	case ErrorServer:
		return "provider service error"
	case ErrorCancelled:
		return "cancelled"
	case ErrorDeadline:
		return "deadline"
	default:
		return e.Message
	}
}

// Client is the capability handle the Orchestrator calls on cache miss.
type Client interface {
	Complete(ctx context.Context, req Request) (Reply, error)
}

// Registry keeps the teacher's multi-provider pattern alive as an
// extension point without widening the Orchestrator's "at most one
// upstream call" contract: it resolves one Client per request by model
// prefix, same as the single call site would resolve a bare Client.
type Registry struct {
	clients map[string]Client
	fallback Client
}

// NewRegistry returns a Registry that falls back to the given Client when
// no model-prefix match is registered.
func NewRegistry(fallback Client) *Registry {
	return &Registry{clients: make(map[string]Client), fallback: fallback}
}

// Register associates a model-name prefix with a Client.
func (r *Registry) Register(modelPrefix string, c Client) {
	r.clients[strings.ToLower(modelPrefix)] = c
}

// Resolve returns the Client registered for model's prefix, or the
// fallback if none matches.
func (r *Registry) Resolve(model string) Client {
	m := strings.ToLower(model)
	for prefix, c := range r.clients {
		if strings.HasPrefix(m, prefix) {
			return c
		}
	}
	return r.fallback
}

// HTTPClient is an OpenAI-compatible /v1/chat/completions implementation.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient returns a Client targeting baseURL with the given bearer key.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type chatRequestBody struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponseBody struct {
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends one non-streaming chat completion request.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (Reply, error) {
	body := chatRequestBody{
		Model:       req.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Text}},
		Temperature: req.Temperature,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Reply{}, &Error{Kind: ErrorOther, Message: "marshal upstream request: " + err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return Reply{}, &Error{Kind: ErrorOther, Message: "create upstream request: " + err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return Reply{}, &Error{Kind: ErrorCancelled, Message: "request cancelled"}
		}
		if ctx.Err() == context.DeadlineExceeded {
			return Reply{}, &Error{Kind: ErrorDeadline, Message: "deadline exceeded"}
		}
		return Reply{}, &Error{Kind: ErrorOther, Message: "upstream request failed: " + err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{}, &Error{Kind: ErrorOther, Message: "reading upstream response: " + err.Error()}
	}

	if resp.StatusCode >= 400 {
		return Reply{}, classifyStatus(resp.StatusCode, raw)
	}

	var parsed chatResponseBody
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Reply{}, &Error{Kind: ErrorOther, Message: "decoding upstream response: " + err.Error()}
	}

	return Reply{
		Raw:              raw,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
	}, nil
}

func classifyStatus(status int, body []byte) *Error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Kind: ErrorAuth, Message: "upstream returned " + strconv.Itoa(status) + ": " + string(body)}
	case status == http.StatusTooManyRequests:
		return &Error{Kind: ErrorRateLimit, Message: "upstream returned 429: " + string(body)}
	case status >= 500:
		return &Error{Kind: ErrorServer, Message: fmt.Sprintf("upstream returned %d: %s", status, body)}
	default:
		return &Error{Kind: ErrorOther, Message: fmt.Sprintf("upstream returned %d: %s", status, body)}
	}
}
