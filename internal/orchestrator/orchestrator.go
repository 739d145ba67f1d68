// Package orchestrator drives the per-request pipeline: PolicyEngine →
// SemanticCache → UpstreamClient, emitting exactly one log record and one
// analytics record per terminal state.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tokengard/gateway/internal/fingerprint"
	"github.com/tokengard/gateway/internal/policyengine"
	"github.com/tokengard/gateway/internal/semcache"
	"github.com/tokengard/gateway/internal/store"
	"github.com/tokengard/gateway/internal/tenant"
	"github.com/tokengard/gateway/internal/upstream"
)

const (
	defaultModel       = "gpt-4o"
	defaultTemperature = 0.7
)

// ResultKind is the top-level disposition reported on ProxyResponse.
type ResultKind string

const (
	KindOK               ResultKind = "ok"
	KindAuthFailed       ResultKind = "auth_failed"
	KindContentBlocked   ResultKind = "content_blocked"
	KindValidationFailed ResultKind = "validation_failed"
	KindUpstreamError    ResultKind = "upstream_error"
	KindInternalError    ResultKind = "internal_error"
)

// InputMessage is one normalized input message, e.g. from an OpenAI-style
// chat body the gateway layer decoded.
type InputMessage struct {
	Role    string
	Content string
}

// Input is the normalized request the Orchestrator consumes; the gateway
// layer is responsible for JSON decoding into this shape.
type Input struct {
	APIKey      string
	Text        string
	Messages    []InputMessage
	Model       string
	Temperature *float64
	PolicyOnly  bool

	HeaderAuthorization string
	HeaderAPIKey        string
}

// Normalize applies spec §4.4's input normalization: deriving text from
// messages, falling back to header-carried API keys, and filling defaults.
func Normalize(in Input) Input {
	out := in

	if out.APIKey == "" {
		if bearer := strings.TrimSpace(out.HeaderAuthorization); bearer != "" {
			lower := strings.ToLower(bearer)
			if strings.HasPrefix(lower, "bearer ") {
				out.APIKey = strings.TrimSpace(bearer[len("bearer "):])
			}
		}
	}
	if out.APIKey == "" {
		out.APIKey = strings.TrimSpace(out.HeaderAPIKey)
	}

	if out.Text == "" && len(out.Messages) > 0 {
		var lines []string
		for _, m := range out.Messages {
			if m.Role == "user" {
				lines = append(lines, m.Content)
			}
		}
		out.Text = strings.Join(lines, "\n")
	}

	if out.Model == "" {
		out.Model = defaultModel
	}
	if out.Temperature == nil {
		t := defaultTemperature
		out.Temperature = &t
	}
	return out
}

// ProxyResponse is the core-level response the RequestGateway renders.
type ProxyResponse struct {
	Success    bool
	StatusCode int
	Kind       ResultKind
	ErrorCode  string
	Payload    json.RawMessage
	ProxyID    string
	FromCache  bool
	Similarity float64
	HasSimilarity bool
}

// PolicyChecker is the capability handle the Orchestrator calls first.
type PolicyChecker interface {
	Check(ctx context.Context, apiKey, text, clientIP string) policyengine.Result
}

// CacheEngine is the capability handle over the semantic cache.
type CacheEngine interface {
	SemanticLookup(tenantScope string, queryEmbedding []float64, threshold float64) semcache.LookupResult
	Put(tenantScope, fingerprint, promptText string, embedding []float64, response []byte, ttlSeconds int64) bool
	Access(entry *semcache.Entry)
}

// Embedder is the capability handle over the EmbeddingEncoder.
type Embedder interface {
	Encode(ctx context.Context, text string) ([]float64, error)
}

// UpstreamCaller is the capability handle over the upstream LLM provider.
type UpstreamCaller interface {
	Complete(ctx context.Context, req upstream.Request) (upstream.Reply, error)
}

// SettingsStore is the capability handle over per-tenant cache settings.
type SettingsStore interface {
	Get(scope string) tenant.Settings
}

// Orchestrator binds the five injected capabilities into the per-request
// pipeline described by spec §4.4.
type Orchestrator struct {
	Policy    PolicyChecker
	Cache     CacheEngine
	Embedder  Embedder
	Upstream  UpstreamCaller
	Settings  SettingsStore
	Tenants   store.TenantStore
	Analytics store.AnalyticsSink
	Logs      store.LogStore
	Logger    zerolog.Logger
}

// Process runs the full state machine for one request and returns exactly
// once, having already emitted the terminal log and analytics records.
func (o *Orchestrator) Process(ctx context.Context, in Input, clientIP, userAgent string) ProxyResponse {
	proxyID := uuid.New().String()
	t0 := time.Now()

	in = Normalize(in)
	maskedKey := maskKey(in.APIKey)

	o.Logger.Info().
		Str("proxy_id", proxyID).
		Str("client_ip", clientIP).
		Str("api_key_tail", maskedKey).
		Str("model", in.Model).
		Msg("proxy request received")

	policyResult := o.Policy.Check(ctx, in.APIKey, in.Text, clientIP)
	if !policyResult.Passed {
		resp := o.synthesizeFailure(proxyID, in.Model, policyKind(policyResult.Kind), policyResult.Kind.HTTPStatus(), policyResult.Kind.ErrorCode(), policyResult.Message)
		o.finish(ctx, proxyID, "", "", in, clientIP, userAgent, t0, resp, false, 0)
		return resp
	}

	tenantScope := policyResult.Details.TenantScope
	keyName := policyResult.Details.KeyName

	if in.PolicyOnly {
		resp := o.policyOnlyResponse(proxyID, in.Model)
		o.finish(ctx, proxyID, tenantScope, keyName, in, clientIP, userAgent, t0, resp, false, 0)
		return resp
	}

	fp := fingerprint.Compute(fingerprint.Fields{
		TenantScope: tenantScope,
		Text:        in.Text,
		Model:       in.Model,
		Temperature: *in.Temperature,
	})

	embedding, err := o.Embedder.Encode(ctx, in.Text)
	if err != nil {
		o.Logger.Error().Err(err).Str("proxy_id", proxyID).Msg("embedding encoder unavailable")
		resp := o.synthesizeFailure(proxyID, in.Model, KindInternalError, 500, "INTERNAL_SERVER_ERROR", "embedding encoder unavailable")
		o.finish(ctx, proxyID, tenantScope, keyName, in, clientIP, userAgent, t0, resp, false, 0)
		return resp
	}

	settings := o.Settings.Get(tenantScope)
	lookup := o.Cache.SemanticLookup(tenantScope, embedding, settings.SimilarityThreshold)

	if lookup.Hit {
		o.Cache.Access(lookup.Entry)
		payload, err := withProxyID(lookup.Entry.Response, proxyID)
		if err != nil {
			o.Logger.Warn().Err(err).Str("proxy_id", proxyID).Msg("failed to stamp cached payload, treating as miss")
		} else {
			resp := ProxyResponse{
				Success:       true,
				StatusCode:    200,
				Kind:          KindOK,
				Payload:       payload,
				ProxyID:       proxyID,
				FromCache:     true,
				Similarity:    lookup.Similarity,
				HasSimilarity: true,
			}
			o.finish(ctx, proxyID, tenantScope, keyName, in, clientIP, userAgent, t0, resp, true, lookup.Similarity)
			return resp
		}
	}

	reply, err := o.Upstream.Complete(ctx, upstream.Request{Text: in.Text, Model: in.Model, Temperature: *in.Temperature})
	if err != nil {
		reason := reasonFor(err)
		o.Logger.Warn().Err(err).Str("proxy_id", proxyID).Str("reason", reason).Msg("upstream call failed")
		resp := o.synthesizeFailure(proxyID, in.Model, KindUpstreamError, 500, "UPSTREAM_ERROR", reason)
		o.finish(ctx, proxyID, tenantScope, keyName, in, clientIP, userAgent, t0, resp, false, 0)
		return resp
	}

	if ok := o.Cache.Put(tenantScope, fp, in.Text, embedding, reply.Raw, settings.TTLSeconds); !ok {
		o.Logger.Warn().Str("proxy_id", proxyID).Msg("cache write failed, ignoring")
	}

	if err := o.Tenants.TouchLastUsed(ctx, in.APIKey, time.Now()); err != nil {
		o.Logger.Debug().Err(err).Str("proxy_id", proxyID).Msg("best-effort last_used update failed")
	}

	payload, err := withProxyID(reply.Raw, proxyID)
	if err != nil {
		o.Logger.Error().Err(err).Str("proxy_id", proxyID).Msg("failed to stamp upstream payload")
		resp := o.synthesizeFailure(proxyID, in.Model, KindInternalError, 500, "INTERNAL_SERVER_ERROR", "malformed upstream payload")
		o.finish(ctx, proxyID, tenantScope, keyName, in, clientIP, userAgent, t0, resp, false, 0)
		return resp
	}

	resp := ProxyResponse{
		Success:    true,
		StatusCode: 200,
		Kind:       KindOK,
		Payload:    payload,
		ProxyID:    proxyID,
		FromCache:  false,
	}
	o.finish(ctx, proxyID, tenantScope, keyName, in, clientIP, userAgent, t0, resp, false, 0)
	return resp
}

// finish emits the terminal log record and, asynchronously, the analytics
// record. Both are best-effort; failures are logged, never surfaced.
func (o *Orchestrator) finish(ctx context.Context, proxyID, tenantScope, keyName string, in Input, clientIP, userAgent string, t0 time.Time, resp ProxyResponse, fromCache bool, similarity float64) {
	elapsed := time.Since(t0)

	rec := store.LogRecord{
		ProxyID:          proxyID,
		TenantScope:       tenantScope,
		APIKeyName:       keyName,
		Endpoint:         "/proxy",
		Model:            in.Model,
		Temperature:      derefTemp(in.Temperature),
		FromCache:        fromCache,
		Similarity:       similarity,
		Success:          resp.Success,
		StatusCode:       resp.StatusCode,
		ErrorCode:        errorCodeFor(resp),
		Kind:             string(resp.Kind),
		ClientIP:         clientIP,
		UserAgent:        userAgent,
		ProcessingTimeMs: elapsed.Milliseconds(),
		CreatedAt:        time.Now(),
	}
	if err := o.Logs.Put(ctx, rec); err != nil {
		o.Logger.Warn().Err(err).Str("proxy_id", proxyID).Msg("failed to persist log record")
	}

	analyticsRec := store.AnalyticsRecord{
		ProxyID:          proxyID,
		TenantScope:      tenantScope,
		APIKeyName:       keyName,
		Model:            in.Model,
		Temperature:      derefTemp(in.Temperature),
		CacheHit:         fromCache,
		Success:          resp.Success,
		StatusCode:       resp.StatusCode,
		ErrorCode:        errorCodeFor(resp),
		ProcessingTimeMs: elapsed.Milliseconds(),
		ClientIP:         clientIP,
		UserAgent:        userAgent,
		CreatedAt:        time.Now(),
	}
	go func() {
		if err := o.Analytics.Record(context.Background(), analyticsRec); err != nil {
			o.Logger.Warn().Err(err).Str("proxy_id", proxyID).Msg("failed to record analytics")
		}
	}()

	o.Logger.Info().
		Str("proxy_id", proxyID).
		Bool("success", resp.Success).
		Int("status_code", resp.StatusCode).
		Str("kind", string(resp.Kind)).
		Dur("processing_time", elapsed).
		Msg("proxy request completed")
}

func (o *Orchestrator) synthesizeFailure(proxyID, model string, kind ResultKind, status int, errorCode, reason string) ProxyResponse {
	body := ChatCompletion{
		ID:      "chatcmpl-" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{{
			Index:        0,
			Message:      errorMessage(reason, errorCode),
			FinishReason: "stop",
		}},
		Usage:   Usage{},
		ProxyID: proxyID,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		raw = []byte(fmt.Sprintf(`{"proxy_id":%q}`, proxyID))
	}
	return ProxyResponse{
		Success:    false,
		StatusCode: status,
		Kind:       kind,
		ErrorCode:  errorCode,
		Payload:    raw,
		ProxyID:    proxyID,
	}
}

func (o *Orchestrator) policyOnlyResponse(proxyID, model string) ProxyResponse {
	body := ChatCompletion{
		ID:      "chatcmpl-" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{{
			Index:        0,
			Message:      Message{Role: "assistant", Content: "Policy check passed."},
			FinishReason: "stop",
		}},
		Usage:   Usage{},
		ProxyID: proxyID,
	}
	raw, _ := json.Marshal(body)
	return ProxyResponse{Success: true, StatusCode: 200, Kind: KindOK, Payload: raw, ProxyID: proxyID}
}

// errorMessage builds the assistant message for a synthetic error reply,
// per spec §4.4.a's "Proxy error (<KIND>): <reason>" shape.
func errorMessage(reason, errorCode string) Message {
	return Message{Role: "assistant", Content: fmt.Sprintf("Proxy error (%s): %s", errorCode, reason)}
}

func policyKind(k policyengine.Kind) ResultKind {
	switch k {
	case policyengine.KindAPIKeyNotFound, policyengine.KindAPIKeyInactive, policyengine.KindUserAccountInactive:
		return KindAuthFailed
	case policyengine.KindBannedKeyword, policyengine.KindExternalAPIBlocked:
		return KindContentBlocked
	case policyengine.KindTextTooLong, policyengine.KindMissingAPIKey,
		policyengine.KindInvalidKeyFormat, policyengine.KindInvalidKeyChars:
		return KindValidationFailed
	default:
		return KindInternalError
	}
}

func reasonFor(err error) string {
	if upErr, ok := err.(*upstream.Error); ok {
		return upErr.Reason()
	}
	return err.Error()
}

func errorCodeFor(resp ProxyResponse) string {
	return resp.ErrorCode
}

func derefTemp(t *float64) float64 {
	if t == nil {
		return defaultTemperature
	}
	return *t
}

func maskKey(apiKey string) string {
	if len(apiKey) <= 4 {
		return apiKey
	}
	return apiKey[len(apiKey)-4:]
}
