// Package gateway is the RequestGateway: a chi router that decodes HTTP
// requests into orchestrator.Input, runs the coarse ambient middleware
// chain, and renders ProxyResponse back onto the wire per spec §6/§7.
package gateway

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/tokengard/gateway/internal/config"
	"github.com/tokengard/gateway/internal/orchestrator"
	"github.com/tokengard/gateway/internal/semcache"
	"github.com/tokengard/gateway/internal/store"
	"github.com/tokengard/gateway/internal/tenant"
)

// Gateway wires an Orchestrator, a Cache admin surface, and a TenantSettings
// store into an http.Handler.
type Gateway struct {
	orch     *orchestrator.Orchestrator
	cache    *semcache.Cache
	settings *tenant.Store
	tenants  store.TenantStore
	logs     store.LogStore
	cfg      *config.Config
	logger   zerolog.Logger
}

// New returns a configured Gateway.
func New(cfg *config.Config, orch *orchestrator.Orchestrator, cache *semcache.Cache, settings *tenant.Store, tenants store.TenantStore, logs store.LogStore, logger zerolog.Logger) *Gateway {
	return &Gateway{orch: orch, cache: cache, settings: settings, tenants: tenants, logs: logs, cfg: cfg, logger: logger}
}

// Router builds the chi router with the full middleware chain and all
// routes mounted, grounded on router/router.go's mounting style.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(g.logger))
	r.Use(maxBodySize(g.cfg.MaxBodyBytes))
	r.Use(newIPRateLimiter(g.logger, g.cfg.RateLimitRPM).handler)

	r.Get("/healthz", g.handleHealthz)
	r.Get("/ready", g.handleReady)

	r.Post("/proxy", g.handleProxy)
	r.Post("/v1/chat/completions", g.handleProxy)

	r.Get("/logs/{proxy_id}", g.handleGetLog)

	r.Get("/ttl/{api_key}", g.handleGetTTL)
	r.Post("/ttl/{api_key}", g.handleSetTTL)
	r.Get("/similarity/{api_key}", g.handleGetSimilarity)
	r.Post("/similarity/{api_key}", g.handleSetSimilarity)

	r.Get("/cache/stats", g.handleCacheStats)
	r.Post("/cache/invalidate/{api_key}", g.handleCacheInvalidate)
	r.Post("/cache/clear", g.handleCacheClear)

	return r
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// proxyRequestBody is the union of the plain and OpenAI-style shapes
// spec §6 accepts on POST /proxy.
type proxyRequestBody struct {
	APIKey      string                      `json:"api_key"`
	Text        string                      `json:"text"`
	Messages    []orchestrator.InputMessage `json:"messages"`
	Model       string                      `json:"model"`
	Temperature *float64                    `json:"temperature"`
	PolicyOnly  bool                        `json:"policy_only"`
}

func (g *Gateway) handleProxy(w http.ResponseWriter, r *http.Request) {
	raw, err := decodeJSONObject(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON")
		return
	}
	if raw == nil {
		writeError(w, http.StatusBadRequest, "INVALID_DATA_TYPE", "request body must be a JSON object")
		return
	}

	var body proxyRequestBody
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON")
		return
	}

	in := orchestrator.Input{
		APIKey:              body.APIKey,
		Text:                body.Text,
		Messages:            body.Messages,
		Model:               body.Model,
		Temperature:         body.Temperature,
		PolicyOnly:          body.PolicyOnly,
		HeaderAuthorization: r.Header.Get("Authorization"),
		HeaderAPIKey:        r.Header.Get("X-API-Key"),
	}

	resp := g.orch.Process(r.Context(), in, clientIP(r), r.Header.Get("User-Agent"))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Payload)
}

func (g *Gateway) handleGetLog(w http.ResponseWriter, r *http.Request) {
	proxyID := chi.URLParam(r, "proxy_id")
	apiKey := extractAPIKey(r)
	if apiKey == "" {
		writeError(w, http.StatusUnauthorized, "MISSING_API_KEY", "API key is required")
		return
	}
	rec, err := g.tenants.ResolveKey(r.Context(), apiKey)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "API_KEY_NOT_FOUND", "API key not found")
		return
	}

	logRec, err := g.logs.Get(r.Context(), proxyID)
	if err != nil {
		writeError(w, http.StatusNotFound, "LOG_NOT_FOUND", "no log entry for that proxy_id")
		return
	}
	if logRec.TenantScope != rec.TenantScope {
		writeError(w, http.StatusForbidden, "TENANT_MISMATCH", "proxy_id belongs to a different tenant")
		return
	}
	writeJSON(w, http.StatusOK, logRec)
}

func (g *Gateway) resolveScope(w http.ResponseWriter, r *http.Request) (string, bool) {
	apiKey := chi.URLParam(r, "api_key")
	rec, err := g.tenants.ResolveKey(r.Context(), apiKey)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "API_KEY_NOT_FOUND", "API key not found")
		return "", false
	}
	return rec.TenantScope, true
}

func (g *Gateway) handleGetTTL(w http.ResponseWriter, r *http.Request) {
	scope, ok := g.resolveScope(w, r)
	if !ok {
		return
	}
	settings := g.settings.Get(scope)
	writeJSON(w, http.StatusOK, map[string]int64{"ttl_seconds": settings.TTLSeconds})
}

func (g *Gateway) handleSetTTL(w http.ResponseWriter, r *http.Request) {
	scope, ok := g.resolveScope(w, r)
	if !ok {
		return
	}
	var body struct {
		TTLSeconds int64 `json:"ttl_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TTLSeconds <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_TTL", "ttl_seconds must be a positive integer")
		return
	}
	g.settings.SetTTL(scope, body.TTLSeconds)
	writeJSON(w, http.StatusOK, map[string]int64{"ttl_seconds": body.TTLSeconds})
}

func (g *Gateway) handleGetSimilarity(w http.ResponseWriter, r *http.Request) {
	scope, ok := g.resolveScope(w, r)
	if !ok {
		return
	}
	settings := g.settings.Get(scope)
	writeJSON(w, http.StatusOK, map[string]float64{"similarity_threshold": settings.SimilarityThreshold})
}

func (g *Gateway) handleSetSimilarity(w http.ResponseWriter, r *http.Request) {
	scope, ok := g.resolveScope(w, r)
	if !ok {
		return
	}
	var body struct {
		SimilarityThreshold float64 `json:"similarity_threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SimilarityThreshold < 0 || body.SimilarityThreshold > 1 {
		writeError(w, http.StatusBadRequest, "INVALID_SIMILARITY_THRESHOLD", "similarity_threshold must be between 0 and 1")
		return
	}
	g.settings.SetSimilarityThreshold(scope, body.SimilarityThreshold)
	writeJSON(w, http.StatusOK, map[string]float64{"similarity_threshold": body.SimilarityThreshold})
}

// handleCacheStats returns process-wide counters, or the per-tenant
// breakdown when the caller presents a valid API key for a tenant.
func (g *Gateway) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if apiKey := extractAPIKey(r); apiKey != "" {
		rec, err := g.tenants.ResolveKey(r.Context(), apiKey)
		if err == nil {
			writeJSON(w, http.StatusOK, g.cache.TenantStats(rec.TenantScope))
			return
		}
	}
	writeJSON(w, http.StatusOK, g.cache.Stats())
}

func (g *Gateway) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	scope, ok := g.resolveScope(w, r)
	if !ok {
		return
	}
	n := g.cache.InvalidateTenant(scope)
	writeJSON(w, http.StatusOK, map[string]int{"invalidated": n})
}

// handleCacheClear wipes the entire process-wide cache. Allowed only
// outside production, gated by a confirmation header matching the
// configured token, per spec §6's admin-surface guard.
func (g *Gateway) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if g.cfg.IsProduction() || !g.cfg.AllowCacheClear {
		writeError(w, http.StatusForbidden, "CACHE_CLEAR_FORBIDDEN", "cache clear is disabled in this environment")
		return
	}
	if g.cfg.ClearConfirmToken == "" || r.Header.Get("X-Confirm-Clear") != g.cfg.ClearConfirmToken {
		writeError(w, http.StatusForbidden, "CONFIRMATION_REQUIRED", "missing or invalid confirmation token")
		return
	}
	g.cache.Clear()
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// decodeJSONObject reads body as JSON and returns the raw bytes only if the
// root value is a JSON object. A non-nil error means the body isn't valid
// JSON at all; a nil, nil return means it parsed but the root wasn't an
// object (spec §4.5's invalid_json vs. invalid_data_type distinction).
func decodeJSONObject(body io.Reader) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, err
	}
	trimmed := trimLeadingJSONSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, nil
	}
	return raw, nil
}

func trimLeadingJSONSpace(raw json.RawMessage) json.RawMessage {
	i := 0
	for i < len(raw) && (raw[i] == ' ' || raw[i] == '\t' || raw[i] == '\n' || raw[i] == '\r') {
		i++
	}
	return raw[i:]
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		return auth[7:]
	}
	return r.Header.Get("X-API-Key")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders the `{success:false, error_code, message, data:{}}`
// envelope every non-proxy error response uses (spec §7).
func writeError(w http.ResponseWriter, status int, errorCode, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success":    false,
		"error_code": errorCode,
		"message":    message,
		"data":       map[string]interface{}{},
	})
}
