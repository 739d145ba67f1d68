// Package policyengine validates API keys and scans request text for
// banned keywords and content-heuristic violations, short-circuiting on
// the first failure.
package policyengine

import (
	"context"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/tokengard/gateway/internal/store"
	"github.com/tokengard/gateway/internal/tenant"
)

// Kind identifies a policy outcome, success or failure.
type Kind string

const (
	KindOK                  Kind = "ok"
	KindMissingAPIKey       Kind = "missing_api_key"
	KindInvalidKeyFormat    Kind = "invalid_api_key_format"
	KindInvalidKeyChars     Kind = "invalid_api_key_chars"
	KindAPIKeyNotFound      Kind = "api_key_not_found"
	KindAPIKeyInactive      Kind = "api_key_inactive"
	KindUserAccountInactive Kind = "user_account_inactive"
	KindBannedKeyword       Kind = "banned_keyword"
	KindTextTooLong         Kind = "text_too_long"
	KindExternalAPIBlocked  Kind = "external_api_blocked"
	KindEngineError         Kind = "policy_check_error"
)

// ErrorCode returns the stable SCREAMING_SNAKE identifier for a failure
// Kind, per spec §7's taxonomy.
func (k Kind) ErrorCode() string {
	switch k {
	case KindMissingAPIKey:
		return "MISSING_API_KEY"
	case KindInvalidKeyFormat:
		return "INVALID_API_KEY_FORMAT"
	case KindInvalidKeyChars:
		return "INVALID_API_KEY_CHARS"
	case KindAPIKeyNotFound:
		return "API_KEY_NOT_FOUND"
	case KindAPIKeyInactive:
		return "API_KEY_INACTIVE"
	case KindUserAccountInactive:
		return "USER_ACCOUNT_INACTIVE"
	case KindBannedKeyword:
		return "BANNED_KEYWORD"
	case KindTextTooLong:
		return "TEXT_TOO_LONG"
	case KindExternalAPIBlocked:
		return "EXTERNAL_API_BLOCKED"
	default:
		return "INTERNAL_SERVER_ERROR"
	}
}

// HTTPStatus maps a failure Kind to its response status, per spec §4.3.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindOK:
		return http.StatusOK
	case KindAPIKeyNotFound, KindAPIKeyInactive, KindUserAccountInactive:
		return http.StatusUnauthorized
	case KindBannedKeyword, KindTextTooLong, KindExternalAPIBlocked,
		KindInvalidKeyFormat, KindInvalidKeyChars, KindMissingAPIKey:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

const (
	minKeyLength = 10
	maxKeyLength = 200
	maxTextChars = 10000
	// repetitionMinTokens is the smallest token count the repetition
	// heuristic applies to; spec §8's boundary behavior requires exactly
	// 10 tokens to never trigger regardless of composition.
	repetitionMinTokens   = 11
	repetitionMaxFraction = 0.3
)

var suspiciousKeyChars = []rune{'<', '>', '"', '\'', '&', ';', '(', ')'}

// Details carries the resolved handles a passing check returns so callers
// don't need to re-query the tenant store.
type Details struct {
	KeyRecord      store.KeyRecord
	TenantScope    string
	KeyName        string
	TextLength     int
	MatchedKeyword string
}

// Result is the outcome of running the pipeline.
type Result struct {
	Passed  bool
	Kind    Kind
	Message string
	Details Details
}

// Engine runs the PolicyEngine pipeline against a TenantStore.
type Engine struct {
	store  store.TenantStore
	logger zerolog.Logger
}

// New returns an Engine backed by the given tenant store.
func New(tenantStore store.TenantStore, logger zerolog.Logger) *Engine {
	return &Engine{store: tenantStore, logger: logger.With().Str("component", "policy_engine").Logger()}
}

// Check runs the full pipeline for (apiKey, text), short-circuiting on the
// first failing stage.
func (e *Engine) Check(ctx context.Context, apiKey, text, clientIP string) Result {
	if r, ok := e.checkKeySyntax(apiKey, clientIP); !ok {
		return r
	}

	trimmed := strings.TrimSpace(apiKey)
	rec, err := e.store.ResolveKey(ctx, trimmed)
	if err != nil {
		e.logger.Warn().Str("client_ip", clientIP).Msg("api key not found")
		return fail(KindAPIKeyNotFound, "API key not found.")
	}
	if rec.State != store.KeyEnabled {
		e.logger.Warn().Str("client_ip", clientIP).Str("key_name", rec.KeyName).Msg("inactive api key used")
		return fail(KindAPIKeyInactive, "API key is inactive.")
	}
	if rec.TenantStatus != store.TenantActive {
		e.logger.Warn().Str("client_ip", clientIP).Str("tenant_id", rec.TenantID).Msg("inactive tenant account")
		return fail(KindUserAccountInactive, "Tenant account is inactive.")
	}

	scope := rec.TenantScope
	if scope == "" {
		scope = tenant.Scope(rec.TenantID)
	}

	details := Details{KeyRecord: rec, TenantScope: scope, KeyName: rec.KeyName, TextLength: len(text)}

	if text == "" {
		return Result{Passed: true, Kind: KindOK, Message: "All policy checks passed.", Details: details}
	}

	if r, ok := e.checkBannedKeywords(ctx, scope, text, clientIP); !ok {
		r.Details.KeyRecord, r.Details.TenantScope, r.Details.KeyName = rec, scope, rec.KeyName
		return r
	}

	if r, ok := checkContentHeuristics(text, clientIP); !ok {
		r.Details.KeyRecord, r.Details.TenantScope, r.Details.KeyName = rec, scope, rec.KeyName
		return r
	}

	return Result{Passed: true, Kind: KindOK, Message: "All policy checks passed.", Details: details}
}

func (e *Engine) checkKeySyntax(apiKey, clientIP string) (Result, bool) {
	if apiKey == "" {
		e.logger.Warn().Str("client_ip", clientIP).Msg("missing api key")
		return fail(KindMissingAPIKey, "API key is required."), false
	}
	trimmed := strings.TrimSpace(apiKey)
	if len(trimmed) < minKeyLength || len(trimmed) > maxKeyLength {
		e.logger.Warn().Str("client_ip", clientIP).Int("length", len(trimmed)).Msg("invalid api key length")
		return fail(KindInvalidKeyFormat, "API key format is invalid."), false
	}
	for _, c := range suspiciousKeyChars {
		if strings.ContainsRune(trimmed, c) {
			e.logger.Warn().Str("client_ip", clientIP).Msg("suspicious api key characters")
			return fail(KindInvalidKeyChars, "API key contains invalid characters."), false
		}
	}
	return Result{}, true
}

func (e *Engine) checkBannedKeywords(ctx context.Context, tenantScope, text, clientIP string) (Result, bool) {
	keywords, err := e.store.BannedKeywords(ctx, tenantScope)
	if err != nil {
		e.logger.Error().Err(err).Msg("error checking banned keywords")
		return fail(KindEngineError, "Keyword validation failed."), false
	}
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, kw) {
			e.logger.Info().Str("client_ip", clientIP).Str("banned_keyword", kw).Msg("banned keyword detected")
			r := fail(KindBannedKeyword, "Content contains banned keyword: "+kw)
			r.Details.MatchedKeyword = kw
			return r, false
		}
	}
	return Result{}, true
}

// checkContentHeuristics applies the length and repetition checks that
// stand in for a pluggable external moderator (spec §4.3's step 6).
func checkContentHeuristics(text, clientIP string) (Result, bool) {
	if utf8.RuneCountInString(text) > maxTextChars {
		return fail(KindTextTooLong, "Text content too long. Maximum 10,000 characters allowed."), false
	}

	words := strings.Fields(strings.ToLower(text))
	if len(words) >= repetitionMinTokens {
		counts := make(map[string]int, len(words))
		maxRep := 0
		for _, w := range words {
			counts[w]++
			if counts[w] > maxRep {
				maxRep = counts[w]
			}
		}
		if float64(maxRep) > float64(len(words))*repetitionMaxFraction {
			return fail(KindExternalAPIBlocked, "Content blocked by external service: excessive word repetition detected."), false
		}
	}
	return Result{}, true
}

func fail(kind Kind, message string) Result {
	return Result{Passed: false, Kind: kind, Message: message}
}
