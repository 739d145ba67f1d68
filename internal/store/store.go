// Package store defines the external-collaborator seams the request-
// processing core consumes: API key / tenant resolution, banned keywords,
// analytics, and log retrieval. The core depends only on these interfaces;
// concrete backings live in the memstore and redisstore subpackages.
package store

import (
	"context"
	"time"
)

// KeyState mirrors the state enum an external API key record carries.
type KeyState string

const (
	KeyEnabled  KeyState = "enabled"
	KeyDisabled KeyState = "disabled"
)

// TenantStatus mirrors the tenant account status linked to a key.
type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantInactive  TenantStatus = "inactive"
	TenantSuspended TenantStatus = "suspended"
)

// ErrKeyNotFound is returned by ResolveKey when the key is unknown.
var ErrKeyNotFound = &NotFoundError{Resource: "api_key"}

// NotFoundError signals a missing external record.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return e.Resource + " not found"
}

// KeyRecord is the external resolver's view of an API key, spec §3's APIKey.
type KeyRecord struct {
	TenantID     string
	TenantScope  string
	KeyName      string
	State        KeyState
	TenantStatus TenantStatus
	LastUsed     time.Time
}

// TenantStore resolves API keys and carries per-tenant banned keyword sets.
// The core treats it as a pure external collaborator; it owns no storage
// of its own beyond what an implementation chooses.
type TenantStore interface {
	ResolveKey(ctx context.Context, apiKey string) (KeyRecord, error)
	TouchLastUsed(ctx context.Context, apiKey string, when time.Time) error

	// BannedKeywords returns the tenant's keyword set, populating the
	// default list on first use if one has never been configured.
	BannedKeywords(ctx context.Context, tenantScope string) ([]string, error)
	SetBannedKeywords(ctx context.Context, tenantScope string, keywords []string) error
}

// DefaultBannedKeywords is the fixed seed list applied the first time a
// tenant's keyword set is consulted, per spec §3's BannedKeywordSet.
var DefaultBannedKeywords = []string{
	"spam",
	"malware",
	"phishing",
	"exploit",
}

// AnalyticsRecord is one append-only proxy analytics row, spec §6.
type AnalyticsRecord struct {
	ProxyID          string    `json:"proxy_id"`
	TenantScope      string    `json:"tenant_scope"`
	APIKeyName       string    `json:"api_key_name"`
	Model            string    `json:"model"`
	Temperature      float64   `json:"temperature"`
	CacheHit         bool      `json:"cache_hit"`
	Success          bool      `json:"success"`
	StatusCode       int       `json:"status_code"`
	ErrorCode        string    `json:"error_code,omitempty"`
	InputTokens      int       `json:"input_tokens"`
	OutputTokens     int       `json:"output_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	ClientIP         string    `json:"client_ip"`
	UserAgent        string    `json:"user_agent"`
	CreatedAt        time.Time `json:"created_at"`
}

// AnalyticsSink records analytics rows. Failures are logged by the caller
// and never surfaced to the client (spec §7).
type AnalyticsSink interface {
	Record(ctx context.Context, rec AnalyticsRecord) error
}

// LogRecord is the structured per-request record retrievable via
// GET /logs/{proxy_id}.
type LogRecord struct {
	ProxyID          string    `json:"proxy_id"`
	TenantScope      string    `json:"tenant_scope"`
	APIKeyName       string    `json:"api_key_name"`
	Endpoint         string    `json:"endpoint"`
	Model            string    `json:"model"`
	Temperature      float64   `json:"temperature"`
	FromCache        bool      `json:"from_cache"`
	Similarity       float64   `json:"similarity"`
	Success          bool      `json:"success"`
	StatusCode       int       `json:"status_code"`
	ErrorCode        string    `json:"error_code,omitempty"`
	Kind             string    `json:"kind"`
	ClientIP         string    `json:"client_ip"`
	UserAgent        string    `json:"user_agent"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// LogStore persists and retrieves per-request log records.
type LogStore interface {
	Put(ctx context.Context, rec LogRecord) error
	Get(ctx context.Context, proxyID string) (LogRecord, error)
}
