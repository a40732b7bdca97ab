// Package config reads process configuration from the environment.
//
// There is no flag parsing and no .env loading here by design: both are
// handled (if at all) by whatever launches this binary.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// String returns the environment variable named by key, or fallback if unset or empty.
func String(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Int returns the environment variable named by key parsed as an int, or fallback.
func Int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Bool returns the environment variable named by key parsed as a bool.
// Only "true" (case-insensitive) is considered true.
func Bool(key string) bool {
	return strings.EqualFold(os.Getenv(key), "true")
}

// Days returns an environment variable named by key, interpreted as a
// count of days, as a time.Duration.
func Days(key string, fallbackDays int) time.Duration {
	return time.Duration(Int(key, fallbackDays)) * 24 * time.Hour
}

// Debug reports whether verbose logging is enabled.
func Debug() bool {
	return Bool("DEBUG")
}

// placeholderValues are values a config UI ships as defaults; configuration
// equal to one of these is treated as "not actually configured."
var placeholderValues = map[string]bool{
	"":                   true,
	"your-upstash-url":   true,
	"your-upstash-token": true,
	"placeholder":        true,
	"changeme":           true,
}

// IsConfigured reports whether an environment variable holds a real,
// non-placeholder value.
func IsConfigured(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	return !placeholderValues[strings.ToLower(v)]
}

// Port is the HTTP listen port.
func Port() string {
	return String("PORT", "9095")
}

const (
	// AnthropicOAuthClientIDDefault is the compile-time default OAuth
	// client id, overridable by ANTHROPIC_OAUTH_CLIENT_ID.
	AnthropicOAuthClientIDDefault = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	// AnthropicTokenURL is the fixed OAuth token endpoint.
	AnthropicTokenURL = "https://console.anthropic.com/v1/oauth/token"
	// AnthropicAuthorizeURL is the fixed OAuth authorization endpoint.
	AnthropicAuthorizeURL = "https://claude.ai/oauth/authorize"
	// AnthropicOAuthRedirectURI is the fixed redirect target for the
	// authorization-code grant, matching the registered CLI client.
	AnthropicOAuthRedirectURI = "https://console.anthropic.com/oauth/code/callback"
	// AnthropicMessagesURL is the fixed upstream Messages API endpoint.
	AnthropicMessagesURL = "https://api.anthropic.com/v1/messages"
)

// OAuthClientID returns the configured OAuth client id.
func OAuthClientID() string {
	return String("ANTHROPIC_OAUTH_CLIENT_ID", AnthropicOAuthClientIDDefault)
}

// APIKey returns the optional inbound proxy API key gate. Empty means disabled.
func APIKey() string {
	return os.Getenv("API_KEY")
}

// ThinkingCacheTTL returns the persistent-tier TTL for cached thinking blocks.
func ThinkingCacheTTL() time.Duration {
	return Days("THINKING_CACHE_TTL_DAYS", 10)
}

// UpstashConfigured reports whether a real (non-placeholder) Upstash REST
// endpoint and token are both configured.
func UpstashConfigured() bool {
	return IsConfigured("UPSTASH_REDIS_REST_URL") && IsConfigured("UPSTASH_REDIS_REST_TOKEN")
}

// UpstashURL returns the configured Upstash REST base URL.
func UpstashURL() string {
	return strings.TrimRight(os.Getenv("UPSTASH_REDIS_REST_URL"), "/")
}

// UpstashToken returns the configured Upstash REST bearer token.
func UpstashToken() string {
	return os.Getenv("UPSTASH_REDIS_REST_TOKEN")
}
