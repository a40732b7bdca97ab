package credential

import (
	"anthroproxy/internal/config"
	"anthroproxy/internal/restkv"
)

// DefaultKey is the storage key the OAuth manager reads/writes under. The
// proxy is single-tenant, so there is exactly one credential record.
const DefaultKey = "anthropic-oauth"

// Select picks the credential backend for this process: a remote
// Upstash-REST-shaped store if configured (and not left at placeholder
// defaults), else a local JSON file. Selection happens once at startup;
// there is no runtime rebinding.
func Select() Store {
	if config.UpstashConfigured() {
		if kv := restkv.New(config.UpstashURL(), config.UpstashToken()); kv != nil {
			return NewRemote(kv)
		}
	}
	return NewLocalFile(DefaultLocalFilePath())
}
