package core

import (
	"strings"
	"time"
)

// AI providers accepted by the key store. The dashboard historically used
// "gcp_gemini" for the Gemini provider, so both spellings are normalized.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// NormalizeProvider maps provider aliases onto the canonical names. Unknown
// providers come back unchanged so validation can reject them by name.
func NormalizeProvider(provider string) string {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ProviderOpenAI:
		return ProviderOpenAI
	case ProviderGemini, "gcp_gemini", "google":
		return ProviderGemini
	default:
		return provider
	}
}

// ValidProvider reports whether provider normalizes to a known AI provider.
func ValidProvider(provider string) bool {
	switch NormalizeProvider(provider) {
	case ProviderOpenAI, ProviderGemini:
		return true
	}
	return false
}

// APIKeyRecord is a user-supplied AI provider key. The key material itself is
// stored server side and never returned over the wire.
type APIKeyRecord struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Key       string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProviderKeyStatus is one provider's slice of the key-configuration probe.
// Configured means a key exists (stored or config-level); Working means the
// provider's circuit is currently accepting calls.
type ProviderKeyStatus struct {
	Configured bool   `json:"configured"`
	Working    bool   `json:"working"`
	Error      string `json:"error,omitempty"`
}

// KeyStatus is the wire shape of GET /api/user-api-keys/status: per-provider
// key state, without exposing the keys.
type KeyStatus struct {
	OpenAI ProviderKeyStatus `json:"openai"`
	Gemini ProviderKeyStatus `json:"gemini"`
}

// Configured reports whether the named provider has a key in this status.
func (s KeyStatus) Configured(provider string) bool {
	switch NormalizeProvider(provider) {
	case ProviderOpenAI:
		return s.OpenAI.Configured
	case ProviderGemini:
		return s.Gemini.Configured
	}
	return false
}
