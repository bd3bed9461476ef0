package llm

import (
	"strings"
	"time"
)

// Provider describes an OpenAI compatible chat completions endpoint.
type Provider struct {
	Name         string
	BaseURL      string
	KeyEnv       string
	DefaultModel string
}

const DefaultProvider = "openai"

var providers = map[string]Provider{
	"openai": {
		Name:         "openai",
		BaseURL:      "https://api.openai.com/v1",
		KeyEnv:       "OPENAI_API_KEY",
		DefaultModel: "gpt-4o-mini",
	},
	"openrouter": {
		Name:         "openrouter",
		BaseURL:      "https://openrouter.ai/api/v1",
		KeyEnv:       "OPENROUTER_API_KEY",
		DefaultModel: "openai/gpt-4o-mini",
	},
	"gemini": {
		Name:         "gemini",
		BaseURL:      "https://generativelanguage.googleapis.com/v1beta/openai",
		KeyEnv:       "GEMINI_API_KEY",
		DefaultModel: "gemini-2.0-flash",
	},
	"deepseek": {
		Name:         "deepseek",
		BaseURL:      "https://api.deepseek.com/v1",
		KeyEnv:       "DEEPSEEK_API_KEY",
		DefaultModel: "deepseek-chat",
	},
}

// LookupProvider returns the named provider, or openai for unknown names.
func LookupProvider(name string) (Provider, bool) {
	p, ok := providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return providers[DefaultProvider], false
	}
	return p, true
}

// Config is the gateway's view of the llm configuration section.
type Config struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKeys     map[string]string // provider name → key
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	Fake        bool
}

// Endpoint is the resolved target of outbound calls.
type Endpoint struct {
	Provider Provider
	BaseURL  string
	APIKey   string
	Model    string
}

func (e Endpoint) Configured() bool {
	return e.APIKey != ""
}

// ResolveEndpoint is a pure function of the configuration.
func ResolveEndpoint(cfg Config) Endpoint {
	p, _ := LookupProvider(cfg.Provider)
	ep := Endpoint{
		Provider: p,
		BaseURL:  p.BaseURL,
		APIKey:   strings.TrimSpace(cfg.APIKeys[p.Name]),
		Model:    p.DefaultModel,
	}
	if cfg.BaseURL != "" {
		ep.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Model != "" {
		ep.Model = cfg.Model
	}
	return ep
}
