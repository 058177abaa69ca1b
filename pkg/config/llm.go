package config

import (
	"fmt"
	"os"
	"time"
)

// ============================================================================
// LLM
// ============================================================================

// LLMProvider identifies the LLM provider type.
type LLMProvider string

const (
	LLMProviderAnthropic LLMProvider = "anthropic"
	LLMProviderOpenAI    LLMProvider = "openai"
	LLMProviderGemini    LLMProvider = "gemini"
)

// LLMConfig holds named LLM providers and selects the default.
//
// Separate providers can serve different roles: a fast cheap model for
// routing and intent classification, a stronger model for answer synthesis.
//
// Example YAML:
//
//	llm:
//	  default: main
//	  router: fast
//	  providers:
//	    main:
//	      provider: anthropic
//	      model: claude-sonnet-4-20250514
//	    fast:
//	      provider: openai
//	      model: gpt-4o-mini
type LLMConfig struct {
	// Default names the provider used when no role-specific one is set.
	Default string `yaml:"default,omitempty" json:"default,omitempty" jsonschema:"title=Default,description=Name of the default provider"`

	// Router optionally names a cheaper provider for routing, intent
	// classification, and summarization. Falls back to Default.
	Router string `yaml:"router,omitempty" json:"router,omitempty" jsonschema:"title=Router,description=Provider for routing and classification (falls back to default)"`

	// Providers maps names to provider configurations.
	Providers map[string]*LLMProviderConfig `yaml:"providers,omitempty" json:"providers,omitempty" jsonschema:"title=Providers,description=Named LLM provider configurations"`
}

// LLMProviderConfig configures a single LLM provider.
type LLMProviderConfig struct {
	// Provider type (anthropic, openai, gemini).
	Provider LLMProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,description=LLM provider,enum=anthropic,enum=openai,enum=gemini,default=anthropic"`

	// Model name (e.g. "claude-sonnet-4-20250514", "gpt-4o").
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,description=Model identifier"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key for authentication (use ${ENV_VAR})"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" jsonschema:"title=Base URL,description=Custom base URL for API endpoint"`

	// Temperature for generation (0.0 - 2.0). Answer synthesis works best
	// near zero; routing prompts pin their own temperature regardless.
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"title=Temperature,description=Sampling temperature,minimum=0,maximum=2,default=0.2"`

	// MaxTokens limits response length.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"title=Max Tokens,description=Maximum tokens to generate,minimum=1,default=4096"`

	// Timeout per completion request.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,description=Request timeout"`

	// MaxRetries for transient failures.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty" jsonschema:"title=Max Retries,description=Retry attempts for transient failures,default=3"`
}

// SetDefaults applies default values.
func (c *LLMConfig) SetDefaults() {
	if c.Providers == nil {
		c.Providers = make(map[string]*LLMProviderConfig)
	}

	// Zero config: synthesize a default provider from the environment.
	if len(c.Providers) == 0 {
		c.Providers["default"] = &LLMProviderConfig{}
	}

	if c.Default == "" {
		if _, ok := c.Providers["default"]; ok {
			c.Default = "default"
		} else {
			// Single provider configs shouldn't need an explicit default.
			if len(c.Providers) == 1 {
				for name := range c.Providers {
					c.Default = name
				}
			}
		}
	}

	for _, p := range c.Providers {
		if p != nil {
			p.SetDefaults()
		}
	}
}

// Validate checks the configuration for errors.
func (c *LLMConfig) Validate() error {
	if c.Default == "" {
		return fmt.Errorf("default provider name is required when multiple providers are configured")
	}
	if _, ok := c.Providers[c.Default]; !ok {
		return fmt.Errorf("default provider %q is not defined", c.Default)
	}
	if c.Router != "" {
		if _, ok := c.Providers[c.Router]; !ok {
			return fmt.Errorf("router provider %q is not defined", c.Router)
		}
	}

	for name, p := range c.Providers {
		if p == nil {
			return fmt.Errorf("provider %q has no configuration", name)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("provider %q: %w", name, err)
		}
	}

	return nil
}

// DefaultProvider returns the default provider config.
func (c *LLMConfig) DefaultProvider() *LLMProviderConfig {
	return c.Providers[c.Default]
}

// RouterProvider returns the routing provider config, falling back to default.
func (c *LLMConfig) RouterProvider() *LLMProviderConfig {
	if c.Router != "" {
		if p, ok := c.Providers[c.Router]; ok {
			return p
		}
	}
	return c.DefaultProvider()
}

// SetDefaults applies default values.
func (c *LLMProviderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = detectLLMProviderFromEnv()
	}

	if c.Model == "" {
		switch c.Provider {
		case LLMProviderAnthropic:
			c.Model = "claude-sonnet-4-20250514"
		case LLMProviderOpenAI:
			c.Model = "gpt-4o"
		case LLMProviderGemini:
			c.Model = "gemini-2.0-flash"
		}
	}

	if c.APIKey == "" {
		c.APIKey = llmAPIKeyFromEnv(c.Provider)
	}

	if c.Temperature == nil {
		temp := 0.2
		c.Temperature = &temp
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// Validate checks the configuration for errors.
func (c *LLMProviderConfig) Validate() error {
	switch c.Provider {
	case LLMProviderAnthropic, LLMProviderOpenAI, LLMProviderGemini:
	default:
		return fmt.Errorf("invalid provider %q (valid: anthropic, openai, gemini)", c.Provider)
	}

	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be positive")
	}

	return nil
}

// detectLLMProviderFromEnv picks a provider based on which API key is set.
func detectLLMProviderFromEnv() LLMProvider {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return LLMProviderAnthropic
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		return LLMProviderOpenAI
	}
	if os.Getenv("GEMINI_API_KEY") != "" {
		return LLMProviderGemini
	}
	return LLMProviderAnthropic
}

func llmAPIKeyFromEnv(provider LLMProvider) string {
	switch provider {
	case LLMProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case LLMProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case LLMProviderGemini:
		return os.Getenv("GEMINI_API_KEY")
	}
	return ""
}
