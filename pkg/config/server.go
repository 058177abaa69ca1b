package config

import (
	"fmt"
	"time"
)

// ============================================================================
// SERVER
// ============================================================================

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	// Host to bind to. Default: 0.0.0.0
	Host string `yaml:"host,omitempty"`

	// Port to listen on. Default: 8080
	Port int `yaml:"port,omitempty"`

	// BaseURL is the externally visible URL, used in responses that
	// reference the server (e.g. document links). Default: http://<host>:<port>
	BaseURL string `yaml:"base_url,omitempty"`

	// ReadTimeout for incoming requests.
	ReadTimeout time.Duration `yaml:"read_timeout,omitempty"`

	// WriteTimeout for responses. Kept generous because answer generation
	// holds the connection open while the LLM streams nothing back to us.
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`

	// MaxUploadBytes limits document upload size. Default: 50 MiB
	MaxUploadBytes int64 `yaml:"max_upload_bytes,omitempty"`

	// CORSOrigins lists allowed origins. Empty disables CORS headers.
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// SetDefaults applies default values.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.BaseURL == "" {
		c.BaseURL = fmt.Sprintf("http://%s:%d", c.Host, c.Port)
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = 50 << 20
	}
}

// Validate checks the configuration for errors.
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d (must be 1-65535)", c.Port)
	}
	if c.MaxUploadBytes < 0 {
		return fmt.Errorf("max_upload_bytes cannot be negative")
	}
	return nil
}

// Address returns the host:port bind address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ============================================================================
// AUTH
// ============================================================================

// AuthConfig configures bearer token authentication for the API.
//
// Two mechanisms are supported and may be combined: JWT validation against
// a JWKS endpoint, and a static API key list for machine clients. When both
// are configured a request passes if either accepts its token.
type AuthConfig struct {
	// Enabled turns authentication on. Default: false (open server).
	Enabled bool `yaml:"enabled,omitempty"`

	// JWKSURL is the JSON Web Key Set endpoint for JWT validation.
	JWKSURL string `yaml:"jwks_url,omitempty"`

	// Issuer is the expected "iss" claim. Empty skips the check.
	Issuer string `yaml:"issuer,omitempty"`

	// Audience is the expected "aud" claim. Empty skips the check.
	Audience string `yaml:"audience,omitempty"`

	// APIKeys lists static bearer tokens. Supports ${VAR} expansion.
	APIKeys []string `yaml:"api_keys,omitempty"`

	// JWKSRefreshInterval controls JWKS cache refresh. Default: 15m
	JWKSRefreshInterval time.Duration `yaml:"jwks_refresh_interval,omitempty"`
}

// SetDefaults applies default values.
func (c *AuthConfig) SetDefaults() {
	if c.JWKSRefreshInterval == 0 {
		c.JWKSRefreshInterval = 15 * time.Minute
	}
}

// Validate checks the configuration for errors.
func (c *AuthConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.JWKSURL == "" && len(c.APIKeys) == 0 {
		return fmt.Errorf("auth enabled but neither jwks_url nor api_keys configured")
	}
	return nil
}
