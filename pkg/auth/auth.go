// Package auth validates bearer tokens for the DocBrain API.
//
// Two mechanisms are supported: JWT validation against a JWKS endpoint
// (for human users behind an identity provider) and a static API key
// list (for machine clients). Both produce Claims that handlers read
// from the request context.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/docbrain-ai/docbrain/pkg/config"
)

// Common authentication errors.
var (
	// ErrInvalidToken is returned when a token cannot be validated.
	ErrInvalidToken = errors.New("invalid token")

	// ErrMissingToken is returned when no bearer token was presented.
	ErrMissingToken = errors.New("missing bearer token")
)

// Claims carries the validated identity of a request.
type Claims struct {
	// Subject is the user id (the JWT "sub" claim, or "api-key" for
	// API key clients).
	Subject string `json:"sub"`

	// Email from the token, when the provider includes it.
	Email string `json:"email,omitempty"`

	// Name from the token, when the provider includes it.
	Name string `json:"name,omitempty"`

	// Custom holds all non-registered claims.
	Custom map[string]any `json:"-"`
}

// TokenValidator validates a bearer token and extracts claims.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// contextKey is private to avoid collisions with other packages.
type contextKey string

const claimsContextKey contextKey = "docbrain_auth_claims"

// WithClaims returns a context carrying the validated claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext returns the claims stored by the middleware, or nil
// when the request was not authenticated.
func ClaimsFromContext(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(claimsContextKey).(*Claims); ok {
		return claims
	}
	return nil
}

// multiValidator accepts a token when any of its validators does.
type multiValidator struct {
	validators []TokenValidator
}

func (m *multiValidator) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	var lastErr error
	for _, v := range m.validators {
		claims, err := v.ValidateToken(ctx, token)
		if err == nil {
			return claims, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrInvalidToken
	}
	return nil, lastErr
}

// NewValidatorFromConfig builds a TokenValidator from configuration.
// Returns nil when authentication is not enabled.
func NewValidatorFromConfig(cfg *config.AuthConfig) (TokenValidator, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid auth config: %w", err)
	}

	var validators []TokenValidator

	// API keys first: a local comparison is cheaper than parsing a JWT.
	if len(cfg.APIKeys) > 0 {
		validators = append(validators, NewAPIKeyValidator(cfg.APIKeys))
	}

	if cfg.JWKSURL != "" {
		jwtValidator, err := NewJWTValidator(cfg.JWKSURL, cfg.Issuer, cfg.Audience, cfg.JWKSRefreshInterval)
		if err != nil {
			return nil, fmt.Errorf("failed to create JWT validator: %w", err)
		}
		validators = append(validators, jwtValidator)
	}

	if len(validators) == 1 {
		return validators[0], nil
	}
	return &multiValidator{validators: validators}, nil
}
