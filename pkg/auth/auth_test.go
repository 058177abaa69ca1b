package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbrain-ai/docbrain/pkg/config"
)

// ============================================================================
// TEST HELPERS
// ============================================================================

type jwksFixture struct {
	privateKey *rsa.PrivateKey
	url        string
	issuer     string
	audience   string
}

// newJWKSFixture serves a one-key JWKS from an httptest server.
func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	publicKey, err := jwk.FromRaw(&privateKey.PublicKey)
	require.NoError(t, err)
	require.NoError(t, publicKey.Set(jwk.KeyIDKey, "test-key-id"))
	require.NoError(t, publicKey.Set(jwk.AlgorithmKey, jwa.RS256))

	keyset := jwk.NewSet()
	require.NoError(t, keyset.AddKey(publicKey))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(keyset)
	}))
	t.Cleanup(server.Close)

	return &jwksFixture{
		privateKey: privateKey,
		url:        server.URL + "/.well-known/jwks.json",
		issuer:     "https://issuer.test",
		audience:   "docbrain-api",
	}
}

// signToken issues a signed token with the fixture's key. Extra claims
// ride on top of iss/aud/sub/exp.
func (f *jwksFixture) signToken(t *testing.T, subject string, expiresIn time.Duration, extra map[string]any) string {
	t.Helper()

	token := jwt.New()
	require.NoError(t, token.Set(jwt.IssuerKey, f.issuer))
	require.NoError(t, token.Set(jwt.AudienceKey, f.audience))
	require.NoError(t, token.Set(jwt.SubjectKey, subject))
	require.NoError(t, token.Set(jwt.IssuedAtKey, time.Now().Add(-time.Minute)))
	require.NoError(t, token.Set(jwt.ExpirationKey, time.Now().Add(expiresIn)))
	for key, value := range extra {
		require.NoError(t, token.Set(key, value))
	}

	signingKey, err := jwk.FromRaw(f.privateKey)
	require.NoError(t, err)
	require.NoError(t, signingKey.Set(jwk.KeyIDKey, "test-key-id"))

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, signingKey))
	require.NoError(t, err)
	return string(signed)
}

func (f *jwksFixture) newValidator(t *testing.T) *JWTValidator {
	t.Helper()
	v, err := NewJWTValidator(f.url, f.issuer, f.audience, time.Minute)
	require.NoError(t, err)
	return v
}

// ============================================================================
// JWT VALIDATOR
// ============================================================================

func TestNewJWTValidatorUnreachableJWKS(t *testing.T) {
	_, err := NewJWTValidator("http://127.0.0.1:1/jwks.json", "", "", time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch JWKS")
}

func TestJWTValidatorAcceptsValidToken(t *testing.T) {
	fixture := newJWKSFixture(t)
	validator := fixture.newValidator(t)

	token := fixture.signToken(t, "user-42", time.Hour, map[string]any{
		"email": "dev@example.com",
		"name":  "Dev User",
		"org":   "acme",
	})

	claims, err := validator.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.Subject)
	assert.Equal(t, "dev@example.com", claims.Email)
	assert.Equal(t, "Dev User", claims.Name)
	assert.Equal(t, "acme", claims.Custom["org"])
}

func TestJWTValidatorRejectsExpiredToken(t *testing.T) {
	fixture := newJWKSFixture(t)
	validator := fixture.newValidator(t)

	token := fixture.signToken(t, "user-42", -time.Minute, nil)

	_, err := validator.ValidateToken(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTValidatorRejectsWrongIssuer(t *testing.T) {
	fixture := newJWKSFixture(t)

	validator, err := NewJWTValidator(fixture.url, "https://other-issuer.test", fixture.audience, time.Minute)
	require.NoError(t, err)

	token := fixture.signToken(t, "user-42", time.Hour, nil)

	_, err = validator.ValidateToken(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTValidatorRejectsGarbage(t *testing.T) {
	fixture := newJWKSFixture(t)
	validator := fixture.newValidator(t)

	_, err := validator.ValidateToken(context.Background(), "not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTValidatorSkipsIssuerCheckWhenUnset(t *testing.T) {
	fixture := newJWKSFixture(t)

	validator, err := NewJWTValidator(fixture.url, "", "", time.Minute)
	require.NoError(t, err)

	token := fixture.signToken(t, "user-42", time.Hour, nil)

	claims, err := validator.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.Subject)
}

// ============================================================================
// API KEY VALIDATOR
// ============================================================================

func TestAPIKeyValidator(t *testing.T) {
	validator := NewAPIKeyValidator([]string{"key-one", "key-two", ""})

	claims, err := validator.ValidateToken(context.Background(), "key-two")
	require.NoError(t, err)
	assert.Equal(t, "api-key", claims.Subject)

	_, err = validator.ValidateToken(context.Background(), "key-three")
	require.ErrorIs(t, err, ErrInvalidToken)

	// The empty config entry must not admit an empty bearer token.
	_, err = validator.ValidateToken(context.Background(), "")
	require.ErrorIs(t, err, ErrMissingToken)
}

// ============================================================================
// FACTORY
// ============================================================================

func TestNewValidatorFromConfigDisabled(t *testing.T) {
	validator, err := NewValidatorFromConfig(&config.AuthConfig{})
	require.NoError(t, err)
	assert.Nil(t, validator)

	validator, err = NewValidatorFromConfig(nil)
	require.NoError(t, err)
	assert.Nil(t, validator)
}

func TestNewValidatorFromConfigRequiresSource(t *testing.T) {
	_, err := NewValidatorFromConfig(&config.AuthConfig{Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neither jwks_url nor api_keys")
}

func TestNewValidatorFromConfigAPIKeysOnly(t *testing.T) {
	validator, err := NewValidatorFromConfig(&config.AuthConfig{
		Enabled: true,
		APIKeys: []string{"secret"},
	})
	require.NoError(t, err)
	require.NotNil(t, validator)

	claims, err := validator.ValidateToken(context.Background(), "secret")
	require.NoError(t, err)
	assert.Equal(t, "api-key", claims.Subject)
}

func TestNewValidatorFromConfigCombined(t *testing.T) {
	fixture := newJWKSFixture(t)

	validator, err := NewValidatorFromConfig(&config.AuthConfig{
		Enabled:  true,
		JWKSURL:  fixture.url,
		Issuer:   fixture.issuer,
		Audience: fixture.audience,
		APIKeys:  []string{"machine-key"},
	})
	require.NoError(t, err)

	// Either mechanism admits its own token.
	claims, err := validator.ValidateToken(context.Background(), "machine-key")
	require.NoError(t, err)
	assert.Equal(t, "api-key", claims.Subject)

	jwtToken := fixture.signToken(t, "user-7", time.Hour, nil)
	claims, err = validator.ValidateToken(context.Background(), jwtToken)
	require.NoError(t, err)
	assert.Equal(t, "user-7", claims.Subject)

	_, err = validator.ValidateToken(context.Background(), "neither")
	require.Error(t, err)
}

// ============================================================================
// MIDDLEWARE
// ============================================================================

func TestMiddleware(t *testing.T) {
	validator := NewAPIKeyValidator([]string{"valid-key"})

	var gotClaims *Claims
	handler := Middleware(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "missing Authorization header")
	})

	t.Run("wrong scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "Bearer")
	})

	t.Run("bad token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer wrong-key")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer valid-key")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, gotClaims)
		assert.Equal(t, "api-key", gotClaims.Subject)
	})
}

func TestClaimsFromContextWithoutMiddleware(t *testing.T) {
	assert.Nil(t, ClaimsFromContext(context.Background()))
}
