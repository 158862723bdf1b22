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

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"

	"github.com/stretchr/testify/assert"
)

func newJWKSServer(t *testing.T, key *rsa.PrivateKey, kid string) *httptest.Server {
	t.Helper()
	pub, err := jwk.FromRaw(key.Public())
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, kid))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, "RS256"))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	data, err := json.Marshal(set)
	require.NoError(t, err)

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	}))
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestJWKSValidator_ValidToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := newJWKSServer(t, key, "kid-1")
	defer srv.Close()

	ctx := context.Background()
	v, err := NewJWKSValidator(ctx, JWKSOptions{JWKSURI: srv.URL, Issuer: "https://issuer.example"})
	require.NoError(t, err)

	token := signToken(t, key, "kid-1", jwt.MapClaims{
		"sub": "user-1",
		"iss": "https://issuer.example",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	got, err := v.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
}

func TestJWKSValidator_WrongIssuerRejected(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := newJWKSServer(t, key, "kid-1")
	defer srv.Close()

	ctx := context.Background()
	v, err := NewJWKSValidator(ctx, JWKSOptions{JWKSURI: srv.URL, Issuer: "https://expected.example"})
	require.NoError(t, err)

	token := signToken(t, key, "kid-1", jwt.MapClaims{
		"sub": "user-1",
		"iss": "https://someone-else.example",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err = v.Validate(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestJWKSValidator_ExpiredTokenRejected(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	srv := newJWKSServer(t, key, "kid-1")
	defer srv.Close()

	ctx := context.Background()
	v, err := NewJWKSValidator(ctx, JWKSOptions{JWKSURI: srv.URL})
	require.NoError(t, err)

	token := signToken(t, key, "kid-1", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err = v.Validate(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
