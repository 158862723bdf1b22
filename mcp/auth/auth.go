// Package auth implements the protected-resource side of OAuth 2.0 bearer
// token validation: JWKS-verified JWT or RFC 7662 introspection, auth
// context construction, token-to-session binding and background refresh.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// ErrUnauthorized is returned by Validator.Validate for any rejected
// token: missing, malformed, expired, wrong audience/issuer, or an
// introspection response with active=false.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Context is the validated result of a bearer token, built per spec.md
// §4.7's field mapping (sub -> userId, client_id/azp -> clientId, ...).
type Context struct {
	UserID       string
	ClientID     string
	Scopes       []string
	Audience     []string
	Issuer       string
	TokenHash    string
	TokenType    string
	ExpiresAt    time.Time
	IssuedAt     time.Time
	RefreshToken string
}

// Validator authenticates a bearer token and returns its auth context.
type Validator interface {
	Validate(ctx context.Context, token string) (*Context, error)
}

// HashToken returns the stable, non-reversible identifier used as the
// token→session map key and Context.TokenHash.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ExtractBearer pulls the token out of an Authorization header value,
// returning ok=false if the header is missing or not a Bearer challenge.
func ExtractBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

func normalizeAudience(aud interface{}) []string {
	switch v := aud.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, a := range v {
			if s, ok := a.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func normalizeScopes(claims map[string]interface{}) []string {
	if raw, ok := claims["scope"]; ok {
		if s, ok := raw.(string); ok {
			return strings.Fields(s)
		}
	}
	if raw, ok := claims["scopes"]; ok {
		switch v := raw.(type) {
		case []string:
			return v
		case []interface{}:
			out := make([]string, 0, len(v))
			for _, s := range v {
				if str, ok := s.(string); ok {
					out = append(out, str)
				}
			}
			return out
		}
	}
	return nil
}

func stringClaim(claims map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := claims[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func contextFromClaims(token string, claims map[string]interface{}) *Context {
	c := &Context{
		UserID:    stringClaim(claims, "sub"),
		ClientID:  stringClaim(claims, "client_id", "azp"),
		Scopes:    normalizeScopes(claims),
		Issuer:    stringClaim(claims, "iss"),
		TokenHash: HashToken(token),
		TokenType: "Bearer",
	}
	if aud, ok := claims["aud"]; ok {
		c.Audience = normalizeAudience(aud)
	}
	if exp, ok := claims["exp"].(float64); ok {
		c.ExpiresAt = time.Unix(int64(exp), 0)
	}
	if iat, ok := claims["iat"].(float64); ok {
		c.IssuedAt = time.Unix(int64(iat), 0)
	}
	return c
}

// ProtectedResourceMetadata is served at
// /.well-known/oauth-protected-resource.
type ProtectedResourceMetadata struct {
	Resource             string   `json:"resource"`
	AuthorizationServers []string `json:"authorization_servers"`
}
