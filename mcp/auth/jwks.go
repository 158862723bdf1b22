package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// JWKSValidator verifies a bearer token's signature against keys fetched
// from a JWKS endpoint, caching and auto-refreshing the key set, then
// checks issuer, audience, not-before and expiry.
type JWKSValidator struct {
	cache            *jwk.Cache
	jwksURI          string
	issuer           string
	audience         string
	checkAudience    bool
	refreshInterval  time.Duration
}

// JWKSOptions configures a JWKSValidator.
type JWKSOptions struct {
	JWKSURI         string
	Issuer          string
	Audience        string
	CheckAudience   bool
	RefreshInterval time.Duration // default 1h
}

// NewJWKSValidator registers jwksURI with a background-refreshing cache
// and returns a validator ready to use.
func NewJWKSValidator(ctx context.Context, opts JWKSOptions) (*JWKSValidator, error) {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = time.Hour
	}
	cache := jwk.NewCache(ctx)
	if err := cache.Register(opts.JWKSURI, jwk.WithMinRefreshInterval(opts.RefreshInterval)); err != nil {
		return nil, fmt.Errorf("auth: registering jwks uri: %w", err)
	}
	if _, err := cache.Refresh(ctx, opts.JWKSURI); err != nil {
		return nil, fmt.Errorf("auth: initial jwks fetch: %w", err)
	}
	return &JWKSValidator{
		cache:           cache,
		jwksURI:         opts.JWKSURI,
		issuer:          opts.Issuer,
		audience:        opts.Audience,
		checkAudience:   opts.CheckAudience,
		refreshInterval: opts.RefreshInterval,
	}, nil
}

func (v *JWKSValidator) keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		set, err := v.cache.Get(ctx, v.jwksURI)
		if err != nil {
			return nil, fmt.Errorf("auth: fetching jwks: %w", err)
		}
		var key jwk.Key
		var ok bool
		if kid != "" {
			key, ok = set.LookupKeyID(kid)
		} else if set.Len() == 1 {
			key, ok = set.Key(0)
		}
		if !ok {
			return nil, fmt.Errorf("auth: no matching key for kid %q", kid)
		}
		var raw interface{}
		if err := key.Raw(&raw); err != nil {
			return nil, fmt.Errorf("auth: extracting raw key: %w", err)
		}
		return raw, nil
	}
}

// Validate implements Validator.
func (v *JWKSValidator) Validate(ctx context.Context, token string) (*Context, error) {
	parsed, err := jwt.Parse(token, v.keyfunc(ctx), jwt.WithValidMethods([]string{
		"RS256", "RS384", "RS512", "ES256", "ES384", "ES512", "PS256", "PS384", "PS512",
	}))
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrUnauthorized)
	}
	if v.issuer != "" {
		if iss, _ := claims["iss"].(string); iss != v.issuer {
			return nil, fmt.Errorf("%w: issuer mismatch", ErrUnauthorized)
		}
	}
	if v.checkAudience {
		if !audienceContains(normalizeAudience(claims["aud"]), v.audience) {
			return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
		}
	}
	return contextFromClaims(token, claims), nil
}

func audienceContains(audience []string, want string) bool {
	for _, a := range audience {
		if a == want {
			return true
		}
	}
	return false
}
