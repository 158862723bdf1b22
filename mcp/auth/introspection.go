package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// IntrospectionAuthMode selects how IntrospectionValidator authenticates
// itself to the introspection endpoint.
type IntrospectionAuthMode string

const (
	IntrospectionAuthNone   IntrospectionAuthMode = "none"
	IntrospectionAuthBearer IntrospectionAuthMode = "bearer"
	IntrospectionAuthBasic  IntrospectionAuthMode = "basic"
)

// IntrospectionValidator validates a bearer token via RFC 7662 token
// introspection.
type IntrospectionValidator struct {
	Endpoint     string
	AuthMode     IntrospectionAuthMode
	ClientID     string
	ClientSecret string // used as the bearer token or basic-auth password
	HTTPClient   *http.Client
}

type introspectionResponse struct {
	Active   bool        `json:"active"`
	Sub      string      `json:"sub"`
	ClientID string      `json:"client_id"`
	Scope    string      `json:"scope"`
	Aud      interface{} `json:"aud"`
	Iss      string      `json:"iss"`
	Exp      float64     `json:"exp"`
	Iat      float64     `json:"iat"`
}

// Validate implements Validator.
func (v *IntrospectionValidator) Validate(ctx context.Context, token string) (*Context, error) {
	client := v.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("auth: building introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	switch v.AuthMode {
	case IntrospectionAuthBearer:
		req.Header.Set("Authorization", "Bearer "+v.ClientSecret)
	case IntrospectionAuthBasic:
		req.SetBasicAuth(v.ClientID, v.ClientSecret)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: introspection request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: introspection endpoint returned %d", ErrUnauthorized, resp.StatusCode)
	}
	var ir introspectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return nil, fmt.Errorf("auth: decoding introspection response: %w", err)
	}
	if !ir.Active {
		return nil, fmt.Errorf("%w: token inactive", ErrUnauthorized)
	}
	claims := map[string]interface{}{
		"sub": ir.Sub, "client_id": ir.ClientID, "scope": ir.Scope,
		"aud": ir.Aud, "iss": ir.Iss, "exp": ir.Exp, "iat": ir.Iat,
	}
	c := contextFromClaims(token, claims)
	return c, nil
}

// DefaultHTTPTimeout bounds an introspection request when no HTTPClient is
// supplied explicitly.
const DefaultHTTPTimeout = 10 * time.Second
