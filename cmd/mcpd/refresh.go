package main

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"github.com/fyrsmith/mcpd/mcp/auth"
)

// tokenRefreshFunc builds an auth.RefreshFunc performing an RFC 6749
// refresh_token grant against tokenURL via golang.org/x/oauth2's token
// source, authenticating with clientID/clientSecret when the latter is
// set.
func tokenRefreshFunc(tokenURL, clientID, clientSecret string) auth.RefreshFunc {
	return func(ctx context.Context, refreshToken, reqClientID, _ string, scopes []string) (*auth.Context, error) {
		id := clientID
		if reqClientID != "" {
			id = reqClientID
		}
		cfg := &oauth2.Config{
			ClientID:     id,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
			Scopes:       scopes,
		}
		src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
		tok, err := src.Token()
		if err != nil {
			return nil, err
		}
		c := &auth.Context{
			ClientID:     id,
			TokenHash:    auth.HashToken(tok.AccessToken),
			TokenType:    tok.TokenType,
			IssuedAt:     time.Now(),
			ExpiresAt:    tok.Expiry,
			RefreshToken: tok.RefreshToken,
			Scopes:       scopes,
		}
		if c.RefreshToken == "" {
			c.RefreshToken = refreshToken
		}
		return c, nil
	}
}
