package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type ctxKeyType struct{}

// ContextKey is the context.Context key the pre-handler attaches the
// validated Context under; the protocol engine reads it back into the
// handler context it passes to tool/resource/prompt invocations.
var ContextKey = ctxKeyType{}

// Middleware is the bearer-token pre-handler. ResourceMetadataURL is
// advertised in the WWW-Authenticate challenge on 401.
type Middleware struct {
	Validator           Validator
	ResourceMetadataURL string
	ExcludedPaths       map[string]bool
}

// Wrap returns an http.Handler that validates a bearer token before
// calling next, attaching the resulting Context to the request's context.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.ExcludedPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := ExtractBearer(r.Header.Get("Authorization"))
		if !ok {
			m.challenge(w, "missing bearer token")
			return
		}
		authCtx, err := m.Validator.Validate(r.Context(), token)
		if err != nil {
			m.challenge(w, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), ContextKey, authCtx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) challenge(w http.ResponseWriter, reason string) {
	challenge := `Bearer error="invalid_token"`
	if m.ResourceMetadataURL != "" {
		challenge = fmt.Sprintf(`Bearer error="invalid_token", resource_metadata=%q`, m.ResourceMetadataURL)
	}
	w.Header().Set("WWW-Authenticate", challenge)
	http.Error(w, reason, http.StatusUnauthorized)
}

// FromContext returns the auth Context attached by Middleware, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	c, ok := ctx.Value(ContextKey).(*Context)
	return c, ok
}

// ProtectedResourceHandler serves /.well-known/oauth-protected-resource.
func ProtectedResourceHandler(meta ProtectedResourceMetadata) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(meta)
	}
}

// ResourceHealthHandler serves /.well-known/mcp-resource-health, a plain
// liveness probe for load balancers that must reach the daemon without a
// bearer token. It is registered outside Middleware.Wrap, the same way
// ProtectedResourceHandler is.
func ResourceHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// DCRProxy forwards dynamic-client-registration bodies to upstreamURL. It
// requires an explicit upstream so the discovery endpoint never points at
// itself.
type DCRProxy struct {
	UpstreamURL string
	HTTPClient  *http.Client
	// PreProcess/PostProcess let the host adjust the forwarded body and
	// the upstream's response before either reaches the wire.
	PreProcess  func([]byte) ([]byte, error)
	PostProcess func([]byte) ([]byte, error)
}

func (p *DCRProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.UpstreamURL == "" {
		http.Error(w, "dcr proxy misconfigured: no upstream", http.StatusInternalServerError)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if p.PreProcess != nil {
		if body, err = p.PreProcess(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, p.UpstreamURL, bytes.NewReader(body))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if p.PostProcess != nil {
		if respBody, err = p.PostProcess(respBody); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
}
