package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// HandlerContext is passed into every tool/resource/prompt invocation. It
// carries the caller's session and auth context plus the host's HTTP
// abstractions, letting a handler reply outside the request/response cycle
// (e.g. to stream).
type HandlerContext struct {
	SessionID   string
	AuthContext *AuthContext
	Request     interface{}
	Reply       interface{}
}

// AuthContext is the subset of store.AuthContext a handler needs; engine
// depends on it structurally rather than importing store, keeping feature
// registries free of persistence concerns.
type AuthContext struct {
	UserID   string
	ClientID string
	Scopes   []string
	Audience []string
	Issuer   string
}

// ToolHandler invokes a registered tool. A non-nil, non-Stream error is
// wrapped into an isError result by the engine rather than propagated as a
// protocol error. Returning a *StreamResult switches the caller into
// streaming mode.
type ToolHandler func(ctx context.Context, hctx HandlerContext, arguments json.RawMessage) (interface{}, error)

// ResourceHandler reads a registered resource.
type ResourceHandler func(ctx context.Context, hctx HandlerContext, uri string) (interface{}, error)

// PromptHandler renders a registered prompt.
type PromptHandler func(ctx context.Context, hctx HandlerContext, arguments map[string]string) (interface{}, error)

// ToolDefinition is a registered tool: its public metadata plus an
// optional handler and input schema. A nil handler makes the tool
// listable but not callable (useful for tools implemented entirely on the
// transport side); a nil schema marks the tool "unsafe" and bypasses
// argument validation.
type ToolDefinition struct {
	Name        string
	Description string
	Handler     ToolHandler
	InputSchema *jsonschema.Schema

	resolved *jsonschema.Resolved
}

// ResourceDefinition is a registered resource, keyed by its URI pattern.
type ResourceDefinition struct {
	URIPattern  string
	Name        string
	Description string
	MimeType    string
	Handler     ResourceHandler
	URISchema   *jsonschema.Schema

	resolved *jsonschema.Resolved
}

// PromptDefinition is a registered prompt.
type PromptDefinition struct {
	Name          string
	Description   string
	Arguments     []PromptArgument
	Handler       PromptHandler
	ArgumentSchema *jsonschema.Schema

	resolved *jsonschema.Resolved
}

// PromptArgument describes one argument a prompt accepts.
type PromptArgument struct {
	Name        string
	Description string
	Required    bool
}

func resolve(schema *jsonschema.Schema) (*jsonschema.Resolved, error) {
	if schema == nil {
		return nil, nil
	}
	return schema.Resolve(nil)
}

// Registry holds the process-wide tool, resource and prompt definitions.
// It is populated by the host before the server accepts traffic and is
// read-only thereafter; hot registration after Freeze is rejected.
type Registry struct {
	mu sync.RWMutex

	tools     map[string]*ToolDefinition
	resources map[string]*ResourceDefinition
	prompts   map[string]*PromptDefinition

	promptCompletions   map[string]CompletionProvider
	resourceCompletions map[string]CompletionProvider

	frozen bool
}

// CompletionProvider returns candidate values for a completion/complete
// argument; the engine caps the result at 100 values.
type CompletionProvider func(ctx context.Context, argumentName, value string) ([]string, error)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:               map[string]*ToolDefinition{},
		resources:           map[string]*ResourceDefinition{},
		prompts:              map[string]*PromptDefinition{},
		promptCompletions:   map[string]CompletionProvider{},
		resourceCompletions: map[string]CompletionProvider{},
	}
}

// ErrFrozen is returned by registration methods called after Freeze.
var ErrFrozen = fmt.Errorf("engine: registry is frozen, no hot registration")

// Freeze prevents further registration; call once before accepting
// traffic.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// AddTool registers a tool definition, resolving its input schema once up
// front so call-time validation never re-parses it.
func (r *Registry) AddTool(def ToolDefinition) error {
	resolved, err := resolve(def.InputSchema)
	if err != nil {
		return fmt.Errorf("engine: resolving schema for tool %q: %w", def.Name, err)
	}
	def.resolved = resolved
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	r.tools[def.Name] = &def
	return nil
}

// AddResource registers a resource definition.
func (r *Registry) AddResource(def ResourceDefinition) error {
	resolved, err := resolve(def.URISchema)
	if err != nil {
		return fmt.Errorf("engine: resolving schema for resource %q: %w", def.URIPattern, err)
	}
	def.resolved = resolved
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	r.resources[def.URIPattern] = &def
	return nil
}

// AddPrompt registers a prompt definition.
func (r *Registry) AddPrompt(def PromptDefinition) error {
	resolved, err := resolve(def.ArgumentSchema)
	if err != nil {
		return fmt.Errorf("engine: resolving schema for prompt %q: %w", def.Name, err)
	}
	def.resolved = resolved
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	r.prompts[def.Name] = &def
	return nil
}

// RegisterPromptCompletion binds a completion provider to a prompt name.
func (r *Registry) RegisterPromptCompletion(name string, provider CompletionProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.promptCompletions[name] = provider
}

// RegisterResourceCompletion binds a completion provider to a resource URI
// pattern.
func (r *Registry) RegisterResourceCompletion(uriPattern string, provider CompletionProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resourceCompletions[uriPattern] = provider
}

func (r *Registry) tool(name string) (*ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) resource(uri string) (*ResourceDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resources[uri]
	return res, ok
}

func (r *Registry) prompt(name string) (*PromptDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.prompts[name]
	return p, ok
}

func (r *Registry) listTools() []*ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) listResources() []*ResourceDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ResourceDefinition, 0, len(r.resources))
	for _, res := range r.resources {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URIPattern < out[j].URIPattern })
	return out
}

func (r *Registry) listPrompts() []*PromptDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*PromptDefinition, 0, len(r.prompts))
	for _, p := range r.prompts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) promptCompletion(name string) (CompletionProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.promptCompletions[name]
	return p, ok
}

func (r *Registry) resourceCompletion(uri string) (CompletionProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.resourceCompletions[uri]
	return p, ok
}
