// Package engine implements the protocol engine: it parses method names
// out of already-decoded JSON-RPC requests, validates params, dispatches
// to the feature registries, and returns either a single response, an
// error, a stream of responses, or nothing (for notifications).
package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyrsmith/mcpd"
	"github.com/fyrsmith/mcpd/mcp/schema"
	"github.com/fyrsmith/mcpd/mcp/tasks"
)

// Options configures an Engine at construction time.
type Options struct {
	ServerInfo   schema.Implementation
	Instructions string
	Capabilities schema.ServerCapabilities
	Tasks        *tasks.Service // nil disables the tasks/* method family
	Logger       Logger
}

// Logger is the minimal surface the engine needs to record informational
// and warning events; mcp/logging.Logger satisfies it.
type Logger interface {
	Log(ctx context.Context, level schema.LogLevel, message string, fields map[string]interface{})
	SetLevel(level schema.LogLevel) error
	Level() schema.LogLevel
}

// Engine dispatches parsed JSON-RPC envelopes to the feature registries.
type Engine struct {
	registry *Registry
	opts     Options
}

// New creates an Engine over registry using opts.
func New(registry *Registry, opts Options) *Engine {
	return &Engine{registry: registry, opts: opts}
}

// Registry returns the engine's feature registry so a host can register
// tools/resources/prompts before calling Freeze.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Dispatch handles one parsed request and returns exactly one of: a
// response envelope, a stream (tools/call yielding a StreamResult), or a
// protocol error envelope.
func (e *Engine) Dispatch(ctx context.Context, req *jsonrpc.Request, hctx HandlerContext) (*jsonrpc.Response, *StreamResult, *jsonrpc.Error) {
	switch req.Method {
	case schema.MethodInitialize:
		return e.initialize(req)
	case schema.MethodPing:
		return e.ping(req)
	case schema.MethodToolsList:
		return e.listTools(req)
	case schema.MethodToolsCall:
		return e.callTool(ctx, req, hctx)
	case schema.MethodResourcesList:
		return e.listResources(req)
	case schema.MethodResourcesRead:
		return e.readResource(ctx, req, hctx)
	case schema.MethodPromptsList:
		return e.listPrompts(req)
	case schema.MethodPromptsGet:
		return e.getPrompt(ctx, req, hctx)
	case schema.MethodCompletionComplete:
		return e.complete(ctx, req)
	case schema.MethodLoggingSetLevel:
		return e.setLevel(req)
	case schema.MethodTasksGet, schema.MethodTasksList, schema.MethodTasksCancel:
		return e.dispatchTask(ctx, req, hctx)
	default:
		return nil, nil, jsonrpc.NewMethodNotFound(req.Id, fmt.Errorf("method not found: %s", req.Method), nil)
	}
}

// DispatchNotification handles a parsed notification; it never produces a
// response.
func (e *Engine) DispatchNotification(ctx context.Context, n *jsonrpc.Notification) {
	switch n.Method {
	case schema.NotificationInitialized:
		e.log(ctx, schema.LogInfo, "client initialized", nil)
	case schema.NotificationCancelled:
		e.log(ctx, schema.LogInfo, "request cancelled", nil)
	default:
		e.log(ctx, schema.LogWarning, "unhandled notification: "+n.Method, nil)
	}
}

func (e *Engine) log(ctx context.Context, level schema.LogLevel, msg string, fields map[string]interface{}) {
	if e.opts.Logger == nil {
		return
	}
	e.opts.Logger.Log(ctx, level, msg, fields)
}

func result(req *jsonrpc.Request, v interface{}) (*jsonrpc.Response, *StreamResult, *jsonrpc.Error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, jsonrpc.NewInternalError(req.Id, err, nil)
	}
	return jsonrpc.NewResponse(req.Id, data), nil, nil
}

func invalidParams(req *jsonrpc.Request, err error) (*jsonrpc.Response, *StreamResult, *jsonrpc.Error) {
	return nil, nil, jsonrpc.NewInvalidParams(req.Id, err, nil)
}

func (e *Engine) initialize(req *jsonrpc.Request) (*jsonrpc.Response, *StreamResult, *jsonrpc.Error) {
	var params schema.InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return invalidParams(req, err)
		}
	}
	return result(req, schema.InitializeResult{
		ProtocolVersion: schema.NegotiateProtocolVersion(params.ProtocolVersion),
		Capabilities:    e.opts.Capabilities,
		ServerInfo:      e.opts.ServerInfo,
		Instructions:    e.opts.Instructions,
	})
}

func (e *Engine) ping(req *jsonrpc.Request) (*jsonrpc.Response, *StreamResult, *jsonrpc.Error) {
	return result(req, struct{}{})
}

func (e *Engine) listTools(req *jsonrpc.Request) (*jsonrpc.Response, *StreamResult, *jsonrpc.Error) {
	defs := e.registry.listTools()
	out := make([]schema.Tool, 0, len(defs))
	for _, d := range defs {
		var raw json.RawMessage
		if d.resolved != nil {
			raw, _ = json.Marshal(d.InputSchema)
		}
		out = append(out, schema.Tool{Name: d.Name, Description: d.Description, InputSchema: raw})
	}
	return result(req, schema.ListToolsResult{Tools: out})
}

func (e *Engine) callTool(ctx context.Context, req *jsonrpc.Request, hctx HandlerContext) (*jsonrpc.Response, *StreamResult, *jsonrpc.Error) {
	var params schema.CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return invalidParams(req, err)
	}
	def, ok := e.registry.tool(params.Name)
	if !ok {
		return invalidParams(req, fmt.Errorf("unknown tool: %s", params.Name))
	}
	if def.resolved != nil {
		var v interface{}
		if len(params.Arguments) > 0 {
			if err := json.Unmarshal(params.Arguments, &v); err != nil {
				return invalidParams(req, err)
			}
		}
		if err := def.resolved.Validate(v); err != nil {
			return invalidParams(req, err)
		}
	}
	if def.Handler == nil {
		return invalidParams(req, fmt.Errorf("tool %q has no handler", params.Name))
	}
	out, err := def.Handler(ctx, hctx, params.Arguments)
	if err != nil {
		return result(req, schema.CallToolResult{
			Content: []schema.Content{schema.TextContent(err.Error())},
			IsError: true,
		})
	}
	if stream, ok := out.(*StreamResult); ok {
		return nil, stream, nil
	}
	return result(req, out)
}

func (e *Engine) listResources(req *jsonrpc.Request) (*jsonrpc.Response, *StreamResult, *jsonrpc.Error) {
	defs := e.registry.listResources()
	out := make([]schema.Resource, 0, len(defs))
	for _, d := range defs {
		out = append(out, schema.Resource{URI: d.URIPattern, Name: d.Name, Description: d.Description, MimeType: d.MimeType})
	}
	return result(req, schema.ListResourcesResult{Resources: out})
}

func (e *Engine) readResource(ctx context.Context, req *jsonrpc.Request, hctx HandlerContext) (*jsonrpc.Response, *StreamResult, *jsonrpc.Error) {
	var params schema.ReadResourceParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return invalidParams(req, err)
	}
	def, ok := e.registry.resource(params.URI)
	if !ok {
		return invalidParams(req, fmt.Errorf("unknown resource: %s", params.URI))
	}
	if def.Handler == nil {
		return invalidParams(req, fmt.Errorf("resource %q has no handler", params.URI))
	}
	out, err := def.Handler(ctx, hctx, params.URI)
	if err != nil {
		return result(req, schema.ReadResourceResult{
			Contents: []schema.ResourceContents{{URI: params.URI, Text: "error: " + err.Error()}},
		})
	}
	return result(req, out)
}

func (e *Engine) listPrompts(req *jsonrpc.Request) (*jsonrpc.Response, *StreamResult, *jsonrpc.Error) {
	defs := e.registry.listPrompts()
	out := make([]schema.Prompt, 0, len(defs))
	for _, d := range defs {
		args := make([]schema.PromptArgument, 0, len(d.Arguments))
		for _, a := range d.Arguments {
			args = append(args, schema.PromptArgument{Name: a.Name, Description: a.Description, Required: a.Required})
		}
		out = append(out, schema.Prompt{Name: d.Name, Description: d.Description, Arguments: args})
	}
	return result(req, schema.ListPromptsResult{Prompts: out})
}

func (e *Engine) getPrompt(ctx context.Context, req *jsonrpc.Request, hctx HandlerContext) (*jsonrpc.Response, *StreamResult, *jsonrpc.Error) {
	var params schema.GetPromptParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return invalidParams(req, err)
	}
	def, ok := e.registry.prompt(params.Name)
	if !ok {
		return invalidParams(req, fmt.Errorf("unknown prompt: %s", params.Name))
	}
	if def.Handler == nil {
		return invalidParams(req, fmt.Errorf("prompt %q has no handler", params.Name))
	}
	out, err := def.Handler(ctx, hctx, params.Arguments)
	if err != nil {
		return result(req, schema.GetPromptResult{
			Messages: []schema.PromptMessage{{Role: "assistant", Content: schema.TextContent("error: " + err.Error())}},
		})
	}
	return result(req, out)
}

const completionCap = 100

func (e *Engine) complete(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, *StreamResult, *jsonrpc.Error) {
	var params schema.CompleteParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return invalidParams(req, err)
	}
	var provider CompletionProvider
	var ok bool
	switch params.Ref.Type {
	case "ref/prompt":
		provider, ok = e.registry.promptCompletion(params.Ref.Name)
	case "ref/resource":
		provider, ok = e.registry.resourceCompletion(params.Ref.URI)
	default:
		return invalidParams(req, fmt.Errorf("unknown completion reference type: %s", params.Ref.Type))
	}
	if !ok {
		return result(req, schema.CompleteResult{Completion: schema.CompletionValues{}})
	}
	values, err := provider(ctx, params.Argument.Name, params.Argument.Value)
	if err != nil {
		return nil, nil, jsonrpc.NewInternalError(req.Id, err, nil)
	}
	total := len(values)
	hasMore := total > completionCap
	if hasMore {
		values = values[:completionCap]
	}
	return result(req, schema.CompleteResult{Completion: schema.CompletionValues{
		Values: values, Total: total, HasMore: hasMore,
	}})
}

func (e *Engine) setLevel(req *jsonrpc.Request) (*jsonrpc.Response, *StreamResult, *jsonrpc.Error) {
	var params schema.SetLevelParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return invalidParams(req, err)
	}
	if !params.Level.Valid() {
		return invalidParams(req, fmt.Errorf("unknown log level: %s", params.Level))
	}
	if e.opts.Logger != nil {
		if err := e.opts.Logger.SetLevel(params.Level); err != nil {
			return nil, nil, jsonrpc.NewInternalError(req.Id, err, nil)
		}
	}
	return result(req, struct{}{})
}

func (e *Engine) dispatchTask(ctx context.Context, req *jsonrpc.Request, hctx HandlerContext) (*jsonrpc.Response, *StreamResult, *jsonrpc.Error) {
	if e.opts.Tasks == nil {
		return nil, nil, jsonrpc.NewMethodNotFound(req.Id, fmt.Errorf("tasks capability not enabled"), nil)
	}
	var auth *tasks.AuthContext
	if hctx.AuthContext != nil {
		auth = &tasks.AuthContext{UserID: hctx.AuthContext.UserID, ClientID: hctx.AuthContext.ClientID}
	}
	switch req.Method {
	case schema.MethodTasksGet:
		var params schema.GetTaskParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return invalidParams(req, err)
		}
		t, err := e.opts.Tasks.GetTask(ctx, params.ID, auth)
		if err != nil {
			return nil, nil, jsonrpc.NewInternalError(req.Id, err, nil)
		}
		return result(req, taskToResult(t))
	case schema.MethodTasksList:
		list, err := e.opts.Tasks.ListTasks(ctx, auth)
		if err != nil {
			return nil, nil, jsonrpc.NewInternalError(req.Id, err, nil)
		}
		out := make([]schema.GetTaskResult, 0, len(list))
		for _, t := range list {
			out = append(out, taskToResult(t))
		}
		return result(req, schema.ListTasksResult{Tasks: out})
	case schema.MethodTasksCancel:
		var params schema.CancelTaskParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return invalidParams(req, err)
		}
		if err := e.opts.Tasks.CancelTask(ctx, params.ID, auth); err != nil {
			return nil, nil, jsonrpc.NewInternalError(req.Id, err, nil)
		}
		return result(req, struct{}{})
	}
	return nil, nil, jsonrpc.NewMethodNotFound(req.Id, fmt.Errorf("method not found: %s", req.Method), nil)
}

func taskToResult(t *tasks.Task) schema.GetTaskResult {
	return schema.GetTaskResult{
		ID:            t.ID,
		Status:        schema.TaskStatus(t.Status),
		StatusMessage: t.StatusMessage,
		Result:        t.Result,
	}
}
