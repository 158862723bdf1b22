package schema

import "encoding/json"

// Implementation identifies either the client or the server.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities declares which method families a server enables.
// Nil fields mean the capability is not offered.
type ServerCapabilities struct {
	Tools       *ToolsCapability       `json:"tools,omitempty"`
	Resources   *ResourcesCapability   `json:"resources,omitempty"`
	Prompts     *PromptsCapability     `json:"prompts,omitempty"`
	Logging     map[string]interface{} `json:"logging,omitempty"`
	Completions map[string]interface{} `json:"completions,omitempty"`
	Tasks       *TasksCapability       `json:"tasks,omitempty"`
}

type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// TasksCapability gates the tasks/* method family; absence makes the
// engine answer them with METHOD_NOT_FOUND.
type TasksCapability struct{}

// InitializeParams is the params object of the initialize request.
type InitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ClientInfo      Implementation         `json:"clientInfo"`
}

// InitializeResult is the result object of the initialize response.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// Content is a single piece of tool/prompt/resource result content.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// TextContent builds a Content of type "text".
func TextContent(text string) Content {
	return Content{Type: "text", Text: text}
}

// Tool is a registered tool's public definition.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsResult is the result of tools/list.
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// CallToolParams is the params object of tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the result of tools/call. IsError distinguishes a
// handler-level failure (still a JSON-RPC success envelope) from an
// engine-level error envelope.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Resource is a registered resource's public definition.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ListResourcesResult is the result of resources/list.
type ListResourcesResult struct {
	Resources  []Resource `json:"resources"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// ReadResourceParams is the params object of resources/read.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// ResourceContents is one item returned by resources/read.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ReadResourceResult is the result of resources/read.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// PromptArgument describes one argument a prompt accepts.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Prompt is a registered prompt's public definition.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// ListPromptsResult is the result of prompts/list.
type ListPromptsResult struct {
	Prompts    []Prompt `json:"prompts"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

// GetPromptParams is the params object of prompts/get.
type GetPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// PromptMessage is one message produced by a prompt.
type PromptMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// GetPromptResult is the result of prompts/get.
type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// CompletionReference identifies what a completion/complete request is
// completing against: a prompt name or a resource URI pattern.
type CompletionReference struct {
	Type string `json:"type"` // "ref/prompt" | "ref/resource"
	Name string `json:"name,omitempty"`
	URI  string `json:"uri,omitempty"`
}

// CompleteParams is the params object of completion/complete.
type CompleteParams struct {
	Ref      CompletionReference `json:"ref"`
	Argument struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"argument"`
}

// CompletionValues is the result.completion object of completion/complete,
// capped at 100 values.
type CompletionValues struct {
	Values  []string `json:"values"`
	Total   int      `json:"total"`
	HasMore bool     `json:"hasMore"`
}

// CompleteResult is the result of completion/complete.
type CompleteResult struct {
	Completion CompletionValues `json:"completion"`
}

// LogLevel is one of the RFC 5424 severities, ordered least to most
// severe.
type LogLevel string

const (
	LogDebug     LogLevel = "debug"
	LogInfo      LogLevel = "info"
	LogNotice    LogLevel = "notice"
	LogWarning   LogLevel = "warning"
	LogError     LogLevel = "error"
	LogCritical  LogLevel = "critical"
	LogAlert     LogLevel = "alert"
	LogEmergency LogLevel = "emergency"
)

var logSeverity = map[LogLevel]int{
	LogDebug: 0, LogInfo: 1, LogNotice: 2, LogWarning: 3,
	LogError: 4, LogCritical: 5, LogAlert: 6, LogEmergency: 7,
}

// Severity returns l's rank, or -1 if l is not a recognized level.
func (l LogLevel) Severity() int {
	v, ok := logSeverity[l]
	if !ok {
		return -1
	}
	return v
}

// Valid reports whether l is one of the eight recognized levels.
func (l LogLevel) Valid() bool {
	return l.Severity() >= 0
}

// SetLevelParams is the params object of logging/setLevel.
type SetLevelParams struct {
	Level LogLevel `json:"level"`
}

// TaskStatus mirrors store.TaskStatus for wire serialization.
type TaskStatus string

const (
	TaskWorking   TaskStatus = "working"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// GetTaskResult is the result of tasks/get.
type GetTaskResult struct {
	ID            string          `json:"id"`
	Status        TaskStatus      `json:"status"`
	StatusMessage string          `json:"statusMessage,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
}

// ListTasksResult is the result of tasks/list.
type ListTasksResult struct {
	Tasks []GetTaskResult `json:"tasks"`
}

// CancelTaskParams is the params object of tasks/cancel.
type CancelTaskParams struct {
	ID string `json:"id"`
}

// GetTaskParams is the params object of tasks/get.
type GetTaskParams struct {
	ID string `json:"id"`
}

// TaskStatusNotificationParams is the params object published to
// mcp/task/{id}/status. Nothing in this module subscribes to that topic, so
// these payloads are not forwarded to clients.
type TaskStatusNotificationParams struct {
	TaskID        string          `json:"taskId"`
	Status        TaskStatus      `json:"status"`
	StatusMessage string          `json:"statusMessage,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
}

// TokenRefreshedParams is the params object published to
// mcp/session/{id}/message when the background refresh loop rotates a
// session's bearer token.
type TokenRefreshedParams struct {
	SessionID string `json:"sessionId"`
}

// ElicitParams is the params object of a server-initiated elicitation/create
// request: the client presents RequestedSchema-shaped form to its user and
// replies with the values they enter.
type ElicitParams struct {
	Message         string          `json:"message"`
	RequestedSchema json.RawMessage `json:"requestedSchema"`
}

// ElicitResult is the client's reply to elicitation/create.
type ElicitResult struct {
	Action  string          `json:"action"` // "accept", "decline" or "cancel"
	Content json.RawMessage `json:"content,omitempty"`
}

// SamplingMessage is one turn in a sampling/createMessage conversation.
type SamplingMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// CreateMessageParams is the params object of a server-initiated
// sampling/createMessage request.
type CreateMessageParams struct {
	Messages         []SamplingMessage `json:"messages"`
	MaxTokens        int               `json:"maxTokens,omitempty"`
	SystemPrompt     string            `json:"systemPrompt,omitempty"`
	Temperature      float64           `json:"temperature,omitempty"`
	StopSequences    []string          `json:"stopSequences,omitempty"`
}

// CreateMessageResult is the client's reply to sampling/createMessage.
type CreateMessageResult struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
	Model   string  `json:"model,omitempty"`
}

// ListRootsResult is the client's reply to roots/list.
type ListRootsResult struct {
	Roots []Root `json:"roots"`
}

// Root is one filesystem or URI root the client exposes to the server.
type Root struct {
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
}
