// Package schema defines the wire-level constants and result/param shapes
// of the Model Context Protocol: method names, protocol versions, and the
// JSON structures exchanged for each method. It does not implement
// dispatch or validation; mcp/engine consumes these as compile-time
// constants and types.
package schema

// Method names recognized by the protocol engine's dispatch table.
const (
	MethodInitialize            = "initialize"
	MethodPing                  = "ping"
	MethodToolsList             = "tools/list"
	MethodToolsCall             = "tools/call"
	MethodResourcesList         = "resources/list"
	MethodResourcesRead         = "resources/read"
	MethodPromptsList           = "prompts/list"
	MethodPromptsGet            = "prompts/get"
	MethodCompletionComplete    = "completion/complete"
	MethodLoggingSetLevel       = "logging/setLevel"
	MethodTasksGet              = "tasks/get"
	MethodTasksList             = "tasks/list"
	MethodTasksCancel           = "tasks/cancel"
	MethodElicitationCreate     = "elicitation/create"
	MethodSamplingCreateMessage = "sampling/createMessage"
	MethodRootsList             = "roots/list"

	NotificationInitialized   = "notifications/initialized"
	NotificationCancelled     = "notifications/cancelled"
	NotificationTokenRefresh  = "notifications/token_refreshed"
	NotificationMessage       = "notifications/message"
	NotificationProgress      = "notifications/progress"
	NotificationResourcesList = "notifications/resources/list_changed"
)

// LatestProtocolVersion is advertised by default; clients proposing an
// older supported version receive it back unchanged.
const LatestProtocolVersion = "2025-06-18"

// SupportedProtocolVersions lists every version this engine can speak,
// most recent first.
var SupportedProtocolVersions = []string{LatestProtocolVersion, "2024-11-05"}

// NegotiateProtocolVersion returns requested if it is supported, else
// falls back to LatestProtocolVersion.
func NegotiateProtocolVersion(requested string) string {
	for _, v := range SupportedProtocolVersions {
		if v == requested {
			return requested
		}
	}
	return LatestProtocolVersion
}
