// Package mcpschema re-exports the MCP wire-protocol types the bridge's
// client core, transports, and proxy server exchange — initialize
// handshake, tools/resources/prompts list and get/call/read payloads,
// capability structs, and notification method names — from
// github.com/viant/mcp-protocol/schema, the reference repo's own schema
// package (imported throughout server/ and client/). Aliasing them here
// under local names means every call site in this module imports one local
// package instead of threading the upstream one through every file
// individually, and keeps this module's own method-dispatch tables
// (bridge/bridge.go's proxyAllowedMethods, mcpMethodToIPCMethod) readable
// without a qualified import everywhere.
package mcpschema

import (
	schema "github.com/viant/mcp-protocol/schema"
)

// LatestProtocolVersion is the protocol version Connect always requests at initialize.
const LatestProtocolVersion = schema.LatestProtocolVersion

// Method name constants, the same ones the reference repo's clientImplementer
// declares support for and server/handler.go dispatches on.
const (
	MethodInitialize              = schema.MethodInitialize
	MethodNotificationInitialized = schema.MethodNotificationInitialized
	MethodPing                    = schema.MethodPing
	MethodToolsList                = schema.MethodToolsList
	MethodToolsCall                = schema.MethodToolsCall
	MethodResourcesList             = schema.MethodResourcesList
	MethodResourcesTemplatesList    = schema.MethodResourcesTemplatesList
	MethodResourcesRead             = schema.MethodResourcesRead
	MethodResourcesSubscribe        = schema.MethodSubscribe
	MethodResourcesUnsubscribe      = schema.MethodUnsubscribe
	MethodPromptsList               = schema.MethodPromptsList
	MethodPromptsGet                = schema.MethodPromptsGet
	MethodCompletionComplete        = schema.MethodComplete
	MethodLoggingSetLevel           = schema.MethodLoggingSetLevel
	MethodRootsList                 = schema.MethodRootsList
	MethodSamplingCreateMessage     = schema.MethodSamplingCreateMessage
	MethodElicitationCreate         = schema.MethodElicitationCreate

	MethodNotificationResourceUpdated = schema.MethodNotificationResourceUpdated
	MethodNotificationMessage         = schema.MethodNotificationMessage
	MethodNotificationCancelled       = schema.MethodNotificationCancel
)

// The four notification methods below are never referenced against
// github.com/viant/mcp-protocol/schema anywhere in the pack — the only
// list-changed/progress constants in the pack live on the reference
// repo's separate, legacy github.com/viant/mcp/schema package, which
// doesn't define list-changed notifications at all. Rather than guess at
// names that may not exist in mcp-protocol/schema v0.8.0, these are
// hand-listed the same way that legacy schema/method.go hand-lists its
// own method strings.
const (
	MethodNotificationToolsListChanged     = "notifications/tools/list_changed"
	MethodNotificationResourcesListChanged = "notifications/resources/list_changed"
	MethodNotificationPromptsListChanged   = "notifications/prompts/list_changed"
	MethodNotificationProgress             = "notifications/progress"
)

// Implementation, capability structs, and LoggingLevel are the same types
// the reference repo builds its InitializeRequestParams/Result and
// ServerCapabilities/ClientCapabilities out of.
type (
	Implementation       = schema.Implementation
	ClientCapabilities   = schema.ClientCapabilities
	ServerCapabilities   = schema.ServerCapabilities
	LoggingLevel          = schema.LoggingLevel
)

// NewImplementation mirrors the reference repo's own schema.NewImplementation
// convenience constructor.
var NewImplementation = schema.NewImplementation

// InitializeRequestParams/InitializeResult are exchanged on the initialize
// handshake.
type (
	InitializeRequestParams = schema.InitializeRequestParams
	InitializeResult        = schema.InitializeResult
	PingResult              = schema.PingResult
)

// Pagination and per-method Params/Result pairs, matching
// github.com/viant/mcp-protocol/schema's own generated types one for one.
type (
	ListToolsRequestParams = schema.ListToolsRequestParams
	ListToolsResult        = schema.ListToolsResult
	Tool                   = schema.Tool

	ListResourcesRequestParams = schema.ListResourcesRequestParams
	ListResourcesResult        = schema.ListResourcesResult
	Resource                   = schema.Resource

	ListResourceTemplatesRequestParams = schema.ListResourceTemplatesRequestParams
	ListResourceTemplatesResult        = schema.ListResourceTemplatesResult
	ResourceTemplate                   = schema.ResourceTemplate

	ReadResourceRequestParams = schema.ReadResourceRequestParams
	ReadResourceResult        = schema.ReadResourceResult
	ResourceContents          = schema.ResourceContents

	SubscribeRequestParams   = schema.SubscribeRequestParams
	SubscribeResult          = schema.SubscribeResult
	UnsubscribeRequestParams = schema.UnsubscribeRequestParams
	UnsubscribeResult        = schema.UnsubscribeResult

	ListPromptsRequestParams = schema.ListPromptsRequestParams
	ListPromptsResult        = schema.ListPromptsResult
	Prompt                   = schema.Prompt
	PromptArgument           = schema.PromptArgument

	GetPromptRequestParams = schema.GetPromptRequestParams
	GetPromptResult        = schema.GetPromptResult
	PromptMessage          = schema.PromptMessage

	CallToolRequestParams = schema.CallToolRequestParams
	CallToolResult         = schema.CallToolResult

	SetLevelRequestParams = schema.SetLevelRequestParams
	SetLevelResult        = schema.SetLevelResult
)
