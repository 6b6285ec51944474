// Package mcpbridge is the top-level umbrella for the MCP session-bridge
// CLI subsystem: one long-lived bridge daemon per MCP session, a thin
// Bridge Manager that spawns and supervises bridges from short-lived CLI
// invocations, and an IPC protocol connecting the two.
//
// The interesting pieces live in their own packages:
//   - registry holds the session and auth-profile registries.
//   - secretstore and oauth hold credential material and refresh it.
//   - internal/mcptransport, internal/mcpclient, internal/mcpschema
//     implement the MCP wire protocol itself.
//   - cache, metrics, clierr are small supporting concerns.
//   - bridge is the daemon; bridgemgr and ipc are how the CLI talks to it;
//     proxy is the optional HTTP re-exposition a bridge can serve.
//
// cmd/mcpbridged and cmd/mcpctl are the two binaries built from this module.
package mcpbridge
