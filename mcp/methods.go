// Package mcp carries the protocol-level constants and message shapes of the
// MCP surface this server speaks: the initialize handshake, ping, tool
// listing and invocation, and the logging notification pushed over SSE.
package mcp

// Method is a JSON-RPC method name in the MCP protocol.
type Method string

const (
	InitializeMethod              Method = "initialize"
	InitializedNotificationMethod Method = "notifications/initialized"
	PingMethod                    Method = "ping"
	ToolsListMethod               Method = "tools/list"
	ToolsCallMethod               Method = "tools/call"
	LoggingNotificationMethod     Method = "notifications/message"
)

// Protocol revisions accepted on the Mcp-Protocol-Version header and in the
// initialize handshake.
const (
	LatestProtocolVersion   = "2025-06-18"
	PreviousProtocolVersion = "2025-03-26"
)

// SupportedProtocolVersions lists accepted revisions, newest first.
func SupportedProtocolVersions() []string {
	return []string{LatestProtocolVersion, PreviousProtocolVersion}
}

// IsSupportedProtocolVersion checks v against the supported set.
func IsSupportedProtocolVersion(v string) bool {
	for _, s := range SupportedProtocolVersions() {
		if v == s {
			return true
		}
	}
	return false
}
