// Package wellknown carries the RFC 9728 protected-resource metadata
// document the transport publishes so OAuth clients can locate the
// authorization server guarding the MCP endpoint.
package wellknown

// ProtectedResourceMetadata is the subset of RFC 9728 this server fills in.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ResourceName           string   `json:"resource_name,omitempty"`
}
