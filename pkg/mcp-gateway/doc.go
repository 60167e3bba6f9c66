// Package mcpgateway serves the tool catalog of an mcpmgr.Manager as a single
// Streamable MCP server. Tools are exposed under their catalog ids, upstream
// prompts and resources are proxied under a NamespaceStrategy, and the whole
// set is replaced whenever the manager reports a catalog change. Bearer-token
// auth and OAuth protected-resource metadata are optional.
package mcpgateway
