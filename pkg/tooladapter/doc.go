// Package tooladapter turns raw MCP tool descriptors into NormalizedTool values
// that share one invocation contract regardless of which server exposed them.
//
// Adapt builds the deterministic global ID, the typed parameter list, and a
// best-effort category. ValidateAndCoerce checks caller arguments against the
// parameter list before anything reaches a transport, and NormalizeResult
// collapses a CallToolResult into a Result envelope.
//
// Catalog aggregates NormalizedTool values across servers. Each server's
// entries are replaced wholesale on refresh, and every read returns a copy so
// callers never observe a catalog mid-update.
package tooladapter
