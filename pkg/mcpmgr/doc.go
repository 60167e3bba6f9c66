// Package mcpmgr supervises connections to many Model Context Protocol (MCP)
// servers from one Go process and presents their tools as a single catalog.
//
// # Core entry points
//
//   - Manager is the long-lived orchestration type. Construct it with
//     NewManager, then call AddServer / RemoveServer, or Initialize to
//     connect every enabled config held by a ConfigRegistry.
//   - ServerConfig declares how a server is launched (stdio) or contacted
//     (streamable-http, sse). Template plus ServerOverrides instantiates
//     configs from reusable shapes.
//   - ServerConnection is the per-server state machine (idle, connecting,
//     connected, failed) with a bounded retry budget and per-attempt timeout.
//   - Transport and Session abstract the wire. DefaultTransports returns the
//     go-sdk backed implementations; tests substitute their own.
//
// Once servers are connected, ListTools, SearchTools and GetCategories read
// the aggregate catalog built by the tooladapter package, and ExecuteTool or
// FindAndCallTool route validated calls to the owning server. Subscribe to
// lifecycle events with On; HealthCheck, GetStatus and HealthScheduler report
// on the live set.
//
// Errors returned by the Manager are *Error values; use errors.Is with the
// kind sentinels (ErrConfiguration, ErrConnection, ErrRouting, ...) or KindOf
// to branch on them.
package mcpmgr
