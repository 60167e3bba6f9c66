// Package registry persists MCP server configurations and templates.
//
// ServerRegistry keeps the configured servers in insertion order, serves the
// built-in template catalog merged with custom templates, and writes every
// change through a Store before it becomes visible. FileStore keeps a
// versioned JSON or YAML document; SQLiteStore keeps rows in a SQLite
// database. ServerRegistry satisfies mcpmgr.ConfigRegistry.
package registry
