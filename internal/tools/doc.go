// Package tools exposes the extension's tab actions as MCP tools.
//
// Handlers take typed input, call the extension through an Invoker (normally a
// *caller.Caller) and answer with plain text. Failures such as a timeout, a busy
// mailbox, or an error reported by the extension come back as tool results with
// IsError set, so the model sees them instead of a protocol error.
package tools
