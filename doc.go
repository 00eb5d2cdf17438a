// Package playground implements a client-side runtime for driving Model Context
// Protocol (MCP) sessions from a long-lived interactive application. It owns the
// connection lifecycle, liveness detection, result caching, request
// deduplication, cancellation, retry/backoff, and batched concurrent invocation.
//
// The package composes a connection state machine, three capability managers
// (tools, resources, prompts), and shared caching/deduplication/event-bus
// primitives behind the Playground facade. Transports for HTTP, WebSocket,
// Server-Sent Events, and local-process stdio are provided, all speaking the
// protocol described at https://spec.modelcontextprotocol.io/specification/.
package playground
