// Package api implements the HTTP REST API and WebSocket server for the
// WuKong gateway.
//
// This package provides:
//   - REST endpoints for the node directory, locations and inventories
//   - Property reads and writes against running devices
//   - Controller console commands (add, stop, reset, learn) and status waits
//   - The command audit trail (writes are recorded, GET /audit lists them)
//   - WebSocket hub broadcasting accepted property updates
//   - JWT bearer authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The API server sits in front of the gateway comm client. Requests that
// touch a device become GET/SET datagrams; accepted PROPERTY_UPDATE
// notifications reach WebSocket clients through the Hub, which is a sink of
// the bridge fan-out.
//
// # Security
//
// When security.jwt.secret is configured every route except health and
// metrics requires an HS256 bearer token. WebSocket connections use
// single-use tickets so tokens never appear in URLs. Without a secret the
// API is open, which is intended for bench setups only.
package api
