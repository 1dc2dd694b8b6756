// Package http provides the hub's HTTP surface.
//
// The HTTP server exposes endpoints for:
//   - WebSocket connections (/ and /ws)
//   - The relay side channel (POST /internal/broadcast)
//   - Recent activity and hub statistics
//   - Health checks
//   - Prometheus metrics
package http
