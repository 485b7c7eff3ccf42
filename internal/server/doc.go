// Package server exposes the chat hub over HTTP: the websocket upgrade
// endpoint with its origin check, health endpoints, the browser test page,
// Prometheus metrics and the HTTP server lifecycle.
package server
