// Package api implements the HTTP API and WebSocket stream for an autohome node.
//
// This package provides:
//   - Health and relay status endpoints
//   - A publish endpoint that sends messages onto the bus through the relay
//   - A live WebSocket feed of messages the relay delivers locally,
//     filterable by kind (raw or typed)
//   - The Prometheus scrape endpoint
//   - Middleware stack (request ID, logging, recovery, request metrics)
//
// # Graceful Degradation
//
// The server runs whether or not the relay is currently up. Status reads
// always work; publishing returns 503 while the relay is stopped or
// restarting.
package api
