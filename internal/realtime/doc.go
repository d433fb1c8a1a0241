// Package realtime implements the Realtime Client component.
//
// The Realtime Client:
//   - Owns one logical WebSocket connection to the realtime endpoint
//   - Dispatches inbound {"type","data"} envelopes to handlers registered per type
//   - Reconnects after unexpected loss with exponential backoff (base * 2^attempt)
//   - Gives up after MaxAttempts consecutive failures until Connect is called again
//   - Reports every internal failure on a single error stream
package realtime
