// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection inbound rate limiting
	RateLimitMessages = 30          // Max messages per connection per window
	RateLimitWindow   = time.Second // Sliding window duration

	// StatePushInterval paces the level/state broadcast to the UI.
	StatePushInterval = 100 * time.Millisecond
)
