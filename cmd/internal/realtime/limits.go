package realtime

import "time"

// Security and performance limits for the websocket gateway.
const (
	// Max bytes per frame read.
	maxFrameBytes = 16 << 10 // 16 KiB

	// Heartbeat defaults, overridable by env in ws_gateway.go.
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection inbound rate limit (events per window).
	rateLimitEvents = 60
	rateLimitWindow = 10 * time.Second
)
