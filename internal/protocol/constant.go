package protocol

import "time"

// WebSocket protocol constants
const (
	// Client → server identifiers
	WSAuth      = 1001 // Authentication handshake
	WSSendMsg   = 1002 // Send message
	WSReadAck   = 1003 // Mark conversation read
	WSHeartbeat = 1004 // Keepalive

	// Server → client identifiers
	WSAuthResult    = 2001 // Handshake result
	WSMsgAck        = 2002 // Confirmation of a locally sent message
	WSNewMsg        = 2003 // Broadcast message
	WSSnapshot      = 2004 // Full conversation snapshot
	WSHeartbeatPong = 2005 // Keepalive reply
	WSPresence      = 2006 // Presence update (opaque to the core)
)

// Timeout constants
const (
	// WriteWait is time allowed to write a message to the peer
	WriteWait = 10 * time.Second

	// PongWait is time allowed to read the next frame from the peer
	// before the connection is treated as silently dead
	PongWait = 30 * time.Second

	// PingPeriod is period between heartbeats. Must be less than PongWait
	PingPeriod = (PongWait * 9) / 10

	// MaxMessageSize is maximum frame size allowed from the server
	MaxMessageSize = 51200
)
