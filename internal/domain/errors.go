package domain

import "errors"

// Fatal join/call errors. Everything per-peer or recorder-related is isolated
// to its own session and never surfaces as one of these.
var (
	// ErrMediaUnavailable: capture failed on both the high-quality and the
	// degraded constraint set.
	ErrMediaUnavailable = errors.New("media capture unavailable")

	// ErrRoomJoinRejected: the room does not exist or refused us.
	ErrRoomJoinRejected = errors.New("room join rejected")

	// ErrConnectTimeout: the signaling endpoint did not complete the
	// handshake within the bounded wait.
	ErrConnectTimeout = errors.New("signaling connect timeout")

	// ErrSignalingUnavailable: the signaling connection failed and the
	// single reconnect attempt did not recover it.
	ErrSignalingUnavailable = errors.New("signaling unavailable")

	// ErrRoomEnded: the server terminated the room.
	ErrRoomEnded = errors.New("room ended by server")
)
