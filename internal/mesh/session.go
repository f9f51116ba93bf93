package mesh

import (
	"roomcall/client/internal/domain"
)

// SessionState is the lifecycle of one peer session.
type SessionState int

const (
	StateNegotiating SessionState = iota
	StateConnected
	StateFailed
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// PeerSession is one negotiated connection to a remote participant. At most
// one exists per remote id; the Manager owns it for its whole lifetime and
// removes it outright on leave or terminal failure.
type PeerSession struct {
	remoteID             domain.ParticipantID
	state                SessionState
	localDescriptionSent bool
	transport            domain.PeerTransport
	tracks               []domain.RemoteTrack
}

// RemoteID returns the session's remote participant.
func (s *PeerSession) RemoteID() domain.ParticipantID { return s.remoteID }

// State returns the session's current state. Callers outside the Manager's
// lock see a snapshot only.
func (s *PeerSession) State() SessionState { return s.state }

// LocalDescriptionSent reports whether our offer or answer went out.
func (s *PeerSession) LocalDescriptionSent() bool { return s.localDescriptionSent }
