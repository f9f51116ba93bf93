package domain

// ParticipantID is the opaque identifier the server assigns to one joined
// session. Unique within a room, stable until the session leaves.
type ParticipantID string

// RoomIdentity pins who we are in which room. Fixed at join time; only
// ParticipantID is filled in later, by the join response. A non-empty
// ParticipantID before joining marks the rejoin path.
type RoomIdentity struct {
	RoomID        string
	DisplayName   string
	ParticipantID ParticipantID
}

// Rejoining reports whether this identity was restored from a prior session.
func (r RoomIdentity) Rejoining() bool {
	return r.ParticipantID != ""
}

// Participant is one roster entry.
type Participant struct {
	ID           ParticipantID
	DisplayName  string
	AudioEnabled bool
	VideoEnabled bool
}
