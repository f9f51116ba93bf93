package domain

// Sender puts envelopes on the signaling channel. Fire-and-forget: sends are
// silently dropped while the channel is not open.
type Sender interface {
	Send(env Envelope)
}

// Handler receives inbound signaling events, demultiplexed by message type.
// Events for the same remote participant arrive in send order; no ordering
// holds across different participants.
type Handler interface {
	OnRoomJoined(existing []UserInfo)
	OnUserJoined(u UserInfo)
	OnUserLeft(id ParticipantID)
	OnUserMediaChanged(id ParticipantID, audio, video bool)
	OnOffer(from ParticipantID, sdp SDPPayload)
	OnAnswer(from ParticipantID, sdp SDPPayload)
	OnCandidate(from ParticipantID, cand CandidatePayload)
	OnRecorderAnswer(sdp SDPPayload)
	OnRecorderCandidate(cand CandidatePayload)
	OnRoomEnded(message string)
	OnServerError(message string)

	// OnSignalingLost fires after the channel's single reconnect attempt
	// has failed. Fatal to the call.
	OnSignalingLost()
}

// TransportState is the lifecycle of one negotiated media connection.
type TransportState int

const (
	TransportConnecting TransportState = iota
	TransportConnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	}
	return "unknown"
}

// RemoteTrack is the read side of one inbound media track.
type RemoteTrack interface {
	ID() string
	Kind() string // "audio" or "video"
}

// PeerTransport wraps one media connection. Implementations attach the
// current local capture tracks at creation time. Callback registration must
// happen before the first negotiation call; callbacks may fire from
// transport-owned goroutines.
type PeerTransport interface {
	// CreateOffer generates a session description and installs it as the
	// local description.
	CreateOffer() (SDPPayload, error)
	// CreateAnswer applies the remote offer and generates, installs and
	// returns the answer.
	CreateAnswer(offer SDPPayload) (SDPPayload, error)
	// ApplyAnswer applies the remote answer to a previously sent offer.
	ApplyAnswer(answer SDPPayload) error
	AddRemoteCandidate(cand CandidatePayload) error

	OnLocalCandidate(fn func(CandidatePayload))
	OnRemoteTrack(fn func(RemoteTrack))
	OnStateChange(fn func(TransportState))

	// SyncLocalTracks rebinds the outbound senders to the current capture
	// tracks after a track replacement.
	SyncLocalTracks() error

	// SetTrackEnabled detaches (false) or re-attaches (true) the outbound
	// sender for the given kind. Never triggers renegotiation.
	SetTrackEnabled(kind string, enabled bool) error

	Close() error
}

// TransportFactory mints transports bound to the local capture stream.
type TransportFactory interface {
	// NewPeerTransport creates a bidirectional transport for one mesh peer.
	NewPeerTransport() (PeerTransport, error)
	// NewSendTransport creates a send-only transport for the recorder
	// uplink; it offers to send media and declines to receive any.
	NewSendTransport() (PeerTransport, error)
}

// Notifier is implemented by the rendering layer. The core emits these events
// and never depends on what the consumer does with them. Removal may be
// reported more than once for the same id (a transport failure racing a
// user-left event); consumers must treat it as idempotent.
type Notifier interface {
	OnParticipantAdded(id ParticipantID, displayName string)
	OnRemoteTrackAdded(id ParticipantID, track RemoteTrack)
	OnParticipantRemoved(id ParticipantID)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) OnParticipantAdded(ParticipantID, string)      {}
func (NopNotifier) OnRemoteTrackAdded(ParticipantID, RemoteTrack) {}
func (NopNotifier) OnParticipantRemoved(ParticipantID)            {}
