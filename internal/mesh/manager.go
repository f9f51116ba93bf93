package mesh

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"roomcall/client/internal/domain"
)

// Manager owns one PeerSession per remote participant. Each pair negotiates
// independently; a failure in one session never blocks the others. All state
// mutation funnels through the manager's lock, and every callback re-checks
// that its session is still the registered one before acting: negotiation
// calls suspend, and the room can change underneath them.
type Manager struct {
	localID domain.ParticipantID
	factory domain.TransportFactory
	sender  domain.Sender
	notify  domain.Notifier
	log     zerolog.Logger

	mu       sync.Mutex
	sessions map[domain.ParticipantID]*PeerSession
	closed   bool
}

// NewManager creates an empty mesh.
func NewManager(localID domain.ParticipantID, factory domain.TransportFactory, sender domain.Sender, notify domain.Notifier) *Manager {
	if notify == nil {
		notify = domain.NopNotifier{}
	}
	return &Manager{
		localID:  localID,
		factory:  factory,
		sender:   sender,
		notify:   notify,
		sessions: make(map[domain.ParticipantID]*PeerSession),
		log:      log.With().Str("component", "mesh").Logger(),
	}
}

// Connect establishes an outbound session: we are the offering side. Used for
// participants that were already in the room when we joined. No-op if a
// session for the remote already exists.
func (m *Manager) Connect(remote domain.ParticipantID) {
	m.mu.Lock()
	if m.closed || m.sessions[remote] != nil {
		m.mu.Unlock()
		return
	}
	sess, err := m.createSession(remote)
	if err != nil {
		m.mu.Unlock()
		m.log.Error().Err(err).Str("remote", string(remote)).Msg("create outbound session")
		return
	}
	m.mu.Unlock()

	offer, err := sess.transport.CreateOffer()
	if err != nil {
		m.log.Error().Err(err).Str("remote", string(remote)).Msg("create offer")
		m.removeSession(remote, sess, StateFailed)
		return
	}

	// The offer generation suspended; the peer may have left meanwhile.
	m.mu.Lock()
	if m.sessions[remote] != sess {
		m.mu.Unlock()
		return
	}
	sess.localDescriptionSent = true
	m.mu.Unlock()

	m.sender.Send(domain.Envelope{
		Type:     domain.MsgOffer,
		ToUser:   string(remote),
		FromUser: string(m.localID),
		Data:     domain.EncodeData(offer),
	})
	m.log.Info().Str("remote", string(remote)).Msg("offer sent")
}

// HandleOffer is the answering side: the newcomer offers, we answer. A
// session must not already exist for the sender; a duplicate offer is a
// protocol anomaly and is dropped.
func (m *Manager) HandleOffer(from domain.ParticipantID, offer domain.SDPPayload) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.sessions[from] != nil {
		m.mu.Unlock()
		m.log.Warn().Str("from", string(from)).Msg("offer for existing session, dropping")
		return
	}
	sess, err := m.createSession(from)
	if err != nil {
		m.mu.Unlock()
		m.log.Error().Err(err).Str("from", string(from)).Msg("create inbound session")
		return
	}
	m.mu.Unlock()

	answer, err := sess.transport.CreateAnswer(offer)
	if err != nil {
		m.log.Error().Err(err).Str("from", string(from)).Msg("create answer")
		m.removeSession(from, sess, StateFailed)
		return
	}

	m.mu.Lock()
	if m.sessions[from] != sess {
		m.mu.Unlock()
		return
	}
	sess.localDescriptionSent = true
	m.mu.Unlock()

	m.sender.Send(domain.Envelope{
		Type:     domain.MsgAnswer,
		ToUser:   string(from),
		FromUser: string(m.localID),
		Data:     domain.EncodeData(answer),
	})
	m.log.Info().Str("from", string(from)).Msg("answer sent")
}

// HandleAnswer applies the remote answer to our pending offer.
func (m *Manager) HandleAnswer(from domain.ParticipantID, answer domain.SDPPayload) {
	m.mu.Lock()
	sess := m.sessions[from]
	m.mu.Unlock()

	if sess == nil {
		m.log.Warn().Str("from", string(from)).Msg("answer for unknown session, dropping")
		return
	}
	if err := sess.transport.ApplyAnswer(answer); err != nil {
		m.log.Error().Err(err).Str("from", string(from)).Msg("apply answer")
		m.removeSession(from, sess, StateFailed)
	}
}

// HandleCandidate applies a remote candidate. A candidate for an unknown
// session is a protocol violation: dropped with a diagnostic, never queued.
// Sessions are always created before any message referencing them can
// legitimately exist.
func (m *Manager) HandleCandidate(from domain.ParticipantID, cand domain.CandidatePayload) {
	m.mu.Lock()
	sess := m.sessions[from]
	m.mu.Unlock()

	if sess == nil {
		m.log.Warn().Str("from", string(from)).Msg("candidate for unknown session, dropping")
		return
	}
	if err := sess.transport.AddRemoteCandidate(cand); err != nil {
		m.log.Warn().Err(err).Str("from", string(from)).Msg("add remote candidate")
	}
}

// Remove closes and removes the session regardless of its state. Safe to call
// redundantly: a transport-failure callback racing a user-left event results
// in exactly one teardown.
func (m *Manager) Remove(remote domain.ParticipantID) {
	m.removeSession(remote, nil, StateClosed)
}

// SyncLocalTracks rebinds every live session's outbound senders after a
// capture track replacement.
func (m *Manager) SyncLocalTracks() {
	for _, sess := range m.snapshot() {
		if err := sess.transport.SyncLocalTracks(); err != nil {
			m.log.Warn().Err(err).Str("remote", string(sess.remoteID)).Msg("sync local tracks")
		}
	}
}

// SetTrackEnabled gates the outbound sender of one kind on every live
// session. Enablement is not a track change: no renegotiation.
func (m *Manager) SetTrackEnabled(kind string, enabled bool) {
	for _, sess := range m.snapshot() {
		if err := sess.transport.SetTrackEnabled(kind, enabled); err != nil {
			m.log.Warn().Err(err).Str("remote", string(sess.remoteID)).Str("kind", kind).Msg("gate track")
		}
	}
}

// CloseAll tears down every session. Handlers arriving afterwards no-op.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[domain.ParticipantID]*PeerSession)
	m.mu.Unlock()

	for remote, sess := range sessions {
		sess.state = StateClosed
		if err := sess.transport.Close(); err != nil {
			m.log.Warn().Err(err).Str("remote", string(remote)).Msg("close transport")
		}
	}
}

// ActiveIDs lists the remotes with a live session.
func (m *Manager) ActiveIDs() []domain.ParticipantID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]domain.ParticipantID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Session returns the live session for the remote, nil if none.
func (m *Manager) Session(remote domain.ParticipantID) *PeerSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[remote]
}

// createSession allocates the transport and registers its callbacks. Caller
// holds m.mu. Every callback validates that the session is still the
// registered one for its remote; teardown may have won the race.
func (m *Manager) createSession(remote domain.ParticipantID) (*PeerSession, error) {
	transport, err := m.factory.NewPeerTransport()
	if err != nil {
		return nil, err
	}

	sess := &PeerSession{
		remoteID:  remote,
		state:     StateNegotiating,
		transport: transport,
	}

	transport.OnLocalCandidate(func(cand domain.CandidatePayload) {
		m.mu.Lock()
		current := m.sessions[remote] == sess
		m.mu.Unlock()
		if !current {
			return
		}
		m.sender.Send(domain.Envelope{
			Type:     domain.MsgCandidate,
			ToUser:   string(remote),
			FromUser: string(m.localID),
			Data:     domain.EncodeData(cand),
		})
	})

	transport.OnRemoteTrack(func(track domain.RemoteTrack) {
		m.mu.Lock()
		if m.sessions[remote] != sess {
			m.mu.Unlock()
			return
		}
		sess.tracks = append(sess.tracks, track)
		m.mu.Unlock()
		m.notify.OnRemoteTrackAdded(remote, track)
	})

	transport.OnStateChange(func(state domain.TransportState) {
		switch state {
		case domain.TransportConnected:
			m.mu.Lock()
			if m.sessions[remote] == sess && sess.state == StateNegotiating {
				sess.state = StateConnected
				m.log.Info().Str("remote", string(remote)).Msg("session connected")
			}
			m.mu.Unlock()
		case domain.TransportFailed:
			m.log.Warn().Str("remote", string(remote)).Msg("transport failed")
			m.removeSession(remote, sess, StateFailed)
		}
	})

	m.sessions[remote] = sess
	return sess, nil
}

// removeSession deletes and closes a session. When expect is non-nil the
// removal only applies to that exact session; a stale callback cannot tear
// down a successor. Exactly one caller wins; the rest no-op.
func (m *Manager) removeSession(remote domain.ParticipantID, expect *PeerSession, terminal SessionState) {
	m.mu.Lock()
	sess := m.sessions[remote]
	if sess == nil || (expect != nil && sess != expect) {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, remote)
	sess.state = terminal
	m.mu.Unlock()

	if err := sess.transport.Close(); err != nil {
		m.log.Warn().Err(err).Str("remote", string(remote)).Msg("close transport")
	}
	m.notify.OnParticipantRemoved(remote)
	m.log.Info().Str("remote", string(remote)).Str("state", terminal.String()).Msg("session removed")
}

func (m *Manager) snapshot() []*PeerSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*PeerSession, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess)
	}
	return out
}
