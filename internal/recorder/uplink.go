package recorder

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"roomcall/client/internal/domain"
)

// Uplink is the singleton outbound-only session forwarding local media to the
// server-side recording sink. It offers to send and declines to receive.
// Every failure here is non-fatal to the call: logged, the session reference
// cleared, no retry loop. The next track change starts a fresh attempt.
type Uplink struct {
	factory domain.TransportFactory
	sender  domain.Sender
	log     zerolog.Logger

	mu            sync.Mutex
	transport     domain.PeerTransport
	renegotiation int
}

// NewUplink creates an idle uplink. EnsureStarted brings it up lazily.
func NewUplink(factory domain.TransportFactory, sender domain.Sender) *Uplink {
	return &Uplink{
		factory: factory,
		sender:  sender,
		log:     log.With().Str("component", "recorder").Logger(),
	}
}

// EnsureStarted creates the send-only session and sends the initial offer.
// Idempotent: a second call while a session is active is a no-op.
func (u *Uplink) EnsureStarted() {
	u.mu.Lock()
	if u.transport != nil {
		u.mu.Unlock()
		return
	}

	transport, err := u.factory.NewSendTransport()
	if err != nil {
		u.mu.Unlock()
		u.log.Warn().Err(err).Msg("create uplink transport")
		return
	}
	u.transport = transport
	u.mu.Unlock()

	transport.OnLocalCandidate(func(cand domain.CandidatePayload) {
		u.mu.Lock()
		current := u.transport == transport
		u.mu.Unlock()
		if !current {
			return
		}
		c := cand
		u.sender.Send(domain.Envelope{
			Type:      domain.MsgRecorderCandidate,
			Candidate: &c,
		})
	})

	transport.OnStateChange(func(state domain.TransportState) {
		if state == domain.TransportFailed {
			u.log.Warn().Msg("uplink transport failed")
			u.clear(transport)
		}
	})

	u.offer(transport)
}

// HandleTrackChange renegotiates the active session after the outbound track
// set changed: exactly one fresh offer per change, on the same session.
func (u *Uplink) HandleTrackChange() {
	u.mu.Lock()
	transport := u.transport
	if transport == nil {
		u.mu.Unlock()
		// No active session; a fresh attempt instead of a renegotiation.
		u.EnsureStarted()
		return
	}
	u.renegotiation++
	count := u.renegotiation
	u.mu.Unlock()

	if err := transport.SyncLocalTracks(); err != nil {
		u.log.Warn().Err(err).Msg("sync uplink tracks")
		u.clear(transport)
		return
	}
	u.log.Info().Int("renegotiation", count).Msg("outbound tracks changed, renegotiating")
	u.offer(transport)
}

// HandleAnswer applies the recorder's answer.
func (u *Uplink) HandleAnswer(sdp domain.SDPPayload) {
	u.mu.Lock()
	transport := u.transport
	u.mu.Unlock()

	if transport == nil {
		u.log.Debug().Msg("recorder answer with no active session, dropping")
		return
	}
	if err := transport.ApplyAnswer(sdp); err != nil {
		u.log.Warn().Err(err).Msg("apply recorder answer")
		u.clear(transport)
	}
}

// HandleCandidate applies a candidate from the recorder.
func (u *Uplink) HandleCandidate(cand domain.CandidatePayload) {
	u.mu.Lock()
	transport := u.transport
	u.mu.Unlock()

	if transport == nil {
		u.log.Debug().Msg("recorder candidate with no active session, dropping")
		return
	}
	if err := transport.AddRemoteCandidate(cand); err != nil {
		u.log.Warn().Err(err).Msg("add recorder candidate")
	}
}

// SetTrackEnabled gates the uplink's outbound sender of one kind. No-op
// without an active session.
func (u *Uplink) SetTrackEnabled(kind string, enabled bool) {
	u.mu.Lock()
	transport := u.transport
	u.mu.Unlock()

	if transport == nil {
		return
	}
	if err := transport.SetTrackEnabled(kind, enabled); err != nil {
		u.log.Warn().Err(err).Str("kind", kind).Msg("gate uplink track")
	}
}

// Renegotiations reports how many times the session renegotiated.
func (u *Uplink) Renegotiations() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.renegotiation
}

// Active reports whether a session is up.
func (u *Uplink) Active() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.transport != nil
}

// Close tears the session down. Idempotent.
func (u *Uplink) Close() {
	u.mu.Lock()
	transport := u.transport
	u.transport = nil
	u.mu.Unlock()

	if transport != nil {
		if err := transport.Close(); err != nil {
			u.log.Warn().Err(err).Msg("close uplink")
		}
	}
}

func (u *Uplink) offer(transport domain.PeerTransport) {
	sdp, err := transport.CreateOffer()
	if err != nil {
		u.log.Warn().Err(err).Msg("create recorder offer")
		u.clear(transport)
		return
	}

	u.mu.Lock()
	current := u.transport == transport
	u.mu.Unlock()
	if !current {
		return
	}

	u.sender.Send(domain.Envelope{
		Type:    domain.MsgRecorderOffer,
		SDP:     sdp.SDP,
		SDPType: sdp.Type,
	})
}

// clear drops the reference if it still points at the given transport.
func (u *Uplink) clear(transport domain.PeerTransport) {
	u.mu.Lock()
	if u.transport != transport {
		u.mu.Unlock()
		return
	}
	u.transport = nil
	u.mu.Unlock()
	_ = transport.Close()
}
