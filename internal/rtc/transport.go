package rtc

import (
	"fmt"
	"strings"
	"sync"

	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"roomcall/client/internal/domain"
	"roomcall/client/internal/media"
)

// Transport wraps one pion PeerConnection behind the domain.PeerTransport
// port. Remote candidates arriving before the remote description are buffered
// and flushed once it is applied.
type Transport struct {
	pc      *pion.PeerConnection
	capture *media.Capture
	senders map[string]*pion.RTPSender
	log     zerolog.Logger

	mu        sync.Mutex
	remoteSet bool
	pending   []domain.CandidatePayload
}

var _ domain.PeerTransport = (*Transport)(nil)

func newTransport(pc *pion.PeerConnection, capture *media.Capture, senders map[string]*pion.RTPSender, log zerolog.Logger) *Transport {
	t := &Transport{pc: pc, capture: capture, senders: senders, log: log}

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		log.Debug().Str("state", state.String()).Msg("ice connection state")
	})

	return t
}

// OnLocalCandidate registers the callback for locally discovered candidates.
// Loopback candidates are filtered out.
func (t *Transport) OnLocalCandidate(fn func(domain.CandidatePayload)) {
	t.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			t.log.Debug().Msg("ice gathering complete")
			return
		}

		init := c.ToJSON()
		if isLoopback(init.Candidate) {
			return
		}

		cand := domain.CandidatePayload{Candidate: init.Candidate}
		if init.SDPMid != nil {
			cand.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			cand.SDPMLineIndex = int(*init.SDPMLineIndex)
		}
		fn(cand)
	})
}

// OnRemoteTrack registers the inbound track callback.
func (t *Transport) OnRemoteTrack(fn func(domain.RemoteTrack)) {
	t.pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		t.log.Debug().Str("kind", track.Kind().String()).Str("id", track.ID()).Msg("got remote track")
		fn(&remoteTrack{track: track})
	})
}

// OnStateChange maps pion connection states onto the transport lifecycle.
func (t *Transport) OnStateChange(fn func(domain.TransportState)) {
	t.pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		t.log.Debug().Str("state", state.String()).Msg("peer connection state")
		switch state {
		case pion.PeerConnectionStateConnected:
			fn(domain.TransportConnected)
		case pion.PeerConnectionStateFailed:
			fn(domain.TransportFailed)
		case pion.PeerConnectionStateClosed:
			fn(domain.TransportClosed)
		default:
			fn(domain.TransportConnecting)
		}
	})
}

// CreateOffer generates an offer and installs it as the local description.
func (t *Transport) CreateOffer() (domain.SDPPayload, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.SDPPayload{Type: "offer", SDP: offer.SDP}, nil
}

// CreateAnswer applies the remote offer, then generates and installs the answer.
func (t *Transport) CreateAnswer(offer domain.SDPPayload) (domain.SDPPayload, error) {
	remote := pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: offer.SDP}
	if err := t.pc.SetRemoteDescription(remote); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("set remote offer: %w", err)
	}
	t.flushPending()

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("set local answer: %w", err)
	}
	return domain.SDPPayload{Type: "answer", SDP: answer.SDP}, nil
}

// ApplyAnswer applies the remote answer to a previously sent offer.
func (t *Transport) ApplyAnswer(answer domain.SDPPayload) error {
	remote := pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: answer.SDP}
	if err := t.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	t.flushPending()
	return nil
}

// AddRemoteCandidate applies the candidate, buffering it until the remote
// description exists. A negative line index would wrap during conversion and
// is rejected outright.
func (t *Transport) AddRemoteCandidate(cand domain.CandidatePayload) error {
	if cand.SDPMLineIndex < 0 {
		return fmt.Errorf("negative sdpMLineIndex %d", cand.SDPMLineIndex)
	}
	t.mu.Lock()
	if !t.remoteSet {
		t.pending = append(t.pending, cand)
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()
	return t.addCandidate(cand)
}

func (t *Transport) flushPending() {
	t.mu.Lock()
	t.remoteSet = true
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, cand := range pending {
		if err := t.addCandidate(cand); err != nil {
			t.log.Warn().Err(err).Msg("apply buffered candidate")
		}
	}
}

func (t *Transport) addCandidate(cand domain.CandidatePayload) error {
	mid := cand.SDPMid
	idx := uint16(cand.SDPMLineIndex)
	init := pion.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
	if err := t.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// SyncLocalTracks rebinds outbound senders to the current capture tracks,
// matched by kind. Disabled kinds stay detached; they pick up the fresh track
// on re-enable.
func (t *Transport) SyncLocalTracks() error {
	for _, track := range t.capture.Tracks() {
		kind := track.Kind().String()
		if !t.kindEnabled(kind) {
			continue
		}
		sender := t.senders[kind]
		if sender == nil {
			continue
		}
		if current := sender.Track(); current != nil && current.ID() == track.ID() {
			continue
		}
		if err := sender.ReplaceTrack(track); err != nil {
			return fmt.Errorf("replace %s track: %w", kind, err)
		}
	}
	return nil
}

// SetTrackEnabled gates one kind's outbound sender: detach on disable,
// re-attach the current capture track on enable. The sender stays negotiated
// either way; no renegotiation.
func (t *Transport) SetTrackEnabled(kind string, enabled bool) error {
	sender := t.senders[kind]
	if sender == nil {
		return nil
	}
	if !enabled {
		if err := sender.ReplaceTrack(nil); err != nil {
			return fmt.Errorf("detach %s track: %w", kind, err)
		}
		return nil
	}
	for _, track := range t.capture.Tracks() {
		if track.Kind().String() == kind {
			if err := sender.ReplaceTrack(track); err != nil {
				return fmt.Errorf("attach %s track: %w", kind, err)
			}
			return nil
		}
	}
	return nil
}

func (t *Transport) kindEnabled(kind string) bool {
	if kind == "audio" {
		return t.capture.AudioEnabled()
	}
	return t.capture.VideoEnabled()
}

// Close shuts the peer connection down.
func (t *Transport) Close() error {
	return t.pc.Close()
}

// remoteTrack adapts a pion remote track to the domain port. The rendering
// consumer may read RTP payloads through the io.Reader shape.
type remoteTrack struct {
	track *pion.TrackRemote
}

func (r *remoteTrack) ID() string   { return r.track.ID() }
func (r *remoteTrack) Kind() string { return r.track.Kind().String() }

func (r *remoteTrack) Read(b []byte) (int, error) {
	n, _, err := r.track.Read(b)
	return n, err
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}
