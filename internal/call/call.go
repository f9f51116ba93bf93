package call

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"roomcall/client/internal/domain"
	"roomcall/client/internal/media"
	"roomcall/client/internal/mesh"
	"roomcall/client/internal/recorder"
	"roomcall/client/internal/roster"
)

// State is the join sequence position. Linear, each step completes before the
// next starts; failure rolls back what was already brought up.
type State int

const (
	StateIdle State = iota
	StateAcquiringMedia
	StateJoiningRoom
	StateConnectingSignaling
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiringMedia:
		return "acquiring-media"
	case StateJoiningRoom:
		return "joining-room"
	case StateConnectingSignaling:
		return "connecting-signaling"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// RoomAPI is the REST surface the orchestrator consumes.
type RoomAPI interface {
	JoinRoom(roomID, displayName string) (domain.UserInfo, error)
	UpdateMediaStatus(roomID string, userID domain.ParticipantID, audio, video bool) error
}

// Channel is the outbound surface of the signaling channel. Construction must
// not start dispatch; Open does.
type Channel interface {
	Open() error
	Send(env domain.Envelope)
	Close()
}

// Deps wires the orchestrator's collaborators. Every field is required except
// Notify and OnFatal.
type Deps struct {
	// Acquire opens local capture; the degraded retry lives inside.
	Acquire func() (*media.Capture, error)
	// NewFactory builds the transport factory over the acquired capture.
	NewFactory func(c *media.Capture) (domain.TransportFactory, error)
	// NewChannel constructs the signaling channel, delivering events to the
	// handler once Open is called. The call installs itself as the sender
	// between the two, so the earliest room-joined can already send offers.
	NewChannel func(identity domain.RoomIdentity, h domain.Handler) (Channel, error)

	API    RoomAPI
	Notify domain.Notifier
	// OnFatal surfaces a fatal post-join failure (signaling permanently
	// lost, room ended): user-visible message then redirect out.
	OnFatal func(err error)
}

// Call owns the whole client-side call lifecycle: capture, REST join,
// signaling, the mesh, and the recorder uplink. It implements domain.Handler
// (inbound routing) and domain.Sender (outbound serialization).
type Call struct {
	deps Deps
	log  zerolog.Logger

	mu       sync.Mutex
	state    State
	identity domain.RoomIdentity
	capture  *media.Capture
	channel  Channel

	mesh   *mesh.Manager
	roster *roster.Synchronizer
	rec    *recorder.Uplink
}

var (
	_ domain.Handler = (*Call)(nil)
	_ domain.Sender  = (*Call)(nil)
)

// New creates an idle call.
func New(deps Deps) *Call {
	if deps.Notify == nil {
		deps.Notify = domain.NopNotifier{}
	}
	if deps.OnFatal == nil {
		deps.OnFatal = func(error) {}
	}
	return &Call{
		deps:  deps,
		state: StateIdle,
		log:   log.With().Str("component", "call").Logger(),
	}
}

// Join runs the startup sequence: capture, REST join, signaling connect,
// recorder bring-up. The REST join is skipped on the rejoin path, when the
// identity already carries a server-assigned participant id. A recorder
// failure is logged and never fails the join.
func (c *Call) Join(identity domain.RoomIdentity) error {
	c.setState(StateAcquiringMedia)
	capture, err := c.deps.Acquire()
	if err != nil {
		c.setState(StateFailed)
		return fmt.Errorf("acquire media: %w", err)
	}

	c.setState(StateJoiningRoom)
	if !identity.Rejoining() {
		info, err := c.deps.API.JoinRoom(identity.RoomID, identity.DisplayName)
		if err != nil {
			capture.Close()
			c.setState(StateFailed)
			return fmt.Errorf("join room: %w", err)
		}
		identity.ParticipantID = domain.ParticipantID(info.UserID)
	}

	factory, err := c.deps.NewFactory(capture)
	if err != nil {
		capture.Close()
		c.setState(StateFailed)
		return fmt.Errorf("create transport factory: %w", err)
	}

	local := domain.Participant{
		ID:           identity.ParticipantID,
		DisplayName:  identity.DisplayName,
		AudioEnabled: capture.AudioEnabled(),
		VideoEnabled: capture.VideoEnabled(),
	}

	c.mu.Lock()
	c.identity = identity
	c.capture = capture
	c.mesh = mesh.NewManager(identity.ParticipantID, factory, c, c.deps.Notify)
	c.roster = roster.NewSynchronizer(local, c.mesh, c.deps.Notify)
	c.rec = recorder.NewUplink(factory, c)
	c.mu.Unlock()

	capture.OnTrackChange(func() {
		c.mesh.SyncLocalTracks()
		c.rec.HandleTrackChange()
	})

	// A call with no signaling is non-functional: a failed initial connect
	// is fatal, not a silent local-only degrade.
	c.setState(StateConnectingSignaling)
	channel, err := c.deps.NewChannel(identity, c)
	if err != nil {
		c.mesh.CloseAll()
		capture.Close()
		c.setState(StateFailed)
		return fmt.Errorf("create signaling channel: %w", err)
	}

	// Install the channel before the read loop can start: the server pushes
	// room-joined as soon as the socket is accepted, and the resulting
	// offers go out through Send.
	c.mu.Lock()
	c.channel = channel
	c.mu.Unlock()

	if err := channel.Open(); err != nil {
		c.mu.Lock()
		c.channel = nil
		c.mu.Unlock()
		c.mesh.CloseAll()
		capture.Close()
		c.setState(StateFailed)
		return fmt.Errorf("connect signaling: %w", err)
	}

	// Best effort: recording is a side channel.
	c.rec.EnsureStarted()

	c.setState(StateReady)
	c.log.Info().Str("user", string(identity.ParticipantID)).Str("room", identity.RoomID).Msg("call ready")
	return nil
}

// Leave runs the teardown in reverse join order. Each step is attempted
// independently; idempotent.
func (c *Call) Leave() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	channel := c.channel
	capture := c.capture
	m := c.mesh
	rec := c.rec
	c.channel = nil
	c.mu.Unlock()

	if rec != nil {
		rec.Close()
	}
	if m != nil {
		m.CloseAll()
	}
	if channel != nil {
		channel.Close()
	}
	if capture != nil {
		capture.Close()
	}
	c.log.Info().Msg("call closed")
}

// ToggleAudio flips the local audio flag and broadcasts the change: a
// media-toggle envelope plus a fire-and-forget REST status update. Only the
// roster's local entry changes; remote entries follow user-media-changed.
func (c *Call) ToggleAudio() bool {
	c.mu.Lock()
	capture := c.capture
	c.mu.Unlock()
	if capture == nil {
		return false
	}
	enabled := !capture.AudioEnabled()
	capture.SetAudioEnabled(enabled)
	c.gateTracks("audio", enabled)
	c.broadcastFlags()
	return enabled
}

// ToggleVideo flips the local video flag and broadcasts the change.
func (c *Call) ToggleVideo() bool {
	c.mu.Lock()
	capture := c.capture
	c.mu.Unlock()
	if capture == nil {
		return false
	}
	enabled := !capture.VideoEnabled()
	capture.SetVideoEnabled(enabled)
	c.gateTracks("video", enabled)
	c.broadcastFlags()
	return enabled
}

// gateTracks detaches or re-attaches the outbound senders of one kind on
// every live transport, mesh and uplink alike. A flag flip, not a track
// change: no renegotiation.
func (c *Call) gateTracks(kind string, enabled bool) {
	c.mu.Lock()
	m := c.mesh
	rec := c.rec
	c.mu.Unlock()

	if m != nil {
		m.SetTrackEnabled(kind, enabled)
	}
	if rec != nil {
		rec.SetTrackEnabled(kind, enabled)
	}
}

func (c *Call) broadcastFlags() {
	c.mu.Lock()
	capture := c.capture
	identity := c.identity
	ros := c.roster
	c.mu.Unlock()

	audio, video := capture.AudioEnabled(), capture.VideoEnabled()
	if ros != nil {
		ros.SetLocalFlags(audio, video)
	}
	c.Send(domain.Envelope{
		Type:         domain.MsgMediaToggle,
		AudioEnabled: &audio,
		VideoEnabled: &video,
	})
	go func() {
		if err := c.deps.API.UpdateMediaStatus(identity.RoomID, identity.ParticipantID, audio, video); err != nil {
			c.log.Warn().Err(err).Msg("media status update")
		}
	}()
}

// State reports the orchestrator state.
func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Roster exposes the roster synchronizer for read-only consumers.
func (c *Call) Roster() *roster.Synchronizer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roster
}

// Mesh exposes the mesh manager for read-only consumers.
func (c *Call) Mesh() *mesh.Manager {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mesh
}

// Recorder exposes the recorder uplink.
func (c *Call) Recorder() *recorder.Uplink {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec
}

func (c *Call) setState(state State) {
	c.mu.Lock()
	prev := c.state
	c.state = state
	c.mu.Unlock()
	c.log.Debug().Str("from", prev.String()).Str("to", state.String()).Msg("state change")
}

// Send implements domain.Sender, delegating to the signaling channel when one
// is open. Dropped silently otherwise.
func (c *Call) Send(env domain.Envelope) {
	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()
	if channel == nil {
		c.log.Debug().Str("type", env.Type).Msg("dropping send, no channel")
		return
	}
	channel.Send(env)
}

// --- inbound routing (domain.Handler) ---

func (c *Call) OnRoomJoined(existing []domain.UserInfo) {
	c.roster.HandleRoomJoined(existing)
}

func (c *Call) OnUserJoined(u domain.UserInfo) {
	c.roster.HandleUserJoined(u)
}

func (c *Call) OnUserLeft(id domain.ParticipantID) {
	c.roster.HandleUserLeft(id)
}

func (c *Call) OnUserMediaChanged(id domain.ParticipantID, audio, video bool) {
	c.roster.HandleMediaChanged(id, audio, video)
}

func (c *Call) OnOffer(from domain.ParticipantID, sdp domain.SDPPayload) {
	c.mesh.HandleOffer(from, sdp)
}

func (c *Call) OnAnswer(from domain.ParticipantID, sdp domain.SDPPayload) {
	c.mesh.HandleAnswer(from, sdp)
}

func (c *Call) OnCandidate(from domain.ParticipantID, cand domain.CandidatePayload) {
	c.mesh.HandleCandidate(from, cand)
}

func (c *Call) OnRecorderAnswer(sdp domain.SDPPayload) {
	c.rec.HandleAnswer(sdp)
}

func (c *Call) OnRecorderCandidate(cand domain.CandidatePayload) {
	c.rec.HandleCandidate(cand)
}

func (c *Call) OnRoomEnded(message string) {
	c.log.Info().Str("message", message).Msg("room ended by server")
	c.Leave()
	c.deps.OnFatal(fmt.Errorf("%w: %s", domain.ErrRoomEnded, message))
}

func (c *Call) OnServerError(message string) {
	c.log.Warn().Str("message", message).Msg("server reported error")
}

func (c *Call) OnSignalingLost() {
	c.mu.Lock()
	closed := c.state == StateClosed
	c.mu.Unlock()
	if closed {
		return
	}
	c.log.Error().Msg("signaling permanently lost")
	c.Leave()
	c.deps.OnFatal(domain.ErrSignalingUnavailable)
}
