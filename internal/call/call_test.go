package call

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/mediadevices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomcall/client/internal/domain"
	"roomcall/client/internal/media"
)

type fakeTransport struct {
	mu     sync.Mutex
	closes int
	gated  []string
}

func (f *fakeTransport) CreateOffer() (domain.SDPPayload, error) {
	return domain.SDPPayload{Type: "offer", SDP: "v=0"}, nil
}
func (f *fakeTransport) CreateAnswer(domain.SDPPayload) (domain.SDPPayload, error) {
	return domain.SDPPayload{Type: "answer", SDP: "v=0"}, nil
}
func (f *fakeTransport) ApplyAnswer(domain.SDPPayload) error              { return nil }
func (f *fakeTransport) AddRemoteCandidate(domain.CandidatePayload) error { return nil }
func (f *fakeTransport) OnLocalCandidate(func(domain.CandidatePayload))   {}
func (f *fakeTransport) OnRemoteTrack(func(domain.RemoteTrack))           {}
func (f *fakeTransport) OnStateChange(func(domain.TransportState))        {}
func (f *fakeTransport) SyncLocalTracks() error                           { return nil }

func (f *fakeTransport) SetTrackEnabled(kind string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gated = append(f.gated, fmt.Sprintf("%s:%v", kind, enabled))
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

type fakeFactory struct {
	mu       sync.Mutex
	peers    []*fakeTransport
	uplinks  []*fakeTransport
	failSend bool
}

func (f *fakeFactory) NewPeerTransport() (domain.PeerTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTransport{}
	f.peers = append(f.peers, t)
	return t, nil
}

func (f *fakeFactory) NewSendTransport() (domain.PeerTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return nil, assert.AnError
	}
	t := &fakeTransport{}
	f.uplinks = append(f.uplinks, t)
	return t, nil
}

type fakeChannel struct {
	mu      sync.Mutex
	sent    []domain.Envelope
	closes  int
	openErr error
	onOpen  func()
}

func (f *fakeChannel) Open() error {
	if f.onOpen != nil {
		f.onOpen()
	}
	return f.openErr
}

func (f *fakeChannel) Send(env domain.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
}

func (f *fakeChannel) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
}

func (f *fakeChannel) byType(t string) []domain.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Envelope
	for _, env := range f.sent {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

type fakeAPI struct {
	mu         sync.Mutex
	joinCalls  int
	joinRoomID string
	joinName   string
	joinErr    error
	mediaCh    chan [2]bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{mediaCh: make(chan [2]bool, 8)}
}

func (f *fakeAPI) JoinRoom(roomID, displayName string) (domain.UserInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinCalls++
	f.joinRoomID = roomID
	f.joinName = displayName
	if f.joinErr != nil {
		return domain.UserInfo{}, f.joinErr
	}
	return domain.UserInfo{UserID: "assigned-id", DisplayName: displayName, AudioEnabled: true, VideoEnabled: true}, nil
}

func (f *fakeAPI) UpdateMediaStatus(_ string, _ domain.ParticipantID, audio, video bool) error {
	f.mediaCh <- [2]bool{audio, video}
	return nil
}

type harness struct {
	call    *Call
	api     *fakeAPI
	factory *fakeFactory
	channel *fakeChannel
	fatal   chan error

	acquireErr error
	connectErr error
	openErr    error
	onOpen     func()
}

func newHarness() *harness {
	h := &harness{
		api:     newFakeAPI(),
		factory: &fakeFactory{},
		channel: &fakeChannel{},
		fatal:   make(chan error, 4),
	}
	h.call = New(Deps{
		Acquire: func() (*media.Capture, error) {
			if h.acquireErr != nil {
				return nil, h.acquireErr
			}
			stream, err := mediadevices.NewMediaStream()
			if err != nil {
				return nil, err
			}
			return media.NewFromStream(stream, nil), nil
		},
		NewFactory: func(*media.Capture) (domain.TransportFactory, error) {
			return h.factory, nil
		},
		NewChannel: func(_ domain.RoomIdentity, _ domain.Handler) (Channel, error) {
			if h.connectErr != nil {
				return nil, h.connectErr
			}
			h.channel.openErr = h.openErr
			h.channel.onOpen = h.onOpen
			return h.channel, nil
		},
		API:     h.api,
		OnFatal: func(err error) { h.fatal <- err },
	})
	return h
}

func identity() domain.RoomIdentity {
	return domain.RoomIdentity{RoomID: "r1", DisplayName: "Me"}
}

func TestJoin_FullSequence(t *testing.T) {
	h := newHarness()

	require.NoError(t, h.call.Join(identity()))

	assert.Equal(t, StateReady, h.call.State())
	assert.Equal(t, 1, h.api.joinCalls)
	assert.Equal(t, "r1", h.api.joinRoomID)
	assert.Equal(t, "Me", h.api.joinName)

	// recorder brought up best-effort after signaling connected
	assert.True(t, h.call.Recorder().Active())
	assert.Len(t, h.channel.byType(domain.MsgRecorderOffer), 1)

	// roster holds the local synthetic entry under the assigned id
	local := h.call.Roster().Local()
	assert.Equal(t, domain.ParticipantID("assigned-id"), local.ID)
}

func TestJoin_MediaFailureAbortsEverything(t *testing.T) {
	h := newHarness()
	h.acquireErr = fmt.Errorf("%w: no camera", domain.ErrMediaUnavailable)

	err := h.call.Join(identity())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMediaUnavailable)
	assert.Equal(t, StateFailed, h.call.State())
	assert.Equal(t, 0, h.api.joinCalls, "no step may run after media failure")
}

func TestJoin_RoomRejectedIsFatal(t *testing.T) {
	h := newHarness()
	h.api.joinErr = fmt.Errorf("%w: http 404", domain.ErrRoomJoinRejected)

	err := h.call.Join(identity())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRoomJoinRejected)
	assert.Equal(t, StateFailed, h.call.State())
	assert.Empty(t, h.channel.sent)
}

func TestJoin_RejoinSkipsRoomJoin(t *testing.T) {
	h := newHarness()
	id := identity()
	id.ParticipantID = "prior-id"

	require.NoError(t, h.call.Join(id))

	assert.Equal(t, 0, h.api.joinCalls)
	assert.Equal(t, StateReady, h.call.State())
	assert.Equal(t, domain.ParticipantID("prior-id"), h.call.Roster().Local().ID)
}

func TestJoin_SignalingOpenFailureIsFatal(t *testing.T) {
	h := newHarness()
	h.openErr = fmt.Errorf("%w: dial", domain.ErrConnectTimeout)

	err := h.call.Join(identity())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnectTimeout)
	assert.Equal(t, StateFailed, h.call.State())
	assert.Empty(t, h.channel.byType(domain.MsgRecorderOffer), "nothing may send after a failed open")
}

func TestJoin_ChannelConstructionFailureIsFatal(t *testing.T) {
	h := newHarness()
	h.connectErr = fmt.Errorf("%w: bad endpoint", domain.ErrSignalingUnavailable)

	err := h.call.Join(identity())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSignalingUnavailable)
	assert.Equal(t, StateFailed, h.call.State())
}

func TestJoin_RoomJoinedDuringOpenSendsInitialOffers(t *testing.T) {
	h := newHarness()
	// the server pushes room-joined as soon as the socket is accepted, so
	// the read loop can deliver it before Open returns
	h.onOpen = func() {
		h.call.OnRoomJoined([]domain.UserInfo{
			{UserID: "pre", DisplayName: "Pre", AudioEnabled: true, VideoEnabled: true},
		})
	}

	require.NoError(t, h.call.Join(identity()))

	offers := h.channel.byType(domain.MsgOffer)
	require.Len(t, offers, 1, "initial offer to the pre-existing member must not be dropped")
	assert.Equal(t, "pre", offers[0].ToUser)

	sess := h.call.Mesh().Session("pre")
	require.NotNil(t, sess)
	assert.True(t, sess.LocalDescriptionSent())
}

func TestJoin_RecorderFailureDoesNotFailJoin(t *testing.T) {
	h := newHarness()
	h.factory.failSend = true

	require.NoError(t, h.call.Join(identity()))

	assert.Equal(t, StateReady, h.call.State())
	assert.False(t, h.call.Recorder().Active())
	assert.Empty(t, h.channel.byType(domain.MsgRecorderOffer))
}

func TestToggleAudio_BroadcastsAndUpdatesLocalOnly(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.call.Join(identity()))
	h.call.OnRoomJoined([]domain.UserInfo{{UserID: "a", DisplayName: "Alice", AudioEnabled: true, VideoEnabled: true}})

	enabled := h.call.ToggleAudio()

	assert.False(t, enabled)
	toggles := h.channel.byType(domain.MsgMediaToggle)
	require.Len(t, toggles, 1)
	require.NotNil(t, toggles[0].AudioEnabled)
	assert.False(t, *toggles[0].AudioEnabled)
	require.NotNil(t, toggles[0].VideoEnabled)
	assert.True(t, *toggles[0].VideoEnabled)

	assert.False(t, h.call.Roster().Local().AudioEnabled)
	remote, _ := h.call.Roster().Get("a")
	assert.True(t, remote.AudioEnabled, "remote entries change only on user-media-changed")

	// disabling must reach the media plane: every transport gets the gate
	require.Len(t, h.factory.peers, 1)
	assert.Contains(t, h.factory.peers[0].gated, "audio:false")
	require.Len(t, h.factory.uplinks, 1)
	assert.Contains(t, h.factory.uplinks[0].gated, "audio:false")

	select {
	case flags := <-h.api.mediaCh:
		assert.Equal(t, [2]bool{false, true}, flags)
	case <-time.After(2 * time.Second):
		t.Fatal("media status update never reached the API")
	}
}

func TestToggleVideo_ReenableReattaches(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.call.Join(identity()))
	h.call.OnRoomJoined([]domain.UserInfo{{UserID: "a", DisplayName: "Alice", AudioEnabled: true, VideoEnabled: true}})

	assert.False(t, h.call.ToggleVideo())
	assert.True(t, h.call.ToggleVideo())

	require.Len(t, h.factory.peers, 1)
	assert.Equal(t, []string{"video:false", "video:true"}, h.factory.peers[0].gated)
}

func TestFirstMemberScenario(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.call.Join(identity()))

	// first member: empty snapshot, no sessions
	h.call.OnRoomJoined(nil)
	assert.Empty(t, h.call.Mesh().ActiveIDs())

	// second participant joins: roster grows, still no session
	h.call.OnUserJoined(domain.UserInfo{UserID: "b", DisplayName: "Bea", AudioEnabled: true, VideoEnabled: true})
	assert.Len(t, h.call.Roster().Snapshot(), 2)
	assert.Empty(t, h.call.Mesh().ActiveIDs())
	assert.Empty(t, h.channel.byType(domain.MsgOffer))

	// the newcomer's offer arrives: exactly one session, answered
	h.call.OnOffer("b", domain.SDPPayload{Type: "offer", SDP: "v=0"})
	assert.Equal(t, []domain.ParticipantID{"b"}, h.call.Mesh().ActiveIDs())
	assert.Len(t, h.channel.byType(domain.MsgAnswer), 1)
	assert.Empty(t, h.channel.byType(domain.MsgOffer))
}

func TestLeave_ReverseTeardownIdempotent(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.call.Join(identity()))
	h.call.OnRoomJoined([]domain.UserInfo{{UserID: "a", DisplayName: "Alice"}})
	require.Len(t, h.factory.peers, 1)

	h.call.Leave()
	h.call.Leave()

	assert.Equal(t, StateClosed, h.call.State())
	assert.Equal(t, 1, h.channel.closes)
	assert.Equal(t, 1, h.factory.peers[0].closes)
	require.Len(t, h.factory.uplinks, 1)
	assert.Equal(t, 1, h.factory.uplinks[0].closes)
}

func TestOnRoomEnded_ClosesAndSurfacesFatal(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.call.Join(identity()))

	h.call.OnRoomEnded("ended by host")

	assert.Equal(t, StateClosed, h.call.State())
	select {
	case err := <-h.fatal:
		assert.ErrorIs(t, err, domain.ErrRoomEnded)
	case <-time.After(time.Second):
		t.Fatal("fatal callback never fired")
	}
}

func TestOnSignalingLost_FatalOnceAndNotAfterLeave(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.call.Join(identity()))

	h.call.OnSignalingLost()

	select {
	case err := <-h.fatal:
		assert.ErrorIs(t, err, domain.ErrSignalingUnavailable)
	case <-time.After(time.Second):
		t.Fatal("fatal callback never fired")
	}

	// already closed: a late loss callback must no-op
	h.call.OnSignalingLost()
	select {
	case <-h.fatal:
		t.Fatal("fatal must not fire after the call closed")
	case <-time.After(50 * time.Millisecond):
	}
}
