package roster

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomcall/client/internal/domain"
	"roomcall/client/internal/mesh"
)

type fakeMesh struct {
	mu        sync.Mutex
	connected []domain.ParticipantID
	removed   []domain.ParticipantID
}

func (f *fakeMesh) Connect(id domain.ParticipantID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = append(f.connected, id)
}

func (f *fakeMesh) Remove(id domain.ParticipantID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
}

func localEntry() domain.Participant {
	return domain.Participant{ID: "me", DisplayName: "Me", AudioEnabled: true, VideoEnabled: true}
}

func TestRoomJoined_InitializesAndConnectsToExisting(t *testing.T) {
	m := &fakeMesh{}
	s := NewSynchronizer(localEntry(), m, nil)

	s.HandleRoomJoined([]domain.UserInfo{
		{UserID: "a", DisplayName: "Alice", AudioEnabled: true, VideoEnabled: true},
		{UserID: "b", DisplayName: "Bob", AudioEnabled: false, VideoEnabled: true},
	})

	assert.ElementsMatch(t, []domain.ParticipantID{"a", "b"}, m.connected)
	assert.ElementsMatch(t, []domain.ParticipantID{"a", "b"}, s.RemoteIDs())

	bob, ok := s.Get("b")
	require.True(t, ok)
	assert.False(t, bob.AudioEnabled)
}

func TestRoomJoined_EmptyRoomCreatesNoSessions(t *testing.T) {
	m := &fakeMesh{}
	s := NewSynchronizer(localEntry(), m, nil)

	s.HandleRoomJoined(nil)

	assert.Empty(t, m.connected)
	assert.Empty(t, s.RemoteIDs())
	// local synthetic entry only
	require.Len(t, s.Snapshot(), 1)
	assert.Equal(t, domain.ParticipantID("me"), s.Snapshot()[0].ID)
}

func TestUserJoined_NoOutboundSession(t *testing.T) {
	m := &fakeMesh{}
	s := NewSynchronizer(localEntry(), m, nil)
	s.HandleRoomJoined(nil)

	s.HandleUserJoined(domain.UserInfo{UserID: "c", DisplayName: "Cara", AudioEnabled: true, VideoEnabled: true})

	// the newcomer offers; the side already present waits
	assert.Empty(t, m.connected)
	assert.ElementsMatch(t, []domain.ParticipantID{"c"}, s.RemoteIDs())
	assert.Len(t, s.Snapshot(), 2)
}

func TestUserLeft_RemovesEntryAndSession(t *testing.T) {
	m := &fakeMesh{}
	s := NewSynchronizer(localEntry(), m, nil)
	s.HandleRoomJoined([]domain.UserInfo{{UserID: "a", DisplayName: "Alice"}})

	s.HandleUserLeft("a")

	assert.Empty(t, s.RemoteIDs())
	assert.Equal(t, []domain.ParticipantID{"a"}, m.removed)
}

func TestUserLeft_UnknownStillTearsDownSession(t *testing.T) {
	m := &fakeMesh{}
	s := NewSynchronizer(localEntry(), m, nil)

	s.HandleUserLeft("ghost")

	assert.Equal(t, []domain.ParticipantID{"ghost"}, m.removed)
}

func TestMediaChanged_UpdatesInPlaceOnly(t *testing.T) {
	m := &fakeMesh{}
	s := NewSynchronizer(localEntry(), m, nil)
	s.HandleRoomJoined([]domain.UserInfo{{UserID: "a", DisplayName: "Alice", AudioEnabled: true, VideoEnabled: true}})

	s.HandleMediaChanged("a", false, true)

	a, ok := s.Get("a")
	require.True(t, ok)
	assert.False(t, a.AudioEnabled)
	assert.True(t, a.VideoEnabled)
}

func TestMediaChanged_UnknownNeverCreatesEntry(t *testing.T) {
	s := NewSynchronizer(localEntry(), &fakeMesh{}, nil)

	s.HandleMediaChanged("ghost", false, false)

	assert.Empty(t, s.RemoteIDs())
}

func TestSetLocalFlags_OnlyLocalEntryChanges(t *testing.T) {
	s := NewSynchronizer(localEntry(), &fakeMesh{}, nil)
	s.HandleRoomJoined([]domain.UserInfo{{UserID: "a", DisplayName: "Alice", AudioEnabled: true, VideoEnabled: true}})

	s.SetLocalFlags(false, true)

	assert.False(t, s.Local().AudioEnabled)
	a, _ := s.Get("a")
	assert.True(t, a.AudioEnabled)
}

// --- roster/mesh integration: active sessions track the roster ---

type nullTransport struct{}

func (nullTransport) CreateOffer() (domain.SDPPayload, error) {
	return domain.SDPPayload{Type: "offer", SDP: "v=0"}, nil
}
func (nullTransport) CreateAnswer(domain.SDPPayload) (domain.SDPPayload, error) {
	return domain.SDPPayload{Type: "answer", SDP: "v=0"}, nil
}
func (nullTransport) ApplyAnswer(domain.SDPPayload) error            { return nil }
func (nullTransport) AddRemoteCandidate(domain.CandidatePayload) error { return nil }
func (nullTransport) OnLocalCandidate(func(domain.CandidatePayload)) {}
func (nullTransport) OnRemoteTrack(func(domain.RemoteTrack))         {}
func (nullTransport) OnStateChange(func(domain.TransportState))      {}
func (nullTransport) SyncLocalTracks() error                         { return nil }
func (nullTransport) SetTrackEnabled(string, bool) error             { return nil }
func (nullTransport) Close() error                                   { return nil }

type nullFactory struct{}

func (nullFactory) NewPeerTransport() (domain.PeerTransport, error) { return nullTransport{}, nil }
func (nullFactory) NewSendTransport() (domain.PeerTransport, error) { return nullTransport{}, nil }

type nullSender struct{}

func (nullSender) Send(domain.Envelope) {}

func TestSessionsEqualRosterMinusLocal(t *testing.T) {
	m := mesh.NewManager("me", nullFactory{}, nullSender{}, nil)
	s := NewSynchronizer(localEntry(), m, nil)

	s.HandleRoomJoined([]domain.UserInfo{
		{UserID: "a", DisplayName: "Alice"},
		{UserID: "b", DisplayName: "Bob"},
	})
	assert.ElementsMatch(t, s.RemoteIDs(), m.ActiveIDs())

	// newcomer joins, then its offer arrives
	s.HandleUserJoined(domain.UserInfo{UserID: "c", DisplayName: "Cara"})
	m.HandleOffer("c", domain.SDPPayload{Type: "offer", SDP: "v=0"})
	assert.ElementsMatch(t, s.RemoteIDs(), m.ActiveIDs())

	// leaves, including a repeated one
	s.HandleUserLeft("a")
	s.HandleUserLeft("a")
	s.HandleUserLeft("c")
	assert.ElementsMatch(t, s.RemoteIDs(), m.ActiveIDs())
	assert.ElementsMatch(t, []domain.ParticipantID{"b"}, m.ActiveIDs())
}
