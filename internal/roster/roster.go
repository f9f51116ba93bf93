package roster

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"roomcall/client/internal/domain"
)

// Mesh is the part of the mesh manager the synchronizer drives.
type Mesh interface {
	Connect(remote domain.ParticipantID)
	Remove(remote domain.ParticipantID)
}

// Synchronizer maintains the authoritative participant list, reconciled only
// against signaling events, never inferred from peer-connection state. The
// local participant is always present as a synthetic entry.
//
// Offer direction is symmetric by construction: the side already in the room
// never initiates toward a newcomer, and the newcomer offers to everyone it
// found on arrival. No pair can double-offer.
type Synchronizer struct {
	mesh   Mesh
	notify domain.Notifier
	log    zerolog.Logger

	mu      sync.Mutex
	local   domain.Participant
	entries map[domain.ParticipantID]domain.Participant
}

// NewSynchronizer creates a roster holding only the local synthetic entry.
func NewSynchronizer(local domain.Participant, mesh Mesh, notify domain.Notifier) *Synchronizer {
	if notify == nil {
		notify = domain.NopNotifier{}
	}
	return &Synchronizer{
		mesh:    mesh,
		notify:  notify,
		local:   local,
		entries: make(map[domain.ParticipantID]domain.Participant),
		log:     log.With().Str("component", "roster").Logger(),
	}
}

// HandleRoomJoined initializes the roster from the server snapshot and
// establishes an outbound session to every pre-existing participant: the
// newcomer (us) is the offering side.
func (s *Synchronizer) HandleRoomJoined(existing []domain.UserInfo) {
	s.mu.Lock()
	s.entries = make(map[domain.ParticipantID]domain.Participant, len(existing))
	for _, u := range existing {
		s.entries[domain.ParticipantID(u.UserID)] = participantFrom(u)
	}
	s.mu.Unlock()

	s.log.Info().Int("existing", len(existing)).Msg("room joined")
	for _, u := range existing {
		id := domain.ParticipantID(u.UserID)
		s.notify.OnParticipantAdded(id, u.DisplayName)
		s.mesh.Connect(id)
	}
}

// HandleUserJoined inserts the newcomer. No outbound session: the newly
// joined side sends the offer, we wait to receive it.
func (s *Synchronizer) HandleUserJoined(u domain.UserInfo) {
	id := domain.ParticipantID(u.UserID)

	s.mu.Lock()
	s.entries[id] = participantFrom(u)
	s.mu.Unlock()

	s.log.Info().Str("user", u.UserID).Str("name", u.DisplayName).Msg("user joined")
	s.notify.OnParticipantAdded(id, u.DisplayName)
}

// HandleUserLeft removes the entry and tears down its peer session.
func (s *Synchronizer) HandleUserLeft(id domain.ParticipantID) {
	s.mu.Lock()
	_, known := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()

	if !known {
		s.log.Debug().Str("user", string(id)).Msg("user-left for unknown participant")
	}
	s.mesh.Remove(id)
	s.notify.OnParticipantRemoved(id)
	s.log.Info().Str("user", string(id)).Msg("user left")
}

// HandleMediaChanged updates flags in place. Never creates or removes entries.
func (s *Synchronizer) HandleMediaChanged(id domain.ParticipantID, audio, video bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.entries[id]
	if !ok {
		s.log.Debug().Str("user", string(id)).Msg("media change for unknown participant, dropping")
		return
	}
	p.AudioEnabled = audio
	p.VideoEnabled = video
	s.entries[id] = p
}

// SetLocalFlags updates the local synthetic entry. Remote entries change only
// on user-media-changed events.
func (s *Synchronizer) SetLocalFlags(audio, video bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local.AudioEnabled = audio
	s.local.VideoEnabled = video
}

// Local returns the local synthetic entry.
func (s *Synchronizer) Local() domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

// Get returns one remote entry.
func (s *Synchronizer) Get(id domain.ParticipantID) (domain.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[id]
	return p, ok
}

// Snapshot lists the full roster, local entry first.
func (s *Synchronizer) Snapshot() []domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Participant, 0, len(s.entries)+1)
	out = append(out, s.local)
	for _, p := range s.entries {
		out = append(out, p)
	}
	return out
}

// RemoteIDs lists the remote participants currently present.
func (s *Synchronizer) RemoteIDs() []domain.ParticipantID {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]domain.ParticipantID, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

func participantFrom(u domain.UserInfo) domain.Participant {
	return domain.Participant{
		ID:           domain.ParticipantID(u.UserID),
		DisplayName:  u.DisplayName,
		AudioEnabled: u.AudioEnabled,
		VideoEnabled: u.VideoEnabled,
	}
}
