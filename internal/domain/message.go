package domain

import "encoding/json"

// Signaling message types, the `type` discriminator of Envelope.
const (
	MsgRoomJoined        = "room-joined"
	MsgNewUserJoined     = "new-user-joined"
	MsgUserLeft          = "user-left"
	MsgOffer             = "webrtc-offer"
	MsgAnswer            = "webrtc-answer"
	MsgCandidate         = "ice-candidate"
	MsgRecorderOffer     = "recorder-offer"
	MsgRecorderAnswer    = "recorder-answer"
	MsgRecorderCandidate = "recorder-ice-candidate"
	MsgUserMediaChanged  = "user-media-changed"
	MsgMediaToggle       = "media-toggle"
	MsgRoomEnded         = "room-ended"
	MsgError             = "error"
)

// UserInfo describes one participant as the server reports it.
type UserInfo struct {
	UserID       string `json:"user_id"`
	DisplayName  string `json:"display_name"`
	AudioEnabled bool   `json:"audio_enabled"`
	VideoEnabled bool   `json:"video_enabled"`
}

// SDPPayload is the JSON structure for session description offer/answer data.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// CandidatePayload is the JSON structure for ICE candidate data.
type CandidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
}

// Envelope is the generic signaling message, flat with all optional fields.
// Mesh negotiation payloads travel in Data; recorder negotiation uses the
// dedicated sdp/sdpType/candidate fields.
type Envelope struct {
	Type string `json:"type"`

	// room events
	UserID        string     `json:"user_id,omitempty"`
	RoomID        string     `json:"room_id,omitempty"`
	ExistingUsers []UserInfo `json:"existing_users,omitempty"`
	IsInitiator   bool       `json:"is_initiator,omitempty"`
	NewUser       *UserInfo  `json:"new_user,omitempty"`

	// mesh negotiation, addressed per participant
	ToUser   string          `json:"to_user,omitempty"`
	FromUser string          `json:"from_user,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`

	// recorder uplink negotiation
	SDP       string            `json:"sdp,omitempty"`
	SDPType   string            `json:"sdpType,omitempty"`
	Candidate *CandidatePayload `json:"candidate,omitempty"`

	// media flags (user-media-changed in, media-toggle out)
	AudioEnabled *bool `json:"audio_enabled,omitempty"`
	VideoEnabled *bool `json:"video_enabled,omitempty"`

	// room-ended / error
	Message string `json:"message,omitempty"`
}

// DecodeSDP unmarshals the Data field of a webrtc-offer/webrtc-answer envelope.
func (e Envelope) DecodeSDP() (SDPPayload, error) {
	var sdp SDPPayload
	err := json.Unmarshal(e.Data, &sdp)
	return sdp, err
}

// DecodeCandidate unmarshals the Data field of an ice-candidate envelope.
func (e Envelope) DecodeCandidate() (CandidatePayload, error) {
	var cand CandidatePayload
	err := json.Unmarshal(e.Data, &cand)
	return cand, err
}

// EncodeData marshals a mesh negotiation payload into an Envelope Data field.
func EncodeData(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
