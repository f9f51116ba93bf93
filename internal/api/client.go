package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"roomcall/client/internal/domain"
)

// Client talks to the room server's REST endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a REST client for the given server origin.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("component", "api").Logger(),
	}
}

type joinRequest struct {
	DisplayName string `json:"display_name"`
}

type mediaStatusRequest struct {
	AudioEnabled bool `json:"audio_enabled"`
	VideoEnabled bool `json:"video_enabled"`
}

// RoomInfo is the GET /api/rooms/{id} response.
type RoomInfo struct {
	RoomID           string            `json:"room_id"`
	Participants     []domain.UserInfo `json:"participants"`
	ParticipantCount int               `json:"participant_count"`
	MaxParticipants  int               `json:"max_participants"`
}

// JoinRoom registers the local participant and returns the identity the
// server assigned. A 404/400 response means the room is missing or full.
func (c *Client) JoinRoom(roomID, displayName string) (domain.UserInfo, error) {
	var info domain.UserInfo

	path := fmt.Sprintf("%s/api/rooms/%s/join", c.baseURL, roomID)
	if err := c.do(http.MethodPost, path, joinRequest{DisplayName: displayName}, &info); err != nil {
		return info, err
	}

	c.log.Info().Str("user_id", info.UserID).Str("room_id", roomID).Msg("joined room")
	return info, nil
}

// UpdateMediaStatus reports the local audio/video flags. Callers treat it as
// fire-and-forget; the error is for logging only.
func (c *Client) UpdateMediaStatus(roomID string, userID domain.ParticipantID, audio, video bool) error {
	path := fmt.Sprintf("%s/api/rooms/%s/users/%s/media", c.baseURL, roomID, userID)
	return c.do(http.MethodPatch, path, mediaStatusRequest{AudioEnabled: audio, VideoEnabled: video}, nil)
}

// GetRoomInfo fetches the room snapshot. Informational only.
func (c *Client) GetRoomInfo(roomID string) (RoomInfo, error) {
	var info RoomInfo
	err := c.do(http.MethodGet, fmt.Sprintf("%s/api/rooms/%s", c.baseURL, roomID), nil, &info)
	return info, err
}

func (c *Client) do(method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: http %d: %s", domain.ErrRoomJoinRejected, resp.StatusCode, string(respBody))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
