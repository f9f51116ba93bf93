package signal

import (
	"fmt"
	"net/url"

	"roomcall/client/internal/domain"
)

// Endpoint derives the signaling WebSocket URL from the server's http(s)
// origin: the scheme is upgraded to its secure-transport equivalent when the
// origin itself is secure.
func Endpoint(serverURL, roomID string, userID domain.ParticipantID) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	u.Path = fmt.Sprintf("/ws/%s/%s", roomID, userID)
	return u.String(), nil
}
