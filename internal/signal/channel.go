package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"roomcall/client/internal/domain"
)

// Status is the lifecycle of the signaling channel.
type Status int

const (
	StatusConnecting Status = iota
	StatusOpen
	StatusClosed
)

// Options bound the channel's timing behavior.
type Options struct {
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
	PingInterval   time.Duration
}

func (o *Options) fill() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 15 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 2 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
}

// Channel is the single full-duplex connection to the room's signaling
// endpoint. Inbound envelopes are delivered to the handler in arrival order
// from one read goroutine. On unexpected closure the channel attempts exactly
// one reconnect after a fixed delay; the underlying connection is recreated,
// never reused. Media sessions are not touched by signaling loss.
type Channel struct {
	endpoint string
	handler  domain.Handler
	opts     Options
	log      zerolog.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	status        Status
	lastCloseCode int
	localClose    bool
	pingStop      chan struct{}
}

// NewChannel creates a channel for the given endpoint. Open must be called
// before any send.
func NewChannel(endpoint string, handler domain.Handler, opts Options) *Channel {
	opts.fill()
	return &Channel{
		endpoint: endpoint,
		handler:  handler,
		opts:     opts,
		status:   StatusConnecting,
		log:      log.With().Str("component", "signal").Logger(),
	}
}

// Open dials the signaling endpoint and starts the read loop. A handshake
// timeout is reported as ErrConnectTimeout, distinct from other dial errors.
func (c *Channel) Open() error {
	conn, err := c.dial()
	if err != nil {
		c.mu.Lock()
		c.status = StatusClosed
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.install(conn)
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

func (c *Channel) dial() (*websocket.Conn, error) {
	c.log.Info().Str("endpoint", c.endpoint).Msg("connecting")

	dialer := websocket.Dialer{HandshakeTimeout: c.opts.ConnectTimeout}
	conn, _, err := dialer.Dial(c.endpoint, nil)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, fmt.Errorf("%w: %v", domain.ErrConnectTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrSignalingUnavailable, err)
	}
	return conn, nil
}

// install swaps in a fresh connection. Caller holds c.mu.
func (c *Channel) install(conn *websocket.Conn) {
	if c.pingStop != nil {
		close(c.pingStop)
	}
	c.conn = conn
	c.status = StatusOpen
	c.pingStop = make(chan struct{})
	go c.pingLoop(conn, c.pingStop)
}

// Status reports the current channel state.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastCloseCode reports the close code of the most recent closure, 0 if the
// channel never closed.
func (c *Channel) LastCloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCloseCode
}

// Send marshals the envelope onto the channel. Fire-and-forget: dropped with
// a debug log while the channel is not open.
func (c *Channel) Send(env domain.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusOpen {
		c.log.Debug().Str("type", env.Type).Msg("dropping send, channel not open")
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		c.log.Error().Err(err).Str("type", env.Type).Msg("marshal error")
		return
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.Error().Err(err).Str("type", env.Type).Msg("write error")
	}
}

// Close shuts the channel down locally. Idempotent; suppresses the reconnect
// attempt.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.localClose {
		return
	}
	c.localClose = true
	c.status = StatusClosed
	if c.pingStop != nil {
		close(c.pingStop)
		c.pingStop = nil
	}
	if c.conn != nil {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.conn.Close()
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if next := c.handleReadError(err); next != nil {
				conn = next
				continue
			}
			return
		}

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn().Err(err).Msg("unmarshal error, dropping message")
			continue
		}
		c.dispatch(env)
	}
}

// handleReadError classifies the closure and runs the single bounded
// reconnect attempt. Returns the replacement connection, or nil when the
// channel is finished.
func (c *Channel) handleReadError(err error) *websocket.Conn {
	code := websocket.CloseAbnormalClosure
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code = closeErr.Code
	}

	c.mu.Lock()
	c.lastCloseCode = code
	if c.localClose {
		c.mu.Unlock()
		return nil
	}

	if code == websocket.CloseNormalClosure || code == websocket.CloseGoingAway {
		c.log.Info().Int("code", code).Msg("closed by server")
		c.status = StatusClosed
		if c.pingStop != nil {
			close(c.pingStop)
			c.pingStop = nil
		}
		c.mu.Unlock()
		c.handler.OnSignalingLost()
		return nil
	}

	c.status = StatusConnecting
	if c.pingStop != nil {
		close(c.pingStop)
		c.pingStop = nil
	}
	c.mu.Unlock()

	c.log.Warn().Err(err).Int("code", code).
		Dur("delay", c.opts.ReconnectDelay).Msg("connection lost, reconnecting once")
	time.Sleep(c.opts.ReconnectDelay)

	c.mu.Lock()
	if c.localClose {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, dialErr := c.dial()
	if dialErr != nil {
		c.log.Error().Err(dialErr).Msg("reconnect failed")
		c.mu.Lock()
		c.status = StatusClosed
		c.mu.Unlock()
		c.handler.OnSignalingLost()
		return nil
	}

	c.log.Info().Msg("reconnected")
	c.mu.Lock()
	c.install(conn)
	c.mu.Unlock()
	return conn
}

func (c *Channel) dispatch(env domain.Envelope) {
	switch env.Type {
	case domain.MsgRoomJoined:
		c.log.Info().Int("existing", len(env.ExistingUsers)).
			Bool("initiator", env.IsInitiator).Msg("room joined")
		c.handler.OnRoomJoined(env.ExistingUsers)

	case domain.MsgNewUserJoined:
		if env.NewUser == nil {
			c.log.Warn().Msg("new-user-joined without new_user, dropping")
			return
		}
		c.handler.OnUserJoined(*env.NewUser)

	case domain.MsgUserLeft:
		c.handler.OnUserLeft(domain.ParticipantID(env.UserID))

	case domain.MsgUserMediaChanged:
		audio, video := true, true
		if env.AudioEnabled != nil {
			audio = *env.AudioEnabled
		}
		if env.VideoEnabled != nil {
			video = *env.VideoEnabled
		}
		c.handler.OnUserMediaChanged(domain.ParticipantID(env.UserID), audio, video)

	case domain.MsgOffer:
		sdp, err := env.DecodeSDP()
		if err != nil {
			c.log.Warn().Err(err).Str("from", env.FromUser).Msg("bad offer payload, dropping")
			return
		}
		c.handler.OnOffer(domain.ParticipantID(env.FromUser), sdp)

	case domain.MsgAnswer:
		sdp, err := env.DecodeSDP()
		if err != nil {
			c.log.Warn().Err(err).Str("from", env.FromUser).Msg("bad answer payload, dropping")
			return
		}
		c.handler.OnAnswer(domain.ParticipantID(env.FromUser), sdp)

	case domain.MsgCandidate:
		cand, err := env.DecodeCandidate()
		if err != nil {
			c.log.Warn().Err(err).Str("from", env.FromUser).Msg("bad candidate payload, dropping")
			return
		}
		c.handler.OnCandidate(domain.ParticipantID(env.FromUser), cand)

	case domain.MsgRecorderAnswer:
		c.handler.OnRecorderAnswer(domain.SDPPayload{Type: env.SDPType, SDP: env.SDP})

	case domain.MsgRecorderCandidate:
		if env.Candidate == nil {
			c.log.Warn().Msg("recorder-ice-candidate without candidate, dropping")
			return
		}
		c.handler.OnRecorderCandidate(*env.Candidate)

	case domain.MsgRoomEnded:
		c.handler.OnRoomEnded(env.Message)

	case domain.MsgError:
		c.handler.OnServerError(env.Message)

	default:
		c.log.Warn().Str("type", env.Type).Msg("unhandled message type")
	}
}

func (c *Channel) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(5*time.Second),
			)
			c.mu.Unlock()
			if err != nil {
				c.log.Debug().Err(err).Msg("ping error")
				return
			}
		}
	}
}
