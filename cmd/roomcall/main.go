package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"roomcall/client/internal/api"
	"roomcall/client/internal/call"
	"roomcall/client/internal/config"
	"roomcall/client/internal/domain"
	"roomcall/client/internal/media"
	"roomcall/client/internal/rtc"
	sigchannel "roomcall/client/internal/signal"
)

const helpText = `roomcall - join a multi-party video room from the terminal

Captures the local camera and microphone, joins the room over the room
server's REST API, and holds one direct media connection per participant plus
a recorder uplink.

Environment Variables (required):
  ROOMCALL_ROOM_CODE     Room code to join
  ROOMCALL_DISPLAY_NAME  Name shown to other participants

Environment Variables (optional):
  ROOMCALL_SERVER_URL    Room server origin (default http://localhost:8000)
  ROOMCALL_LOG_LEVEL     zerolog level (default info)
  ROOMCALL_STUN_SERVERS  Comma-separated STUN URLs

Interactive commands:
  a  toggle audio
  v  toggle video
  r  print roster
  q  leave and quit

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	apiClient := api.NewClient(cfg.ServerURL)
	if info, err := apiClient.GetRoomInfo(cfg.RoomCode); err == nil {
		fmt.Printf("room %s: %d/%d participants\n", info.RoomID, info.ParticipantCount, info.MaxParticipants)
	}

	c := call.New(call.Deps{
		Acquire: media.Acquire,
		NewFactory: func(capture *media.Capture) (domain.TransportFactory, error) {
			return rtc.NewFactory(capture, cfg.STUNServers)
		},
		NewChannel: func(identity domain.RoomIdentity, h domain.Handler) (call.Channel, error) {
			endpoint, err := sigchannel.Endpoint(cfg.ServerURL, identity.RoomID, identity.ParticipantID)
			if err != nil {
				return nil, err
			}
			return sigchannel.NewChannel(endpoint, h, sigchannel.Options{
				ConnectTimeout: cfg.ConnectTimeout,
				ReconnectDelay: cfg.ReconnectDelay,
				PingInterval:   cfg.PingInterval,
			}), nil
		},
		API:    apiClient,
		Notify: &consoleNotifier{},
		OnFatal: func(err error) {
			log.Error().Err(err).Msg("call failed, leaving")
			os.Exit(1)
		},
	})

	identity := domain.RoomIdentity{
		RoomID:      cfg.RoomCode,
		DisplayName: cfg.DisplayName,
	}
	if err := c.Join(identity); err != nil {
		log.Fatal().Err(err).Msg("join failed")
	}

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		c.Leave()
		os.Exit(0)
	}()

	runPrompt(c)
	c.Leave()
}

func runPrompt(c *call.Call) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "a":
			fmt.Printf("audio enabled: %v\n", c.ToggleAudio())
		case "v":
			fmt.Printf("video enabled: %v\n", c.ToggleVideo())
		case "r":
			for _, p := range c.Roster().Snapshot() {
				fmt.Printf("  %s (%s) audio=%v video=%v\n", p.DisplayName, p.ID, p.AudioEnabled, p.VideoEnabled)
			}
		case "q":
			return
		case "":
		default:
			fmt.Println("commands: a(udio) v(ideo) r(oster) q(uit)")
		}
	}
}

// consoleNotifier is the rendering stand-in: it logs participant events and
// drains inbound tracks so receive buffers never back up.
type consoleNotifier struct{}

func (n *consoleNotifier) OnParticipantAdded(id domain.ParticipantID, displayName string) {
	log.Info().Str("user", string(id)).Str("name", displayName).Msg("participant added")
}

func (n *consoleNotifier) OnRemoteTrackAdded(id domain.ParticipantID, track domain.RemoteTrack) {
	log.Info().Str("user", string(id)).Str("kind", track.Kind()).Msg("remote track")
	if r, ok := track.(io.Reader); ok {
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, err := r.Read(buf); err != nil {
					return
				}
			}
		}()
	}
}

func (n *consoleNotifier) OnParticipantRemoved(id domain.ParticipantID) {
	log.Info().Str("user", string(id)).Msg("participant removed")
}
