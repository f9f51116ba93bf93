package rtc

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"roomcall/client/internal/domain"
	"roomcall/client/internal/media"
)

// Factory mints pion-backed transports bound to the local capture stream.
// One shared API object carries the media engine and interceptor registry.
type Factory struct {
	api     *pion.API
	capture *media.Capture
	servers []pion.ICEServer
	log     zerolog.Logger
}

var _ domain.TransportFactory = (*Factory)(nil)

// NewFactory builds the shared pion API. The capture's codec selector
// populates the media engine so outbound tracks match negotiated codecs.
func NewFactory(capture *media.Capture, stunServers []string) (*Factory, error) {
	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	if selector := capture.CodecSelector(); selector != nil {
		selector.Populate(m)
	}

	reg := &interceptor.Registry{}
	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	reg.Add(responder)

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(reg),
	)

	var servers []pion.ICEServer
	if len(stunServers) > 0 {
		servers = append(servers, pion.ICEServer{URLs: stunServers})
	}

	return &Factory{
		api:     api,
		capture: capture,
		servers: servers,
		log:     log.With().Str("component", "rtc").Logger(),
	}, nil
}

// NewPeerTransport creates a bidirectional transport for one mesh peer, with
// all current local tracks attached.
func (f *Factory) NewPeerTransport() (domain.PeerTransport, error) {
	return f.newTransport(false)
}

// NewSendTransport creates the send-only transport for the recorder uplink.
func (f *Factory) NewSendTransport() (domain.PeerTransport, error) {
	return f.newTransport(true)
}

func (f *Factory) newTransport(sendOnly bool) (domain.PeerTransport, error) {
	pc, err := f.api.NewPeerConnection(pion.Configuration{
		ICEServers:   f.servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	senders := make(map[string]*pion.RTPSender)
	for _, track := range f.capture.Tracks() {
		var sender *pion.RTPSender
		if sendOnly {
			var tr *pion.RTPTransceiver
			tr, err = pc.AddTransceiverFromTrack(track, pion.RTPTransceiverInit{
				Direction: pion.RTPTransceiverDirectionSendonly,
			})
			if err == nil {
				sender = tr.Sender()
			}
		} else {
			sender, err = pc.AddTrack(track)
		}
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("attach track %s: %w", track.ID(), err)
		}
		senders[track.Kind().String()] = sender
	}

	return newTransport(pc, f.capture, senders, f.log), nil
}
