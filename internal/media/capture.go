package media

import (
	"fmt"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers the camera driver
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers the microphone driver
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"roomcall/client/internal/domain"
)

// Quality is one capture constraint set.
type Quality struct {
	Width     int
	Height    int
	FrameRate float32
}

var (
	highQuality     = Quality{Width: 1280, Height: 720, FrameRate: 30}
	degradedQuality = Quality{Width: 640, Height: 480, FrameRate: 15}
)

// Capture owns the local media stream and the capability flags. The stream is
// shared read-only by every peer transport; only the local user flips the
// enablement flags. Never nil after Acquire succeeds.
type Capture struct {
	mu           sync.Mutex
	stream       mediadevices.MediaStream
	selector     *mediadevices.CodecSelector
	audioEnabled bool
	videoEnabled bool
	listeners    []func()
	log          zerolog.Logger
}

// Acquire opens camera and microphone. The high-quality constraint set is
// tried first; on failure a single degraded retry runs with relaxed format
// constraints. Both failing is ErrMediaUnavailable.
func Acquire() (*Capture, error) {
	logger := log.With().Str("component", "media").Logger()

	selector, err := newCodecSelector()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaUnavailable, err)
	}

	stream, err := getMedia(selector, highQuality, false)
	if err != nil {
		logger.Warn().Err(err).Msg("high-quality capture failed, retrying degraded")
		stream, err = getMedia(selector, degradedQuality, true)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaUnavailable, err)
	}

	logger.Info().Int("tracks", len(stream.GetTracks())).Msg("capture acquired")
	return &Capture{
		stream:       stream,
		selector:     selector,
		audioEnabled: true,
		videoEnabled: true,
		log:          logger,
	}, nil
}

// NewFromStream wraps an existing stream. Used by tests and headless setups.
func NewFromStream(stream mediadevices.MediaStream, selector *mediadevices.CodecSelector) *Capture {
	return &Capture{
		stream:       stream,
		selector:     selector,
		audioEnabled: true,
		videoEnabled: true,
		log:          log.With().Str("component", "media").Logger(),
	}
}

func newCodecSelector() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	opusParams.BitRate = 32_000

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

// getMedia is a seam over device acquisition, swappable in tests.
var getMedia = getUserMedia

func getUserMedia(selector *mediadevices.CodecSelector, q Quality, relaxed bool) (mediadevices.MediaStream, error) {
	return mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(q.Width)
			c.Height = prop.Int(q.Height)
			c.FrameRate = prop.Float(q.FrameRate)
			if !relaxed {
				c.FrameFormat = prop.FrameFormat(frame.FormatI420)
			}
		},
		Audio: func(c *mediadevices.MediaTrackConstraints) {},
		Codec: selector,
	})
}

// Tracks returns the current local tracks.
func (c *Capture) Tracks() []mediadevices.Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream.GetTracks()
}

// CodecSelector exposes the selector so transports can populate their media
// engine with the same codecs the tracks encode to.
func (c *Capture) CodecSelector() *mediadevices.CodecSelector {
	return c.selector
}

// AudioEnabled reports the local audio flag.
func (c *Capture) AudioEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioEnabled
}

// VideoEnabled reports the local video flag.
func (c *Capture) VideoEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videoEnabled
}

// SetAudioEnabled flips the audio flag. Enablement is a flag change, not a
// track change: it never triggers renegotiation.
func (c *Capture) SetAudioEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioEnabled = enabled
}

// SetVideoEnabled flips the video flag.
func (c *Capture) SetVideoEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videoEnabled = enabled
}

// OnTrackChange registers a listener fired whenever the track set changes
// (replacement, not enablement).
func (c *Capture) OnTrackChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// ReplaceVideoInput re-acquires the video source with the given constraints
// and swaps the video tracks in place, then fires the track-change listeners.
func (c *Capture) ReplaceVideoInput(q Quality) error {
	fresh, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(mc *mediadevices.MediaTrackConstraints) {
			mc.Width = prop.Int(q.Width)
			mc.Height = prop.Int(q.Height)
			mc.FrameRate = prop.Float(q.FrameRate)
		},
		Codec: c.selector,
	})
	if err != nil {
		return fmt.Errorf("reacquire video: %w", err)
	}

	c.mu.Lock()
	for _, t := range c.stream.GetVideoTracks() {
		c.stream.RemoveTrack(t)
		if err := t.Close(); err != nil {
			c.log.Warn().Err(err).Str("track", t.ID()).Msg("close old video track")
		}
	}
	for _, t := range fresh.GetVideoTracks() {
		c.stream.AddTrack(t)
	}
	listeners := append([]func(){}, c.listeners...)
	c.mu.Unlock()

	c.log.Info().Msg("video input replaced")
	for _, fn := range listeners {
		fn()
	}
	return nil
}

// Close stops every track. Idempotent per track set; releases the devices.
func (c *Capture) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.stream.GetTracks() {
		if err := t.Close(); err != nil {
			c.log.Warn().Err(err).Str("track", t.ID()).Msg("close track")
		}
	}
}
