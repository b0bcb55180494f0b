package client

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// AudioTrack adapts a pion local track to the session's Track. Disabling
// it drops outgoing samples instead of detaching the sender, so a mute
// flip never renegotiates the mesh.
type AudioTrack struct {
	track *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func NewAudioTrack(id, streamID string) (*AudioTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, id, streamID,
	)
	if err != nil {
		return nil, err
	}
	return &AudioTrack{track: track, enabled: true}, nil
}

// Local exposes the underlying track for attaching to peer connections.
func (t *AudioTrack) Local() *webrtc.TrackLocalStaticSample { return t.track }

func (t *AudioTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *AudioTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled && !t.stopped
}

// WriteSample forwards one captured sample while the track is enabled.
func (t *AudioTrack) WriteSample(sample media.Sample) error {
	if !t.Enabled() {
		return nil
	}
	return t.track.WriteSample(sample)
}

// Stop releases the capture pipeline; writes after Stop are dropped.
func (t *AudioTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.enabled = false
	t.mu.Unlock()
}
