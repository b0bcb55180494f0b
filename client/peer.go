package client

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/teamspace/huddle/internal/domain"
)

func defaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// pionPeer is the production PeerLink over a pion PeerConnection. Remote
// candidates arriving before the remote description are buffered here;
// pion rejects AddICECandidate until SetRemoteDescription has run.
type pionPeer struct {
	pc     *webrtc.PeerConnection
	remote domain.UserID

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	onLocal   func(ICECandidate)
}

// NewPionPeer is the default PeerFactory.
func NewPionPeer(remote domain.UserID) (PeerLink, error) {
	pc, err := webrtc.NewPeerConnection(defaultWebRTCConfig())
	if err != nil {
		return nil, err
	}
	p := &pionPeer{pc: pc, remote: remote}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		p.mu.Lock()
		fn := p.onLocal
		p.mu.Unlock()
		if fn != nil {
			fn(fromInit(cand.ToJSON()))
		}
	})

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		// A failed link degrades this pairing only; the session stays up.
		log.Info().Str("module", "client").Str("peer", string(remote)).
			Str("state", st.String()).Msg("peer connection state")
	})

	return p, nil
}

func (p *pionPeer) OnLocalCandidate(fn func(ICECandidate)) {
	p.mu.Lock()
	p.onLocal = fn
	p.mu.Unlock()
}

func (p *pionPeer) StartOffer() (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (p *pionPeer) AcceptOffer(sdp string) (string, error) {
	if err := p.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return "", err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (p *pionPeer) AcceptAnswer(sdp string) error {
	return p.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (p *pionPeer) setRemote(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "client").
				Str("peer", string(p.remote)).Msg("buffered candidate rejected")
		}
	}
	return nil
}

func (p *pionPeer) AddRemoteCandidate(c ICECandidate) error {
	init := toInit(c)
	p.mu.Lock()
	if !p.remoteSet {
		p.pending = append(p.pending, init)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.pc.AddICECandidate(init)
}

func (p *pionPeer) Close() {
	if err := p.pc.Close(); err != nil {
		log.Warn().Err(err).Str("module", "client").
			Str("peer", string(p.remote)).Msg("peer close")
	}
}

func toInit(c ICECandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}

func fromInit(init webrtc.ICECandidateInit) ICECandidate {
	return ICECandidate{
		Candidate:     init.Candidate,
		SDPMid:        init.SDPMid,
		SDPMLineIndex: init.SDPMLineIndex,
	}
}
