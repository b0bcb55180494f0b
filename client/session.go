// Package client implements the per-client meeting session: it joins a
// room over the signaling socket, negotiates a full mesh of peer links
// with every other participant, and reconciles the locally desired audio
// state against the server-asserted permission state.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/teamspace/huddle/internal/domain"
	"github.com/teamspace/huddle/internal/signal"
)

type State string

const (
	StateIdle        State = "idle"
	StateJoining     State = "joining"
	StateNegotiating State = "negotiating"
	StateActive      State = "active"
	StateLeaving     State = "leaving"
	StateEnded       State = "ended"
)

var ErrNotInMeeting = errors.New("not in a meeting")

// errSessionClosed marks work that lost a race with Leave or an end event;
// callers stop quietly instead of treating it as a degraded pairing.
var errSessionClosed = errors.New("session closed")

// Transport sends envelopes to the signaling server. The websocket client
// behind it owns reconnection; a reconnect re-enters via Join, not replay.
type Transport interface {
	Send(v any) error
}

// Track is the local capture device. Stop must release the microphone;
// SetEnabled gates whether audio leaves the client.
type Track interface {
	SetEnabled(enabled bool)
	Stop()
}

// SDPPayload and ICECandidate are the relay payload shapes.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// PeerLink is one leg of the mesh. The pion implementation lives in
// peer.go; tests substitute fakes through the session's PeerFactory.
type PeerLink interface {
	StartOffer() (sdp string, err error)
	AcceptOffer(sdp string) (answer string, err error)
	AcceptAnswer(sdp string) error
	AddRemoteCandidate(c ICECandidate) error
	OnLocalCandidate(fn func(ICECandidate))
	Close()
}

type PeerFactory func(remote domain.UserID) (PeerLink, error)

type Session struct {
	mu sync.Mutex

	self      *domain.User
	transport Transport
	track     Track
	newPeer   PeerFactory

	state  State
	roomID domain.RoomID
	room   *domain.Room

	peers  map[domain.UserID]PeerLink
	failed map[domain.UserID]bool
	// Candidates that raced ahead of their offer are buffered per remote
	// and replayed once the peer link exists; they are never dropped.
	pendingCandidates map[domain.UserID][]ICECandidate

	// desiredMuted is the optimistic local intent; serverMuted/canUnmute
	// mirror the last server-asserted participant state.
	desiredMuted bool
	serverMuted  bool
	canUnmute    bool
}

func NewSession(self *domain.User, transport Transport, track Track, factory PeerFactory) *Session {
	if factory == nil {
		factory = NewPionPeer
	}
	return &Session{
		self:              self,
		transport:         transport,
		track:             track,
		newPeer:           factory,
		state:             StateIdle,
		peers:             make(map[domain.UserID]PeerLink),
		failed:            make(map[domain.UserID]bool),
		pendingCandidates: make(map[domain.UserID][]ICECandidate),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Join asks the server to admit us; the roomState reply drives the mesh.
func (s *Session) Join(roomID domain.RoomID) error {
	s.mu.Lock()
	s.state = StateJoining
	s.roomID = roomID
	s.mu.Unlock()
	return s.transport.Send(map[string]any{
		"type":   signal.TypeJoinMeeting,
		"roomId": roomID,
	})
}

// Leave tears the whole session down synchronously: every peer link is
// closed and the microphone released before the server is notified, so no
// media device dangles across session boundaries.
func (s *Session) Leave() error {
	s.mu.Lock()
	if s.state == StateIdle || s.state == StateEnded {
		s.mu.Unlock()
		return ErrNotInMeeting
	}
	s.state = StateLeaving
	roomID := s.roomID
	s.teardownLocked()
	s.state = StateEnded
	s.mu.Unlock()

	return s.transport.Send(map[string]any{
		"type":   signal.TypeLeaveMeeting,
		"roomId": roomID,
	})
}

func (s *Session) teardownLocked() {
	for uid, p := range s.peers {
		p.Close()
		delete(s.peers, uid)
	}
	s.pendingCandidates = make(map[domain.UserID][]ICECandidate)
	if s.track != nil {
		s.track.Stop()
	}
}

// ToggleMute flips the local intent optimistically and reports it to the
// server; a rejection rolls the intent back to the asserted state.
func (s *Session) ToggleMute() error {
	s.mu.Lock()
	if s.state != StateActive && s.state != StateNegotiating {
		s.mu.Unlock()
		return ErrNotInMeeting
	}
	s.desiredMuted = !s.desiredMuted
	muted := s.desiredMuted
	roomID := s.roomID
	s.applyTrackLocked()
	s.mu.Unlock()

	return s.transport.Send(map[string]any{
		"type":          signal.TypeSetMute,
		"roomId":        roomID,
		"participantId": s.self.ID,
		"muted":         muted,
	})
}

func (s *Session) applyTrackLocked() {
	if s.track != nil {
		s.track.SetEnabled(!s.desiredMuted)
	}
}

// HandleMessage dispatches one inbound server frame.
func (s *Session) HandleMessage(data []byte) error {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("bad frame: %w", err)
	}

	switch env.Type {
	case signal.TypeRoomState:
		return s.onRoomState(data)
	case signal.TypeParticipantJoined:
		return s.onParticipantJoined(data)
	case signal.TypeParticipantLeft:
		return s.onParticipantLeft(data)
	case signal.TypeParticipantKicked:
		s.onKickedSelf()
		return nil
	case signal.TypeOffer:
		return s.onOffer(data)
	case signal.TypeAnswer:
		return s.onAnswer(data)
	case signal.TypeICECandidate:
		return s.onCandidate(data)
	case signal.TypeParticipantMuted:
		return s.onParticipantMuted(data)
	case signal.TypeMuteAll, signal.TypeUnmuteAll:
		return s.onMuteSweep(data)
	case signal.TypeSettingsUpdated:
		return s.onSettingsUpdated(data)
	case signal.TypeMeetingEnded:
		s.onMeetingEnded()
		return nil
	case signal.TypeError:
		return s.onServerError(data)
	default:
		log.Debug().Str("module", "client").Str("type", env.Type).Msg("ignoring message")
		return nil
	}
}

// onRoomState enters negotiating: the joiner initiates one outbound offer
// toward every other connected participant; existing members answer. The
// session is active once the join succeeded — individual peer links that
// fail later degrade only that pairing.
func (s *Session) onRoomState(data []byte) error {
	var ev struct {
		Room *domain.Room `json:"room"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == StateLeaving || s.state == StateEnded {
		// A snapshot racing an explicit leave must not restart the session.
		s.mu.Unlock()
		return nil
	}
	s.state = StateNegotiating
	s.room = ev.Room
	if p := ev.Room.Participant(s.self.ID); p != nil {
		s.reconcileMuteLocked(p.IsMuted, p.CanUnmute)
	}
	var others []domain.UserID
	for _, p := range ev.Room.Participants {
		if p.UserID != s.self.ID && p.IsConnected {
			others = append(others, p.UserID)
		}
	}
	s.mu.Unlock()

	for _, uid := range others {
		if err := s.offerTo(uid); err != nil {
			if errors.Is(err, errSessionClosed) {
				// Leave won the race mid-negotiation; stay torn down.
				return nil
			}
			log.Warn().Err(err).Str("module", "client").
				Str("peer", string(uid)).Msg("offer failed, pairing degraded")
			s.markFailed(uid)
		}
	}

	s.mu.Lock()
	// Leaving and ended are terminal; negotiation must not resurrect them.
	if s.state == StateNegotiating {
		s.state = StateActive
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) offerTo(uid domain.UserID) error {
	link, err := s.ensurePeer(uid)
	if err != nil {
		return err
	}
	sdp, err := link.StartOffer()
	if err != nil {
		return err
	}
	return s.sendRelay(signal.TypeOffer, uid, SDPPayload{Type: "offer", SDP: sdp})
}

// ensurePeer creates the link on first use and replays any candidates
// that arrived before it existed. It refuses to open links once the
// session is leaving or ended, closing anything created concurrently with
// teardown.
func (s *Session) ensurePeer(uid domain.UserID) (PeerLink, error) {
	s.mu.Lock()
	if s.state == StateLeaving || s.state == StateEnded {
		s.mu.Unlock()
		return nil, errSessionClosed
	}
	if link, ok := s.peers[uid]; ok {
		s.mu.Unlock()
		return link, nil
	}
	s.mu.Unlock()

	link, err := s.newPeer(uid)
	if err != nil {
		return nil, err
	}
	link.OnLocalCandidate(func(c ICECandidate) {
		if err := s.sendRelay(signal.TypeICECandidate, uid, c); err != nil {
			log.Warn().Err(err).Str("module", "client").Str("peer", string(uid)).Msg("candidate send failed")
		}
	})

	s.mu.Lock()
	if s.state == StateLeaving || s.state == StateEnded {
		s.mu.Unlock()
		link.Close()
		return nil, errSessionClosed
	}
	s.peers[uid] = link
	buffered := s.pendingCandidates[uid]
	delete(s.pendingCandidates, uid)
	s.mu.Unlock()

	for _, c := range buffered {
		if err := link.AddRemoteCandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "client").Str("peer", string(uid)).Msg("buffered candidate rejected")
		}
	}
	return link, nil
}

func (s *Session) sendRelay(msgType string, to domain.UserID, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	roomID := s.roomID
	s.mu.Unlock()
	return s.transport.Send(signal.RelayMessage{
		Type:    msgType,
		RoomID:  roomID,
		To:      to,
		Payload: raw,
	})
}

func (s *Session) markFailed(uid domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[uid] = true
	if link, ok := s.peers[uid]; ok {
		link.Close()
		delete(s.peers, uid)
	}
}

func (s *Session) onParticipantJoined(data []byte) error {
	var ev struct {
		Participant *domain.Participant `json:"participant"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	// The newcomer initiates; we just track the roster and wait for its
	// offer.
	s.mu.Lock()
	if s.room != nil && s.room.Participant(ev.Participant.UserID) == nil {
		s.room.Participants = append(s.room.Participants, ev.Participant)
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) onParticipantLeft(data []byte) error {
	var ev struct {
		ParticipantID domain.UserID `json:"participantId"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	s.mu.Lock()
	if link, ok := s.peers[ev.ParticipantID]; ok {
		link.Close()
		delete(s.peers, ev.ParticipantID)
	}
	delete(s.pendingCandidates, ev.ParticipantID)
	s.mu.Unlock()
	return nil
}

func (s *Session) onKickedSelf() {
	s.mu.Lock()
	defer s.mu.Unlock()
	log.Info().Str("module", "client").Msg("removed from meeting by host")
	s.teardownLocked()
	s.state = StateEnded
}

func (s *Session) onMeetingEnded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	s.state = StateEnded
}

func (s *Session) onOffer(data []byte) error {
	var msg signal.RelayMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	var sdp SDPPayload
	if err := json.Unmarshal(msg.Payload, &sdp); err != nil {
		return err
	}

	link, err := s.ensurePeer(msg.From)
	if err != nil {
		return err
	}
	answer, err := link.AcceptOffer(sdp.SDP)
	if err != nil {
		s.markFailed(msg.From)
		return err
	}
	return s.sendRelay(signal.TypeAnswer, msg.From, SDPPayload{Type: "answer", SDP: answer})
}

func (s *Session) onAnswer(data []byte) error {
	var msg signal.RelayMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	var sdp SDPPayload
	if err := json.Unmarshal(msg.Payload, &sdp); err != nil {
		return err
	}

	s.mu.Lock()
	link, ok := s.peers[msg.From]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("answer from %s without a pending offer", msg.From)
	}
	if err := link.AcceptAnswer(sdp.SDP); err != nil {
		s.markFailed(msg.From)
		return err
	}
	return nil
}

// onCandidate applies a remote candidate, or buffers it when it outran
// its offer.
func (s *Session) onCandidate(data []byte) error {
	var msg signal.RelayMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	var cand ICECandidate
	if err := json.Unmarshal(msg.Payload, &cand); err != nil {
		return err
	}

	s.mu.Lock()
	link, ok := s.peers[msg.From]
	if !ok {
		s.pendingCandidates[msg.From] = append(s.pendingCandidates[msg.From], cand)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return link.AddRemoteCandidate(cand)
}

func (s *Session) onParticipantMuted(data []byte) error {
	var ev struct {
		ParticipantID domain.UserID `json:"participantId"`
		Muted         bool          `json:"muted"`
		CanUnmute     bool          `json:"canUnmute"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room != nil {
		if p := s.room.Participant(ev.ParticipantID); p != nil {
			p.IsMuted = ev.Muted
			p.CanUnmute = ev.CanUnmute
		}
	}
	if ev.ParticipantID == s.self.ID {
		s.reconcileMuteLocked(ev.Muted, ev.CanUnmute)
	}
	return nil
}

func (s *Session) onMuteSweep(data []byte) error {
	var ev struct {
		Room *domain.Room `json:"room"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = ev.Room
	if p := ev.Room.Participant(s.self.ID); p != nil {
		s.reconcileMuteLocked(p.IsMuted, p.CanUnmute)
	}
	return nil
}

func (s *Session) onSettingsUpdated(data []byte) error {
	var ev struct {
		Settings domain.Settings `json:"settings"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room != nil {
		s.room.Settings = ev.Settings
	}
	return nil
}

// onServerError rolls an optimistic mute toggle back when the server
// rejects it.
func (s *Session) onServerError(data []byte) error {
	var ev struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Action  string `json:"action"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	log.Warn().Str("module", "client").Str("code", ev.Code).
		Str("action", ev.Action).Str("msg", ev.Message).Msg("server rejected action")

	if ev.Action == signal.TypeSetMute {
		s.mu.Lock()
		s.desiredMuted = s.serverMuted
		s.applyTrackLocked()
		s.mu.Unlock()
	}
	return nil
}

// reconcileMuteLocked makes the track follow the server-asserted state:
// the enabled flag always reflects serverAsserted.isMuted.
func (s *Session) reconcileMuteLocked(muted, canUnmute bool) {
	s.serverMuted = muted
	s.canUnmute = canUnmute
	s.desiredMuted = muted
	s.applyTrackLocked()
}
