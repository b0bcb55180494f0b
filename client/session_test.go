package client

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teamspace/huddle/internal/domain"
	"github.com/teamspace/huddle/internal/signal"
)

type fakeTransport struct{ sent [][]byte }

func (t *fakeTransport) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.sent = append(t.sent, b)
	return nil
}

func (t *fakeTransport) sentOfType(typ string) []map[string]any {
	var out []map[string]any
	for _, b := range t.sent {
		var m map[string]any
		_ = json.Unmarshal(b, &m)
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

type fakeTrack struct {
	enabled bool
	stopped bool
}

func (t *fakeTrack) SetEnabled(v bool) { t.enabled = v }
func (t *fakeTrack) Stop()             { t.stopped = true }

type fakePeer struct {
	remote     domain.UserID
	candidates []ICECandidate
	answered   string
	gotAnswer  string
	closed     bool
	failOffer  bool
}

func (p *fakePeer) StartOffer() (string, error) {
	if p.failOffer {
		return "", errors.New("ice gathering failed")
	}
	return "offer-sdp-" + string(p.remote), nil
}

func (p *fakePeer) AcceptOffer(sdp string) (string, error) {
	p.answered = sdp
	return "answer-sdp-" + string(p.remote), nil
}

func (p *fakePeer) AcceptAnswer(sdp string) error {
	p.gotAnswer = sdp
	return nil
}

func (p *fakePeer) AddRemoteCandidate(c ICECandidate) error {
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) OnLocalCandidate(func(ICECandidate)) {}
func (p *fakePeer) Close()                              { p.closed = true }

type testRig struct {
	sess      *Session
	transport *fakeTransport
	track     *fakeTrack
	peers     map[domain.UserID]*fakePeer
	failNext  map[domain.UserID]bool
	// onCreate, when set, runs before the factory builds a link.
	onCreate func(domain.UserID)
}

func newRig() *testRig {
	rig := &testRig{
		transport: &fakeTransport{},
		track:     &fakeTrack{},
		peers:     make(map[domain.UserID]*fakePeer),
		failNext:  make(map[domain.UserID]bool),
	}
	factory := func(remote domain.UserID) (PeerLink, error) {
		if rig.onCreate != nil {
			rig.onCreate(remote)
		}
		p := &fakePeer{remote: remote, failOffer: rig.failNext[remote]}
		rig.peers[remote] = p
		return p, nil
	}
	rig.sess = NewSession(&domain.User{ID: "me", Name: "me", Role: domain.RoleMember}, rig.transport, rig.track, factory)
	return rig
}

func meshRoom(connected ...domain.UserID) *domain.Room {
	now := time.Now()
	r := &domain.Room{
		ID:     "r1",
		HostID: "me",
		Status: domain.StatusActive,
		Settings: domain.Settings{
			AllowAllToSpeak:  true,
			WhiteboardAccess: domain.WhiteboardAll,
		},
	}
	for i, uid := range connected {
		r.Participants = append(r.Participants, &domain.Participant{
			UserID:      uid,
			Name:        string(uid),
			IsConnected: true,
			JoinedAt:    now.Add(time.Duration(i) * time.Second),
			CanUnmute:   true,
		})
	}
	return r
}

func frame(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return b
}

func (rig *testRig) enterRoom(t *testing.T, room *domain.Room) {
	t.Helper()
	if err := rig.sess.Join(room.ID); err != nil {
		t.Fatalf("Join: %v", err)
	}
	err := rig.sess.HandleMessage(frame(t, map[string]any{
		"type": signal.TypeRoomState,
		"room": room,
	}))
	if err != nil {
		t.Fatalf("roomState: %v", err)
	}
}

func relayFrame(t *testing.T, typ string, from domain.UserID, payload any) []byte {
	t.Helper()
	raw, _ := json.Marshal(payload)
	return frame(t, signal.RelayMessage{Type: typ, RoomID: "r1", From: from, Payload: raw})
}

func TestRoomStateOffersToConnectedPeers(t *testing.T) {
	rig := newRig()
	room := meshRoom("me", "a", "b")
	room.Participants = append(room.Participants, &domain.Participant{
		UserID: "gone", IsConnected: false, CanUnmute: true,
	})
	rig.enterRoom(t, room)

	if st := rig.sess.State(); st != StateActive {
		t.Fatalf("state = %s, want active", st)
	}
	offers := rig.transport.sentOfType(signal.TypeOffer)
	if len(offers) != 2 {
		t.Fatalf("sent %d offers, want 2 (one per connected peer)", len(offers))
	}
	targets := map[any]bool{offers[0]["to"]: true, offers[1]["to"]: true}
	if !targets["a"] || !targets["b"] {
		t.Fatalf("offers went to %v", targets)
	}
	if rig.sess.PeerCount() != 2 {
		t.Fatalf("peer count = %d, want 2", rig.sess.PeerCount())
	}
	if _, ok := rig.peers["gone"]; ok {
		t.Fatal("offered to a disconnected participant")
	}
}

func TestIncomingOfferProducesAnswer(t *testing.T) {
	rig := newRig()
	rig.enterRoom(t, meshRoom("me"))

	err := rig.sess.HandleMessage(relayFrame(t, signal.TypeOffer, "x", SDPPayload{Type: "offer", SDP: "their-offer"}))
	if err != nil {
		t.Fatalf("offer: %v", err)
	}

	if rig.peers["x"] == nil || rig.peers["x"].answered != "their-offer" {
		t.Fatalf("offer not applied: %+v", rig.peers["x"])
	}
	answers := rig.transport.sentOfType(signal.TypeAnswer)
	if len(answers) != 1 || answers[0]["to"] != "x" {
		t.Fatalf("answer not sent back: %v", answers)
	}
}

func TestCandidateBeforeOfferIsBufferedThenReplayed(t *testing.T) {
	rig := newRig()
	rig.enterRoom(t, meshRoom("me"))

	// Candidates race ahead of the offer over the relay.
	for _, c := range []string{"cand-0", "cand-1"} {
		err := rig.sess.HandleMessage(relayFrame(t, signal.TypeICECandidate, "x", ICECandidate{Candidate: c}))
		if err != nil {
			t.Fatalf("early candidate: %v", err)
		}
	}
	if rig.peers["x"] != nil {
		t.Fatal("candidate alone must not create a peer link")
	}

	if err := rig.sess.HandleMessage(relayFrame(t, signal.TypeOffer, "x", SDPPayload{Type: "offer", SDP: "o"})); err != nil {
		t.Fatalf("offer: %v", err)
	}

	p := rig.peers["x"]
	if p == nil || len(p.candidates) != 2 {
		t.Fatalf("buffered candidates not replayed: %+v", p)
	}
	if p.candidates[0].Candidate != "cand-0" || p.candidates[1].Candidate != "cand-1" {
		t.Fatalf("candidates replayed out of order: %+v", p.candidates)
	}

	// Later candidates apply directly.
	if err := rig.sess.HandleMessage(relayFrame(t, signal.TypeICECandidate, "x", ICECandidate{Candidate: "cand-2"})); err != nil {
		t.Fatalf("late candidate: %v", err)
	}
	if len(p.candidates) != 3 {
		t.Fatalf("late candidate dropped: %+v", p.candidates)
	}
}

func TestAnswerWithoutOfferIsRejected(t *testing.T) {
	rig := newRig()
	rig.enterRoom(t, meshRoom("me"))

	err := rig.sess.HandleMessage(relayFrame(t, signal.TypeAnswer, "x", SDPPayload{Type: "answer", SDP: "a"}))
	if err == nil {
		t.Fatal("unsolicited answer accepted")
	}
}

func TestFailedOfferDegradesOnlyThatPairing(t *testing.T) {
	rig := newRig()
	rig.failNext["b"] = true
	rig.enterRoom(t, meshRoom("me", "a", "b"))

	if st := rig.sess.State(); st != StateActive {
		t.Fatalf("one bad pairing took the session down: state=%s", st)
	}
	if rig.sess.PeerCount() != 1 {
		t.Fatalf("peer count = %d, want 1", rig.sess.PeerCount())
	}
	if p := rig.peers["b"]; p == nil || !p.closed {
		t.Fatalf("failed link not closed: %+v", rig.peers["b"])
	}
}

func TestToggleMuteOptimisticWithRollback(t *testing.T) {
	rig := newRig()
	rig.enterRoom(t, meshRoom("me"))
	if !rig.track.enabled {
		t.Fatal("track should start enabled while unmuted")
	}

	// The toggle applies locally before the server confirms.
	if err := rig.sess.ToggleMute(); err != nil {
		t.Fatalf("ToggleMute: %v", err)
	}
	if rig.track.enabled {
		t.Fatal("optimistic mute did not gate the track")
	}
	reqs := rig.transport.sentOfType(signal.TypeSetMute)
	if len(reqs) != 1 || reqs[0]["muted"] != true {
		t.Fatalf("mute not reported: %v", reqs)
	}

	// A rejection rolls the intent back to the asserted state.
	err := rig.sess.HandleMessage(frame(t, map[string]any{
		"type":   signal.TypeError,
		"code":   "authorization",
		"action": signal.TypeSetMute,
	}))
	if err != nil {
		t.Fatalf("error frame: %v", err)
	}
	if !rig.track.enabled {
		t.Fatal("rejected toggle was not rolled back")
	}
}

func TestUnrelatedErrorDoesNotRollBackMute(t *testing.T) {
	rig := newRig()
	rig.enterRoom(t, meshRoom("me"))
	_ = rig.sess.ToggleMute()

	err := rig.sess.HandleMessage(frame(t, map[string]any{
		"type":   signal.TypeError,
		"code":   "authorization",
		"action": signal.TypeKick,
	}))
	if err != nil {
		t.Fatalf("error frame: %v", err)
	}
	if rig.track.enabled {
		t.Fatal("unrelated error reverted the mute intent")
	}
}

func TestServerMuteOverridesLocalIntent(t *testing.T) {
	rig := newRig()
	rig.enterRoom(t, meshRoom("me", "a"))

	err := rig.sess.HandleMessage(frame(t, map[string]any{
		"type":          signal.TypeParticipantMuted,
		"roomId":        "r1",
		"participantId": "me",
		"muted":         true,
		"canUnmute":     false,
		"mutedBy":       "a",
	}))
	if err != nil {
		t.Fatalf("participantMuted: %v", err)
	}
	if rig.track.enabled {
		t.Fatal("host mute did not gate the track")
	}

	// A sweep that restores speaking rights re-enables the track.
	room := meshRoom("me", "a")
	room.Settings.AllowAllToSpeak = true
	err = rig.sess.HandleMessage(frame(t, map[string]any{
		"type":   signal.TypeUnmuteAll,
		"roomId": "r1",
		"by":     "a",
		"room":   room,
	}))
	if err != nil {
		t.Fatalf("unmute sweep: %v", err)
	}
	if !rig.track.enabled {
		t.Fatal("sweep did not restore the track")
	}
}

func TestLeaveTearsDownSynchronously(t *testing.T) {
	rig := newRig()
	rig.enterRoom(t, meshRoom("me", "a", "b"))

	if err := rig.sess.Leave(); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if st := rig.sess.State(); st != StateEnded {
		t.Fatalf("state = %s, want ended", st)
	}
	if !rig.track.stopped {
		t.Fatal("microphone not released")
	}
	for uid, p := range rig.peers {
		if !p.closed {
			t.Fatalf("peer %s left open", uid)
		}
	}
	if len(rig.transport.sentOfType(signal.TypeLeaveMeeting)) != 1 {
		t.Fatal("leave not reported to server")
	}
	if err := rig.sess.Leave(); !errors.Is(err, ErrNotInMeeting) {
		t.Fatalf("double leave: %v", err)
	}
}

func TestLeaveDuringNegotiationIsTerminal(t *testing.T) {
	rig := newRig()
	var once sync.Once
	rig.onCreate = func(domain.UserID) {
		once.Do(func() {
			if err := rig.sess.Leave(); err != nil {
				t.Errorf("Leave: %v", err)
			}
		})
	}

	room := meshRoom("me", "a", "b")
	if err := rig.sess.Join(room.ID); err != nil {
		t.Fatalf("Join: %v", err)
	}
	err := rig.sess.HandleMessage(frame(t, map[string]any{
		"type": signal.TypeRoomState,
		"room": room,
	}))
	if err != nil {
		t.Fatalf("roomState: %v", err)
	}

	if st := rig.sess.State(); st != StateEnded {
		t.Fatalf("state = %s, want ended; negotiation resurrected a left session", st)
	}
	if n := rig.sess.PeerCount(); n != 0 {
		t.Fatalf("peer count = %d after leave, want 0", n)
	}
	for uid, p := range rig.peers {
		if !p.closed {
			t.Fatalf("peer %s created during teardown left open", uid)
		}
	}
	if !rig.track.stopped {
		t.Fatal("microphone not released")
	}
}

func TestMeetingEndedTearsDown(t *testing.T) {
	rig := newRig()
	rig.enterRoom(t, meshRoom("me", "a"))

	err := rig.sess.HandleMessage(frame(t, map[string]any{
		"type": signal.TypeMeetingEnded, "roomId": "r1", "endedBy": "a",
	}))
	if err != nil {
		t.Fatalf("meetingEnded: %v", err)
	}
	if rig.sess.State() != StateEnded || !rig.track.stopped || !rig.peers["a"].closed {
		t.Fatal("end event did not tear the session down")
	}
}

func TestKickedTearsDown(t *testing.T) {
	rig := newRig()
	rig.enterRoom(t, meshRoom("me", "a"))

	err := rig.sess.HandleMessage(frame(t, map[string]any{
		"type": signal.TypeParticipantKicked, "roomId": "r1", "by": "a",
	}))
	if err != nil {
		t.Fatalf("participantKicked: %v", err)
	}
	if rig.sess.State() != StateEnded || !rig.track.stopped {
		t.Fatal("kick did not tear the session down")
	}
}

func TestParticipantLeftClosesOnlyThatLeg(t *testing.T) {
	rig := newRig()
	rig.enterRoom(t, meshRoom("me", "a", "b"))

	err := rig.sess.HandleMessage(frame(t, map[string]any{
		"type": signal.TypeParticipantLeft, "roomId": "r1",
		"participantId": "a", "wasKicked": false,
	}))
	if err != nil {
		t.Fatalf("participantLeft: %v", err)
	}
	if !rig.peers["a"].closed {
		t.Fatal("departed peer link left open")
	}
	if rig.peers["b"].closed {
		t.Fatal("unrelated peer link closed")
	}
	if rig.sess.State() != StateActive {
		t.Fatalf("session degraded by a peer departure: %s", rig.sess.State())
	}
}

func TestToggleMuteOutsideMeeting(t *testing.T) {
	rig := newRig()
	if err := rig.sess.ToggleMute(); !errors.Is(err, ErrNotInMeeting) {
		t.Fatalf("expected ErrNotInMeeting, got %v", err)
	}
}
