// Package room holds the authoritative in-memory table of meeting rooms.
// All mutations for one room are serialized behind that room's mutex;
// cross-room operations never interact, so there is no global write lock
// beyond the table map itself.
package room

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/teamspace/huddle/internal/domain"
)

// Reason explains why a participant left the roster.
type Reason string

const (
	// ReasonLeft is an explicit leave; the record is pruned immediately.
	ReasonLeft Reason = "left"
	// ReasonKicked is a host-driven removal; the record is pruned.
	ReasonKicked Reason = "kicked"
	// ReasonDisconnected is a socket drop; the record survives the grace
	// window so a quick reconnect keeps its mute-authority history.
	ReasonDisconnected Reason = "disconnected"
)

// SummarySink receives the finalized meeting record on end. The write is
// fire-and-forget: failures are logged, never propagated.
type SummarySink interface {
	SaveSummary(room *domain.Room) error
}

// EndNotifier is invoked for rooms the janitor ends on its own (empty-room
// grace expiry), so the signal layer can still broadcast meetingEnded.
type EndNotifier func(room *domain.Room, endedBy domain.UserID)

type Options struct {
	// ReconnectGrace is how long a disconnected participant's record
	// survives before being pruned.
	ReconnectGrace time.Duration
	// EmptyGrace is how long an active room may sit with zero connected
	// participants before it is ended.
	EmptyGrace time.Duration
	// MaxParticipants bounds the mesh size; joins beyond it are rejected.
	MaxParticipants int
	History         SummarySink
	OnEnded         EndNotifier
	// Now is swappable for tests.
	Now func() time.Time
}

type entry struct {
	mu         sync.Mutex
	room       *domain.Room
	emptySince time.Time // zero while someone is connected
	// departed accumulates pruned records so the end-of-meeting summary
	// covers everyone who attended, not just the final roster.
	departed []*domain.Participant
}

type Store struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*entry
	opts  Options
}

func NewStore(opts Options) *Store {
	if opts.ReconnectGrace <= 0 {
		opts.ReconnectGrace = 30 * time.Second
	}
	if opts.EmptyGrace <= 0 {
		opts.EmptyGrace = 60 * time.Second
	}
	if opts.MaxParticipants <= 0 {
		opts.MaxParticipants = 16
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{rooms: make(map[domain.RoomID]*entry), opts: opts}
}

// SetEndNotifier wires the janitor's end events to the signal layer.
// Called once during boot, before the janitor starts.
func (s *Store) SetEndNotifier(fn EndNotifier) {
	s.opts.OnEnded = fn
}

func (s *Store) get(id domain.RoomID) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return e, nil
}

// CreateRoom registers a new meeting. A nil or past scheduledStart creates
// the room active with the host seat reserved; a future one leaves it
// scheduled until the start time or the first join at it.
func (s *Store) CreateRoom(projectID domain.ProjectID, host *domain.User, title string, scheduledStart *time.Time) (*domain.Room, error) {
	if title == "" {
		return nil, fmt.Errorf("%w: title is empty", domain.ErrValidation)
	}
	if projectID == "" {
		return nil, fmt.Errorf("%w: project reference is empty", domain.ErrValidation)
	}

	now := s.opts.Now()
	r := &domain.Room{
		ID:        domain.RoomID(uuid.NewString()),
		ProjectID: projectID,
		Title:     title,
		HostID:    host.ID,
		Settings:  domain.DefaultSettings(),
	}

	if scheduledStart != nil && scheduledStart.After(now) {
		t := *scheduledStart
		r.Status = domain.StatusScheduled
		r.ScheduledStart = &t
	} else {
		r.Status = domain.StatusActive
		r.StartedAt = now
		// The creator holds the host seat from the start but counts as
		// connected only once their socket joins. Until then the room is
		// empty for grace purposes, so an abandoned room still terminates.
		hp := domain.NewParticipant(host, now)
		hp.IsHost = true
		hp.IsConnected = false
		hp.DisconnectedAt = now
		r.Participants = append(r.Participants, hp)
	}

	e := &entry{room: r}
	if r.Status == domain.StatusActive {
		e.emptySince = now
	}
	s.mu.Lock()
	s.rooms[r.ID] = e
	s.mu.Unlock()

	log.Info().Str("module", "room").Str("room", string(r.ID)).
		Str("host", string(host.ID)).Str("status", string(r.Status)).Msg("room created")
	return r.Clone(), nil
}

// ActivateScheduledRoom transitions scheduled -> active.
func (s *Store) ActivateScheduledRoom(id domain.RoomID) (*domain.Room, error) {
	e, err := s.get(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.room.Status != domain.StatusScheduled {
		return nil, fmt.Errorf("%w: room is %s", domain.ErrInvalidState, e.room.Status)
	}
	s.activateLocked(e)
	return e.room.Clone(), nil
}

func (s *Store) activateLocked(e *entry) {
	e.room.Status = domain.StatusActive
	e.room.StartedAt = s.opts.Now()
	e.emptySince = e.room.StartedAt
	log.Info().Str("module", "room").Str("room", string(e.room.ID)).Msg("scheduled room activated")
}

// AddParticipant admits user to the room, reviving a surviving record on
// reconnect instead of duplicating it. A join at or after the scheduled
// start time activates a scheduled room.
func (s *Store) AddParticipant(id domain.RoomID, user *domain.User) (*domain.Room, error) {
	e, err := s.get(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.opts.Now()
	r := e.room
	switch r.Status {
	case domain.StatusEnded:
		return nil, domain.ErrMeetingEnded
	case domain.StatusScheduled:
		if r.ScheduledStart != nil && now.Before(*r.ScheduledStart) {
			return nil, fmt.Errorf("%w: meeting has not started yet", domain.ErrInvalidState)
		}
		s.activateLocked(e)
	}

	if p := r.Participant(user.ID); p != nil {
		// Reconnect: revive, keeping prior mute/canUnmute state.
		p.IsConnected = true
		p.DisconnectedAt = time.Time{}
		p.Name = user.Name
		e.emptySince = time.Time{}
		log.Info().Str("module", "room").Str("room", string(id)).
			Str("user", string(user.ID)).Msg("participant revived")
		return r.Clone(), nil
	}

	if r.ConnectedCount() >= s.opts.MaxParticipants {
		return nil, domain.ErrRoomFull
	}

	p := domain.NewParticipant(user, now)
	if r.Settings.MuteAllMembers {
		// Late joiners under an active mute-all sweep arrive muted and locked.
		p.IsMuted = true
		p.CanUnmute = false
	}
	if user.ID == r.HostID || r.Participant(r.HostID) == nil && len(r.Participants) == 0 {
		// The creator takes the host seat; if a scheduled room was
		// activated by someone else's join, the first joiner holds it.
		r.HostID = p.UserID
		p.IsHost = true
	}
	r.Participants = append(r.Participants, p)
	e.emptySince = time.Time{}

	log.Info().Str("module", "room").Str("room", string(id)).
		Str("user", string(user.ID)).Bool("host", p.IsHost).Msg("participant joined")
	return r.Clone(), nil
}

// RemoveParticipant takes user out of the roster. A disconnect keeps the
// record for the grace window; leave and kick prune it. If the host goes,
// the earliest-joined remaining connected participant is promoted.
func (s *Store) RemoveParticipant(id domain.RoomID, uid domain.UserID, reason Reason) (*domain.Room, error) {
	e, err := s.get(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.room
	p := r.Participant(uid)
	if p == nil {
		return nil, domain.ErrParticipantNotFound
	}

	now := s.opts.Now()
	p.IsConnected = false
	p.DisconnectedAt = now

	if reason != ReasonDisconnected {
		cp := *p
		e.departed = append(e.departed, &cp)
		r.Participants = deleteParticipant(r.Participants, uid)
	}

	if r.HostID == uid {
		s.transferHostLocked(r, uid)
	}
	if r.Status == domain.StatusActive && r.ConnectedCount() == 0 {
		e.emptySince = now
	}

	log.Info().Str("module", "room").Str("room", string(id)).
		Str("user", string(uid)).Str("reason", string(reason)).Msg("participant removed")
	return r.Clone(), nil
}

func deleteParticipant(ps []*domain.Participant, uid domain.UserID) []*domain.Participant {
	out := ps[:0]
	for _, p := range ps {
		if p.UserID != uid {
			out = append(out, p)
		}
	}
	return out
}

// transferHostLocked promotes the earliest-joined remaining connected
// participant, keeping the single-host invariant.
func (s *Store) transferHostLocked(r *domain.Room, leaving domain.UserID) {
	var next *domain.Participant
	for _, p := range r.Participants {
		if p.UserID == leaving || !p.IsConnected {
			continue
		}
		if next == nil || p.JoinedAt.Before(next.JoinedAt) {
			next = p
		}
	}
	if next == nil {
		return
	}
	for _, p := range r.Participants {
		p.IsHost = false
	}
	next.IsHost = true
	r.HostID = next.UserID
	log.Info().Str("module", "room").Str("room", string(r.ID)).
		Str("host", string(next.UserID)).Msg("host transferred")
}

// EndRoom finalizes the meeting. Idempotent: ending an ended room returns
// its terminal state. The summary write to the history sink is
// fire-and-forget and never rolls back the in-memory end.
func (s *Store) EndRoom(id domain.RoomID, endedBy domain.UserID) (*domain.Room, error) {
	e, err := s.get(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return s.endLocked(e, endedBy), nil
}

func (s *Store) endLocked(e *entry, endedBy domain.UserID) *domain.Room {
	r := e.room
	if r.Status == domain.StatusEnded {
		return r.Clone()
	}
	now := s.opts.Now()
	r.Status = domain.StatusEnded
	r.EndedAt = now
	r.EndedBy = endedBy
	for _, p := range r.Participants {
		if p.IsConnected {
			p.IsConnected = false
			p.DisconnectedAt = now
		}
	}
	log.Info().Str("module", "room").Str("room", string(r.ID)).
		Str("ended_by", string(endedBy)).Msg("room ended")

	if s.opts.History != nil {
		snap := attendanceLocked(e)
		go func() {
			if err := s.opts.History.SaveSummary(snap); err != nil {
				log.Error().Err(err).Str("module", "room").
					Str("room", string(snap.ID)).Msg("summary write failed")
			}
		}()
	}
	return r.Clone()
}

// attendanceLocked merges departed records into a roster snapshot for the
// summary sink: the most recent record per user, skipping anyone who
// rejoined and is still present.
func attendanceLocked(e *entry) *domain.Room {
	snap := e.room.Clone()
	seen := make(map[domain.UserID]bool, len(snap.Participants))
	for _, p := range snap.Participants {
		seen[p.UserID] = true
	}
	for i := len(e.departed) - 1; i >= 0; i-- {
		p := e.departed[i]
		if seen[p.UserID] {
			continue
		}
		seen[p.UserID] = true
		cp := *p
		snap.Participants = append(snap.Participants, &cp)
	}
	return snap
}

// SettingsPatch is a partial settings update; nil fields are untouched.
type SettingsPatch struct {
	AllowAllToSpeak        *bool                    `json:"allowAllToSpeak,omitempty"`
	WhiteboardAccess       *domain.WhiteboardAccess `json:"whiteboardAccess,omitempty"`
	WhiteboardAllowedUsers []domain.UserID          `json:"whiteboardAllowedUsers,omitempty"`
}

// UpdateSettings merges patch into the room settings. Whenever the
// whiteboard access mode moves away from "specific" the allow list is
// cleared.
func (s *Store) UpdateSettings(id domain.RoomID, patch SettingsPatch) (*domain.Room, error) {
	e, err := s.get(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.room
	if r.Status == domain.StatusEnded {
		return nil, domain.ErrMeetingEnded
	}
	if patch.AllowAllToSpeak != nil {
		r.Settings.AllowAllToSpeak = *patch.AllowAllToSpeak
	}
	if patch.WhiteboardAccess != nil {
		mode := *patch.WhiteboardAccess
		switch mode {
		case domain.WhiteboardAll, domain.WhiteboardHostOnly, domain.WhiteboardSpecific, domain.WhiteboardDisabled:
		default:
			return nil, fmt.Errorf("%w: unknown whiteboard access %q", domain.ErrValidation, mode)
		}
		r.Settings.WhiteboardAccess = mode
		if mode != domain.WhiteboardSpecific {
			r.Settings.WhiteboardAllowedUsers = nil
		}
	}
	if patch.WhiteboardAllowedUsers != nil && r.Settings.WhiteboardAccess == domain.WhiteboardSpecific {
		r.Settings.WhiteboardAllowedUsers = patch.WhiteboardAllowedUsers
	}

	log.Info().Str("module", "room").Str("room", string(id)).Msg("settings updated")
	return r.Clone(), nil
}

// SetParticipantMute updates one participant's mute fields.
func (s *Store) SetParticipantMute(id domain.RoomID, uid domain.UserID, muted, canUnmute bool, mutedBy domain.UserID) (*domain.Room, error) {
	e, err := s.get(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.room.Participant(uid)
	if p == nil {
		return nil, domain.ErrParticipantNotFound
	}
	p.IsMuted = muted
	p.CanUnmute = canUnmute
	p.MutedBy = mutedBy
	p.MutedAt = s.opts.Now()
	return e.room.Clone(), nil
}

// SweepMuteAll mutes every non-host participant and locks their unmute in
// one atomic pass; observers see a single settingsUpdated/mute-all event,
// not N individual ones.
func (s *Store) SweepMuteAll(id domain.RoomID, actor domain.UserID) (*domain.Room, error) {
	return s.sweep(id, actor, true)
}

// SweepUnmuteAll lifts the sweep: everyone may speak again.
func (s *Store) SweepUnmuteAll(id domain.RoomID, actor domain.UserID) (*domain.Room, error) {
	return s.sweep(id, actor, false)
}

func (s *Store) sweep(id domain.RoomID, actor domain.UserID, mute bool) (*domain.Room, error) {
	e, err := s.get(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.room
	if r.Status == domain.StatusEnded {
		return nil, domain.ErrMeetingEnded
	}
	now := s.opts.Now()
	for _, p := range r.Participants {
		if p.UserID == r.HostID {
			continue
		}
		p.IsMuted = mute
		p.CanUnmute = !mute
		p.MutedBy = actor
		p.MutedAt = now
	}
	r.Settings.MuteAllMembers = mute
	if !mute {
		r.Settings.AllowAllToSpeak = true
	}
	log.Info().Str("module", "room").Str("room", string(id)).
		Bool("mute", mute).Str("actor", string(actor)).Msg("mute sweep applied")
	return r.Clone(), nil
}

// Snapshot returns a deep copy of the room for read-side callers.
func (s *Store) Snapshot(id domain.RoomID) (*domain.Room, error) {
	e, err := s.get(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.room.Clone(), nil
}

// List returns snapshots of every non-ended room, newest first.
func (s *Store) List() []*domain.Room {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.rooms))
	for _, e := range s.rooms {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]*domain.Room, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.room.Status != domain.StatusEnded {
			out = append(out, e.room.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}
