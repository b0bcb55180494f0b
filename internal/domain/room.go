package domain

import (
	"slices"
	"time"
)

type (
	RoomID    string
	ProjectID string
)

type RoomStatus string

const (
	StatusScheduled RoomStatus = "scheduled"
	StatusActive    RoomStatus = "active"
	StatusEnded     RoomStatus = "ended"
)

type WhiteboardAccess string

const (
	WhiteboardAll      WhiteboardAccess = "all"
	WhiteboardHostOnly WhiteboardAccess = "host-only"
	WhiteboardSpecific WhiteboardAccess = "specific"
	WhiteboardDisabled WhiteboardAccess = "disabled"
)

// Settings hold the room-wide policy knobs the host controls.
// WhiteboardAllowedUsers is meaningful only while access is "specific"
// and must be cleared when the mode changes away from it.
type Settings struct {
	AllowAllToSpeak        bool             `json:"allowAllToSpeak"`
	MuteAllMembers         bool             `json:"muteAllMembers"`
	WhiteboardAccess       WhiteboardAccess `json:"whiteboardAccess"`
	WhiteboardAllowedUsers []UserID         `json:"whiteboardAllowedUsers,omitempty"`
}

func DefaultSettings() Settings {
	return Settings{
		AllowAllToSpeak:  true,
		WhiteboardAccess: WhiteboardAll,
	}
}

func (s *Settings) WhiteboardAllows(uid UserID) bool {
	return slices.Contains(s.WhiteboardAllowedUsers, uid)
}

// Room is one meeting's authoritative state container.
// Participants are kept in join order; the Room Store owns all mutation.
type Room struct {
	ID        RoomID     `json:"id"`
	ProjectID ProjectID  `json:"projectId"`
	Title     string     `json:"title"`
	HostID    UserID     `json:"hostId"`
	Status    RoomStatus `json:"status"`

	ScheduledStart *time.Time `json:"scheduledStart,omitempty"`
	StartedAt      time.Time  `json:"startedAt,omitzero"`
	EndedAt        time.Time  `json:"endedAt,omitzero"`
	EndedBy        UserID     `json:"endedBy,omitempty"`

	Settings     Settings       `json:"settings"`
	Participants []*Participant `json:"participants"`
}

// Participant returns the membership record for uid, connected or not.
func (r *Room) Participant(uid UserID) *Participant {
	for _, p := range r.Participants {
		if p.UserID == uid {
			return p
		}
	}
	return nil
}

func (r *Room) ConnectedCount() int {
	n := 0
	for _, p := range r.Participants {
		if p.IsConnected {
			n++
		}
	}
	return n
}

// Clone returns a deep copy safe to hand outside the store's locks.
func (r *Room) Clone() *Room {
	out := *r
	if r.ScheduledStart != nil {
		t := *r.ScheduledStart
		out.ScheduledStart = &t
	}
	out.Settings.WhiteboardAllowedUsers = slices.Clone(r.Settings.WhiteboardAllowedUsers)
	out.Participants = make([]*Participant, len(r.Participants))
	for i, p := range r.Participants {
		cp := *p
		out.Participants[i] = &cp
	}
	return &out
}
