package domain

import "time"

// Participant is one user's membership record in a room. A disconnected
// participant keeps its record for a grace window so a quick reconnect
// does not lose mute-authority history.
type Participant struct {
	UserID      UserID `json:"userId"`
	Name        string `json:"name"`
	IsHost      bool   `json:"isHost"`
	IsConnected bool   `json:"isConnected"`

	JoinedAt       time.Time `json:"joinedAt"`
	DisconnectedAt time.Time `json:"-"` // zero while connected

	IsMuted   bool      `json:"isMuted"`
	CanUnmute bool      `json:"canUnmute"`
	MutedBy   UserID    `json:"mutedBy,omitempty"`
	MutedAt   time.Time `json:"mutedAt,omitzero"`
}

func NewParticipant(user *User, joinedAt time.Time) *Participant {
	return &Participant{
		UserID:      user.ID,
		Name:        user.Name,
		IsConnected: true,
		JoinedAt:    joinedAt,
		CanUnmute:   true,
	}
}
