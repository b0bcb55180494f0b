package signal

import (
	"encoding/json"

	"github.com/teamspace/huddle/internal/domain"
	"github.com/teamspace/huddle/internal/room"
)

// Client-originated message types.
const (
	TypeJoinMeeting    = "joinMeeting"
	TypeLeaveMeeting   = "leaveMeeting"
	TypeOffer          = "offer"
	TypeAnswer         = "answer"
	TypeICECandidate   = "ice-candidate"
	TypeSetMute        = "setParticipantMute"
	TypeMuteAll        = "muteAllParticipants"
	TypeUnmuteAll      = "unmuteAllParticipants"
	TypeUpdateSettings = "updateSettings"
	TypeKick           = "kickParticipant"
	TypeEndMeeting     = "endMeeting"
)

// Server-originated message types.
const (
	TypeRoomState         = "roomState"
	TypeParticipantJoined = "participantJoined"
	TypeParticipantLeft   = "participantLeft"
	TypeParticipantKicked = "participantKicked"
	TypeParticipantMuted  = "participantMuted"
	TypeSettingsUpdated   = "settingsUpdated"
	TypeMeetingEnded      = "meetingEnded"
	TypeError             = "error"
)

// Envelope is the minimal inbound frame; handlers re-unmarshal the raw
// payload into their own shape.
type Envelope struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
}

// RelayMessage is a WebRTC signaling envelope routed between exactly two
// participants. Payload is forwarded verbatim and never inspected.
type RelayMessage struct {
	Type    string          `json:"type"`
	RoomID  domain.RoomID   `json:"roomId"`
	From    domain.UserID   `json:"from,omitempty"`
	To      domain.UserID   `json:"to"`
	Payload json.RawMessage `json:"payload"`
}

type setMuteRequest struct {
	Type          string        `json:"type"`
	RoomID        domain.RoomID `json:"roomId"`
	ParticipantID domain.UserID `json:"participantId"`
	Muted         bool          `json:"muted"`
	CanUnmute     *bool         `json:"canUnmute,omitempty"`
}

type updateSettingsRequest struct {
	Type     string             `json:"type"`
	RoomID   domain.RoomID      `json:"roomId"`
	Settings room.SettingsPatch `json:"settings"`
}

type kickRequest struct {
	Type          string        `json:"type"`
	RoomID        domain.RoomID `json:"roomId"`
	ParticipantID domain.UserID `json:"participantId"`
}

type roomStateEvent struct {
	Type string       `json:"type"`
	Room *domain.Room `json:"room"`
}

type participantJoinedEvent struct {
	Type        string              `json:"type"`
	RoomID      domain.RoomID       `json:"roomId"`
	Participant *domain.Participant `json:"participant"`
}

type participantLeftEvent struct {
	Type          string        `json:"type"`
	RoomID        domain.RoomID `json:"roomId"`
	ParticipantID domain.UserID `json:"participantId"`
	WasKicked     bool          `json:"wasKicked"`
}

type participantKickedEvent struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	By     domain.UserID `json:"by"`
}

type participantMutedEvent struct {
	Type          string        `json:"type"`
	RoomID        domain.RoomID `json:"roomId"`
	ParticipantID domain.UserID `json:"participantId"`
	Muted         bool          `json:"muted"`
	CanUnmute     bool          `json:"canUnmute"`
	MutedBy       domain.UserID `json:"mutedBy"`
}

type muteSweepEvent struct {
	Type   string       `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	By     domain.UserID `json:"by"`
	Room   *domain.Room  `json:"room"`
}

type settingsUpdatedEvent struct {
	Type      string          `json:"type"`
	RoomID    domain.RoomID   `json:"roomId"`
	Settings  domain.Settings `json:"settings"`
	UpdatedBy domain.UserID   `json:"updatedBy"`
}

type meetingEndedEvent struct {
	Type    string        `json:"type"`
	RoomID  domain.RoomID `json:"roomId"`
	EndedBy domain.UserID `json:"endedBy"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	// Action names the rejected intent so optimistic clients can roll back.
	Action string `json:"action,omitempty"`
}
