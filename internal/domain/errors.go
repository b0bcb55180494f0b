package domain

import "errors"

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrMeetingEnded        = errors.New("meeting already ended")
	ErrInvalidState        = errors.New("action invalid for current room state")
	ErrRoomFull            = errors.New("room is full")
	ErrValidation          = errors.New("validation failed")
	ErrNotAllowed          = errors.New("not allowed")
	ErrTargetNotConnected  = errors.New("target not connected")
)
