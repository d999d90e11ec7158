package state

import "errors"

var (
	ErrConnNotFound         = errors.New("connection not found")
	ErrConnClosed           = errors.New("connection closed")
	ErrAlreadyRegistered    = errors.New("transport already registered")
	ErrInvalidParticipantID = errors.New("invalid participant ID")
	ErrInvalidRoomID        = errors.New("invalid room ID")
	ErrSendBufferFull       = errors.New("send buffer full")
)
