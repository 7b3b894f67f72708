package domain

import "errors"

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomExists          = errors.New("room already exists")
	ErrRoomFull            = errors.New("room full")
	ErrPeerNotFound        = errors.New("peer not found")
	ErrPeerExists          = errors.New("peer already in room")
	ErrNotConnected        = errors.New("not connected")
	ErrConnectionFailed    = errors.New("connection failed")
	ErrConnectTimeout      = errors.New("connect timeout")
	ErrRetriesExhausted    = errors.New("reconnect attempts exhausted")
	ErrSessionClosed       = errors.New("session closed")
	ErrInvalidMessage      = errors.New("invalid message")
	ErrExecutorUnavailable = errors.New("no execution backend configured")
)
