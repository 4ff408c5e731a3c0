package session

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionFull     = errors.New("session full")
	ErrNoJoinable      = errors.New("no available sessions")
)
