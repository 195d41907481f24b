package domain

import "errors"

var (
	ErrEmptySessionID    = errors.New("session id is required")
	ErrEmptyTarget       = errors.New("target connection id is required")
	ErrInvalidRole       = errors.New("invalid role")
	ErrInvalidSignalKind = errors.New("invalid signal kind")
	ErrUnknownEvent      = errors.New("unknown event type")
	ErrSessionNotFound   = errors.New("session not found")
)
