package domain

import (
	"github.com/google/uuid"
)

// ConnectionID identifies one live transport connection.
type ConnectionID string

// SessionID identifies a broadcast session and the room that carries it.
type SessionID string

func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.New().String())
}

func (id ConnectionID) String() string {
	return string(id)
}

func (id SessionID) String() string {
	return string(id)
}
