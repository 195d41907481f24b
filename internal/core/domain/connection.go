package domain

// Connection is the registry's view of one transport connection.
// SessionID is empty until a join succeeds.
type Connection struct {
	ID        ConnectionID
	SessionID SessionID
	Role      Role
}

func (c Connection) InRoom() bool {
	return c.SessionID != ""
}

// RoomSnapshot is a read-only copy of a room's membership.
type RoomSnapshot struct {
	SessionID   SessionID      `json:"session_id"`
	Broadcaster ConnectionID   `json:"broadcaster,omitempty"`
	Viewers     []ConnectionID `json:"viewers"`
}
