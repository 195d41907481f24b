package domain

import "time"

type SessionStatus string

const (
	SessionCreated SessionStatus = "created"
	SessionLive    SessionStatus = "live"
	SessionEnded   SessionStatus = "ended"
)

// SessionRecord is the externally stored metadata of a session.
type SessionRecord struct {
	ID            SessionID
	Status        SessionStatus
	BroadcasterID ConnectionID
	StartedAt     time.Time
	EndedAt       time.Time
}
