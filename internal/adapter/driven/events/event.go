package events

import (
	"time"

	"github.com/Wyydra/rendezvous/internal/core/domain"
)

// Event is the published form of a session lifecycle transition. Consumers
// order events of one session by Sequence.
type Event struct {
	Type          string `json:"type"` // "session_live" | "session_ended"
	SessionID     string `json:"session_id"`
	BroadcasterID string `json:"broadcaster_id"`
	Reason        string `json:"reason,omitempty"` // "explicit" | "disconnect"
	Timestamp     int64  `json:"timestamp"`
	Sequence      uint64 `json:"sequence,omitempty"`
}

const (
	TypeSessionLive  = "session_live"
	TypeSessionEnded = "session_ended"
)

func NewEvent(t domain.Transition, at time.Time) Event {
	ev := Event{
		SessionID:     t.SessionID.String(),
		BroadcasterID: t.BroadcasterID.String(),
		Timestamp:     at.Unix(),
		Sequence:      t.Seq,
	}
	switch t.Kind {
	case domain.TransitionLive:
		ev.Type = TypeSessionLive
	case domain.TransitionEnded:
		ev.Type = TypeSessionEnded
		ev.Reason = string(t.Reason)
	}
	return ev
}
