package domain

import (
	"encoding/json"
)

type MessageType string

// Outbound message types.
const (
	MsgJoined            MessageType = "joined"
	MsgWaitingForViewers MessageType = "waitingForViewers"
	MsgViewerJoined      MessageType = "viewerJoined"
	MsgViewerLeft        MessageType = "viewerLeft"
	MsgSessionEnded      MessageType = "sessionEnded"
	MsgOffer             MessageType = "offer"
	MsgAnswer            MessageType = "answer"
	MsgICECandidate      MessageType = "iceCandidate"
	MsgError             MessageType = "error"
	MsgPong              MessageType = "pong"
)

// Error codes carried by MsgError.
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Message is a transport-neutral outbound message. Only the fields relevant
// to Type are set.
type Message struct {
	Type      MessageType
	SessionID SessionID
	ViewerID  ConnectionID
	FromID    ConnectionID
	Payload   json.RawMessage
	Code      string
	Text      string
}

func NewJoined(sessionID SessionID) Message {
	return Message{Type: MsgJoined, SessionID: sessionID}
}

func NewWaitingForViewers(sessionID SessionID) Message {
	return Message{Type: MsgWaitingForViewers, SessionID: sessionID}
}

func NewViewerJoined(sessionID SessionID, viewerID ConnectionID) Message {
	return Message{Type: MsgViewerJoined, SessionID: sessionID, ViewerID: viewerID}
}

func NewViewerLeft(sessionID SessionID, viewerID ConnectionID) Message {
	return Message{Type: MsgViewerLeft, SessionID: sessionID, ViewerID: viewerID}
}

func NewSessionEnded(sessionID SessionID) Message {
	return Message{Type: MsgSessionEnded, SessionID: sessionID}
}

// NewRelayed wraps a signal for delivery to its target, tagged with the sender.
func NewRelayed(sig Signal) Message {
	return Message{
		Type:      MessageType(sig.Kind),
		SessionID: sig.SessionID,
		FromID:    sig.From,
		Payload:   sig.Payload,
	}
}

func NewError(code, text string) Message {
	return Message{Type: MsgError, Code: code, Text: text}
}

func NewPong() Message {
	return Message{Type: MsgPong}
}

type EventType string

// Inbound event types.
const (
	EventJoin         EventType = "join"
	EventLeave        EventType = "leave"
	EventOffer        EventType = "offer"
	EventAnswer       EventType = "answer"
	EventICECandidate EventType = "iceCandidate"
	EventPing         EventType = "ping"
)

// Event is an inbound control or negotiation event as decoded from the wire,
// before any validation.
type Event struct {
	Type      EventType
	SessionID string
	Role      string
	Target    string
	Payload   json.RawMessage
}
