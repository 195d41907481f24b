package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Wyydra/rendezvous/internal/core/domain"
)

var ErrMalformedFrame = errors.New("malformed frame")

// inboundFrame is the JSON shape of a client event. The stream-era names
// (join-stream, streamId, userType, offer/answer/candidate) are accepted as
// aliases so older clients keep working.
type inboundFrame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	StreamID  string          `json:"streamId"`
	Role      string          `json:"role"`
	UserType  string          `json:"userType"`
	TargetID  string          `json:"targetId"`
	Payload   json.RawMessage `json:"payload"`
	Offer     json.RawMessage `json:"offer"`
	Answer    json.RawMessage `json:"answer"`
	Candidate json.RawMessage `json:"candidate"`
}

var eventAliases = map[string]domain.EventType{
	"join-stream":   domain.EventJoin,
	"leave-stream":  domain.EventLeave,
	"ice-candidate": domain.EventICECandidate,
}

// DecodeEvent parses one text frame. Field validation beyond the JSON shape
// is left to the signal service.
func DecodeEvent(data []byte) (domain.Event, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return domain.Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Type == "" {
		return domain.Event{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}

	typ := domain.EventType(f.Type)
	if alias, ok := eventAliases[f.Type]; ok {
		typ = alias
	}

	ev := domain.Event{
		Type:      typ,
		SessionID: firstNonEmpty(f.SessionID, f.StreamID),
		Role:      firstNonEmpty(f.Role, f.UserType),
		Target:    f.TargetID,
		Payload:   f.Payload,
	}
	if len(ev.Payload) == 0 {
		switch typ {
		case domain.EventOffer:
			ev.Payload = f.Offer
		case domain.EventAnswer:
			ev.Payload = f.Answer
		case domain.EventICECandidate:
			ev.Payload = f.Candidate
		}
	}
	return ev, nil
}

type outboundFrame struct {
	Type      domain.MessageType `json:"type"`
	SessionID string             `json:"sessionId,omitempty"`
	Success   bool               `json:"success,omitempty"`
	ViewerID  string             `json:"viewerId,omitempty"`
	FromID    string             `json:"fromId,omitempty"`
	Code      string             `json:"code,omitempty"`
	Message   string             `json:"message,omitempty"`
}

// EncodeMessage renders msg as a JSON text frame. A relayed payload is
// spliced in as the last field exactly as it was received, whitespace
// included.
func EncodeMessage(msg domain.Message) ([]byte, error) {
	f := outboundFrame{
		Type:      msg.Type,
		SessionID: msg.SessionID.String(),
		ViewerID:  msg.ViewerID.String(),
		FromID:    msg.FromID.String(),
		Code:      msg.Code,
		Message:   msg.Text,
	}
	if msg.Type == domain.MsgJoined {
		f.Success = true
	}
	if len(msg.Payload) > 0 && !json.Valid(msg.Payload) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrMalformedFrame)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(f); err != nil {
		return nil, err
	}
	out := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	if len(msg.Payload) == 0 {
		return out, nil
	}

	// out always ends with the closing brace of a non-empty object.
	out = append(out[:len(out)-1], `,"payload":`...)
	out = append(out, msg.Payload...)
	return append(out, '}'), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
