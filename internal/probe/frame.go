package probe

import "encoding/json"

// outFrame and inFrame mirror the server's websocket wire format from the
// client side.
type outFrame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Role      string          `json:"role,omitempty"`
	TargetID  string          `json:"targetId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type inFrame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	ViewerID  string          `json:"viewerId"`
	FromID    string          `json:"fromId"`
	Payload   json.RawMessage `json:"payload"`
	Code      string          `json:"code"`
	Message   string          `json:"message"`
}
