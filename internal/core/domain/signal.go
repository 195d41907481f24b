package domain

import (
	"encoding/json"
	"fmt"
)

// SignalKind names a negotiation message relayed between two peers.
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "iceCandidate"
)

func ParseSignalKind(s string) (SignalKind, error) {
	switch k := SignalKind(s); k {
	case SignalOffer, SignalAnswer, SignalICECandidate:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSignalKind, s)
	}
}

// Signal is an opaque negotiation payload addressed to one connection.
// The payload bytes are never inspected.
type Signal struct {
	Kind      SignalKind
	SessionID SessionID
	From      ConnectionID
	Target    ConnectionID
	Payload   json.RawMessage
}
