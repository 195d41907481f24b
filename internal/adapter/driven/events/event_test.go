package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/rendezvous/internal/core/domain"
)

func TestNewEvent(t *testing.T) {
	at := time.Unix(1767225600, 0)

	live := NewEvent(domain.Transition{Kind: domain.TransitionLive, SessionID: "S1", BroadcasterID: "B"}, at)
	assert.Equal(t, Event{Type: TypeSessionLive, SessionID: "S1", BroadcasterID: "B", Timestamp: 1767225600}, live)

	ended := NewEvent(domain.Transition{Kind: domain.TransitionEnded, SessionID: "S1", BroadcasterID: "B", Reason: domain.ReasonDisconnect}, at)
	assert.Equal(t, TypeSessionEnded, ended.Type)
	assert.Equal(t, "disconnect", ended.Reason)

	numbered := NewEvent(domain.Transition{Kind: domain.TransitionLive, SessionID: "S1", BroadcasterID: "B", Seq: 42}, at)
	assert.Equal(t, uint64(42), numbered.Sequence)

	data, err := json.Marshal(live)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"session_live","session_id":"S1","broadcaster_id":"B","timestamp":1767225600}`, string(data))
}
