package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/rendezvous/internal/core/domain"
)

func newTestCoordinator(ids ...domain.ConnectionID) (*Coordinator, *recordingGateway) {
	gw := &recordingGateway{}
	c := NewCoordinator(NewRegistry(), gw)
	for _, id := range ids {
		c.Connect(id)
	}
	return c, gw
}

func TestCreatorJoinWaitsForViewers(t *testing.T) {
	ctx := context.Background()
	c, gw := newTestCoordinator("B")

	transitions := c.Join(ctx, "B", "S1", domain.RoleCreator)

	assert.Equal(t, []domain.MessageType{domain.MsgJoined, domain.MsgWaitingForViewers}, gw.types("B"))
	require.Len(t, transitions, 1)
	assert.Equal(t, domain.TransitionLive, transitions[0].Kind)
	assert.Equal(t, domain.ConnectionID("B"), transitions[0].BroadcasterID)

	snap, ok := c.Room("S1")
	require.True(t, ok)
	assert.Equal(t, domain.ConnectionID("B"), snap.Broadcaster)
	assert.Empty(t, snap.Viewers)
}

func TestViewerJoinNotifiesBroadcaster(t *testing.T) {
	ctx := context.Background()
	c, gw := newTestCoordinator("B", "V1")
	c.Join(ctx, "B", "S1", domain.RoleCreator)
	gw.reset()

	transitions := c.Join(ctx, "V1", "S1", domain.RoleViewer)

	assert.Empty(t, transitions)
	assert.Equal(t, []domain.MessageType{domain.MsgJoined}, gw.types("V1"))
	msgs := gw.to("B")
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.MsgViewerJoined, msgs[0].Type)
	assert.Equal(t, domain.ConnectionID("V1"), msgs[0].ViewerID)
}

func TestViewerJoinWithoutBroadcaster(t *testing.T) {
	ctx := context.Background()
	c, gw := newTestCoordinator("V1", "B")

	c.Join(ctx, "V1", "S1", domain.RoleViewer)
	assert.Equal(t, []domain.MessageType{domain.MsgJoined}, gw.types("V1"))

	snap, ok := c.Room("S1")
	require.True(t, ok)
	assert.Empty(t, snap.Broadcaster)
	assert.Equal(t, []domain.ConnectionID{"V1"}, snap.Viewers)

	// The broadcaster learns about viewers that were already waiting.
	c.Join(ctx, "B", "S1", domain.RoleCreator)
	msgs := gw.to("B")
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.MsgViewerJoined, msgs[2].Type)
	assert.Equal(t, domain.ConnectionID("V1"), msgs[2].ViewerID)
}

func TestOfferOnlyFromBroadcaster(t *testing.T) {
	ctx := context.Background()
	c, gw := newTestCoordinator("B", "V1", "V2")
	c.Join(ctx, "B", "S1", domain.RoleCreator)
	c.Join(ctx, "V1", "S1", domain.RoleViewer)
	c.Join(ctx, "V2", "S1", domain.RoleViewer)
	gw.reset()

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)

	ok := c.Relay(ctx, domain.Signal{Kind: domain.SignalOffer, SessionID: "S1", From: "V1", Target: "V2", Payload: payload})
	assert.False(t, ok)
	assert.Empty(t, gw.to("V2"))

	ok = c.Relay(ctx, domain.Signal{Kind: domain.SignalOffer, SessionID: "S1", From: "B", Target: "V1", Payload: payload})
	assert.True(t, ok)
	msgs := gw.to("V1")
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.MsgOffer, msgs[0].Type)
	assert.Equal(t, domain.ConnectionID("B"), msgs[0].FromID)
	assert.JSONEq(t, string(payload), string(msgs[0].Payload))
}

func TestAnswerOnlyFromViewer(t *testing.T) {
	ctx := context.Background()
	c, gw := newTestCoordinator("B", "V1", "X")
	c.Join(ctx, "B", "S1", domain.RoleCreator)
	c.Join(ctx, "V1", "S1", domain.RoleViewer)
	gw.reset()

	answer := json.RawMessage(`{"type":"answer","sdp":"v=0"}`)

	assert.False(t, c.Relay(ctx, domain.Signal{Kind: domain.SignalAnswer, SessionID: "S1", From: "B", Target: "V1", Payload: answer}))
	assert.False(t, c.Relay(ctx, domain.Signal{Kind: domain.SignalAnswer, SessionID: "S1", From: "X", Target: "B", Payload: answer}))
	assert.True(t, c.Relay(ctx, domain.Signal{Kind: domain.SignalAnswer, SessionID: "S1", From: "V1", Target: "B", Payload: answer}))

	msgs := gw.to("B")
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.MsgAnswer, msgs[0].Type)
	assert.Equal(t, domain.ConnectionID("V1"), msgs[0].FromID)
	assert.Empty(t, gw.to("V1"))
}

func TestRelayToUnknownSession(t *testing.T) {
	ctx := context.Background()
	c, gw := newTestCoordinator("B")

	assert.False(t, c.Relay(ctx, domain.Signal{Kind: domain.SignalOffer, SessionID: "nope", From: "B", Target: "V1"}))
	_, ok := c.Room("nope")
	assert.False(t, ok, "relay must not create rooms")
	assert.Empty(t, gw.to("V1"))
}

func TestICECandidateRelayedRegardlessOfMembership(t *testing.T) {
	ctx := context.Background()
	c, gw := newTestCoordinator("A")

	cand := json.RawMessage(`{"candidate":"candidate:1 1 udp 2122260223 10.0.0.1 54321 typ host","sdpMid":"0"}`)
	ok := c.Relay(ctx, domain.Signal{Kind: domain.SignalICECandidate, SessionID: "S9", From: "A", Target: "T", Payload: cand})

	assert.True(t, ok)
	msgs := gw.to("T")
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.MsgICECandidate, msgs[0].Type)
	assert.Equal(t, domain.ConnectionID("A"), msgs[0].FromID)
	assert.JSONEq(t, string(cand), string(msgs[0].Payload))
}

func TestBroadcasterLeaveEndsSession(t *testing.T) {
	ctx := context.Background()
	c, gw := newTestCoordinator("B", "V1", "V2")
	c.Join(ctx, "B", "S1", domain.RoleCreator)
	c.Join(ctx, "V1", "S1", domain.RoleViewer)
	c.Join(ctx, "V2", "S1", domain.RoleViewer)
	gw.reset()

	transitions := c.Leave(ctx, "B", "S1", domain.RoleCreator)

	for _, id := range []domain.ConnectionID{"B", "V1", "V2"} {
		assert.Equal(t, 1, gw.count(id, domain.MsgSessionEnded), "member %s", id)
		conn, ok := c.Registry().Lookup(id)
		require.True(t, ok, "leave keeps the connection registered")
		assert.False(t, conn.InRoom())
	}
	require.Len(t, transitions, 1)
	assert.Equal(t, domain.TransitionEnded, transitions[0].Kind)
	assert.Equal(t, domain.ReasonExplicit, transitions[0].Reason)

	_, ok := c.Room("S1")
	assert.False(t, ok)

	// A later join to the same session starts from an empty room.
	gw.reset()
	c.Join(ctx, "V1", "S1", domain.RoleViewer)
	snap, ok := c.Room("S1")
	require.True(t, ok)
	assert.Empty(t, snap.Broadcaster)
	assert.Equal(t, []domain.ConnectionID{"V1"}, snap.Viewers)
}

func TestBroadcasterDisconnectEndsSession(t *testing.T) {
	ctx := context.Background()
	c, gw := newTestCoordinator("B", "V1", "V2")
	c.Join(ctx, "B", "S1", domain.RoleCreator)
	c.Join(ctx, "V1", "S1", domain.RoleViewer)
	c.Join(ctx, "V2", "S1", domain.RoleViewer)
	gw.reset()

	transitions := c.Disconnect(ctx, "B")

	assert.Equal(t, 1, gw.count("V1", domain.MsgSessionEnded))
	assert.Equal(t, 1, gw.count("V2", domain.MsgSessionEnded))
	assert.Empty(t, gw.to("B"))
	require.Len(t, transitions, 1)
	assert.Equal(t, domain.ReasonDisconnect, transitions[0].Reason)

	_, ok := c.Registry().Lookup("B")
	assert.False(t, ok)
	_, ok = c.Room("S1")
	assert.False(t, ok)
}

func TestViewerLeaveNotifiesBroadcaster(t *testing.T) {
	ctx := context.Background()
	c, gw := newTestCoordinator("B", "V1")
	c.Join(ctx, "B", "S1", domain.RoleCreator)
	c.Join(ctx, "V1", "S1", domain.RoleViewer)
	gw.reset()

	c.Leave(ctx, "V1", "S1", domain.RoleViewer)

	msgs := gw.to("B")
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.MsgViewerLeft, msgs[0].Type)
	assert.Equal(t, domain.ConnectionID("V1"), msgs[0].ViewerID)

	snap, ok := c.Room("S1")
	require.True(t, ok)
	assert.Empty(t, snap.Viewers)
}

func TestLastViewerLeavingRemovesRoom(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator("V1")
	c.Join(ctx, "V1", "S1", domain.RoleViewer)

	c.Disconnect(ctx, "V1")

	_, ok := c.Room("S1")
	assert.False(t, ok)
	assert.Empty(t, c.Rooms())
}

func TestLeaveWithMismatchedRoleIsDropped(t *testing.T) {
	ctx := context.Background()
	c, gw := newTestCoordinator("B", "V1")
	c.Join(ctx, "B", "S1", domain.RoleCreator)
	c.Join(ctx, "V1", "S1", domain.RoleViewer)
	gw.reset()

	assert.Nil(t, c.Leave(ctx, "V1", "S1", domain.RoleCreator))
	assert.Nil(t, c.Leave(ctx, "V1", "S2", domain.RoleViewer))

	assert.Empty(t, gw.to("B"))
	snap, ok := c.Room("S1")
	require.True(t, ok)
	assert.Equal(t, domain.ConnectionID("B"), snap.Broadcaster)
	assert.Equal(t, []domain.ConnectionID{"V1"}, snap.Viewers)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c, gw := newTestCoordinator("B", "V1")
	c.Join(ctx, "B", "S1", domain.RoleCreator)
	c.Join(ctx, "V1", "S1", domain.RoleViewer)
	gw.reset()

	c.Disconnect(ctx, "V1")
	c.Disconnect(ctx, "V1")

	assert.Equal(t, 1, gw.count("B", domain.MsgViewerLeft))
	assert.Nil(t, c.Disconnect(ctx, "never-connected"))
}

func TestJoinAfterDisconnectIsIgnored(t *testing.T) {
	ctx := context.Background()
	c, gw := newTestCoordinator("V1")
	c.Disconnect(ctx, "V1")

	c.Join(ctx, "V1", "S1", domain.RoleViewer)

	assert.Empty(t, gw.to("V1"))
	assert.Empty(t, c.Rooms())
}

func TestRejoinLeavesPreviousRoom(t *testing.T) {
	ctx := context.Background()
	c, gw := newTestCoordinator("B1", "B2", "V1")
	c.Join(ctx, "B1", "S1", domain.RoleCreator)
	c.Join(ctx, "B2", "S2", domain.RoleCreator)
	c.Join(ctx, "V1", "S1", domain.RoleViewer)
	gw.reset()

	c.Join(ctx, "V1", "S2", domain.RoleViewer)

	assert.Equal(t, []domain.MessageType{domain.MsgViewerLeft}, gw.types("B1"))
	assert.Equal(t, []domain.MessageType{domain.MsgViewerJoined}, gw.types("B2"))

	s1, _ := c.Room("S1")
	assert.Empty(t, s1.Viewers)
	s2, _ := c.Room("S2")
	assert.Equal(t, []domain.ConnectionID{"V1"}, s2.Viewers)

	conn, _ := c.Registry().Lookup("V1")
	assert.Equal(t, domain.SessionID("S2"), conn.SessionID)
}

func TestSecondCreatorReplacesBroadcaster(t *testing.T) {
	ctx := context.Background()
	c, gw := newTestCoordinator("C1", "C2", "V1")
	c.Join(ctx, "C1", "S1", domain.RoleCreator)
	c.Join(ctx, "V1", "S1", domain.RoleViewer)
	gw.reset()

	c.Join(ctx, "C2", "S1", domain.RoleCreator)

	assert.Equal(t, []domain.MessageType{domain.MsgSessionEnded}, gw.types("C1"))
	assert.Equal(t, []domain.MessageType{domain.MsgJoined, domain.MsgWaitingForViewers, domain.MsgViewerJoined}, gw.types("C2"))
	assert.Empty(t, gw.to("V1"))

	snap, _ := c.Room("S1")
	assert.Equal(t, domain.ConnectionID("C2"), snap.Broadcaster)
	conn, _ := c.Registry().Lookup("C1")
	assert.False(t, conn.InRoom())

	// The displaced broadcaster going away no longer ends the session.
	gw.reset()
	assert.Empty(t, c.Disconnect(ctx, "C1"))
	assert.Empty(t, gw.to("V1"))
	_, ok := c.Room("S1")
	assert.True(t, ok)
}

func TestBroadcastSessionWalkthrough(t *testing.T) {
	ctx := context.Background()
	c, gw := newTestCoordinator("B", "V1", "V2")

	c.Join(ctx, "B", "S1", domain.RoleCreator)
	c.Join(ctx, "V1", "S1", domain.RoleViewer)
	c.Join(ctx, "V2", "S1", domain.RoleViewer)

	offer := json.RawMessage(`{"type":"offer","sdp":"o"}`)
	answer := json.RawMessage(`{"type":"answer","sdp":"a"}`)
	for _, v := range []domain.ConnectionID{"V1", "V2"} {
		require.True(t, c.Relay(ctx, domain.Signal{Kind: domain.SignalOffer, SessionID: "S1", From: "B", Target: v, Payload: offer}))
		require.True(t, c.Relay(ctx, domain.Signal{Kind: domain.SignalAnswer, SessionID: "S1", From: v, Target: "B", Payload: answer}))
	}

	assert.Equal(t, []domain.MessageType{
		domain.MsgJoined, domain.MsgWaitingForViewers,
		domain.MsgViewerJoined, domain.MsgViewerJoined,
		domain.MsgAnswer, domain.MsgAnswer,
	}, gw.types("B"))
	assert.Equal(t, []domain.MessageType{domain.MsgJoined, domain.MsgOffer}, gw.types("V1"))

	c.Disconnect(ctx, "V1")
	assert.Equal(t, 1, gw.count("B", domain.MsgViewerLeft))

	c.Leave(ctx, "B", "S1", domain.RoleCreator)
	assert.Equal(t, 1, gw.count("V2", domain.MsgSessionEnded))
	assert.Equal(t, 0, gw.count("V1", domain.MsgSessionEnded))
	assert.Empty(t, c.Rooms())
}

func TestConcurrentMembershipStaysConsistent(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator()
	sessions := []domain.SessionID{"S1", "S2", "S3"}

	const workers = 16
	ids := make([]domain.ConnectionID, workers)
	for i := range ids {
		ids[i] = domain.ConnectionID(fmt.Sprintf("c%d", i))
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rnd := rand.New(rand.NewPCG(uint64(w), 7))
			id := ids[w]
			c.Connect(id)
			for i := 0; i < 300; i++ {
				s := sessions[rnd.IntN(len(sessions))]
				switch rnd.IntN(6) {
				case 0:
					c.Join(ctx, id, s, domain.RoleCreator)
				case 1, 2:
					c.Join(ctx, id, s, domain.RoleViewer)
				case 3:
					if conn, ok := c.Registry().Lookup(id); ok && conn.InRoom() {
						c.Leave(ctx, id, conn.SessionID, conn.Role)
					}
				case 4:
					c.Disconnect(ctx, id)
					c.Connect(id)
				case 5:
					c.Relay(ctx, domain.Signal{Kind: domain.SignalOffer, SessionID: s, From: id, Target: ids[rnd.IntN(workers)]})
				}
			}
		}(w)
	}
	wg.Wait()

	placed := make(map[domain.ConnectionID]domain.SessionID)
	for _, snap := range c.Rooms() {
		require.False(t, snap.Broadcaster == "" && len(snap.Viewers) == 0, "empty room %s left behind", snap.SessionID)

		if snap.Broadcaster != "" {
			_, dup := placed[snap.Broadcaster]
			require.False(t, dup)
			placed[snap.Broadcaster] = snap.SessionID
			conn, ok := c.Registry().Lookup(snap.Broadcaster)
			require.True(t, ok)
			assert.Equal(t, snap.SessionID, conn.SessionID)
			assert.Equal(t, domain.RoleCreator, conn.Role)
		}
		for _, v := range snap.Viewers {
			_, dup := placed[v]
			require.False(t, dup, "%s is a member of two rooms", v)
			placed[v] = snap.SessionID
			conn, ok := c.Registry().Lookup(v)
			require.True(t, ok)
			assert.Equal(t, snap.SessionID, conn.SessionID)
			assert.Equal(t, domain.RoleViewer, conn.Role)
		}
	}

	for _, id := range ids {
		conn, ok := c.Registry().Lookup(id)
		require.True(t, ok)
		if conn.InRoom() {
			assert.Equal(t, conn.SessionID, placed[id], "registry points %s at a room it is not in", id)
		}
	}
}
