package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/rendezvous/internal/core/domain"
)

type fakeDirectory struct {
	mu      sync.Mutex
	known   map[domain.SessionID]bool
	fail    error
	live    []domain.SessionID
	ended   []domain.SessionID
	status  map[domain.SessionID]domain.SessionStatus
	liveErr error

	// When set, MarkEnded signals endStarted and then waits for endGate.
	endStarted chan struct{}
	endGate    chan struct{}
}

func (d *fakeDirectory) Exists(_ context.Context, id domain.SessionID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return false, d.fail
	}
	return d.known[id], nil
}

func (d *fakeDirectory) MarkLive(_ context.Context, id domain.SessionID, _ domain.ConnectionID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.live = append(d.live, id)
	if d.liveErr == nil {
		d.setStatus(id, domain.SessionLive)
	}
	return d.liveErr
}

func (d *fakeDirectory) MarkEnded(_ context.Context, id domain.SessionID) error {
	if d.endGate != nil {
		d.endStarted <- struct{}{}
		<-d.endGate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ended = append(d.ended, id)
	d.setStatus(id, domain.SessionEnded)
	return nil
}

func (d *fakeDirectory) setStatus(id domain.SessionID, st domain.SessionStatus) {
	if d.status == nil {
		d.status = make(map[domain.SessionID]domain.SessionStatus)
	}
	d.status[id] = st
}

func (d *fakeDirectory) statusOf(id domain.SessionID) domain.SessionStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status[id]
}

func (d *fakeDirectory) Get(_ context.Context, id domain.SessionID) (domain.SessionRecord, error) {
	return domain.SessionRecord{}, domain.ErrSessionNotFound
}

func (d *fakeDirectory) Close() error { return nil }

type fakePublisher struct {
	mu  sync.Mutex
	got []domain.Transition
}

func (p *fakePublisher) Publish(_ context.Context, t domain.Transition) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, t)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func newTestSignalService(ids ...domain.ConnectionID) (*SignalService, *recordingGateway, *fakeDirectory, *fakePublisher) {
	gw := &recordingGateway{}
	dir := &fakeDirectory{known: map[domain.SessionID]bool{"S1": true}}
	pub := &fakePublisher{}
	svc := NewSignalService(NewCoordinator(NewRegistry(), gw), gw, dir, pub)
	for _, id := range ids {
		svc.Connect(context.Background(), id)
	}
	return svc, gw, dir, pub
}

func TestHandleJoinUnknownSession(t *testing.T) {
	svc, gw, _, _ := newTestSignalService("V1")

	err := svc.Handle(context.Background(), "V1", domain.Event{Type: domain.EventJoin, SessionID: "S404", Role: "viewer"})

	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	msgs := gw.to("V1")
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.MsgError, msgs[0].Type)
	assert.Equal(t, domain.ErrCodeNotFound, msgs[0].Code)
}

func TestHandleJoinDirectoryFailure(t *testing.T) {
	svc, gw, dir, _ := newTestSignalService("V1")
	dir.fail = errors.New("connection refused")

	err := svc.Handle(context.Background(), "V1", domain.Event{Type: domain.EventJoin, SessionID: "S1", Role: "viewer"})

	require.Error(t, err)
	msgs := gw.to("V1")
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.ErrCodeInternalError, msgs[0].Code)
}

func TestHandleJoinValidation(t *testing.T) {
	tests := []struct {
		name string
		ev   domain.Event
		want error
	}{
		{"missing session", domain.Event{Type: domain.EventJoin, Role: "viewer"}, domain.ErrEmptySessionID},
		{"bad role", domain.Event{Type: domain.EventJoin, SessionID: "S1", Role: "admin"}, domain.ErrInvalidRole},
		{"leave without role", domain.Event{Type: domain.EventLeave, SessionID: "S1"}, domain.ErrInvalidRole},
		{"offer without target", domain.Event{Type: domain.EventOffer, SessionID: "S1"}, domain.ErrEmptyTarget},
		{"answer without session", domain.Event{Type: domain.EventAnswer, Target: "B"}, domain.ErrEmptySessionID},
		{"unknown type", domain.Event{Type: "dance"}, domain.ErrUnknownEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, gw, _, _ := newTestSignalService("C")

			err := svc.Handle(context.Background(), "C", tt.ev)

			require.ErrorIs(t, err, tt.want)
			msgs := gw.to("C")
			require.Len(t, msgs, 1)
			assert.Equal(t, domain.ErrCodeBadRequest, msgs[0].Code)
			assert.Empty(t, svc.coordinator.Rooms())
		})
	}
}

func TestHandleRecordsLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _, dir, pub := newTestSignalService("B", "V1")

	require.NoError(t, svc.Handle(ctx, "B", domain.Event{Type: domain.EventJoin, SessionID: "S1", Role: "creator"}))
	require.NoError(t, svc.Handle(ctx, "V1", domain.Event{Type: domain.EventJoin, SessionID: "S1", Role: "viewer"}))
	require.NoError(t, svc.Handle(ctx, "B", domain.Event{Type: domain.EventLeave, SessionID: "S1", Role: "creator"}))

	assert.Equal(t, []domain.SessionID{"S1"}, dir.live)
	assert.Equal(t, []domain.SessionID{"S1"}, dir.ended)
	assert.Equal(t, domain.SessionEnded, dir.statusOf("S1"))
	require.Len(t, pub.got, 2)
	assert.Equal(t, domain.TransitionLive, pub.got[0].Kind)
	assert.Equal(t, domain.TransitionEnded, pub.got[1].Kind)
	assert.Equal(t, domain.ReasonExplicit, pub.got[1].Reason)
	assert.Less(t, pub.got[0].Seq, pub.got[1].Seq)
}

func TestBroadcasterDisconnectKeepsSessionJoinable(t *testing.T) {
	ctx := context.Background()
	svc, gw, dir, pub := newTestSignalService("B1", "V1")

	require.NoError(t, svc.Handle(ctx, "B1", domain.Event{Type: domain.EventJoin, SessionID: "S1", Role: "creator"}))
	require.NoError(t, svc.Handle(ctx, "V1", domain.Event{Type: domain.EventJoin, SessionID: "S1", Role: "viewer"}))
	svc.Disconnect(ctx, "B1")

	assert.Empty(t, dir.ended)
	assert.Equal(t, domain.SessionLive, dir.statusOf("S1"))
	require.Len(t, pub.got, 2)
	assert.Equal(t, domain.ReasonDisconnect, pub.got[1].Reason)

	// The broadcaster reconnects under a new connection id.
	svc.Connect(ctx, "B2")
	require.NoError(t, svc.Handle(ctx, "B2", domain.Event{Type: domain.EventJoin, SessionID: "S1", Role: "creator"}))

	assert.Equal(t, []domain.MessageType{domain.MsgJoined, domain.MsgWaitingForViewers}, gw.types("B2"))
	assert.Equal(t, domain.SessionLive, dir.statusOf("S1"))
}

func TestSlowEndDoesNotOverwriteNewBroadcaster(t *testing.T) {
	ctx := context.Background()
	svc, _, dir, _ := newTestSignalService("B1", "B2")
	dir.endStarted = make(chan struct{})
	dir.endGate = make(chan struct{})

	require.NoError(t, svc.Handle(ctx, "B1", domain.Event{Type: domain.EventJoin, SessionID: "S1", Role: "creator"}))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, svc.Handle(ctx, "B1", domain.Event{Type: domain.EventLeave, SessionID: "S1", Role: "creator"}))
	}()
	<-dir.endStarted

	go func() {
		defer wg.Done()
		assert.NoError(t, svc.Handle(ctx, "B2", domain.Event{Type: domain.EventJoin, SessionID: "S1", Role: "creator"}))
	}()
	require.Eventually(t, func() bool {
		snap, ok := svc.coordinator.Room("S1")
		return ok && snap.Broadcaster == "B2"
	}, time.Second, 5*time.Millisecond)

	close(dir.endGate)
	wg.Wait()

	snap, ok := svc.coordinator.Room("S1")
	require.True(t, ok)
	assert.Equal(t, domain.ConnectionID("B2"), snap.Broadcaster)
	assert.Equal(t, domain.SessionLive, dir.statusOf("S1"))
}

func TestStaleTransitionDropped(t *testing.T) {
	ctx := context.Background()
	svc, _, dir, pub := newTestSignalService()

	svc.record(ctx, []domain.Transition{{Kind: domain.TransitionLive, SessionID: "S1", BroadcasterID: "B2", Seq: 5}})
	svc.record(ctx, []domain.Transition{{Kind: domain.TransitionEnded, SessionID: "S1", BroadcasterID: "B1", Reason: domain.ReasonExplicit, Seq: 3}})

	assert.Empty(t, dir.ended)
	assert.Equal(t, domain.SessionLive, dir.statusOf("S1"))
	require.Len(t, pub.got, 1)
	assert.Equal(t, uint64(5), pub.got[0].Seq)
}

func TestDirectoryWriteFailureDoesNotAffectSignaling(t *testing.T) {
	ctx := context.Background()
	svc, gw, dir, pub := newTestSignalService("B")
	dir.liveErr = errors.New("read-only replica")

	require.NoError(t, svc.Handle(ctx, "B", domain.Event{Type: domain.EventJoin, SessionID: "S1", Role: "creator"}))

	assert.Equal(t, []domain.MessageType{domain.MsgJoined, domain.MsgWaitingForViewers}, gw.types("B"))
	assert.Len(t, pub.got, 1)
}

func TestHandleRelayAndPing(t *testing.T) {
	ctx := context.Background()
	svc, gw, _, _ := newTestSignalService("B", "V1")
	require.NoError(t, svc.Handle(ctx, "B", domain.Event{Type: domain.EventJoin, SessionID: "S1", Role: "creator"}))
	require.NoError(t, svc.Handle(ctx, "V1", domain.Event{Type: domain.EventJoin, SessionID: "S1", Role: "viewer"}))
	gw.reset()

	sdp := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	require.NoError(t, svc.Handle(ctx, "B", domain.Event{Type: domain.EventOffer, SessionID: "S1", Target: "V1", Payload: sdp}))
	// A viewer offering is silently dropped, not rejected.
	require.NoError(t, svc.Handle(ctx, "V1", domain.Event{Type: domain.EventOffer, SessionID: "S1", Target: "B", Payload: sdp}))
	require.NoError(t, svc.Handle(ctx, "V1", domain.Event{Type: domain.EventPing}))

	assert.Equal(t, []domain.MessageType{domain.MsgOffer, domain.MsgPong}, gw.types("V1"))
	assert.Empty(t, gw.to("B"))
}

func TestHandleNilPublisher(t *testing.T) {
	gw := &recordingGateway{}
	dir := &fakeDirectory{known: map[domain.SessionID]bool{"S1": true}}
	svc := NewSignalService(NewCoordinator(NewRegistry(), gw), gw, dir, nil)
	svc.Connect(context.Background(), "B")

	require.NoError(t, svc.Handle(context.Background(), "B", domain.Event{Type: domain.EventJoin, SessionID: "S1", Role: "creator"}))
	assert.Equal(t, []domain.SessionID{"S1"}, dir.live)
}
