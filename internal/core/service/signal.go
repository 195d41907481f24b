package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Wyydra/rendezvous/internal/core/domain"
	"github.com/Wyydra/rendezvous/internal/core/port"
	pkglog "github.com/Wyydra/rendezvous/internal/log"
)

const directoryTimeout = 3 * time.Second

// SignalService validates inbound events, consults the session directory
// and dispatches into the Coordinator. Lifecycle transitions reported by the
// coordinator are written back to the directory and published.
type SignalService struct {
	coordinator *Coordinator
	gateway     port.RealTimeGateway
	directory   port.SessionDirectory
	publisher   port.LifecyclePublisher
	lifecycle   *lifecycleLog
}

// NewSignalService wires the boundary. publisher may be nil.
func NewSignalService(coordinator *Coordinator, gateway port.RealTimeGateway, directory port.SessionDirectory, publisher port.LifecyclePublisher) *SignalService {
	return &SignalService{
		coordinator: coordinator,
		gateway:     gateway,
		directory:   directory,
		publisher:   publisher,
		lifecycle:   newLifecycleLog(),
	}
}

func (s *SignalService) Connect(ctx context.Context, id domain.ConnectionID) {
	s.coordinator.Connect(id)
}

func (s *SignalService) Disconnect(ctx context.Context, id domain.ConnectionID) {
	s.record(ctx, s.coordinator.Disconnect(ctx, id))
}

// Handle processes one inbound event from a connection. Returned errors
// describe rejected input and have already been reported to the sender.
func (s *SignalService) Handle(ctx context.Context, from domain.ConnectionID, ev domain.Event) error {
	switch ev.Type {
	case domain.EventJoin:
		return s.handleJoin(ctx, from, ev)
	case domain.EventLeave:
		return s.handleLeave(ctx, from, ev)
	case domain.EventOffer, domain.EventAnswer, domain.EventICECandidate:
		return s.handleRelay(ctx, from, ev)
	case domain.EventPing:
		s.reply(ctx, from, domain.NewPong())
		return nil
	default:
		err := fmt.Errorf("%w: %q", domain.ErrUnknownEvent, ev.Type)
		s.Reject(ctx, from, domain.ErrCodeBadRequest, err)
		return err
	}
}

// Reject reports a rejected event back to its sender.
func (s *SignalService) Reject(ctx context.Context, to domain.ConnectionID, code string, err error) {
	s.reply(ctx, to, domain.NewError(code, err.Error()))
}

func (s *SignalService) handleJoin(ctx context.Context, from domain.ConnectionID, ev domain.Event) error {
	sessionID, role, err := parseMembership(ev)
	if err != nil {
		s.Reject(ctx, from, domain.ErrCodeBadRequest, err)
		return err
	}

	dctx, cancel := context.WithTimeout(ctx, directoryTimeout)
	exists, err := s.directory.Exists(dctx, sessionID)
	cancel()
	if err != nil {
		s.reply(ctx, from, domain.NewError(domain.ErrCodeInternalError, "failed to look up session"))
		return fmt.Errorf("look up session %s: %w", sessionID, err)
	}
	if !exists {
		err := fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
		s.Reject(ctx, from, domain.ErrCodeNotFound, err)
		return err
	}

	s.record(ctx, s.coordinator.Join(ctx, from, sessionID, role))
	return nil
}

func (s *SignalService) handleLeave(ctx context.Context, from domain.ConnectionID, ev domain.Event) error {
	sessionID, role, err := parseMembership(ev)
	if err != nil {
		s.Reject(ctx, from, domain.ErrCodeBadRequest, err)
		return err
	}
	s.record(ctx, s.coordinator.Leave(ctx, from, sessionID, role))
	return nil
}

func (s *SignalService) handleRelay(ctx context.Context, from domain.ConnectionID, ev domain.Event) error {
	kind, err := domain.ParseSignalKind(string(ev.Type))
	if err == nil && ev.SessionID == "" {
		err = domain.ErrEmptySessionID
	}
	if err == nil && ev.Target == "" {
		err = domain.ErrEmptyTarget
	}
	if err != nil {
		s.Reject(ctx, from, domain.ErrCodeBadRequest, err)
		return err
	}

	sig := domain.Signal{
		Kind:      kind,
		SessionID: domain.SessionID(ev.SessionID),
		From:      from,
		Target:    domain.ConnectionID(ev.Target),
		Payload:   ev.Payload,
	}
	if !s.coordinator.Relay(ctx, sig) {
		l := pkglog.Ctx(ctx)
		l.Debug().
			Str(pkglog.FieldEvent, string(kind)).
			Str(pkglog.FieldSessionID, ev.SessionID).
			Str(pkglog.FieldTarget, ev.Target).
			Msg("relay not permitted, dropped")
	}
	return nil
}

// record applies lifecycle transitions to the directory and the event
// stream. Writes for one session are serialized and a transition older than
// the last one recorded for its session is dropped. Only an explicit leave
// marks the session ended in the directory; after a dropped connection the
// broadcaster may come back and join again. Failures are logged and never
// affect signaling.
func (s *SignalService) record(ctx context.Context, transitions []domain.Transition) {
	for _, t := range transitions {
		s.recordOne(ctx, t)
	}
}

func (s *SignalService) recordOne(ctx context.Context, t domain.Transition) {
	l := pkglog.Ctx(ctx).With().
		Str(pkglog.FieldSessionID, t.SessionID.String()).
		Str("transition", string(t.Kind)).
		Uint64("seq", t.Seq).
		Logger()

	sl := s.lifecycle.acquire(t.SessionID)
	defer s.lifecycle.release(sl)

	if !sl.advance(t.Seq) {
		l.Debug().Msg("stale lifecycle transition dropped")
		return
	}

	dctx, cancel := context.WithTimeout(ctx, directoryTimeout)
	var err error
	switch {
	case t.Kind == domain.TransitionLive:
		err = s.directory.MarkLive(dctx, t.SessionID, t.BroadcasterID)
	case t.Kind == domain.TransitionEnded && t.Reason == domain.ReasonExplicit:
		err = s.directory.MarkEnded(dctx, t.SessionID)
	}
	cancel()
	if err != nil {
		l.Warn().Err(err).Msg("failed to update session directory")
	}

	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, t); err != nil {
		l.Warn().Err(err).Msg("failed to publish lifecycle event")
	}
}

func (s *SignalService) reply(ctx context.Context, to domain.ConnectionID, msg domain.Message) {
	if err := s.gateway.Send(ctx, to, msg); err != nil {
		l := pkglog.Ctx(ctx)
		l.Debug().Err(err).Str(pkglog.FieldConnID, to.String()).Msg("reply not delivered")
	}
}

func parseMembership(ev domain.Event) (domain.SessionID, domain.Role, error) {
	if ev.SessionID == "" {
		return "", "", domain.ErrEmptySessionID
	}
	role, err := domain.ParseRole(ev.Role)
	if err != nil {
		return "", "", err
	}
	return domain.SessionID(ev.SessionID), role, nil
}
