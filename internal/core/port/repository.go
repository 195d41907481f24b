package port

import (
	"context"

	"github.com/Wyydra/rendezvous/internal/core/domain"
)

// SessionDirectory is the external store of session metadata.
type SessionDirectory interface {
	Exists(ctx context.Context, id domain.SessionID) (bool, error)
	MarkLive(ctx context.Context, id domain.SessionID, broadcaster domain.ConnectionID) error
	MarkEnded(ctx context.Context, id domain.SessionID) error
	// Get returns domain.ErrSessionNotFound for unknown ids.
	Get(ctx context.Context, id domain.SessionID) (domain.SessionRecord, error)
	Close() error
}
