package port

import (
	"context"

	"github.com/Wyydra/rendezvous/internal/core/domain"
)

// RealTimeGateway delivers messages to live connections. Both calls are
// best effort and must not block on the recipient.
type RealTimeGateway interface {
	Send(ctx context.Context, to domain.ConnectionID, msg domain.Message) error
	Broadcast(ctx context.Context, to []domain.ConnectionID, msg domain.Message) error
}
