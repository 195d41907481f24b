package port

import (
	"context"

	"github.com/Wyydra/rendezvous/internal/core/domain"
)

type LifecyclePublisher interface {
	Publish(ctx context.Context, t domain.Transition) error
	Close() error
}
