package port

import "github.com/Wyydra/rendezvous/internal/core/domain"

type Client interface {
	ID() domain.ConnectionID
	Send(msg domain.Message) error
	Close() error
}
