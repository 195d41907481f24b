package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Wyydra/rendezvous/internal/core/domain"
	"github.com/Wyydra/rendezvous/internal/core/port"
	pkglog "github.com/Wyydra/rendezvous/internal/log"
)

var ErrUnknownClient = errors.New("unknown client")

// Hub implements port.RealTimeGateway over the set of live clients.
// Clients whose send buffer overflows are evicted by the Run loop.
type Hub struct {
	mu      sync.RWMutex
	clients map[domain.ConnectionID]port.Client

	evict    chan port.Client
	quit     chan struct{}
	stopOnce sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[domain.ConnectionID]port.Client),
		evict:   make(chan port.Client, 64),
		quit:    make(chan struct{}),
	}
}

func (h *Hub) Register(c port.Client) {
	h.mu.Lock()
	h.clients[c.ID()] = c
	n := len(h.clients)
	h.mu.Unlock()

	l := pkglog.L()
	l.Debug().Str(pkglog.FieldConnID, c.ID().String()).Int("clients", n).Msg("client registered")
}

// Unregister removes c and closes it. A newer client registered under the
// same id is left alone.
func (h *Hub) Unregister(c port.Client) {
	h.mu.Lock()
	cur, ok := h.clients[c.ID()]
	if ok && cur == c {
		delete(h.clients, c.ID())
	}
	h.mu.Unlock()

	_ = c.Close()
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Send(ctx context.Context, to domain.ConnectionID, msg domain.Message) error {
	h.mu.RLock()
	c, ok := h.clients[to]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, to)
	}

	if err := c.Send(msg); err != nil {
		if errors.Is(err, ErrSendBufferFull) {
			h.scheduleEviction(c)
		}
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}

func (h *Hub) Broadcast(ctx context.Context, to []domain.ConnectionID, msg domain.Message) error {
	var errs []error
	for _, id := range to {
		if err := h.Send(ctx, id, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// scheduleEviction never blocks; if the queue is full the next failed send
// retries.
func (h *Hub) scheduleEviction(c port.Client) {
	select {
	case h.evict <- c:
	default:
	}
}

// Run processes evictions until Stop is called, then closes every client.
func (h *Hub) Run() {
	l := pkglog.L()
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			clients := h.clients
			h.clients = make(map[domain.ConnectionID]port.Client)
			h.mu.Unlock()

			for _, c := range clients {
				_ = c.Close()
			}
			l.Info().Int("clients", len(clients)).Msg("hub stopped")
			return

		case c := <-h.evict:
			h.mu.Lock()
			cur, ok := h.clients[c.ID()]
			if ok && cur == c {
				delete(h.clients, c.ID())
			}
			h.mu.Unlock()

			if ok && cur == c {
				_ = c.Close()
				l.Warn().Str(pkglog.FieldConnID, c.ID().String()).Msg("slow client evicted")
			}
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
	})
}
