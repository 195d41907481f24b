package service

import (
	"context"
	"sync"

	"github.com/Wyydra/rendezvous/internal/core/domain"
)

type delivery struct {
	to  domain.ConnectionID
	msg domain.Message
}

// recordingGateway captures every outbound message in delivery order.
type recordingGateway struct {
	mu   sync.Mutex
	sent []delivery
}

func (g *recordingGateway) Send(_ context.Context, to domain.ConnectionID, msg domain.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, delivery{to: to, msg: msg})
	return nil
}

func (g *recordingGateway) Broadcast(ctx context.Context, to []domain.ConnectionID, msg domain.Message) error {
	for _, id := range to {
		_ = g.Send(ctx, id, msg)
	}
	return nil
}

func (g *recordingGateway) to(id domain.ConnectionID) []domain.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Message
	for _, d := range g.sent {
		if d.to == id {
			out = append(out, d.msg)
		}
	}
	return out
}

func (g *recordingGateway) types(id domain.ConnectionID) []domain.MessageType {
	var out []domain.MessageType
	for _, m := range g.to(id) {
		out = append(out, m.Type)
	}
	return out
}

func (g *recordingGateway) count(id domain.ConnectionID, typ domain.MessageType) int {
	n := 0
	for _, m := range g.to(id) {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func (g *recordingGateway) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = nil
}
