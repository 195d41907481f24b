package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Wyydra/rendezvous/internal/core/domain"
)

// Directory is an in-process session directory for development. Every
// non-empty session id is accepted; status is tracked so the diagnostics API
// can report it.
type Directory struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]domain.SessionRecord
	now      func() time.Time
}

func NewDirectory() *Directory {
	return &Directory{
		sessions: make(map[domain.SessionID]domain.SessionRecord),
		now:      time.Now,
	}
}

func (d *Directory) Exists(_ context.Context, id domain.SessionID) (bool, error) {
	return id != "", nil
}

func (d *Directory) MarkLive(_ context.Context, id domain.SessionID, broadcaster domain.ConnectionID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[id] = domain.SessionRecord{
		ID:            id,
		Status:        domain.SessionLive,
		BroadcasterID: broadcaster,
		StartedAt:     d.now(),
	}
	return nil
}

func (d *Directory) MarkEnded(_ context.Context, id domain.SessionID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.sessions[id]
	if !ok {
		rec = domain.SessionRecord{ID: id}
	}
	rec.Status = domain.SessionEnded
	rec.EndedAt = d.now()
	d.sessions[id] = rec
	return nil
}

func (d *Directory) Get(_ context.Context, id domain.SessionID) (domain.SessionRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.sessions[id]
	if !ok {
		return domain.SessionRecord{}, domain.ErrSessionNotFound
	}
	return rec, nil
}

func (d *Directory) Close() error {
	return nil
}
