package service

import (
	"sort"
	"sync"

	"github.com/Wyydra/rendezvous/internal/core/domain"
)

// room is the per-session membership. Every field is guarded by mu; a
// closed room has been removed from the coordinator and must not be reused.
type room struct {
	id domain.SessionID

	mu          sync.Mutex
	broadcaster domain.ConnectionID
	viewers     map[domain.ConnectionID]struct{}
	closed      bool
}

func newRoom(id domain.SessionID) *room {
	return &room{
		id:      id,
		viewers: make(map[domain.ConnectionID]struct{}),
	}
}

func (r *room) hasViewer(id domain.ConnectionID) bool {
	_, ok := r.viewers[id]
	return ok
}

func (r *room) empty() bool {
	return r.broadcaster == "" && len(r.viewers) == 0
}

// viewerIDs returns the viewers in a stable order.
func (r *room) viewerIDs() []domain.ConnectionID {
	ids := make([]domain.ConnectionID, 0, len(r.viewers))
	for id := range r.viewers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// members returns the broadcaster (if any) followed by the viewers.
func (r *room) members() []domain.ConnectionID {
	ids := r.viewerIDs()
	if r.broadcaster != "" {
		ids = append([]domain.ConnectionID{r.broadcaster}, ids...)
	}
	return ids
}

func (r *room) snapshot() domain.RoomSnapshot {
	return domain.RoomSnapshot{
		SessionID:   r.id,
		Broadcaster: r.broadcaster,
		Viewers:     r.viewerIDs(),
	}
}
