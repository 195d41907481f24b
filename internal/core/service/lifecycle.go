package service

import (
	"sync"
	"time"

	"github.com/Wyydra/rendezvous/internal/core/domain"
)

// lifecycleRetention is how long the last applied sequence of an idle
// session is remembered. A transition is recorded right after the
// coordinator returns it, so it never arrives this late.
const lifecycleRetention = 5 * time.Minute

// lifecycleLog serializes the recording of transitions per session and
// tells which ones are older than what was already recorded.
type lifecycleLog struct {
	mu        sync.Mutex
	sessions  map[domain.SessionID]*sessionLog
	lastSweep time.Time
	now       func() time.Time
}

type sessionLog struct {
	mu      sync.Mutex
	applied uint64

	// guarded by lifecycleLog.mu
	refs    int
	touched time.Time
}

func newLifecycleLog() *lifecycleLog {
	return &lifecycleLog{
		sessions: make(map[domain.SessionID]*sessionLog),
		now:      time.Now,
	}
}

// acquire locks the session's log. The caller must call release.
func (l *lifecycleLog) acquire(id domain.SessionID) *sessionLog {
	l.mu.Lock()
	l.sweep()
	s, ok := l.sessions[id]
	if !ok {
		s = &sessionLog{}
		l.sessions[id] = s
	}
	s.refs++
	l.mu.Unlock()

	s.mu.Lock()
	return s
}

func (l *lifecycleLog) release(s *sessionLog) {
	s.mu.Unlock()

	l.mu.Lock()
	s.refs--
	s.touched = l.now()
	l.mu.Unlock()
}

// advance reports whether seq is newer than anything recorded for the
// session and, if so, remembers it. Must be called between acquire and
// release.
func (s *sessionLog) advance(seq uint64) bool {
	if seq <= s.applied {
		return false
	}
	s.applied = seq
	return true
}

// sweep forgets idle sessions. Must be called with l.mu held.
func (l *lifecycleLog) sweep() {
	now := l.now()
	if now.Sub(l.lastSweep) < lifecycleRetention {
		return
	}
	l.lastSweep = now
	for id, s := range l.sessions {
		if s.refs == 0 && now.Sub(s.touched) >= lifecycleRetention {
			delete(l.sessions, id)
		}
	}
}

func (l *lifecycleLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}
