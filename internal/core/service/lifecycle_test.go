package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLifecycleLogAdvance(t *testing.T) {
	l := newLifecycleLog()

	s := l.acquire("S1")
	assert.True(t, s.advance(2))
	assert.False(t, s.advance(2))
	assert.False(t, s.advance(1))
	assert.True(t, s.advance(7))
	l.release(s)

	s = l.acquire("S1")
	assert.False(t, s.advance(6), "applied sequence survives release")
	l.release(s)
}

func TestLifecycleLogForgetsIdleSessions(t *testing.T) {
	now := time.Unix(1767225600, 0)
	l := newLifecycleLog()
	l.now = func() time.Time { return now }

	l.release(l.acquire("S1"))
	held := l.acquire("S2")
	assert.Equal(t, 2, l.len())

	now = now.Add(lifecycleRetention)
	l.release(l.acquire("S3"))

	// S1 was idle for the whole retention period; S2 is still held.
	assert.Equal(t, 2, l.len())
	l.release(held)
}
