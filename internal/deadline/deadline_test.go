package deadline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpiredFiresInOrder(t *testing.T) {
	now := time.Now()
	s := NewSet()
	s.Schedule("c", now.Add(3*time.Minute))
	s.Schedule("a", now.Add(1*time.Minute))
	s.Schedule("b", now.Add(2*time.Minute))

	assert.Empty(t, s.Expired(now))

	fired := s.Expired(now.Add(2 * time.Minute))
	assert.Equal(t, []Tag{"a", "b"}, fired)

	// Firing is one-shot: a second check is a no-op.
	assert.Empty(t, s.Expired(now.Add(2*time.Minute)))

	next, ok := s.Next()
	assert.True(t, ok)
	assert.Equal(t, now.Add(3*time.Minute), next)
}

func TestRearmReplaces(t *testing.T) {
	now := time.Now()
	s := NewSet()
	s.Schedule("reservation", now.Add(time.Minute))
	s.Schedule("reservation", now.Add(time.Hour))

	assert.Empty(t, s.Expired(now.Add(30*time.Minute)))

	at, ok := s.At("reservation")
	assert.True(t, ok)
	assert.Equal(t, now.Add(time.Hour), at)

	fired := s.Expired(now.Add(2 * time.Hour))
	assert.Equal(t, []Tag{"reservation"}, fired)
}

func TestCancel(t *testing.T) {
	now := time.Now()
	s := NewSet()
	s.Schedule("x", now.Add(time.Minute))
	s.Schedule("y", now.Add(time.Minute))
	s.Cancel("x")
	s.Cancel("never-armed")

	fired := s.Expired(now.Add(time.Minute))
	assert.Equal(t, []Tag{"y"}, fired)

	_, ok := s.Next()
	assert.False(t, ok)
}
