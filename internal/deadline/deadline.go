// Package deadline tracks the orchestrator's pending deadlines as a pure
// function of wall-clock time. There is no timer goroutine: the owner polls
// Expired every tick, which keeps deadline firing serialized with trigger
// processing.
package deadline

import (
	"sort"
	"time"
)

// Tag names a deadline. Re-arming a tag replaces its prior deadline.
type Tag string

type entry struct {
	tag Tag
	at  time.Time
}

// Set is a sorted collection of pending deadlines. It is owned by a single
// goroutine and is not safe for concurrent use.
type Set struct {
	byTag   map[Tag]time.Time
	ordered []entry // sorted by at, then tag for determinism
}

func NewSet() *Set {
	return &Set{byTag: make(map[Tag]time.Time)}
}

func (s *Set) search(at time.Time, tag Tag) int {
	return sort.Search(len(s.ordered), func(i int) bool {
		e := s.ordered[i]
		if !e.at.Equal(at) {
			return e.at.After(at)
		}
		return e.tag >= tag
	})
}

// Schedule arms tag to fire at the given time, replacing any prior deadline
// with the same tag.
func (s *Set) Schedule(tag Tag, at time.Time) {
	s.Cancel(tag)
	i := s.search(at, tag)
	s.ordered = append(s.ordered, entry{})
	copy(s.ordered[i+1:], s.ordered[i:])
	s.ordered[i] = entry{tag: tag, at: at}
	s.byTag[tag] = at
}

// Cancel disarms tag. Cancelling an unknown tag is a no-op.
func (s *Set) Cancel(tag Tag) {
	at, ok := s.byTag[tag]
	if !ok {
		return
	}
	i := s.search(at, tag)
	s.ordered = append(s.ordered[:i], s.ordered[i+1:]...)
	delete(s.byTag, tag)
}

// Expired pops and returns, in firing order, every tag whose deadline is at
// or before now. A fired tag is disarmed; re-running after a fire returns
// nothing until the tag is re-armed.
func (s *Set) Expired(now time.Time) []Tag {
	var fired []Tag
	for len(s.ordered) > 0 && !s.ordered[0].at.After(now) {
		e := s.ordered[0]
		s.ordered = s.ordered[1:]
		delete(s.byTag, e.tag)
		fired = append(fired, e.tag)
	}
	return fired
}

// Next reports the earliest pending deadline, if any.
func (s *Set) Next() (time.Time, bool) {
	if len(s.ordered) == 0 {
		return time.Time{}, false
	}
	return s.ordered[0].at, true
}

// At reports the pending deadline for tag, if armed.
func (s *Set) At(tag Tag) (time.Time, bool) {
	at, ok := s.byTag[tag]
	return at, ok
}
