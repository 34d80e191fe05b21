package dispatch

import (
	"container/list"
	"sync"
	"time"
)

// dedupeSet remembers delivery ids for a retention window. It is bounded
// both by age and by entry count; the oldest ids are evicted first.
type dedupeSet struct {
	mu    sync.Mutex
	ttl   time.Duration
	max   int
	seen  map[string]*list.Element
	order *list.List // of seenEntry, oldest at front
	now   func() time.Time
}

type seenEntry struct {
	id string
	at time.Time
}

func newDedupeSet(ttl time.Duration, maxEntries int) *dedupeSet {
	return &dedupeSet{
		ttl:   ttl,
		max:   maxEntries,
		seen:  make(map[string]*list.Element),
		order: list.New(),
		now:   time.Now,
	}
}

// Add records id and reports whether it was not already present.
func (s *dedupeSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.expireLocked(now)
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = s.order.PushBack(seenEntry{id: id, at: now})
	for s.order.Len() > s.max {
		s.removeLocked(s.order.Front())
	}
	return true
}

// Sweep drops expired ids and returns how many were removed.
func (s *dedupeSet) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expireLocked(s.now())
}

func (s *dedupeSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

func (s *dedupeSet) expireLocked(now time.Time) int {
	n := 0
	for el := s.order.Front(); el != nil; el = s.order.Front() {
		if now.Sub(el.Value.(seenEntry).at) < s.ttl {
			break
		}
		s.removeLocked(el)
		n++
	}
	return n
}

func (s *dedupeSet) removeLocked(el *list.Element) {
	delete(s.seen, el.Value.(seenEntry).id)
	s.order.Remove(el)
}

// gate admits at most one active flow per conversation.
type gate struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newGate() *gate {
	return &gate{active: make(map[string]struct{})}
}

func (g *gate) TryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[key]; busy {
		return false
	}
	g.active[key] = struct{}{}
	return true
}

func (g *gate) Release(key string) {
	g.mu.Lock()
	delete(g.active, key)
	g.mu.Unlock()
}

func (g *gate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}
