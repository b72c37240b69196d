package editor

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/parcelmap/server/internal/geodata"
	"github.com/parcelmap/server/internal/metrics"
)

// Session events.
const (
	// EventChange fires on every mutation of the working ring.
	EventChange = "change"
	// EventSync fires at most once per sync interval with the working ring,
	// and once more on Flush if a change was held back.
	EventSync = "sync"
)

// Listener receives the working ring after an event.
type Listener func(ring geodata.Ring)

// Session owns the working ring of one draw or edit together with every
// listener registered on it. Teardown releases all of them at once; events
// after teardown are dropped.
type Session struct {
	polygonID string
	isNew     bool
	manual    bool
	snapshot  geodata.Ring
	working   geodata.Ring
	listeners map[string]map[int]Listener
	nextID    int
	limiter   *rate.Limiter
	pending   bool
	closed    bool
}

func newSession(polygonID string, snapshot geodata.Ring, syncEvery time.Duration) *Session {
	metrics.ActiveSessions.Inc()
	return &Session{
		polygonID: polygonID,
		snapshot:  snapshot.Clone(),
		working:   snapshot.Clone(),
		listeners: make(map[string]map[int]Listener),
		limiter:   rate.NewLimiter(rate.Every(syncEvery), 1),
	}
}

// PolygonID is the parcel being edited, empty while drawing.
func (s *Session) PolygonID() string {
	return s.polygonID
}

// Manual reports whether this edit was opened from an overlap warning.
func (s *Session) Manual() bool {
	return s.manual
}

// Ring returns a copy of the working ring.
func (s *Session) Ring() geodata.Ring {
	return s.working.Clone()
}

// Snapshot returns the ring the session started from.
func (s *Session) Snapshot() geodata.Ring {
	return s.snapshot.Clone()
}

// PointCount is the number of vertices in the working ring.
func (s *Session) PointCount() int {
	return len(s.working)
}

// CanFinish reports whether the working ring has enough points to commit.
func (s *Session) CanFinish() bool {
	return len(s.working) >= 3
}

// Closed reports whether Teardown has run.
func (s *Session) Closed() bool {
	return s.closed
}

// Listen registers l for event and returns a function that removes it.
func (s *Session) Listen(event string, l Listener) (release func()) {
	if s.closed {
		return func() {}
	}
	if s.listeners[event] == nil {
		s.listeners[event] = make(map[int]Listener)
	}
	id := s.nextID
	s.nextID++
	s.listeners[event][id] = l
	return func() {
		delete(s.listeners[event], id)
	}
}

// ListenerCount returns the number of registered listeners.
func (s *Session) ListenerCount() int {
	n := 0
	for _, ls := range s.listeners {
		n += len(ls)
	}
	return n
}

func (s *Session) set(ring geodata.Ring) {
	if s.closed {
		return
	}
	s.working = ring
	s.emit(EventChange)
	if s.limiter.Allow() {
		s.pending = false
		s.emit(EventSync)
		return
	}
	s.pending = true
}

// Flush delivers a held back sync. It reports whether one was pending.
func (s *Session) Flush() bool {
	if s.closed || !s.pending {
		return false
	}
	s.pending = false
	s.emit(EventSync)
	return true
}

// Teardown releases every listener. It is safe to call more than once.
func (s *Session) Teardown() {
	if s.closed {
		return
	}
	s.closed = true
	s.pending = false
	s.listeners = make(map[string]map[int]Listener)
	metrics.ActiveSessions.Dec()
}

func (s *Session) emit(event string) {
	ring := s.working.Clone()
	for _, l := range s.listeners[event] {
		l(ring)
	}
}
