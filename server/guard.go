package server

import (
	"errors"
	"sync"
)

// ErrBusy is returned when an identifier already has a request in flight.
var ErrBusy = errors.New("request already in progress")

// Guard allows one in-flight request per identifier. A second request is
// rejected, not queued.
type Guard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewGuard creates an empty Guard.
func NewGuard() *Guard {
	return &Guard{active: make(map[string]struct{})}
}

// Acquire marks id as busy. The returned release must be called when the
// request finishes; it is safe to call more than once.
func (g *Guard) Acquire(id string) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.active[id]; busy {
		return nil, ErrBusy
	}
	g.active[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, id)
			g.mu.Unlock()
		})
	}, nil
}

// Busy reports whether id has a request in flight.
func (g *Guard) Busy(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.active[id]
	return busy
}
