package schedule

import "sync"

// runGuard serializes generation runs per (group, week) key. It is a logical
// lock, not a queue: a second caller is rejected outright.
type runGuard struct {
	mu     *sync.Mutex
	active map[string]struct{}
}

func newRunGuard() runGuard {
	return runGuard{mu: &sync.Mutex{}, active: make(map[string]struct{})}
}

// acquire reports whether the key was free and is now held.
func (g runGuard) acquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[key]; busy {
		return false
	}
	g.active[key] = struct{}{}
	return true
}

func (g runGuard) release(key string) {
	g.mu.Lock()
	delete(g.active, key)
	g.mu.Unlock()
}
