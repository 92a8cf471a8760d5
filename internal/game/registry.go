package game

import (
	"log"
	"sort"
	"sync"
)

// Registry holds one engine per table. Each table owns its own clock and
// round cycle; tables never share round state, which is how the platform
// scales horizontally.
type Registry struct {
	mu     sync.RWMutex
	tables map[string]*Engine
}

func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]*Engine)}
}

func (r *Registry) Register(e *Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[e.Table()] = e
}

func (r *Registry) Get(table string) (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, exists := r.tables[table]
	return e, exists
}

// Tables returns the registered table names, sorted.
func (r *Registry) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) StartAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, e := range r.tables {
		e.Start()
		log.Printf("[REGISTRY] started table %s", name)
	}
}

func (r *Registry) StopAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, e := range r.tables {
		e.Stop()
		log.Printf("[REGISTRY] stopped table %s", name)
	}
}
