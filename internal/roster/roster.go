// Package roster owns the shared client roster behind one explicit lock,
// replacing ad hoc synchronization around a global collection. The lock is
// internal and never held across network calls.
package roster

import "sync"

type Entry struct {
	ID   string
	Name string
	Role string
}

type Roster struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func New() *Roster {
	return &Roster{entries: make(map[string]Entry)}
}

// Register adds or replaces the entry atomically.
func (r *Roster) Register(e Entry) {
	r.mu.Lock()
	r.entries[e.ID] = e
	r.mu.Unlock()
}

// Unregister removes the entry; removing an absent id is a no-op.
func (r *Roster) Unregister(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

func (r *Roster) Get(id string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

func (r *Roster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
