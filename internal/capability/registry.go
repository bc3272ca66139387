// ABOUTME: Capability status registry for client UX and graceful degradation
// ABOUTME: Read-only snapshots of named subsystem health, informational only

package capability

import (
	"sort"
	"sync"
	"time"
)

// Status values for a capability.
const (
	StatusUp       = "up"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// State describes one named, independently-degradable subsystem.
// Clients read these to degrade their UX; nothing is enforced by the
// hub based on them.
type State struct {
	Name                string
	Status              string
	NotifyPolicyDefault string
	Enabled             bool
	Mode                string
	LastChangedAt       time.Time
}

// Registry holds the current capability states.
type Registry struct {
	mu    sync.RWMutex
	items map[string]State
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]State)}
}

// Set records a capability state, stamping LastChangedAt when unset.
func (r *Registry) Set(state State) {
	if state.LastChangedAt.IsZero() {
		state.LastChangedAt = time.Now().UTC().Truncate(time.Second)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[state.Name] = state
}

// Get returns the state for a capability name.
func (r *Registry) Get(name string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.items[name]
	return s, ok
}

// Snapshot returns all capability states in stable name order.
func (r *Registry) Snapshot() []State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]State, 0, len(r.items))
	for _, s := range r.items {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
