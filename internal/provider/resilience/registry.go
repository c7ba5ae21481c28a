package resilience

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Health is a point-in-time view of one upstream client. Zero times mean
// the event has not happened since the client was registered.
type Health struct {
	Name        string
	State       gobreaker.State
	Counts      gobreaker.Counts
	LastSuccess time.Time
	LastFailure time.Time
	LastError   string
}

// Healthy reports whether requests currently flow through the breaker.
func (h Health) Healthy() bool { return h.State == gobreaker.StateClosed }

// Registry tracks the upstream clients a process talks to so the ops status
// endpoint can report them.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*entry
	now     func() time.Time
}

type entry struct {
	client      *Client
	lastSuccess time.Time
	lastFailure time.Time
	lastError   string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*entry), now: time.Now}
}

// Register adds client under name, replacing any earlier client of that name.
func (r *Registry) Register(name string, client *Client) {
	r.mu.Lock()
	r.clients[name] = &entry{client: client}
	r.mu.Unlock()
}

// RecordSuccess notes a successful call. Unknown names are ignored.
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.clients[name]; ok {
		e.lastSuccess = r.now()
	}
}

// RecordFailure notes a failed call and keeps its message.
func (r *Registry) RecordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.clients[name]; ok {
		e.lastFailure = r.now()
		if err != nil {
			e.lastError = err.Error()
		}
	}
}

// Health returns the view of one client.
func (r *Registry) Health(name string) (Health, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.clients[name]
	if !ok {
		return Health{}, false
	}
	return e.health(name), true
}

// Snapshot returns every registered client ordered by name.
func (r *Registry) Snapshot() []Health {
	r.mu.RLock()
	out := make([]Health, 0, len(r.clients))
	for name, e := range r.clients {
		out = append(out, e.health(name))
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Health) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (e *entry) health(name string) Health {
	return Health{
		Name:        name,
		State:       e.client.CircuitBreakerState(),
		Counts:      e.client.CircuitBreakerCounts(),
		LastSuccess: e.lastSuccess,
		LastFailure: e.lastFailure,
		LastError:   e.lastError,
	}
}
