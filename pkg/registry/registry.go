package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"policycrawl/pkg/metrics"
	"policycrawl/pkg/utils"
)

// Registry tracks the crawl sessions currently running in this process and
// bounds how many may run at once. Each running session gets its own cancel
// function so operators can stop one without touching the others.
type Registry struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*entry
	metrics  *metrics.Metrics
	log      *logrus.Entry
}

type entry struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Registry allowing up to capacity concurrent sessions
func New(capacity int, m *metrics.Metrics, logger *logrus.Logger) *Registry {
	return &Registry{
		capacity: capacity,
		entries:  make(map[string]*entry),
		metrics:  m,
		log:      logger.WithField("component", "session_registry"),
	}
}

// Start admits a session and launches run in its own goroutine with a
// per-session context. Returns utils.ErrCrawlCapacity when the registry is
// full and utils.ErrSessionConflict when the session is already running.
// The slot is freed automatically when run returns.
func (r *Registry) Start(sessionID string, run func(ctx context.Context)) error {
	r.mu.Lock()
	if _, exists := r.entries[sessionID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: session '%s' is already running", utils.ErrSessionConflict, sessionID)
	}
	if len(r.entries) >= r.capacity {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d of %d session slots in use", utils.ErrCrawlCapacity, len(r.entries), r.capacity)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{cancel: cancel, done: make(chan struct{})}
	r.entries[sessionID] = e
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ActiveSessions.Inc()
	}
	r.log.WithField("session_id", sessionID).Info("Session admitted to registry")

	go func() {
		defer func() {
			cancel()
			r.remove(sessionID)
			close(e.done)
		}()
		run(ctx)
	}()
	return nil
}

func (r *Registry) remove(sessionID string) {
	r.mu.Lock()
	delete(r.entries, sessionID)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ActiveSessions.Dec()
	}
	r.log.WithField("session_id", sessionID).Debug("Session removed from registry")
}

// Stop signals a running session to cancel. Returns false if the session is
// not running.
func (r *Registry) Stop(sessionID string) bool {
	r.mu.Lock()
	e, exists := r.entries[sessionID]
	r.mu.Unlock()

	if !exists {
		return false
	}
	r.log.WithField("session_id", sessionID).Info("Stop requested for session")
	e.cancel()
	return true
}

// StopAll cancels every running session and waits for them to finish
func (r *Registry) StopAll() {
	r.mu.Lock()
	waiting := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		e.cancel()
		waiting = append(waiting, e)
	}
	r.mu.Unlock()

	for _, e := range waiting {
		<-e.done
	}
}

// IsRunning reports whether a session currently occupies a slot
func (r *Registry) IsRunning(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.entries[sessionID]
	return exists
}

// Wait returns a channel closed when the session's run function returns.
// Returns nil if the session is not running.
func (r *Registry) Wait(sessionID string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, exists := r.entries[sessionID]; exists {
		return e.done
	}
	return nil
}

// Len returns the number of sessions currently running
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// List returns the IDs of all running sessions
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}
