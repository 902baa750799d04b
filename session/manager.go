// Package session keeps one map view per client, bounded by count and idle
// time.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"web/clustermap/logger"
	"web/clustermap/mapview"
	"web/clustermap/metrics"
)

// Factory builds the view for a new session.
type Factory func() (*mapview.MapView, error)

type entry struct {
	view         *mapview.MapView
	lastAccessed time.Time
}

// Manager holds at most max views. A new session past the limit evicts the
// least recently used one; a background sweep closes views idle for longer
// than idle.
type Manager struct {
	factory Factory
	max     int
	idle    time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewManager(factory Factory, maxSessions int, idle time.Duration) *Manager {
	if maxSessions <= 0 {
		maxSessions = 1
	}
	m := &Manager{
		factory:  factory,
		max:      maxSessions,
		idle:     idle,
		now:      time.Now,
		sessions: make(map[string]*entry),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.cleanupInactive()
	return m
}

func (m *Manager) cleanupInactive() {
	defer close(m.done)
	if m.idle <= 0 {
		<-m.stop
		return
	}
	interval := m.idle / 6
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				logger.L().Info("sessions_expired", "count", n)
			}
		}
	}
}

// Get returns the view for id, creating a session under a fresh id when id
// is empty or unknown. The returned id is the one to hand back to the client.
func (m *Manager) Get(id string) (string, *mapview.MapView, error) {
	m.mu.Lock()
	if e, ok := m.sessions[id]; ok {
		e.lastAccessed = m.now()
		m.mu.Unlock()
		return id, e.view, nil
	}
	m.mu.Unlock()

	view, err := m.factory()
	if err != nil {
		return "", nil, err
	}
	id = uuid.NewString()

	var evicted *mapview.MapView
	m.mu.Lock()
	if len(m.sessions) >= m.max {
		evicted = m.evictOldestLocked()
	}
	m.sessions[id] = &entry{view: view, lastAccessed: m.now()}
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	if evicted != nil {
		evicted.Close()
	}
	logger.L().Debug("session_created", "session", id)
	return id, view, nil
}

func (m *Manager) evictOldestLocked() *mapview.MapView {
	var oldestID string
	var oldestTime time.Time
	first := true
	for id, e := range m.sessions {
		if first || e.lastAccessed.Before(oldestTime) {
			oldestID, oldestTime = id, e.lastAccessed
			first = false
		}
	}
	if oldestID == "" {
		return nil
	}
	view := m.sessions[oldestID].view
	delete(m.sessions, oldestID)
	logger.L().Debug("session_evicted", "session", oldestID)
	return view
}

// Lookup returns the view for id without creating one.
func (m *Manager) Lookup(id string) (*mapview.MapView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastAccessed = m.now()
	return e.view, true
}

// Each calls fn for every session, in id order, outside the manager lock.
func (m *Manager) Each(fn func(id string, view *mapview.MapView)) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	views := make(map[string]*mapview.MapView, len(m.sessions))
	for id, e := range m.sessions {
		ids = append(ids, id)
		views[id] = e.view
	}
	m.mu.Unlock()

	sort.Strings(ids)
	for _, id := range ids {
		fn(id, views[id])
	}
}

func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		metrics.ActiveSessions.Set(float64(len(m.sessions)))
	}
	m.mu.Unlock()
	if ok {
		e.view.Close()
	}
	return ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes the views idle for longer than the idle timeout and returns
// how many it closed.
func (m *Manager) Sweep() int {
	if m.idle <= 0 {
		return 0
	}
	m.mu.Lock()
	now := m.now()
	var expired []*mapview.MapView
	for id, e := range m.sessions {
		if now.Sub(e.lastAccessed) > m.idle {
			expired = append(expired, e.view)
			delete(m.sessions, id)
		}
	}
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	for _, v := range expired {
		v.Close()
	}
	return len(expired)
}

// Close stops the sweep and closes every view.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*entry)
	metrics.ActiveSessions.Set(0)
	m.mu.Unlock()

	for _, e := range sessions {
		e.view.Close()
	}
}
