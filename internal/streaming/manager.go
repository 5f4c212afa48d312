// Package streaming provides in-memory pub/sub for session progress
// events, with per-session replay and an optional Redis Streams mirror.
package streaming

import (
	"encoding/json"
	"sync"
	"time"
)

// Stage identifies where in the research loop an event originated.
type Stage string

const (
	StageSessionStarted    Stage = "session_started"
	StageSourceFiltering   Stage = "source_filtering"
	StageClarifierChecking Stage = "clarifier_checking"
	StageAnalystAnalyzing  Stage = "analyst_analyzing"
	StageGapSearchStarted  Stage = "gap_search_started"
	StageGapSearchDone     Stage = "gap_search_done"
	StageChainAnalyzing    Stage = "chain_analyzing"
	StageCriticReviewing   Stage = "critic_reviewing"
	StageWriterPlanning    Stage = "writer_planning"
	StageWriterComposing   Stage = "writer_composing"
	StageGuardValidating   Stage = "guard_validating"
	StageDegraded          Stage = "degraded"
	StageComplete          Stage = "complete"
	StageFailed            Stage = "failed"
)

// Event is one progress update for a session.
type Event struct {
	SessionID       string    `json:"session_id"`
	Stage           Stage     `json:"stage"`
	Iteration       int       `json:"iteration,omitempty"`
	TotalIterations int       `json:"total_iterations,omitempty"`
	Message         string    `json:"message,omitempty"`
	Progress        float64   `json:"progress,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	Seq             uint64    `json:"seq"`
}

// Marshal returns the event as JSON for NDJSON or SSE payloads.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Manager fans events out to subscribers and keeps a bounded history
// per session for replay.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	global      map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
}

const defaultCapacity = 256

// NewManager returns a manager with the given replay capacity per
// session. capacity <= 0 uses the default.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		global:      make(map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe adds a subscriber channel for a session; the caller must
// drain it and call Unsubscribe.
func (m *Manager) Subscribe(sessionID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[sessionID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[sessionID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(sessionID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[sessionID]; ok {
		if _, member := subs[ch]; !member {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(m.subscribers, sessionID)
		}
	}
}

// SubscribeAll adds a subscriber that receives every session's
// events. Used by single-session transports that do not know the
// session id up front.
func (m *Manager) SubscribeAll(buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	m.global[ch] = struct{}{}
	m.mu.Unlock()
	return ch
}

// UnsubscribeAll removes a global subscriber and closes it.
func (m *Manager) UnsubscribeAll(ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.global[ch]; ok {
		delete(m.global, ch)
		close(ch)
	}
}

// Publish assigns a sequence number, records the event, and sends it
// to all subscribers without blocking. Slow subscribers drop events;
// they can recover via ReplaySince.
func (m *Manager) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	m.mu.Lock()
	rg := m.history[evt.SessionID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[evt.SessionID] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)
	subs := m.subscribers[evt.SessionID]
	targets := make([]chan Event, 0, len(subs)+len(m.global))
	for ch := range subs {
		targets = append(targets, ch)
	}
	for ch := range m.global {
		targets = append(targets, ch)
	}
	m.mu.Unlock()
	for _, ch := range targets {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ReplaySince returns buffered events with Seq > since, best effort
// within ring capacity.
func (m *Manager) ReplaySince(sessionID string, since uint64) []Event {
	m.mu.RLock()
	rg := m.history[sessionID]
	m.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops a session's history and closes any remaining
// subscribers. Call it when a session finishes.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, sessionID)
	for ch := range m.subscribers[sessionID] {
		close(ch)
	}
	delete(m.subscribers, sessionID)
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
