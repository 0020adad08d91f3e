package calendar

import (
	"context"
	"fmt"
	"sync"

	"calmirror/internal/ics"
)

// MemoryClient is an in-memory Client used by tests and dry runs. It mimics
// a real backend's habit of assigning its own identifiers on create when
// RewriteUIDs is set.
type MemoryClient struct {
	id          string
	RewriteUIDs bool

	mu     sync.Mutex
	events map[string]string
	order  []string
	serial int

	// Operation counters for assertions.
	Creates  int
	Modifies int
	Removes  int
}

// NewMemoryClient returns an empty in-memory calendar.
func NewMemoryClient(id string) *MemoryClient {
	return &MemoryClient{id: id, events: make(map[string]string)}
}

// ID implements Client.
func (m *MemoryClient) ID() string { return m.id }

// FetchAll implements Client, returning events in insertion order.
func (m *MemoryClient) FetchAll(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.order))
	for _, uid := range m.order {
		out = append(out, m.events[uid])
	}
	return out, nil
}

// Create implements Client.
func (m *MemoryClient) Create(_ context.Context, text string) (string, error) {
	ev, err := ics.Parse(text)
	if err != nil {
		return "", fmt.Errorf("calendar %s: create: %w", m.id, err)
	}
	uid := ev.UID()
	if uid == "" {
		return "", fmt.Errorf("calendar %s: create: event has no UID", m.id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RewriteUIDs {
		m.serial++
		uid = fmt.Sprintf("%s-assigned-%d", m.id, m.serial)
		ev.SetUID(uid)
		text = ev.Serialize()
	}
	if _, exists := m.events[uid]; exists {
		return "", fmt.Errorf("calendar %s: create: uid %s already exists", m.id, uid)
	}
	m.events[uid] = text
	m.order = append(m.order, uid)
	m.Creates++
	return uid, nil
}

// Modify implements Client.
func (m *MemoryClient) Modify(_ context.Context, text string) error {
	ev, err := ics.Parse(text)
	if err != nil {
		return fmt.Errorf("calendar %s: modify: %w", m.id, err)
	}
	uid := ev.UID()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.events[uid]; !exists {
		return notFound(m.id, uid)
	}
	m.events[uid] = text
	m.Modifies++
	return nil
}

// Remove implements Client.
func (m *MemoryClient) Remove(_ context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.events[uid]; !exists {
		return notFound(m.id, uid)
	}
	delete(m.events, uid)
	for i, u := range m.order {
		if u == uid {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.Removes++
	return nil
}

// Fetch implements Client.
func (m *MemoryClient) Fetch(_ context.Context, uid string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text, exists := m.events[uid]
	if !exists {
		return "", notFound(m.id, uid)
	}
	return text, nil
}

// Len returns the number of stored events.
func (m *MemoryClient) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// ResetCounters zeroes the operation counters between test phases.
func (m *MemoryClient) ResetCounters() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Creates, m.Modifies, m.Removes = 0, 0, 0
}
