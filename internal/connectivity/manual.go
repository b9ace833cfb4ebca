package connectivity

import (
	"sync"

	"guidesync/internal/guide"
)

// Manual is a Monitor whose state is set explicitly. Used in tests and in
// deployments where the shell app owns reachability detection and pushes
// transitions in.
type Manual struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func()
	nextID int
}

// NewManual creates a Manual monitor with the given initial state.
func NewManual(online bool) *Manual {
	return &Manual{online: online, subs: make(map[int]func())}
}

// Online reports the current state.
func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline sets the state. An offline→online transition fires all
// subscribers, sequentially, in the calling goroutine.
func (m *Manual) SetOnline(online bool) {
	m.mu.Lock()
	transition := online && !m.online
	m.online = online
	var fns []func()
	if transition {
		for _, fn := range m.subs {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	// Callbacks run outside the lock so one may subscribe/unsubscribe.
	for _, fn := range fns {
		fn()
	}
}

// Subscribe registers fn for online transitions and returns a disposer.
func (m *Manual) Subscribe(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Compile-time check that Manual implements guide.Monitor
var _ guide.Monitor = (*Manual)(nil)
