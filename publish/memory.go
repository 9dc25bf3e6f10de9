package publish

import (
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Memory keeps the last value and a bounded history per name. It is safe for
// concurrent use; readers such as the health endpoint may query it while the
// supervisor publishes.
type Memory struct {
	entries *xsync.MapOf[string, *memEntry]
	history int
}

type memEntry struct {
	mu      sync.Mutex
	last    Value
	updated time.Time
	count   uint64
	history []Value
}

var _ Sink = (*Memory)(nil)

// NewMemory returns a Memory sink keeping up to history values per name.
func NewMemory(history int) *Memory {
	return &Memory{
		entries: xsync.NewMapOf[string, *memEntry](),
		history: max(history, 0),
	}
}

func (m *Memory) Put(name string, v Value) error {
	e, _ := m.entries.LoadOrCompute(name, func() *memEntry { return &memEntry{} })

	e.mu.Lock()
	defer e.mu.Unlock()

	e.last = v
	e.updated = time.Now()
	e.count++
	if m.history > 0 {
		if len(e.history) == m.history {
			copy(e.history, e.history[1:])
			e.history = e.history[:len(e.history)-1]
		}
		e.history = append(e.history, v)
	}

	return nil
}

// Get returns the last value published under name.
func (m *Memory) Get(name string) (Value, bool) {
	e, ok := m.entries.Load(name)
	if !ok {
		return Value{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.last, true
}

// Updated returns when name was last published.
func (m *Memory) Updated(name string) (time.Time, bool) {
	e, ok := m.entries.Load(name)
	if !ok {
		return time.Time{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.updated, true
}

// History returns the retained values of name, oldest first.
func (m *Memory) History(name string) []Value {
	e, ok := m.entries.Load(name)
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]Value(nil), e.history...)
}

// Count returns how many values were published under name.
func (m *Memory) Count(name string) uint64 {
	e, ok := m.entries.Load(name)
	if !ok {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.count
}

// Names returns the published names in sorted order.
func (m *Memory) Names() []string {
	var names []string
	m.entries.Range(func(name string, _ *memEntry) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)

	return names
}

func (m *Memory) Close() error { return nil }
