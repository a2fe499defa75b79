package canvas

import "sync"

// fairMutex grants the lock in arrival order. Camera loops and readers
// share one canvas, and sync.Mutex lets a busy writer starve the others.
type fairMutex struct {
	mu      sync.Mutex
	cond    *sync.Cond
	next    uint64
	serving uint64
}

func newFairMutex() *fairMutex {
	m := &fairMutex{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *fairMutex) Lock() {
	m.mu.Lock()
	ticket := m.next
	m.next++
	for ticket != m.serving {
		m.cond.Wait()
	}
	m.mu.Unlock()
}

func (m *fairMutex) Unlock() {
	m.mu.Lock()
	m.serving++
	m.cond.Broadcast()
	m.mu.Unlock()
}

// waiting returns the number of holders plus queued lockers.
func (m *fairMutex) waiting() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next - m.serving
}
