package capture

import (
	"context"
	"sync"
)

// MailboxStats counts mailbox traffic.
type MailboxStats struct {
	Published uint64 `json:"published"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// Mailbox is a single-slot buffer with overwrite semantics: Publish never
// blocks and replaces an unconsumed frame, Receive blocks for the next one.
type Mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *Frame
	err    error
	closed bool

	stats MailboxStats
}

// NewMailbox returns an open, empty mailbox.
func NewMailbox() *Mailbox {
	m := &Mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Publish stores f, dropping any frame not yet received. It reports
// whether a frame was dropped.
func (m *Mailbox) Publish(f *Frame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	m.stats.Published++
	dropped := m.frame != nil
	if dropped {
		m.stats.Dropped++
	}
	m.frame = f
	m.cond.Signal()
	return dropped
}

// Fail closes the mailbox with err. A pending frame is still delivered
// before the error.
func (m *Mailbox) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.err = err
	m.cond.Broadcast()
}

// Close is Fail(ErrSourceClosed).
func (m *Mailbox) Close() {
	m.Fail(ErrSourceClosed)
}

// Receive waits for a frame. It returns ctx.Err() when ctx is done and the
// close error once the mailbox is closed and drained.
func (m *Mailbox) Receive(ctx context.Context) (*Frame, error) {
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	for m.frame == nil && !m.closed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.frame != nil {
		f := m.frame
		m.frame = nil
		m.stats.Delivered++
		return f, nil
	}
	return nil, m.err
}

// Stats returns a copy of the counters.
func (m *Mailbox) Stats() MailboxStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
