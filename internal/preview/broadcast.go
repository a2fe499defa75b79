package preview

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	ErrBroadcasterClosed = errors.New("preview: broadcaster closed")
	ErrReceiverClosed    = errors.New("preview: receiver closed")
)

// BroadcastStats counts encoded frames handed to stream clients.
type BroadcastStats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

// Broadcaster hands the newest encoded frame to every subscriber. A client
// that falls behind skips straight to the latest frame.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Receiver
	closed      bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[string]*Receiver)}
}

// Subscribe registers a new client under a random id.
func (b *Broadcaster) Subscribe() (string, *Receiver, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", nil, ErrBroadcasterClosed
	}
	id := uuid.NewString()
	r := newReceiver(&b.dropped)
	b.subscribers[id] = r
	return id, r, nil
}

// Unsubscribe removes and closes the client. Unknown ids are ignored.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r, ok := b.subscribers[id]; ok {
		r.close()
		delete(b.subscribers, id)
	}
}

// Subscribers returns the number of connected clients.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Publish replaces the pending frame of every subscriber.
func (b *Broadcaster) Publish(frame []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)
	for _, r := range b.subscribers {
		r.set(frame)
	}
}

// Close ends every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, r := range b.subscribers {
		r.close()
	}
	b.subscribers = nil
}

func (b *Broadcaster) Stats() BroadcastStats {
	return BroadcastStats{
		Subscribers: b.Subscribers(),
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
	}
}

// Receiver holds at most one pending frame for a single client.
type Receiver struct {
	mu      sync.Mutex
	cond    *sync.Cond
	frame   []byte
	pending bool
	closed  bool
	dropped *atomic.Uint64
}

func newReceiver(dropped *atomic.Uint64) *Receiver {
	r := &Receiver{dropped: dropped}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *Receiver) set(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if r.pending {
		r.dropped.Add(1)
	}
	r.frame = frame
	r.pending = true
	r.cond.Signal()
}

func (r *Receiver) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.cond.Broadcast()
}

// Receive blocks until a frame newer than the last one received arrives.
func (r *Receiver) Receive(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	for !r.pending && !r.closed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.closed {
		return nil, ErrReceiverClosed
	}
	r.pending = false
	return r.frame, nil
}
