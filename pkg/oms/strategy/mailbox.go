package strategy

import (
	"context"
	"sync"

	"github.com/gammazero/deque"
	"github.com/joripage/orderexec/pkg/oms/model"
)

type controlOp int

const (
	opStart controlOp = iota
	opCancel
	opPause
	opResume
)

type control struct {
	op    controlOp
	reply chan error
}

type message struct {
	event   *model.OrderEvent
	tick    *Tick
	control *control
}

// mailbox is an unbounded FIFO. push never blocks, so an engine can post
// to its own mailbox.
type mailbox struct {
	mu     sync.Mutex
	queue  deque.Deque[message]
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) push(msg message) {
	m.mu.Lock()
	m.queue.PushBack(msg)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// pop blocks until a message is available or ctx is done.
func (m *mailbox) pop(ctx context.Context) (message, bool) {
	for {
		m.mu.Lock()
		if m.queue.Len() > 0 {
			msg := m.queue.PopFront()
			m.mu.Unlock()
			return msg, true
		}
		m.mu.Unlock()

		select {
		case <-m.signal:
		case <-ctx.Done():
			return message{}, false
		}
	}
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}
