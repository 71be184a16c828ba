package engine

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"livecap/internal/models"
)

// outbox delivers one session's notifications to its client in order. The
// queue is unbounded: a slow client makes it grow instead of losing packets.
type outbox struct {
	client Client
	log    *log.Entry

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []models.WSMessage
	closed bool
	done   chan struct{}
}

func newOutbox(client Client, entry *log.Entry) *outbox {
	o := &outbox{
		client: client,
		log:    entry,
		done:   make(chan struct{}),
	}
	o.cond = sync.NewCond(&o.mu)
	go o.run()
	return o
}

// push queues msg. Messages pushed after close are dropped.
func (o *outbox) push(msg models.WSMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.queue = append(o.queue, msg)
	o.cond.Signal()
}

// close lets the queue drain and then stops delivery.
func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.cond.Signal()
}

// pending returns the number of undelivered messages.
func (o *outbox) pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

func (o *outbox) run() {
	defer close(o.done)
	failed := false
	for {
		o.mu.Lock()
		for len(o.queue) == 0 && !o.closed {
			o.cond.Wait()
		}
		if len(o.queue) == 0 {
			o.mu.Unlock()
			return
		}
		batch := o.queue
		o.queue = nil
		o.mu.Unlock()

		if o.client == nil || failed {
			continue
		}
		for _, msg := range batch {
			if err := o.client.SendMessage(msg); err != nil {
				// The client is gone; keep draining so producers never block.
				o.log.WithError(err).Debug("client stopped accepting notifications")
				failed = true
				break
			}
		}
	}
}
