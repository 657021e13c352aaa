package ledger

import (
	"github.com/lightningnetwork/lnd/queue"
)

// Subscription receives every published Update in order. A new subscription
// first receives the current snapshot and sync status.
type Subscription struct {
	id      uint64
	updates *queue.ConcurrentQueue
	quit    chan struct{}
	cancel  func()
}

// Updates delivers Update values.
func (s *Subscription) Updates() <-chan interface{} {
	return s.updates.ChanOut()
}

// Quit is closed when the subscription ends.
func (s *Subscription) Quit() <-chan struct{} {
	return s.quit
}

// Cancel ends the subscription.
func (s *Subscription) Cancel() {
	s.cancel()
}

type clientUpdate struct {
	cancel bool
	id     uint64
	sub    *Subscription
}

// Subscribe registers a new subscriber.
func (l *Ledger) Subscribe() (*Subscription, error) {
	id := l.clientCounter.Add(1)

	sub := &Subscription{
		id:      id,
		updates: queue.NewConcurrentQueue(queueBuffer),
		quit:    make(chan struct{}),
	}
	sub.cancel = func() {
		select {
		case l.clients <- &clientUpdate{cancel: true, id: id}:
		case <-l.quit:
		}
	}

	select {
	case l.clients <- &clientUpdate{id: id, sub: sub}:
	case <-l.quit:
		return nil, ErrShuttingDown
	}

	return sub, nil
}

func (l *Ledger) handleClient(upd *clientUpdate) {
	if upd.cancel {
		if sub, ok := l.subscribers[upd.id]; ok {
			sub.updates.Stop()
			close(sub.quit)
			delete(l.subscribers, upd.id)
		}
		return
	}

	upd.sub.updates.Start()
	l.subscribers[upd.id] = upd.sub

	upd.sub.updates.ChanIn() <- l.snapshot.Load()
	upd.sub.updates.ChanIn() <- l.status.Load()

	l.log.Debug("Subscriber added", "id", upd.id, "subscribers", len(l.subscribers))
}
