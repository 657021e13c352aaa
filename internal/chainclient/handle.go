package chainclient

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// BroadcastHandle tracks one outgoing payment until its broadcast settles.
type BroadcastHandle struct {
	id   string
	done chan struct{}
	once sync.Once

	txid string
	err  error
}

// NewBroadcastHandle returns a pending handle.
func NewBroadcastHandle() *BroadcastHandle {
	return &BroadcastHandle{
		id:   uuid.New().String(),
		done: make(chan struct{}),
	}
}

// ID identifies the handle to observers before a txid exists.
func (h *BroadcastHandle) ID() string { return h.id }

// Complete settles the handle. Later calls are ignored.
func (h *BroadcastHandle) Complete(txid string, err error) {
	h.once.Do(func() {
		h.txid = txid
		h.err = err
		close(h.done)
	})
}

// Done is closed once the handle settles.
func (h *BroadcastHandle) Done() <-chan struct{} { return h.done }

// Result blocks until the handle settles and returns its outcome.
func (h *BroadcastHandle) Result() (string, error) {
	<-h.done
	return h.txid, h.err
}

// Wait blocks until the handle settles or ctx ends.
func (h *BroadcastHandle) Wait(ctx context.Context) (string, error) {
	select {
	case <-h.done:
		return h.txid, h.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
