// Package ledger holds the wallet's derived state and is its single writer.
//
// All adapter events are funneled through one ordered queue into a single
// worker goroutine. The worker drives the sync state machine, runs
// reconciliation passes one at a time, and fans published values out to
// subscribers in the order they were produced.
package ledger

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/queue"

	"github.com/klingon-exchange/crypwallet/internal/chainclient"
	"github.com/klingon-exchange/crypwallet/internal/reconcile"
	"github.com/klingon-exchange/crypwallet/internal/syncstate"
	"github.com/klingon-exchange/crypwallet/pkg/helpers"
	"github.com/klingon-exchange/crypwallet/pkg/logging"
)

// ErrShuttingDown is returned once the ledger has been stopped.
var ErrShuttingDown = errors.New("ledger shutting down")

const queueBuffer = 20

// Ledger is the single point of truth observers read from.
type Ledger struct {
	started atomic.Bool
	stopped atomic.Bool

	events  *queue.ConcurrentQueue
	clients chan *clientUpdate

	// Owned by the worker goroutine.
	machine     *syncstate.Machine
	wallet      chainclient.WalletHandle
	seq         uint64
	subscribers map[uint64]*Subscription

	snapshot  atomic.Pointer[Snapshot]
	status    atomic.Pointer[SyncStatus]
	lastCoins atomic.Pointer[CoinsReceived]

	clientCounter atomic.Uint64

	log  *logging.Logger
	now  func() time.Time
	quit chan struct{}
	wg   sync.WaitGroup
}

// Config configures a Ledger.
type Config struct {
	Logger *logging.Logger
	// Now stamps snapshots; defaults to time.Now.
	Now func() time.Time
}

// New creates a stopped ledger holding an empty snapshot.
func New(cfg *Config) *Ledger {
	if cfg == nil {
		cfg = &Config{}
	}
	log := cfg.Logger
	if log == nil {
		log = logging.GetDefault()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	l := &Ledger{
		events:      queue.NewConcurrentQueue(queueBuffer),
		clients:     make(chan *clientUpdate),
		machine:     syncstate.NewMachine(),
		subscribers: make(map[uint64]*Subscription),
		log:         log.Component("ledger"),
		now:         now,
		quit:        make(chan struct{}),
	}

	l.snapshot.Store(&Snapshot{
		BalanceDisplay: helpers.FormatBalance(0),
		Transactions:   []reconcile.TransactionItem{},
		UpdatedAt:      now(),
	})
	l.status.Store(newSyncStatus(l.machine.State()))

	return l
}

// Start launches the worker.
func (l *Ledger) Start() error {
	if !l.started.CompareAndSwap(false, true) {
		return nil
	}

	l.events.Start()

	l.wg.Add(1)
	go l.run()

	l.log.Info("Ledger started")
	return nil
}

// Stop halts the worker and closes every subscription.
func (l *Ledger) Stop() error {
	if !l.stopped.CompareAndSwap(false, true) {
		return nil
	}

	close(l.quit)
	l.wg.Wait()
	l.events.Stop()

	l.log.Info("Ledger stopped")
	return nil
}

// Submit enqueues an event. Events are handled in submission order.
func (l *Ledger) Submit(ev chainclient.Event) {
	select {
	case l.events.ChanIn() <- ev:
	case <-l.quit:
	}
}

// Refresh queues a reconciliation pass.
func (l *Ledger) Refresh() {
	l.Submit(chainclient.Event{Kind: chainclient.EventRefresh})
}

// Snapshot returns the latest published snapshot.
func (l *Ledger) Snapshot() *Snapshot {
	return l.snapshot.Load()
}

// Status returns the latest published sync status.
func (l *Ledger) Status() *SyncStatus {
	return l.status.Load()
}

// LastCoinsReceived returns the latest coins-received notice, or nil.
func (l *Ledger) LastCoinsReceived() *CoinsReceived {
	return l.lastCoins.Load()
}

func (l *Ledger) run() {
	defer l.wg.Done()

	for {
		select {
		case item := <-l.events.ChanOut():
			ev, ok := item.(chainclient.Event)
			if !ok {
				continue
			}
			l.handle(ev)

		case upd := <-l.clients:
			l.handleClient(upd)

		case <-l.quit:
			for id, sub := range l.subscribers {
				sub.updates.Stop()
				close(sub.quit)
				delete(l.subscribers, id)
			}
			return
		}
	}
}

func (l *Ledger) handle(ev chainclient.Event) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("Recovered from panic handling event", "event", ev.Kind, "panic", r)
		}
	}()

	l.log.Debug("Handling event", "event", ev.Kind)

	switch ev.Kind {
	case chainclient.EventSessionReset:
		l.machine.Reset()
		l.wallet = nil
		l.publishStatus()

	case chainclient.EventDownloadStart:
		if l.machine.DownloadStarted(ev.TotalBlocks) {
			l.log.Info("Sync starting", "blocks", ev.TotalBlocks)
			l.publishStatus()
		}

	case chainclient.EventProgress:
		if l.machine.Progress(ev.Percent, ev.BlocksSoFar) {
			l.log.Debug("Sync progress", "percent", ev.Percent, "blocks", ev.BlocksSoFar)
			l.publishStatus()
		}

	case chainclient.EventDownloadComplete:
		changed := l.machine.DownloadComplete()
		l.log.Info("Sync completed")
		if l.reconcileAndCheck() {
			changed = true
		}
		if changed {
			l.publishStatus()
		}

	case chainclient.EventPeerConnected:
		if l.machine.PeerConnected() {
			l.publishStatus()
		}

	case chainclient.EventSetupComplete:
		l.wallet = ev.Wallet
		if l.reconcileAndCheck() {
			l.publishStatus()
		}

	case chainclient.EventSetupFailed:
		msg := "wallet setup failed"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		l.publish(&SetupFailure{Error: msg})

	case chainclient.EventCoinsReceived:
		notice := &CoinsReceived{
			TxID:              ev.Tx.ID,
			Amount:            ev.Tx.NetValue,
			NewBalance:        ev.NewBalance,
			NewBalanceDisplay: helpers.FormatBalance(ev.NewBalance),
		}
		l.log.Info("Coins received", "txid", notice.TxID, "balance", notice.NewBalanceDisplay)
		l.lastCoins.Store(notice)
		l.publish(notice)
		if l.reconcileAndCheck() {
			l.publishStatus()
		}

	case chainclient.EventBroadcastComplete:
		l.handleBroadcast(ev.Broadcast)

	case chainclient.EventRefresh:
		if l.reconcileAndCheck() {
			l.publishStatus()
		}

	default:
		l.log.Warn("Unknown event", "kind", ev.Kind)
	}
}

func (l *Ledger) handleBroadcast(h *chainclient.BroadcastHandle) {
	if h == nil {
		return
	}

	txid, err := h.Result()
	if err != nil {
		// The snapshot is left as it was.
		l.log.Warn("Broadcast failed", "handle", h.ID(), "error", err)
		l.publish(&SendResult{HandleID: h.ID(), Error: err.Error()})
		return
	}

	l.log.Info("Broadcast complete", "txid", txid)
	l.publish(&SendResult{HandleID: h.ID(), TxID: txid, Success: true})
	if l.reconcileAndCheck() {
		l.publishStatus()
	}
}

// reconcileAndCheck runs a pass and then the ready check. It reports whether
// the sync state changed.
func (l *Ledger) reconcileAndCheck() bool {
	view, ok := l.reconcile()
	if !ok {
		return false
	}
	return l.machine.CheckReady(view.Consistent, view.LastBlockSeenHeight)
}

func (l *Ledger) reconcile() (chainclient.WalletView, bool) {
	if l.wallet == nil {
		return chainclient.WalletView{}, false
	}

	view := l.wallet.View()
	res := reconcile.Reconcile(view.ReconcileInput())

	l.seq++
	snap := &Snapshot{
		Seq:            l.seq,
		Address:        res.Address,
		Balance:        view.Balance,
		BalanceDisplay: helpers.FormatBalance(view.Balance),
		Transactions:   res.Items,
		UpdatedAt:      l.now(),
	}

	l.log.Debug("Reconciled wallet",
		"seq", snap.Seq,
		"address", snap.Address,
		"balance", snap.BalanceDisplay,
		"txs", len(snap.Transactions),
	)
	for _, tx := range view.Transactions {
		l.log.Debug("Wallet tx", "txid", tx.ID, "value", tx.NetValue, "timestamp", tx.Timestamp)
	}

	l.snapshot.Store(snap)
	l.publish(snap)
	return view, true
}

func (l *Ledger) publishStatus() {
	st := newSyncStatus(l.machine.State())
	l.status.Store(st)
	l.log.Debug("Sync status", "text", st.Text)
	l.publish(st)
}

func (l *Ledger) publish(u Update) {
	for _, sub := range l.subscribers {
		select {
		case sub.updates.ChanIn() <- u:
		case <-sub.quit:
		case <-l.quit:
			return
		}
	}
}
