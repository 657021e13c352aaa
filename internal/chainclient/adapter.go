package chainclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/klingon-exchange/crypwallet/internal/reconcile"
	"github.com/klingon-exchange/crypwallet/internal/walleterr"
	"github.com/klingon-exchange/crypwallet/pkg/logging"
)

// ErrNotRunning is returned when an operation needs a running engine.
var ErrNotRunning = errors.New("wallet engine not running")

// State is the adapter lifecycle state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// AdapterConfig configures an Adapter.
type AdapterConfig struct {
	NewClient   Factory
	Checkpoints CheckpointSource
	Sink        Sink
	Logger      *logging.Logger
}

// Adapter owns the engine lifecycle. Setup is single-flight: Load starts at
// most one setup at a time and is a no-op while a wallet is loading or
// running unless forced.
//
// Every engine callback is tagged with the generation of the setup that
// registered it, so callbacks from a torn-down engine never reach the sink.
type Adapter struct {
	newClient   Factory
	checkpoints CheckpointSource
	sink        Sink
	log         *logging.Logger

	mu       sync.Mutex
	state    State
	client   ChainClient
	gen      uint64
	cancel   context.CancelFunc
	peerSeen bool
}

// NewAdapter creates an idle adapter.
func NewAdapter(cfg *AdapterConfig) *Adapter {
	log := cfg.Logger
	if log == nil {
		log = logging.GetDefault()
	}
	return &Adapter{
		newClient:   cfg.NewClient,
		checkpoints: cfg.Checkpoints,
		sink:        cfg.Sink,
		log:         log.Component("adapter"),
	}
}

// Load starts engine setup on its own goroutine and reports whether a setup
// was started. With force set, any previous engine is torn down first and
// observers see EventSessionReset before the new session's events.
//
// The setup outlives ctx's cancellation but keeps its values.
func (a *Adapter) Load(ctx context.Context, force bool) bool {
	a.mu.Lock()
	if a.state != StateIdle && !force {
		state := a.state
		a.mu.Unlock()
		a.log.Debug("Load ignored", "state", state)
		return false
	}

	old, oldCancel := a.client, a.cancel
	a.client = nil
	a.gen++
	gen := a.gen
	a.peerSeen = false
	a.state = StateLoading

	setupCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	if force {
		a.sink.Submit(Event{Kind: EventSessionReset})
	}
	a.mu.Unlock()

	if oldCancel != nil {
		oldCancel()
	}
	if old != nil {
		a.log.Info("Tearing down previous wallet engine")
		if err := old.Close(); err != nil {
			a.log.Warn("Failed to close previous engine", "error", err)
		}
	}

	a.log.Info("Loading wallet", "force", force, "generation", gen)
	go a.setup(setupCtx, gen)
	return true
}

func (a *Adapter) setup(ctx context.Context, gen uint64) {
	defer func() {
		if r := recover(); r != nil {
			a.fail(gen, fmt.Errorf("panic during setup: %v", r))
		}
	}()

	start := time.Now()

	client, err := a.newClient()
	if err != nil {
		a.fail(gen, fmt.Errorf("create engine: %w", err))
		return
	}
	if !a.attach(gen, client) {
		client.Close()
		return
	}

	cp, err := a.checkpoints()
	if err != nil {
		a.fail(gen, fmt.Errorf("open checkpoints: %w", err))
		return
	}
	defer cp.Close()

	client.SetDownloadListener(&downloadRelay{a: a, gen: gen})
	client.OnPeerConnected(func(peer string) { a.peerConnected(gen, peer) })
	client.AddCoinsReceivedListener(func(tx reconcile.TransactionRecord, newBalance int64) {
		a.emit(gen, Event{Kind: EventCoinsReceived, Tx: tx, NewBalance: newBalance})
	})

	err = client.Setup(cp, func(w WalletHandle) {
		a.emit(gen, Event{Kind: EventSetupComplete, Wallet: w})
	})
	if err != nil {
		a.fail(gen, fmt.Errorf("setup engine: %w", err))
		return
	}
	if err := client.StartAsync(); err != nil {
		a.fail(gen, fmt.Errorf("start engine: %w", err))
		return
	}
	if err := client.AwaitRunning(ctx); err != nil {
		a.fail(gen, fmt.Errorf("await engine: %w", err))
		return
	}

	a.mu.Lock()
	if a.gen == gen {
		a.state = StateRunning
	}
	a.mu.Unlock()

	a.log.Info("Wallet engine running", "took", time.Since(start).Round(time.Millisecond))
}

// attach records client as the engine for gen. It fails if a newer Load has
// superseded gen.
func (a *Adapter) attach(gen uint64, client ChainClient) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen != gen {
		return false
	}
	a.client = client
	return true
}

// fail converts a setup error into a SetupFailure event and resets the guard
// so a later Load can retry.
func (a *Adapter) fail(gen uint64, err error) {
	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		a.log.Debug("Dropping failure from superseded setup", "generation", gen, "error", err)
		return
	}
	client := a.client
	a.client = nil
	a.state = StateIdle
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.sink.Submit(Event{
		Kind: EventSetupFailed,
		Err:  walleterr.New(walleterr.KindSetupFailure, "load wallet", err),
	})
	a.mu.Unlock()

	a.log.Error("Wallet setup failed", "error", err)
	if client != nil {
		if cerr := client.Close(); cerr != nil {
			a.log.Warn("Failed to close engine after setup failure", "error", cerr)
		}
	}
}

// emit forwards ev unless gen has been superseded. Holding mu across Submit
// keeps a stale event from landing after a session reset.
func (a *Adapter) emit(gen uint64, ev Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen != gen {
		return
	}
	a.sink.Submit(ev)
}

func (a *Adapter) peerConnected(gen uint64, peer string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen != gen || a.peerSeen {
		return
	}
	a.peerSeen = true
	a.log.Info("Connected to peer", "peer", peer)
	a.sink.Submit(Event{Kind: EventPeerConnected, Peer: peer})
}

// SendPayment asks the running engine to pay sats to address.
func (a *Adapter) SendPayment(ctx context.Context, address string, sats int64) (*BroadcastHandle, error) {
	a.mu.Lock()
	client, state := a.client, a.state
	a.mu.Unlock()

	if state != StateRunning || client == nil {
		return nil, ErrNotRunning
	}
	return client.SendPayment(ctx, address, sats)
}

// Wallet returns the running engine's wallet, or nil.
func (a *Adapter) Wallet() WalletHandle {
	a.mu.Lock()
	client, state := a.client, a.state
	a.mu.Unlock()

	if state != StateRunning || client == nil {
		return nil
	}
	return client.Wallet()
}

// State returns the lifecycle state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Close tears down the engine.
func (a *Adapter) Close() error {
	a.mu.Lock()
	client, cancel := a.client, a.cancel
	a.client = nil
	a.cancel = nil
	a.state = StateIdle
	a.gen++
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil {
		return client.Close()
	}
	return nil
}

type downloadRelay struct {
	a   *Adapter
	gen uint64
}

func (r *downloadRelay) StartDownload(blocks int) {
	r.a.emit(r.gen, Event{Kind: EventDownloadStart, TotalBlocks: blocks})
}

func (r *downloadRelay) Progress(pct float64, blocksSoFar int, blockTime time.Time) {
	r.a.emit(r.gen, Event{Kind: EventProgress, Percent: pct, BlocksSoFar: blocksSoFar, BlockTime: blockTime})
}

func (r *downloadRelay) DoneDownload() {
	r.a.emit(r.gen, Event{Kind: EventDownloadComplete})
}
