// Package engine is the chain synchronization engine behind the wallet. It
// keeps an HD wallet's addresses and transactions indexed in sqlite and
// follows the chain through a block explorer backend.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/klingon-exchange/crypwallet/internal/backend"
	"github.com/klingon-exchange/crypwallet/internal/chain"
	"github.com/klingon-exchange/crypwallet/internal/chainclient"
	"github.com/klingon-exchange/crypwallet/internal/storage"
	"github.com/klingon-exchange/crypwallet/internal/wallet"
	"github.com/klingon-exchange/crypwallet/pkg/logging"
	"github.com/klingon-exchange/crypwallet/pkg/retrier"
)

// Defaults.
const (
	DefaultPollInterval = 30 * time.Second
	DefaultHeaderBatch  = 2016
	DefaultGapLimit     = 20
)

const settingNetwork = "network"

var (
	ErrNotSetUp           = errors.New("engine not set up")
	ErrAlreadyStarted     = errors.New("engine already started")
	ErrNotRunning         = errors.New("engine not running")
	ErrCheckpointMismatch = errors.New("checkpoint does not match explorer chain")
	ErrNetworkMismatch    = errors.New("wallet data belongs to another network")
	ErrInvalidAmount      = errors.New("amount must be positive")
)

// Config configures an Engine.
type Config struct {
	DataDir string
	Params  *chain.Params
	Backend backend.Backend

	// Password decrypts the seed file. Passphrase is the optional BIP39
	// passphrase.
	Password        string
	Passphrase      string
	CreateIfMissing bool
	// OnWalletCreated receives the mnemonic of a freshly generated wallet.
	OnWalletCreated func(mnemonic string)

	GapLimit     uint32
	HeaderBatch  int
	PollInterval time.Duration
	// PollTicker overrides the ticker built from PollInterval.
	PollTicker ticker.Ticker

	Clock        clock.Clock
	RetryOptions []retrier.Option
	Logger       *logging.Logger
}

// Engine implements chainclient.ChainClient.
type Engine struct {
	cfg   Config
	log   *logging.Logger
	clock clock.Clock
	retry *retrier.Retrier

	mu         sync.Mutex
	wallet     *wallet.Wallet
	store      *storage.Storage
	checkpoint Checkpoint
	onSetup    chainclient.SetupListener
	download   chainclient.DownloadListener
	onPeer     func(peer string)
	onCoins    []chainclient.CoinsReceivedListener
	started    bool

	// indexMu serializes writers of the address and transaction index.
	indexMu sync.Mutex

	tip     atomic.Int64
	running atomic.Bool
	ready   chan struct{}
	runErr  error

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ chainclient.ChainClient = (*Engine)(nil)

// New creates an engine. Nothing touches disk or network until Setup.
func New(cfg *Config) (*Engine, error) {
	if cfg.Params == nil {
		return nil, fmt.Errorf("chain params required")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("explorer backend required")
	}

	c := *cfg
	if c.GapLimit == 0 {
		c.GapLimit = DefaultGapLimit
	}
	if c.HeaderBatch <= 0 {
		c.HeaderBatch = DefaultHeaderBatch
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Clock == nil {
		c.Clock = clock.NewDefaultClock()
	}
	if c.Logger == nil {
		c.Logger = logging.GetDefault().Component("engine")
	}

	e := &Engine{
		cfg:   c,
		log:   c.Logger,
		clock: c.Clock,
	}
	opts := append([]retrier.Option{
		retrier.WithRetryable(transient),
		retrier.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			e.log.Warn("Explorer request failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		}),
	}, c.RetryOptions...)
	e.retry = retrier.New(opts...)

	return e, nil
}

// transient reports whether an explorer error is worth retrying.
func transient(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, backend.ErrTxNotFound),
		errors.Is(err, backend.ErrAddressNotFound),
		errors.Is(err, backend.ErrBlockNotFound),
		errors.Is(err, backend.ErrBroadcastFailed),
		errors.Is(err, ErrCheckpointMismatch):
		return false
	}
	return true
}

// Setup opens the seed and the index and reads the checkpoints.
func (e *Engine) Setup(checkpoints io.Reader, listener chainclient.SetupListener) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store != nil {
		return fmt.Errorf("engine already set up")
	}

	cps, err := ParseCheckpoints(checkpoints)
	if err != nil {
		return err
	}
	cp := Latest(cps)

	ks := wallet.NewKeystore(storage.Dir(e.cfg.DataDir), e.cfg.Params)
	w, mnemonic, err := ks.LoadOrCreate(e.cfg.Password, e.cfg.Passphrase, e.cfg.CreateIfMissing)
	if err != nil {
		return fmt.Errorf("open wallet: %w", err)
	}
	if mnemonic != "" {
		e.log.Info("Created new wallet", "seed", ks.SeedPath())
		if e.cfg.OnWalletCreated != nil {
			e.cfg.OnWalletCreated(mnemonic)
		}
	}

	store, err := storage.New(&storage.Config{DataDir: e.cfg.DataDir})
	if err != nil {
		w.ClearCache()
		return fmt.Errorf("open index: %w", err)
	}
	if err := bindNetwork(store, e.cfg.Params.Network); err != nil {
		store.Close()
		w.ClearCache()
		return err
	}

	e.wallet = w
	e.store = store
	e.checkpoint = cp
	e.onSetup = listener

	e.log.Info("Engine set up",
		"network", e.cfg.Params.Network,
		"index", store.Path(),
		"checkpoint", cp.Height,
	)
	return nil
}

// bindNetwork records network in a fresh index and rejects an index written
// for another one.
func bindNetwork(store *storage.Storage, network chain.Network) error {
	v, ok, err := store.GetSetting(settingNetwork)
	if err != nil {
		return fmt.Errorf("read network setting: %w", err)
	}
	if ok {
		if v != string(network) {
			return fmt.Errorf("%w: index is %s, engine is %s", ErrNetworkMismatch, v, network)
		}
		return nil
	}
	return store.SetSetting(settingNetwork, string(network))
}

// SetDownloadListener sets the block download listener.
func (e *Engine) SetDownloadListener(l chainclient.DownloadListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.download = l
}

// OnPeerConnected sets the callback fired once the explorer answers.
func (e *Engine) OnPeerConnected(fn func(peer string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onPeer = fn
}

// AddCoinsReceivedListener adds a listener for incoming transactions.
func (e *Engine) AddCoinsReceivedListener(fn chainclient.CoinsReceivedListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCoins = append(e.onCoins, fn)
}

// StartAsync starts the engine goroutine.
func (e *Engine) StartAsync() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store == nil {
		return ErrNotSetUp
	}
	if e.started {
		return ErrAlreadyStarted
	}
	e.started = true
	e.ready = make(chan struct{})
	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.wg.Add(1)
	go e.run(e.ctx)
	return nil
}

// AwaitRunning blocks until the engine has connected and verified its
// checkpoint, or failed to.
func (e *Engine) AwaitRunning(ctx context.Context) error {
	e.mu.Lock()
	ready := e.ready
	e.mu.Unlock()

	if ready == nil {
		return ErrNotSetUp
	}
	select {
	case <-ready:
		return e.runErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wallet returns the wallet handle once running.
func (e *Engine) Wallet() chainclient.WalletHandle {
	if !e.running.Load() {
		return nil
	}
	return &walletHandle{e: e}
}

// Close stops the engine and releases the index.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		cancel := e.cancel
		e.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		e.wg.Wait()
		e.running.Store(false)

		e.mu.Lock()
		defer e.mu.Unlock()
		if e.wallet != nil {
			e.wallet.ClearCache()
		}
		if e.store != nil {
			err = e.store.Close()
		}
		e.log.Info("Engine closed")
	})
	return err
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	err := e.start(ctx)
	e.runErr = err
	if err == nil {
		e.running.Store(true)
	}
	close(e.ready)
	if err != nil {
		e.log.Error("Engine failed to start", "error", err)
		return
	}

	e.mu.Lock()
	onSetup, onPeer := e.onSetup, e.onPeer
	e.mu.Unlock()

	if onSetup != nil {
		onSetup(&walletHandle{e: e})
	}
	if onPeer != nil {
		onPeer(e.cfg.Backend.URL())
	}

	synced := e.syncOnce(ctx)

	t := e.cfg.PollTicker
	if t == nil {
		t = ticker.New(e.cfg.PollInterval)
	}
	t.Resume()
	defer t.Stop()

	for {
		select {
		case <-t.Ticks():
			if !synced {
				synced = e.syncOnce(ctx)
				continue
			}
			if err := e.poll(ctx); err != nil && ctx.Err() == nil {
				e.log.Warn("Poll failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// start connects the backend and checks it serves the checkpoint's chain.
func (e *Engine) start(ctx context.Context) error {
	b := e.cfg.Backend
	if err := e.retry.Do(ctx, b.Connect); err != nil {
		return fmt.Errorf("connect explorer %s: %w", b.URL(), err)
	}

	if cp := e.checkpoint; cp.Hash != "" {
		hash, err := retrier.DoWithData(e.retry, ctx, func(ctx context.Context) (string, error) {
			return b.GetBlockHash(ctx, cp.Height)
		})
		if err != nil {
			return fmt.Errorf("verify checkpoint %d: %w", cp.Height, err)
		}
		if hash != cp.Hash {
			return fmt.Errorf("%w: block %d is %s, want %s", ErrCheckpointMismatch, cp.Height, hash, cp.Hash)
		}
	}

	e.indexMu.Lock()
	defer e.indexMu.Unlock()
	if _, err := e.address(storage.ChangeExternal, 0); err != nil {
		return fmt.Errorf("derive first address: %w", err)
	}
	return nil
}

func (e *Engine) syncOnce(ctx context.Context) bool {
	if err := e.initialDownload(ctx); err != nil {
		if ctx.Err() == nil {
			e.log.Error("Initial sync failed", "error", err)
		}
		return false
	}
	return true
}

func (e *Engine) downloadListener() chainclient.DownloadListener {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.download == nil {
		return nopDownload{}
	}
	return e.download
}

func (e *Engine) coinsListeners() []chainclient.CoinsReceivedListener {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]chainclient.CoinsReceivedListener(nil), e.onCoins...)
}

type nopDownload struct{}

func (nopDownload) StartDownload(int)                {}
func (nopDownload) Progress(float64, int, time.Time) {}
func (nopDownload) DoneDownload()                    {}
