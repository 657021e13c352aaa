package price

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/shopspring/decimal"

	"github.com/klingon-exchange/crypwallet/internal/walleterr"
	"github.com/klingon-exchange/crypwallet/pkg/logging"
)

// Defaults.
const (
	DefaultQuote           = "inr"
	DefaultTopN            = 50
	DefaultRefreshInterval = 5 * time.Minute
)

// DefaultCoins is the watch list shown on the price board.
var DefaultCoins = []string{"bitcoin", "ethereum", "binancecoin"}

// Fetcher is the price API. *Client satisfies it.
type Fetcher interface {
	SimplePrice(ctx context.Context, ids []string, quote string) (map[string]decimal.Decimal, error)
	Markets(ctx context.Context, quote string, perPage, page int) ([]Market, error)
}

// Config configures a Board.
type Config struct {
	Fetcher Fetcher
	Coins   []string
	Quote   string
	TopN    int
	Page    int
	// Ticker drives Run. Defaults to DefaultRefreshInterval.
	Ticker ticker.Ticker
	Logger *logging.Logger
}

// Update is published after a successful watch-list refresh.
type Update struct {
	Quote     string                     `json:"quote"`
	Prices    map[string]decimal.Decimal `json:"prices"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// Board keeps the last good prices. A failed lookup is logged and leaves
// the previous values in place.
type Board struct {
	fetcher Fetcher
	coins   []string
	quote   string
	topN    int
	page    int
	ticker  ticker.Ticker
	log     *logging.Logger

	mu        sync.RWMutex
	prices    map[string]decimal.Decimal
	singles   map[string]decimal.Decimal
	top       []Market
	updatedAt time.Time

	listenersMu sync.RWMutex
	listeners   map[string]chan<- Update
}

// NewBoard creates a price board.
func NewBoard(cfg *Config) *Board {
	b := &Board{
		fetcher:   cfg.Fetcher,
		coins:     cfg.Coins,
		quote:     cfg.Quote,
		topN:      cfg.TopN,
		page:      cfg.Page,
		ticker:    cfg.Ticker,
		log:       cfg.Logger,
		prices:    make(map[string]decimal.Decimal),
		singles:   make(map[string]decimal.Decimal),
		listeners: make(map[string]chan<- Update),
	}
	if len(b.coins) == 0 {
		b.coins = DefaultCoins
	}
	if b.quote == "" {
		b.quote = DefaultQuote
	}
	if b.topN <= 0 {
		b.topN = DefaultTopN
	}
	if b.page <= 0 {
		b.page = 1
	}
	if b.ticker == nil {
		b.ticker = ticker.New(DefaultRefreshInterval)
	}
	if b.log == nil {
		b.log = logging.GetDefault().Component("prices")
	}
	return b
}

// Quote returns the quote currency.
func (b *Board) Quote() string { return b.quote }

// Refresh fetches the watch list. On failure the previous prices are
// returned along with a price fetch failure.
func (b *Board) Refresh(ctx context.Context) (map[string]decimal.Decimal, error) {
	prices, err := b.fetcher.SimplePrice(ctx, b.coins, b.quote)
	if err != nil {
		b.log.Warn("Failed to fetch prices", "coins", b.coins, "error", err)
		return b.Prices(), walleterr.New(walleterr.KindPriceFetchFailure, "fetch prices", err)
	}

	now := time.Now()
	b.mu.Lock()
	b.prices = prices
	b.updatedAt = now
	b.mu.Unlock()

	b.log.Debug("Prices refreshed", "coins", len(prices), "quote", b.quote)
	b.notify(Update{Quote: b.quote, Prices: copyPrices(prices), UpdatedAt: now})
	return copyPrices(prices), nil
}

// Prices returns the last fetched watch-list prices.
func (b *Board) Prices() map[string]decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return copyPrices(b.prices)
}

// UpdatedAt returns when the watch list was last refreshed.
func (b *Board) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updatedAt
}

// Single looks up one coin. A coin the API does not know prices at zero.
func (b *Board) Single(ctx context.Context, coin string) (decimal.Decimal, error) {
	prices, err := b.fetcher.SimplePrice(ctx, []string{coin}, b.quote)
	if err != nil {
		b.log.Warn("Failed to fetch price", "coin", coin, "error", err)
		b.mu.RLock()
		prior := b.singles[coin]
		b.mu.RUnlock()
		return prior, walleterr.New(walleterr.KindPriceFetchFailure, "fetch price", err)
	}

	p := prices[coin]
	b.mu.Lock()
	b.singles[coin] = p
	b.mu.Unlock()
	return p, nil
}

// Top returns the top coins by market cap, or the previous list on failure.
func (b *Board) Top(ctx context.Context) ([]Market, error) {
	markets, err := b.fetcher.Markets(ctx, b.quote, b.topN, b.page)
	if err != nil {
		b.log.Warn("Failed to fetch markets", "error", err)
		b.mu.RLock()
		prior := append([]Market(nil), b.top...)
		b.mu.RUnlock()
		return prior, walleterr.New(walleterr.KindPriceFetchFailure, "fetch markets", err)
	}

	b.mu.Lock()
	b.top = markets
	b.mu.Unlock()
	return append([]Market(nil), markets...), nil
}

// AddListener registers ch for updates under id, replacing any previous
// channel for id. Slow listeners miss updates.
func (b *Board) AddListener(id string, ch chan<- Update) {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	b.listeners[id] = ch
}

// RemoveListener unregisters id and closes its channel.
func (b *Board) RemoveListener(id string) {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	ch, ok := b.listeners[id]
	if !ok {
		return
	}
	delete(b.listeners, id)
	close(ch)
}

func (b *Board) notify(u Update) {
	b.listenersMu.RLock()
	defer b.listenersMu.RUnlock()
	for id, ch := range b.listeners {
		select {
		case ch <- u:
		default:
			b.log.Debug("Price listener busy, dropping update", "listener", id)
		}
	}
}

// Run refreshes the watch list now and on every tick until ctx is done.
// It blocks.
func (b *Board) Run(ctx context.Context) {
	b.log.Info("Price board started", "coins", b.coins, "quote", b.quote)

	b.Refresh(ctx)

	b.ticker.Resume()
	defer b.ticker.Stop()

	for {
		select {
		case <-b.ticker.Ticks():
			b.Refresh(ctx)
		case <-ctx.Done():
			b.log.Info("Price board stopped")
			return
		}
	}
}

func copyPrices(in map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
