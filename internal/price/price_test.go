package price

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/crypwallet/internal/walleterr"
)

// fakeGecko serves the two price endpoints. While failing is set every
// request gets a 500.
type fakeGecko struct {
	failing  atomic.Bool
	limited  atomic.Bool
	requests atomic.Int32
}

func (f *fakeGecko) server(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/simple/price", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("vs_currencies") != "inr" {
			http.Error(w, "bad quote", http.StatusBadRequest)
			return
		}
		switch q.Get("ids") {
		case "bitcoin,ethereum,binancecoin":
			fmt.Fprint(w, `{"bitcoin":{"inr":5612345.12},"ethereum":{"inr":281234.5},"binancecoin":{"inr":49876}}`)
		case "bitcoin":
			fmt.Fprint(w, `{"bitcoin":{"inr":5612345.12}}`)
		default:
			fmt.Fprint(w, `{}`)
		}
	})
	mux.HandleFunc("/coins/markets", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("order") != "market_cap_desc" || q.Get("sparkline") != "false" ||
			q.Get("per_page") != "50" || q.Get("page") != "1" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `[{"id":"bitcoin","current_price":5612345.12,"symbol":"btc"},{"id":"ethereum","current_price":281234.5}]`)
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		if f.limited.Load() {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		if f.failing.Load() {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestBoard(t *testing.T) (*Board, *fakeGecko) {
	t.Helper()
	fg := &fakeGecko{}
	srv := fg.server(t)
	return NewBoard(&Config{Fetcher: NewClient(srv.URL+"/", time.Second)}), fg
}

func TestClientSimplePrice(t *testing.T) {
	fg := &fakeGecko{}
	c := NewClient(fg.server(t).URL, time.Second)

	prices, err := c.SimplePrice(context.Background(), DefaultCoins, "inr")
	require.NoError(t, err)
	require.Len(t, prices, 3)
	assert.Equal(t, "5612345.12", prices["bitcoin"].String())
	assert.Equal(t, "49876", prices["binancecoin"].String())
}

func TestClientMarkets(t *testing.T) {
	fg := &fakeGecko{}
	c := NewClient(fg.server(t).URL, time.Second)

	markets, err := c.Markets(context.Background(), "inr", 50, 1)
	require.NoError(t, err)
	require.Len(t, markets, 2)
	assert.Equal(t, "bitcoin", markets[0].ID)
	assert.True(t, markets[1].CurrentPrice.Equal(decimal.RequireFromString("281234.5")))
}

func TestClientErrors(t *testing.T) {
	fg := &fakeGecko{}
	c := NewClient(fg.server(t).URL, time.Second)
	ctx := context.Background()

	fg.limited.Store(true)
	_, err := c.SimplePrice(ctx, DefaultCoins, "inr")
	assert.ErrorIs(t, err, ErrRateLimited)

	fg.limited.Store(false)
	fg.failing.Store(true)
	_, err = c.Markets(ctx, "inr", 50, 1)
	assert.ErrorContains(t, err, "500")
}

func TestBoardDefaults(t *testing.T) {
	b := NewBoard(&Config{Fetcher: NewClient("", 0)})
	assert.Equal(t, DefaultCoins, b.coins)
	assert.Equal(t, "inr", b.Quote())
	assert.Equal(t, 50, b.topN)
	assert.Equal(t, 1, b.page)
}

func TestBoardRefreshKeepsPriorOnFailure(t *testing.T) {
	b, fg := newTestBoard(t)
	ctx := context.Background()

	prices, err := b.Refresh(ctx)
	require.NoError(t, err)
	require.Len(t, prices, 3)
	updated := b.UpdatedAt()
	assert.False(t, updated.IsZero())

	fg.failing.Store(true)
	prices, err = b.Refresh(ctx)
	require.Error(t, err)
	assert.True(t, walleterr.IsKind(err, walleterr.KindPriceFetchFailure))
	assert.Len(t, prices, 3)
	assert.Equal(t, "5612345.12", b.Prices()["bitcoin"].String())
	assert.Equal(t, updated, b.UpdatedAt())
}

func TestBoardSingle(t *testing.T) {
	b, fg := newTestBoard(t)
	ctx := context.Background()

	p, err := b.Single(ctx, "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, "5612345.12", p.String())

	p, err = b.Single(ctx, "no-such-coin")
	require.NoError(t, err)
	assert.True(t, p.IsZero())

	fg.failing.Store(true)
	p, err = b.Single(ctx, "bitcoin")
	assert.True(t, walleterr.IsKind(err, walleterr.KindPriceFetchFailure))
	assert.Equal(t, "5612345.12", p.String())
}

func TestBoardTop(t *testing.T) {
	b, fg := newTestBoard(t)
	ctx := context.Background()

	_, err := b.Top(ctx)
	require.NoError(t, err)

	fg.failing.Store(true)
	markets, err := b.Top(ctx)
	assert.True(t, walleterr.IsKind(err, walleterr.KindPriceFetchFailure))
	require.Len(t, markets, 2)
	assert.Equal(t, "ethereum", markets[1].ID)
}

func TestBoardTopFailureWithoutPrior(t *testing.T) {
	b, fg := newTestBoard(t)
	fg.failing.Store(true)

	markets, err := b.Top(context.Background())
	assert.Error(t, err)
	assert.Empty(t, markets)
}

func TestBoardRunNotifiesListeners(t *testing.T) {
	fg := &fakeGecko{}
	srv := fg.server(t)
	tick := ticker.NewForce(time.Hour)
	b := NewBoard(&Config{Fetcher: NewClient(srv.URL, time.Second), Ticker: tick})

	updates := make(chan Update, 4)
	b.AddListener("test", updates)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	select {
	case u := <-updates:
		assert.Equal(t, "inr", u.Quote)
		assert.Len(t, u.Prices, 3)
	case <-time.After(5 * time.Second):
		t.Fatal("no initial update")
	}

	tick.Force <- time.Now()
	select {
	case <-updates:
	case <-time.After(5 * time.Second):
		t.Fatal("no update after tick")
	}

	cancel()
	<-done

	b.RemoveListener("test")
	_, open := <-updates
	assert.False(t, open)
	b.RemoveListener("test")
}
