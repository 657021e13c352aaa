package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/klingon-exchange/crypwallet/internal/price"
	"github.com/klingon-exchange/crypwallet/internal/walleterr"
)

var errPricesDisabled = errors.New("price board disabled")

// PricesResult is the response for prices_get. Stale is set when the last
// refresh failed and older prices are returned.
type PricesResult struct {
	Quote     string                     `json:"quote"`
	Prices    map[string]decimal.Decimal `json:"prices"`
	UpdatedAt time.Time                  `json:"updated_at"`
	Stale     bool                       `json:"stale"`
}

func (s *Server) pricesGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.prices == nil {
		return nil, errPricesDisabled
	}

	prices, err := s.prices.Refresh(ctx)
	if err != nil && len(prices) == 0 {
		return nil, err
	}
	return &PricesResult{
		Quote:     s.prices.Quote(),
		Prices:    prices,
		UpdatedAt: s.prices.UpdatedAt(),
		Stale:     err != nil,
	}, nil
}

// PricesSingleParams is the parameters for prices_single.
type PricesSingleParams struct {
	Coin string `json:"coin"`
}

// PricesSingleResult is the response for prices_single.
type PricesSingleResult struct {
	Coin  string          `json:"coin"`
	Quote string          `json:"quote"`
	Price decimal.Decimal `json:"price"`
	Stale bool            `json:"stale"`
}

func (s *Server) pricesSingle(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.prices == nil {
		return nil, errPricesDisabled
	}

	var p PricesSingleParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	if p.Coin == "" {
		return nil, walleterr.New(walleterr.KindInvalidInput, "prices_single", fmt.Errorf("coin is required"))
	}

	value, err := s.prices.Single(ctx, p.Coin)
	if err != nil && value.IsZero() {
		return nil, err
	}
	return &PricesSingleResult{
		Coin:  p.Coin,
		Quote: s.prices.Quote(),
		Price: value,
		Stale: err != nil,
	}, nil
}

// PricesTopResult is the response for prices_top.
type PricesTopResult struct {
	Quote   string         `json:"quote"`
	Markets []price.Market `json:"markets"`
	Stale   bool           `json:"stale"`
}

func (s *Server) pricesTop(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.prices == nil {
		return nil, errPricesDisabled
	}

	markets, err := s.prices.Top(ctx)
	if err != nil && len(markets) == 0 {
		return nil, err
	}
	return &PricesTopResult{
		Quote:   s.prices.Quote(),
		Markets: markets,
		Stale:   err != nil,
	}, nil
}
