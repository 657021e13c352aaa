package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klingon-exchange/crypwallet/internal/backend"
	"github.com/klingon-exchange/crypwallet/internal/ledger"
	"github.com/klingon-exchange/crypwallet/internal/reconcile"
	"github.com/klingon-exchange/crypwallet/internal/send"
	"github.com/klingon-exchange/crypwallet/internal/walleterr"
)

// ========================================
// Wallet lifecycle handlers
// ========================================

// WalletLoadParams is the parameters for wallet_load.
type WalletLoadParams struct {
	Force bool `json:"force"`
}

// WalletLoadResult is the response for wallet_load.
type WalletLoadResult struct {
	Started bool   `json:"started"`
	State   string `json:"state"`
}

func (s *Server) walletLoad(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.loader == nil {
		return nil, fmt.Errorf("wallet engine not configured")
	}

	var p WalletLoadParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}

	started := s.loader.Load(ctx, p.Force)
	return &WalletLoadResult{
		Started: started,
		State:   s.loader.State().String(),
	}, nil
}

// WalletStatusResult is the response for wallet_status.
type WalletStatusResult struct {
	Version   string                `json:"version"`
	Network   string                `json:"network"`
	Engine    string                `json:"engine"`
	Sync      *ledger.SyncStatus    `json:"sync"`
	LastCoins *ledger.CoinsReceived `json:"last_coins_received,omitempty"`
	Uptime    string                `json:"uptime"`
	WSClients int                   `json:"ws_clients"`
}

func (s *Server) walletStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	result := &WalletStatusResult{
		Version:   Version,
		Sync:      s.ledger.Status(),
		LastCoins: s.ledger.LastCoinsReceived(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		WSClients: s.wsHub.ClientCount(),
	}
	if s.params != nil {
		result.Network = string(s.params.Network)
	}
	if s.loader != nil {
		result.Engine = s.loader.State().String()
	}
	return result, nil
}

func (s *Server) walletSnapshot(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return s.ledger.Snapshot(), nil
}

// WalletTransactionsParams is the parameters for wallet_transactions.
type WalletTransactionsParams struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// WalletTransactionsResult is the response for wallet_transactions.
type WalletTransactionsResult struct {
	Seq          uint64                      `json:"seq"`
	Transactions []reconcile.TransactionItem `json:"transactions"`
	Total        int                         `json:"total"`
}

func (s *Server) walletTransactions(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p WalletTransactionsParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	if p.Offset < 0 || p.Limit < 0 {
		return nil, walleterr.New(walleterr.KindInvalidInput, "wallet_transactions",
			fmt.Errorf("offset and limit must not be negative"))
	}

	snap := s.ledger.Snapshot()
	items := snap.Transactions
	total := len(items)

	start := min(p.Offset, total)
	end := total
	if p.Limit > 0 {
		end = min(start+p.Limit, total)
	}

	return &WalletTransactionsResult{
		Seq:          snap.Seq,
		Transactions: items[start:end],
		Total:        total,
	}, nil
}

// ========================================
// Send handlers
// ========================================

// WalletSendParams is the parameters for wallet_send.
type WalletSendParams struct {
	Address string `json:"address"`
	// Amount is a BTC decimal string, e.g. "0.0001".
	Amount string `json:"amount"`
	// Wait holds the call until the broadcast settles.
	Wait bool `json:"wait"`
}

// WalletSendResult is the response for wallet_send.
type WalletSendResult struct {
	HandleID string `json:"handle_id"`
	TxID     string `json:"txid,omitempty"`
	Pending  bool   `json:"pending"`
}

func (s *Server) walletSend(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.sender == nil {
		return nil, fmt.Errorf("send coordinator not configured")
	}

	var p WalletSendParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}

	h, err := s.sender.Send(ctx, p.Address, p.Amount)
	if err != nil {
		return nil, err
	}

	result := &WalletSendResult{HandleID: h.ID(), Pending: true}
	if !p.Wait {
		return result, nil
	}

	txid, err := h.Wait(ctx)
	if err != nil {
		return nil, walleterr.New(walleterr.KindBroadcastFailure, "wallet_send", err)
	}
	result.TxID = txid
	result.Pending = false
	return result, nil
}

// ========================================
// Explorer handlers
// ========================================

// WalletAddressParams is the parameters for wallet_addressInfo and
// wallet_addressTxs.
type WalletAddressParams struct {
	Address string `json:"address"`
	// LastSeenTxID pages wallet_addressTxs past confirmed history.
	LastSeenTxID string `json:"last_seen_txid,omitempty"`
}

// WalletAddressTxsResult is the response for wallet_addressTxs.
type WalletAddressTxsResult struct {
	Address      string                `json:"address"`
	Transactions []backend.Transaction `json:"transactions"`
	Count        int                   `json:"count"`
}

func (s *Server) addressParams(params json.RawMessage) (*WalletAddressParams, error) {
	if s.explorer == nil || s.params == nil {
		return nil, fmt.Errorf("explorer not configured")
	}

	var p WalletAddressParams
	if err := parseParams(params, &p); err != nil {
		return nil, err
	}
	if err := send.ValidateAddress(p.Address, s.params.ChainCfg()); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Server) walletAddressInfo(ctx context.Context, params json.RawMessage) (interface{}, error) {
	p, err := s.addressParams(params)
	if err != nil {
		return nil, err
	}

	info, err := s.explorer.GetAddressInfo(ctx, p.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to get address info: %w", err)
	}
	return info, nil
}

func (s *Server) walletAddressTxs(ctx context.Context, params json.RawMessage) (interface{}, error) {
	p, err := s.addressParams(params)
	if err != nil {
		return nil, err
	}

	txs, err := s.explorer.GetAddressTxs(ctx, p.Address, p.LastSeenTxID)
	if err != nil {
		return nil, fmt.Errorf("failed to get address transactions: %w", err)
	}
	if txs == nil {
		txs = []backend.Transaction{}
	}
	return &WalletAddressTxsResult{
		Address:      p.Address,
		Transactions: txs,
		Count:        len(txs),
	}, nil
}
