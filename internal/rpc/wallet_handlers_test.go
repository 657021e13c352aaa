package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/crypwallet/internal/chainclient"
	"github.com/klingon-exchange/crypwallet/internal/ledger"
	"github.com/klingon-exchange/crypwallet/internal/reconcile"
	"github.com/klingon-exchange/crypwallet/pkg/helpers"
)

func TestWalletLoad(t *testing.T) {
	ts := newTestServer(t)

	var res WalletLoadResult
	require.Nil(t, ts.call(t, "wallet_load", nil, &res))
	assert.True(t, res.Started)
	assert.Equal(t, "loading", res.State)

	res = WalletLoadResult{}
	require.Nil(t, ts.call(t, "wallet_load", map[string]bool{"force": false}, &res))
	assert.False(t, res.Started)

	res = WalletLoadResult{}
	require.Nil(t, ts.call(t, "wallet_load", map[string]bool{"force": true}, &res))
	assert.True(t, res.Started)
}

func TestWalletStatus(t *testing.T) {
	ts := newTestServer(t)

	var res WalletStatusResult
	require.Nil(t, ts.call(t, "wallet_status", nil, &res))
	assert.Equal(t, Version, res.Version)
	assert.Equal(t, "testnet", res.Network)
	assert.Equal(t, "idle", res.Engine)
	require.NotNil(t, res.Sync)
	assert.Equal(t, "Waiting for wallet...", res.Sync.Text)
	assert.Nil(t, res.LastCoins)
}

func TestWalletSnapshotEmpty(t *testing.T) {
	ts := newTestServer(t)

	var snap ledger.Snapshot
	require.Nil(t, ts.call(t, "wallet_snapshot", nil, &snap))
	assert.Equal(t, uint64(0), snap.Seq)
	assert.Equal(t, helpers.FormatBalance(0), snap.BalanceDisplay)
	assert.Empty(t, snap.Transactions)
}

func loadWallet(t *testing.T, ts *testServer) {
	t.Helper()

	w := &staticWallet{view: chainclient.WalletView{
		IssuedReceiveAddresses: []string{"tb1qreceive0"},
		CurrentReceiveAddress:  "tb1qreceive0",
		Balance:                60000,
		Consistent:             true,
		Transactions: []reconcile.TransactionRecord{
			{ID: "t1", NetValue: 50000, Timestamp: 1000, Outputs: []reconcile.Output{{Address: "tb1qreceive0", Value: 50000}}},
			{ID: "t2", NetValue: 20000, Timestamp: 3000, Outputs: []reconcile.Output{{Address: "tb1qreceive0", Value: 20000}}},
			{ID: "t3", NetValue: -10000, Timestamp: 2000, Outputs: []reconcile.Output{{Address: testnetAddr, Value: 9800}}},
		},
	}}
	ts.ledger.Submit(chainclient.Event{Kind: chainclient.EventSetupComplete, Wallet: w})
	waitFor(t, func() bool { return ts.ledger.Snapshot().Seq > 0 })
}

func TestWalletSnapshotAfterSetup(t *testing.T) {
	ts := newTestServer(t)
	loadWallet(t, ts)

	var snap ledger.Snapshot
	require.Nil(t, ts.call(t, "wallet_snapshot", nil, &snap))
	assert.Equal(t, "tb1qreceive0", snap.Address)
	assert.Equal(t, int64(60000), snap.Balance)
	require.Len(t, snap.Transactions, 3)
	assert.Equal(t, "t2", snap.Transactions[0].AddressOrHash)
	assert.Equal(t, "+0.00020000", snap.Transactions[0].Amount)
	assert.Equal(t, testnetAddr, snap.Transactions[1].Counterparty)
}

func TestWalletTransactionsPaging(t *testing.T) {
	ts := newTestServer(t)
	loadWallet(t, ts)

	var res WalletTransactionsResult
	require.Nil(t, ts.call(t, "wallet_transactions", map[string]int{"offset": 1, "limit": 1}, &res))
	assert.Equal(t, 3, res.Total)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, "t3", res.Transactions[0].AddressOrHash)

	res = WalletTransactionsResult{}
	require.Nil(t, ts.call(t, "wallet_transactions", map[string]int{"offset": 10}, &res))
	assert.Empty(t, res.Transactions)
	assert.Equal(t, 3, res.Total)

	rpcErr := ts.call(t, "wallet_transactions", map[string]int{"limit": -1}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, InvalidParams, rpcErr.Code)
}

func TestWalletSend(t *testing.T) {
	ts := newTestServer(t)

	var res WalletSendResult
	require.Nil(t, ts.call(t, "wallet_send", &WalletSendParams{Address: testnetAddr, Amount: "0.0001", Wait: true}, &res))
	assert.NotEmpty(t, res.HandleID)
	assert.Equal(t, "f00d", res.TxID)
	assert.False(t, res.Pending)

	res = WalletSendResult{}
	require.Nil(t, ts.call(t, "wallet_send", &WalletSendParams{Address: testnetAddr, Amount: "0.0001"}, &res))
	assert.True(t, res.Pending)
	assert.Empty(t, res.TxID)
}

func TestWalletSendInvalid(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		params *WalletSendParams
	}{
		{"empty address", &WalletSendParams{Address: "", Amount: "0.0001"}},
		{"wrong network", &WalletSendParams{Address: mainnetAddr, Amount: "0.0001"}},
		{"zero amount", &WalletSendParams{Address: testnetAddr, Amount: "0"}},
		{"too precise", &WalletSendParams{Address: testnetAddr, Amount: "0.000000001"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rpcErr := ts.call(t, "wallet_send", tt.params, nil)
			require.NotNil(t, rpcErr)
			assert.Equal(t, InvalidParams, rpcErr.Code)
		})
	}
}

func TestWalletSendBroadcastFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.payer.err = errors.New("txn-mempool-conflict")

	rpcErr := ts.call(t, "wallet_send", &WalletSendParams{Address: testnetAddr, Amount: "0.0001", Wait: true}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, BroadcastFailed, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "txn-mempool-conflict")
}

func TestWalletAddressInfo(t *testing.T) {
	ts := newTestServer(t)

	var info struct {
		Address string `json:"address"`
		TxCount int64  `json:"tx_count"`
		Balance uint64 `json:"balance"`
	}
	require.Nil(t, ts.call(t, "wallet_addressInfo", &WalletAddressParams{Address: testnetAddr}, &info))
	assert.Equal(t, testnetAddr, info.Address)
	assert.Equal(t, int64(2), info.TxCount)
	assert.Equal(t, uint64(50000), info.Balance)

	rpcErr := ts.call(t, "wallet_addressInfo", &WalletAddressParams{Address: mainnetAddr}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, InvalidParams, rpcErr.Code)
}

func TestWalletAddressTxs(t *testing.T) {
	ts := newTestServer(t)

	var res WalletAddressTxsResult
	require.Nil(t, ts.call(t, "wallet_addressTxs", &WalletAddressParams{Address: testnetAddr}, &res))
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, "aa", res.Transactions[0].TxID)

	res = WalletAddressTxsResult{}
	require.Nil(t, ts.call(t, "wallet_addressTxs", &WalletAddressParams{Address: testnetAddr, LastSeenTxID: "bb"}, &res))
	assert.Equal(t, 0, res.Count)
	assert.NotNil(t, res.Transactions)
}

func TestWalletHandlersNotConfigured(t *testing.T) {
	s := NewServer(&Config{Ledger: ledger.New(nil)})
	ctx := context.Background()

	_, err := s.walletLoad(ctx, nil)
	assert.Error(t, err)

	_, err = s.walletSend(ctx, json.RawMessage(`{}`))
	assert.Error(t, err)

	_, err = s.walletAddressInfo(ctx, json.RawMessage(`{"address":"`+testnetAddr+`"}`))
	assert.Error(t, err)

	res, err := s.walletStatus(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, res.(*WalletStatusResult).Engine)
}
