package rpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/crypwallet/internal/chainclient"
	"github.com/klingon-exchange/crypwallet/internal/reconcile"
)

func dialWS(t *testing.T, ts *testServer) *websocket.Conn {
	t.Helper()

	before := ts.srv.WSHub().ClientCount()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ts.srv.Addr()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	waitFor(t, func() bool { return ts.srv.WSHub().ClientCount() == before+1 })
	return conn
}

// readEvent returns the next event of type want, skipping others.
func readEvent(t *testing.T, conn *websocket.Conn, want EventType) json.RawMessage {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", want)

		var ev struct {
			Type      EventType       `json:"type"`
			Data      json.RawMessage `json:"data"`
			Timestamp int64           `json:"timestamp"`
		}
		require.NoError(t, json.Unmarshal(msg, &ev))
		if ev.Type == want {
			assert.NotZero(t, ev.Timestamp)
			return ev.Data
		}
	}
}

func TestWebSocketLedgerEvents(t *testing.T) {
	ts := newTestServer(t)
	conn := dialWS(t, ts)

	ts.ledger.Submit(chainclient.Event{
		Kind:       chainclient.EventCoinsReceived,
		Tx:         reconcile.TransactionRecord{ID: "cafe", NetValue: 20000},
		NewBalance: 70000,
	})

	data := readEvent(t, conn, EventCoinsReceived)
	var coins struct {
		TxID              string `json:"txid"`
		Amount            int64  `json:"amount"`
		NewBalanceDisplay string `json:"new_balance_display"`
	}
	require.NoError(t, json.Unmarshal(data, &coins))
	assert.Equal(t, "cafe", coins.TxID)
	assert.Equal(t, int64(20000), coins.Amount)
	assert.Equal(t, "0.00070000 BTC", coins.NewBalanceDisplay)

	ts.ledger.Submit(chainclient.Event{Kind: chainclient.EventPeerConnected, Peer: "https://blockstream.info/testnet/api"})
	data = readEvent(t, conn, EventSyncStatus)
	var status struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(data, &status))
	assert.Equal(t, "Connected to peer. Waiting for sync...", status.Text)
}

func TestWebSocketSendResult(t *testing.T) {
	ts := newTestServer(t)
	conn := dialWS(t, ts)

	var res WalletSendResult
	require.Nil(t, ts.call(t, "wallet_send", &WalletSendParams{Address: testnetAddr, Amount: "0.0003"}, &res))

	data := readEvent(t, conn, EventSendResult)
	var result struct {
		HandleID string `json:"handle_id"`
		TxID     string `json:"txid"`
		Success  bool   `json:"success"`
	}
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, res.HandleID, result.HandleID)
	assert.Equal(t, "f00d", result.TxID)
	assert.True(t, result.Success)
}

func TestWebSocketPricesUpdated(t *testing.T) {
	ts := newTestServer(t)
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(&WSSubscription{
		Action: "subscribe",
		Events: []string{string(EventPricesUpdated)},
	}))
	// Subscription is applied asynchronously by the read pump.
	time.Sleep(50 * time.Millisecond)

	_, err := ts.board.Refresh(context.Background())
	require.NoError(t, err)

	data := readEvent(t, conn, EventPricesUpdated)
	var update struct {
		Quote  string            `json:"quote"`
		Prices map[string]string `json:"prices"`
	}
	require.NoError(t, json.Unmarshal(data, &update))
	assert.Equal(t, "inr", update.Quote)
	assert.Equal(t, "49876", update.Prices["binancecoin"])
}

func TestWSClientSubscriptions(t *testing.T) {
	c := &WSClient{subscriptions: make(map[EventType]bool)}

	assert.True(t, c.subscribed(EventSendResult), "no subscriptions means everything")

	c.handleSubscription(&WSSubscription{Action: "subscribe", Events: []string{"wallet_snapshot", "sync_status"}})
	assert.True(t, c.subscribed(EventWalletSnapshot))
	assert.False(t, c.subscribed(EventSendResult))

	c.handleSubscription(&WSSubscription{Action: "unsubscribe", Events: []string{"wallet_snapshot"}})
	assert.False(t, c.subscribed(EventWalletSnapshot))
	assert.True(t, c.subscribed(EventSyncStatus))

	c.handleSubscription(&WSSubscription{Action: "unsubscribe", Events: []string{"sync_status"}})
	assert.True(t, c.subscribed(EventSendResult))
}

func TestWebSocketHubStop(t *testing.T) {
	ts := newTestServer(t)
	conn := dialWS(t, ts)

	require.NoError(t, ts.srv.Stop())
	assert.Equal(t, 0, ts.srv.WSHub().ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
