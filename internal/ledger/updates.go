package ledger

import (
	"time"

	"github.com/klingon-exchange/crypwallet/internal/reconcile"
	"github.com/klingon-exchange/crypwallet/internal/syncstate"
)

// Update is a value published to subscribers. Published values are never
// mutated.
type Update interface {
	// EventName is the observer-facing event name.
	EventName() string
}

// Snapshot is the derived wallet state after one reconciliation pass.
type Snapshot struct {
	Seq            uint64                      `json:"seq"`
	Address        string                      `json:"address"`
	Balance        int64                       `json:"balance"`
	BalanceDisplay string                      `json:"balance_display"`
	Transactions   []reconcile.TransactionItem `json:"transactions"`
	UpdatedAt      time.Time                   `json:"updated_at"`
}

func (*Snapshot) EventName() string { return "wallet_snapshot" }

// SyncStatus is the published sync state.
type SyncStatus struct {
	State    syncstate.State `json:"state"`
	Text     string          `json:"text"`
	Progress float64         `json:"progress"`
}

func (*SyncStatus) EventName() string { return "sync_status" }

func newSyncStatus(st syncstate.State) *SyncStatus {
	return &SyncStatus{
		State:    st,
		Text:     st.StatusText(),
		Progress: st.Fraction(),
	}
}

// CoinsReceived reports a transaction that paid the wallet.
type CoinsReceived struct {
	TxID              string `json:"txid"`
	Amount            int64  `json:"amount"`
	NewBalance        int64  `json:"new_balance"`
	NewBalanceDisplay string `json:"new_balance_display"`
}

func (*CoinsReceived) EventName() string { return "coins_received" }

// SendResult reports how a broadcast settled.
type SendResult struct {
	HandleID string `json:"handle_id"`
	TxID     string `json:"txid,omitempty"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

func (*SendResult) EventName() string { return "send_result" }

// SetupFailure reports a failed wallet load.
type SetupFailure struct {
	Error string `json:"error"`
}

func (*SetupFailure) EventName() string { return "setup_failed" }
