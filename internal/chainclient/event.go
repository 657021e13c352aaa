package chainclient

import (
	"time"

	"github.com/klingon-exchange/crypwallet/internal/reconcile"
)

// EventKind enumerates adapter events.
type EventKind int

const (
	EventDownloadStart EventKind = iota
	EventProgress
	EventDownloadComplete
	EventPeerConnected
	EventSetupComplete
	EventSetupFailed
	EventCoinsReceived
	EventBroadcastComplete
	// EventSessionReset precedes the events of a forced reload.
	EventSessionReset
	// EventRefresh asks for a reconciliation pass without a wallet mutation.
	EventRefresh
)

func (k EventKind) String() string {
	switch k {
	case EventDownloadStart:
		return "download_start"
	case EventProgress:
		return "progress"
	case EventDownloadComplete:
		return "download_complete"
	case EventPeerConnected:
		return "peer_connected"
	case EventSetupComplete:
		return "setup_complete"
	case EventSetupFailed:
		return "setup_failed"
	case EventCoinsReceived:
		return "coins_received"
	case EventBroadcastComplete:
		return "broadcast_complete"
	case EventSessionReset:
		return "session_reset"
	case EventRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

// Event is a uniform engine event. Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind

	TotalBlocks int
	Percent     float64
	BlocksSoFar int
	BlockTime   time.Time

	Peer   string
	Wallet WalletHandle

	Tx         reconcile.TransactionRecord
	NewBalance int64

	Broadcast *BroadcastHandle

	Err error
}

// Sink consumes events in submission order. Submit must not block for long.
type Sink interface {
	Submit(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event)

func (f SinkFunc) Submit(ev Event) { f(ev) }
