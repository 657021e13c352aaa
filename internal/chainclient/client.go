// Package chainclient wraps a chain synchronization engine behind a
// single-flight adapter that turns the engine's callbacks into an ordered
// stream of Events.
package chainclient

import (
	"context"
	"io"
	"time"

	"github.com/klingon-exchange/crypwallet/internal/reconcile"
)

// DownloadListener receives block download progress from the engine.
type DownloadListener interface {
	StartDownload(blocks int)
	Progress(pct float64, blocksSoFar int, blockTime time.Time)
	DoneDownload()
}

// SetupListener is invoked once the engine has loaded its wallet.
type SetupListener func(w WalletHandle)

// CoinsReceivedListener is invoked for each newly seen transaction that pays
// the wallet.
type CoinsReceivedListener func(tx reconcile.TransactionRecord, newBalance int64)

// ChainClient is the chain synchronization engine.
type ChainClient interface {
	// Setup reads checkpoints and prepares the engine. The listener fires
	// once, on an engine goroutine, when the wallet is available.
	Setup(checkpoints io.Reader, listener SetupListener) error
	SetDownloadListener(l DownloadListener)
	OnPeerConnected(fn func(peer string))
	AddCoinsReceivedListener(fn CoinsReceivedListener)

	StartAsync() error
	AwaitRunning(ctx context.Context) error

	Wallet() WalletHandle
	SendPayment(ctx context.Context, address string, sats int64) (*BroadcastHandle, error)
	Close() error
}

// WalletHandle is the engine-owned wallet. Readers obtain an immutable view
// per use and never hold engine structures.
type WalletHandle interface {
	View() WalletView
	Network() string
}

// WalletView is a point-in-time copy of the wallet state.
type WalletView struct {
	Transactions []reconcile.TransactionRecord
	// IssuedReceiveAddresses is in issuance order.
	IssuedReceiveAddresses []string
	ChangeAddresses        []string
	CurrentReceiveAddress  string
	// Balance is the estimated balance in satoshis, unconfirmed included.
	Balance             int64
	Consistent          bool
	LastBlockSeenHeight int64
}

// OwnedAddresses returns every address the wallet has issued.
func (v WalletView) OwnedAddresses() []string {
	owned := make([]string, 0, len(v.IssuedReceiveAddresses)+len(v.ChangeAddresses))
	owned = append(owned, v.IssuedReceiveAddresses...)
	owned = append(owned, v.ChangeAddresses...)
	return owned
}

// ReconcileInput builds the input for one reconciliation pass.
func (v WalletView) ReconcileInput() reconcile.Input {
	return reconcile.Input{
		Transactions:           v.Transactions,
		IssuedReceiveAddresses: v.IssuedReceiveAddresses,
		CurrentReceiveAddress:  v.CurrentReceiveAddress,
		OwnedAddresses:         v.OwnedAddresses(),
	}
}

// Factory creates a fresh engine instance.
type Factory func() (ChainClient, error)

// CheckpointSource opens the checkpoint stream read at every setup.
type CheckpointSource func() (io.ReadCloser, error)
