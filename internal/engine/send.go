package engine

import (
	"context"
	"fmt"

	"github.com/klingon-exchange/crypwallet/internal/backend"
	"github.com/klingon-exchange/crypwallet/internal/chainclient"
	"github.com/klingon-exchange/crypwallet/internal/storage"
	"github.com/klingon-exchange/crypwallet/internal/wallet"
	"github.com/klingon-exchange/crypwallet/pkg/retrier"
)

// SendPayment validates the payment and broadcasts it in the background. The
// broadcast is bound to the engine's lifetime rather than ctx.
func (e *Engine) SendPayment(ctx context.Context, address string, sats int64) (*chainclient.BroadcastHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !e.running.Load() {
		return nil, ErrNotRunning
	}
	if sats <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, _, err := wallet.ParseAddress(address, e.cfg.Params); err != nil {
		return nil, err
	}

	h := chainclient.NewBroadcastHandle()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		txid, err := e.send(e.ctx, address, uint64(sats))
		if err != nil {
			e.log.Error("Payment failed", "handle", h.ID(), "to", address, "error", err)
		}
		h.Complete(txid, err)
	}()
	return h, nil
}

func (e *Engine) send(ctx context.Context, address string, sats uint64) (string, error) {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()

	snap, err := e.loadSnapshot()
	if err != nil {
		return "", err
	}

	change := firstUnused(snap.change)
	if change == nil {
		next, err := e.store.GetNextAddressIndex(0, storage.ChangeInternal)
		if err != nil {
			return "", fmt.Errorf("next change index: %w", err)
		}
		if change, err = e.address(storage.ChangeInternal, next); err != nil {
			return "", err
		}
	}

	res, err := wallet.BuildAndSignTx(e.wallet, &wallet.TxParams{
		UTXOs:         snap.utxos(),
		ToAddress:     address,
		Amount:        sats,
		ChangeAddress: change.Address,
		FeeRate:       e.feeRate(ctx),
		Params:        e.cfg.Params,
	})
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}

	txid, err := retrier.DoWithData(e.retry, ctx, func(ctx context.Context) (string, error) {
		return e.cfg.Backend.BroadcastTransaction(ctx, res.TxHex)
	})
	if err != nil {
		return "", fmt.Errorf("broadcast: %w", err)
	}
	if txid == "" {
		txid = res.TxID
	}

	e.log.Info("Payment broadcast",
		"txid", txid,
		"to", address,
		"amount", sats,
		"fee", res.Fee,
		"inputs", len(res.Inputs),
	)

	if _, err := e.indexTx(pendingTx(txid, res)); err != nil {
		return txid, err
	}
	if res.Change > 0 {
		if err := e.store.MarkAddressUsed(change.Address, 1, e.clock.Now().Unix()); err != nil {
			e.log.Warn("Failed to mark change address used", "address", change.Address, "error", err)
		}
	}
	return txid, nil
}

// feeRate returns the half-hour rate, or the explorer's minimum when no
// estimate is available.
func (e *Engine) feeRate(ctx context.Context) uint64 {
	fees, err := e.cfg.Backend.GetFeeEstimates(ctx)
	if err != nil {
		e.log.Warn("Fee estimate unavailable, using minimum", "error", err)
		return 1
	}
	if fees.HalfHourFee > 0 {
		return fees.HalfHourFee
	}
	return max(fees.MinimumFee, 1)
}

// pendingTx is the index form of a transaction we just broadcast.
func pendingTx(txid string, res *wallet.TxResult) *backend.Transaction {
	tx := &backend.Transaction{
		TxID:  txid,
		Fee:   res.Fee,
		VSize: res.VirtualSize,
	}
	for _, in := range res.Inputs {
		tx.Inputs = append(tx.Inputs, backend.TxInput{
			TxID: in.TxID,
			Vout: in.Vout,
			PrevOut: &backend.TxOutput{
				ScriptPubKeyAddr: in.Address,
				Value:            in.Amount,
			},
		})
	}
	for _, out := range res.Outputs {
		tx.Outputs = append(tx.Outputs, backend.TxOutput{
			ScriptPubKeyAddr: out.Address,
			Value:            out.Value,
		})
	}
	return tx
}
