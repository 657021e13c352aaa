package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klingon-exchange/crypwallet/internal/backend"
	"github.com/klingon-exchange/crypwallet/internal/storage"
	"github.com/klingon-exchange/crypwallet/pkg/retrier"
)

// explorerPageSize is the number of confirmed transactions an Esplora
// address page carries.
const explorerPageSize = 25

// pendingGrace keeps a just-broadcast transaction the explorer has not
// indexed yet.
const pendingGrace = 10 * time.Minute

// initialDownload walks from the last synced block (or the checkpoint) to the
// explorer tip, reporting header progress, then scans the wallet's addresses.
func (e *Engine) initialDownload(ctx context.Context) error {
	state, err := e.store.GetWalletSyncState()
	if err != nil {
		return fmt.Errorf("load sync state: %w", err)
	}

	tip, err := retrier.DoWithData(e.retry, ctx, e.cfg.Backend.GetBlockHeight)
	if err != nil {
		return fmt.Errorf("get tip: %w", err)
	}
	e.tip.Store(tip)

	floor := max(state.LastBlockHeight, e.checkpoint.Height)
	total := max(tip-floor, 0)

	dl := e.downloadListener()
	e.log.Info("Starting block download", "from", floor, "tip", tip, "blocks", total)
	dl.StartDownload(int(total))

	var tipHash string
	batch := int64(e.cfg.HeaderBatch)
	for done := int64(0); done < total; {
		done += min(batch, total-done)

		header, err := e.headerAt(ctx, floor+done)
		if err != nil {
			return fmt.Errorf("get header %d: %w", floor+done, err)
		}
		tipHash = header.Hash

		pct := float64(done) * 100 / float64(total)
		dl.Progress(pct, int(done), time.Unix(header.Timestamp, 0))
	}

	if _, err := e.scan(ctx); err != nil {
		return err
	}

	state, err = e.store.GetWalletSyncState()
	if err != nil {
		return fmt.Errorf("load sync state: %w", err)
	}
	state.LastBlockHeight = tip
	if tipHash != "" {
		state.LastBlockHash = tipHash
	}
	state.LastSyncAt = e.clock.Now().Unix()
	state.SyncStatus = storage.SyncStatusSynced
	if err := e.store.SaveWalletSyncState(state); err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}

	e.log.Info("Block download complete", "tip", tip)
	dl.DoneDownload()
	return nil
}

func (e *Engine) headerAt(ctx context.Context, height int64) (*backend.BlockHeader, error) {
	return retrier.DoWithData(e.retry, ctx, func(ctx context.Context) (*backend.BlockHeader, error) {
		hash, err := e.cfg.Backend.GetBlockHash(ctx, height)
		if err != nil {
			return nil, err
		}
		return e.cfg.Backend.GetBlockHeader(ctx, hash)
	})
}

// poll refreshes the tip, rescans the wallet and notifies listeners of new
// incoming transactions.
func (e *Engine) poll(ctx context.Context) error {
	tip, err := retrier.DoWithData(e.retry, ctx, e.cfg.Backend.GetBlockHeight)
	if err != nil {
		return fmt.Errorf("get tip: %w", err)
	}
	if prev := e.tip.Swap(tip); prev != tip {
		e.log.Debug("New tip", "height", tip)
	}

	fresh, err := e.scan(ctx)
	if err != nil {
		return err
	}

	state, err := e.store.GetWalletSyncState()
	if err != nil {
		return fmt.Errorf("load sync state: %w", err)
	}
	state.LastBlockHeight = tip
	state.LastSyncAt = e.clock.Now().Unix()
	if err := e.store.SaveWalletSyncState(state); err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}

	if len(fresh) == 0 {
		return nil
	}
	e.notifyReceived(fresh)
	return nil
}

func (e *Engine) notifyReceived(txids []string) {
	listeners := e.coinsListeners()
	if len(listeners) == 0 {
		return
	}

	snap, err := e.loadSnapshot()
	if err != nil {
		e.log.Warn("Failed to load wallet for notification", "error", err)
		return
	}
	balance := snap.balance()

	for _, id := range txids {
		rec, ok := snap.record(id)
		if !ok || rec.NetValue <= 0 {
			continue
		}
		e.log.Info("Coins received", "txid", id, "value", rec.NetValue, "balance", balance)
		for _, fn := range listeners {
			fn(rec, balance)
		}
	}
}

// scan walks both address chains with the gap limit, indexes every
// transaction found and refreshes pending ones. It returns the ids of
// transactions indexed for the first time.
func (e *Engine) scan(ctx context.Context) ([]string, error) {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()

	seen := make(map[string]struct{})
	var fresh []string

	lastIndex := make(map[uint32]uint32, 2)
	for _, change := range []uint32{storage.ChangeExternal, storage.ChangeInternal} {
		last, newTxs, err := e.scanChain(ctx, change, seen)
		if err != nil {
			return nil, fmt.Errorf("scan chain %d: %w", change, err)
		}
		lastIndex[change] = last
		fresh = append(fresh, newTxs...)
	}

	if err := e.refreshPending(ctx, seen); err != nil {
		return nil, err
	}

	state, err := e.store.GetWalletSyncState()
	if err != nil {
		return nil, fmt.Errorf("load sync state: %w", err)
	}
	state.LastExternalIndex = lastIndex[storage.ChangeExternal]
	state.LastChangeIndex = lastIndex[storage.ChangeInternal]
	state.GapLimit = e.cfg.GapLimit
	if err := e.store.SaveWalletSyncState(state); err != nil {
		return nil, fmt.Errorf("save sync state: %w", err)
	}

	e.log.Debug("Address scan complete",
		"external", state.LastExternalIndex,
		"change", state.LastChangeIndex,
		"txs", len(seen),
		"new", len(fresh),
	)
	return fresh, nil
}

// scanChain scans one chain until GapLimit consecutive addresses have no
// history. It returns the highest used index.
func (e *Engine) scanChain(ctx context.Context, change uint32, seen map[string]struct{}) (uint32, []string, error) {
	var (
		fresh    []string
		lastUsed uint32
		empty    uint32
	)

	for index := uint32(0); empty < e.cfg.GapLimit; index++ {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}

		addr, err := e.address(change, index)
		if err != nil {
			return 0, nil, err
		}

		txs, err := e.addressTxs(ctx, addr.Address)
		if err != nil {
			return 0, nil, fmt.Errorf("address %s: %w", addr.Address, err)
		}
		if len(txs) == 0 {
			empty++
			continue
		}
		empty = 0
		lastUsed = index

		if int64(len(txs)) != addr.TxCount {
			err := e.store.MarkAddressUsed(addr.Address, int64(len(txs)), e.clock.Now().Unix())
			if err != nil {
				return 0, nil, fmt.Errorf("mark address used: %w", err)
			}
		}

		for _, tx := range txs {
			if _, ok := seen[tx.TxID]; ok {
				continue
			}
			seen[tx.TxID] = struct{}{}

			isNew, err := e.indexTx(&tx)
			if err != nil {
				return 0, nil, err
			}
			if isNew {
				fresh = append(fresh, tx.TxID)
			}
		}
	}

	return lastUsed, fresh, nil
}

// address returns the indexed address at change/index, deriving and storing
// it on first use.
func (e *Engine) address(change, index uint32) (*storage.WalletAddress, error) {
	addr, err := e.wallet.DeriveAddress(0, change, index)
	if err != nil {
		return nil, fmt.Errorf("derive %s: %w", e.wallet.DerivationPath(0, change, index), err)
	}

	stored, err := e.store.GetWalletAddress(addr)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		return stored, nil
	}

	wa := &storage.WalletAddress{
		Address:      addr,
		Change:       change,
		AddressIndex: index,
		AddressType:  string(e.cfg.Params.DefaultAddressType),
		CreatedAt:    e.clock.Now().Unix(),
	}
	if err := e.store.SaveWalletAddress(wa); err != nil {
		return nil, fmt.Errorf("save address: %w", err)
	}
	return wa, nil
}

// addressTxs fetches the full history of address, following the explorer's
// confirmed-transaction paging.
func (e *Engine) addressTxs(ctx context.Context, address string) ([]backend.Transaction, error) {
	var (
		all  []backend.Transaction
		last string
	)
	for {
		page, err := retrier.DoWithData(e.retry, ctx, func(ctx context.Context) ([]backend.Transaction, error) {
			return e.cfg.Backend.GetAddressTxs(ctx, address, last)
		})
		if errors.Is(err, backend.ErrAddressNotFound) {
			return all, nil
		}
		if err != nil {
			return nil, err
		}
		all = append(all, page...)

		confirmed := 0
		for _, tx := range page {
			if tx.Confirmed {
				confirmed++
				last = tx.TxID
			}
		}
		if confirmed < explorerPageSize {
			return all, nil
		}
	}
}

// indexTx stores tx and reports whether it was new. A confirmed transaction
// first seen here is dated by its block.
func (e *Engine) indexTx(tx *backend.Transaction) (bool, error) {
	raw, err := json.Marshal(tx)
	if err != nil {
		return false, fmt.Errorf("encode tx %s: %w", tx.TxID, err)
	}

	firstSeen := e.clock.Now().UnixMilli()
	if tx.Confirmed && tx.BlockTime > 0 && tx.BlockTime*1000 < firstSeen {
		firstSeen = tx.BlockTime * 1000
	}

	isNew, err := e.store.SaveWalletTx(&storage.WalletTx{
		TxID:        tx.TxID,
		Raw:         string(raw),
		Confirmed:   tx.Confirmed,
		BlockHeight: tx.BlockHeight,
		BlockHash:   tx.BlockHash,
		BlockTime:   tx.BlockTime,
		FirstSeen:   firstSeen,
	})
	if err != nil {
		return false, fmt.Errorf("save tx %s: %w", tx.TxID, err)
	}
	return isNew, nil
}

// refreshPending re-fetches unconfirmed transactions the scan did not see and
// drops the ones the explorer has forgotten.
func (e *Engine) refreshPending(ctx context.Context, seen map[string]struct{}) error {
	txs, err := e.store.ListWalletTxs()
	if err != nil {
		return fmt.Errorf("list txs: %w", err)
	}

	for _, wtx := range txs {
		if wtx.Confirmed {
			continue
		}
		if _, ok := seen[wtx.TxID]; ok {
			continue
		}

		tx, err := retrier.DoWithData(e.retry, ctx, func(ctx context.Context) (*backend.Transaction, error) {
			return e.cfg.Backend.GetTransaction(ctx, wtx.TxID)
		})
		if errors.Is(err, backend.ErrTxNotFound) {
			age := e.clock.Now().Sub(time.UnixMilli(wtx.FirstSeen))
			if age < pendingGrace {
				continue
			}
			e.log.Info("Dropping transaction unknown to explorer", "txid", wtx.TxID)
			if err := e.store.DeleteWalletTx(wtx.TxID); err != nil {
				return fmt.Errorf("delete tx %s: %w", wtx.TxID, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("refresh tx %s: %w", wtx.TxID, err)
		}
		if _, err := e.indexTx(tx); err != nil {
			return err
		}
	}
	return nil
}
