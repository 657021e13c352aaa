package engine

import (
	"encoding/json"
	"fmt"

	"github.com/klingon-exchange/crypwallet/internal/backend"
	"github.com/klingon-exchange/crypwallet/internal/chain"
	"github.com/klingon-exchange/crypwallet/internal/chainclient"
	"github.com/klingon-exchange/crypwallet/internal/reconcile"
	"github.com/klingon-exchange/crypwallet/internal/storage"
	"github.com/klingon-exchange/crypwallet/internal/wallet"
)

type walletHandle struct {
	e *Engine
}

// View loads a fresh copy of the wallet from the index. A view that could
// not be loaded is reported inconsistent.
func (h *walletHandle) View() chainclient.WalletView {
	snap, err := h.e.loadSnapshot()
	if err != nil {
		h.e.log.Error("Failed to load wallet view", "error", err)
		return chainclient.WalletView{LastBlockSeenHeight: h.e.tip.Load()}
	}
	return snap.view(h.e.tip.Load())
}

func (h *walletHandle) Network() string {
	return string(h.e.cfg.Params.Network)
}

type indexedTx struct {
	tx        backend.Transaction
	firstSeen int64
}

// snapshot is the address and transaction index read in one go.
type snapshot struct {
	receive []*storage.WalletAddress
	change  []*storage.WalletAddress
	owned   map[string]*storage.WalletAddress
	txs     []indexedTx
	byID    map[string]int
}

func (e *Engine) loadSnapshot() (*snapshot, error) {
	receive, err := e.store.ListWalletAddresses(0, storage.ChangeExternal)
	if err != nil {
		return nil, fmt.Errorf("list receive addresses: %w", err)
	}
	change, err := e.store.ListWalletAddresses(0, storage.ChangeInternal)
	if err != nil {
		return nil, fmt.Errorf("list change addresses: %w", err)
	}
	wtxs, err := e.store.ListWalletTxs()
	if err != nil {
		return nil, fmt.Errorf("list txs: %w", err)
	}

	s := &snapshot{
		receive: receive,
		change:  change,
		owned:   make(map[string]*storage.WalletAddress, len(receive)+len(change)),
		txs:     make([]indexedTx, 0, len(wtxs)),
		byID:    make(map[string]int, len(wtxs)),
	}
	for _, a := range receive {
		s.owned[a.Address] = a
	}
	for _, a := range change {
		s.owned[a.Address] = a
	}
	for _, wtx := range wtxs {
		var tx backend.Transaction
		if err := json.Unmarshal([]byte(wtx.Raw), &tx); err != nil {
			return nil, fmt.Errorf("decode tx %s: %w", wtx.TxID, err)
		}
		s.byID[wtx.TxID] = len(s.txs)
		s.txs = append(s.txs, indexedTx{tx: tx, firstSeen: wtx.FirstSeen})
	}
	return s, nil
}

func (s *snapshot) isOwned(address string) bool {
	_, ok := s.owned[address]
	return address != "" && ok
}

// netValue is what tx pays the wallet minus what it spends from it.
func (s *snapshot) netValue(tx *backend.Transaction) int64 {
	var net int64
	for _, out := range tx.Outputs {
		if s.isOwned(out.ScriptPubKeyAddr) {
			net += int64(out.Value)
		}
	}
	for _, in := range tx.Inputs {
		if in.PrevOut != nil && s.isOwned(in.PrevOut.ScriptPubKeyAddr) {
			net -= int64(in.PrevOut.Value)
		}
	}
	return net
}

func (s *snapshot) toRecord(itx *indexedTx) reconcile.TransactionRecord {
	outs := make([]reconcile.Output, 0, len(itx.tx.Outputs))
	for _, out := range itx.tx.Outputs {
		outs = append(outs, reconcile.Output{Address: out.ScriptPubKeyAddr, Value: int64(out.Value)})
	}
	return reconcile.TransactionRecord{
		ID:        itx.tx.TxID,
		NetValue:  s.netValue(&itx.tx),
		Timestamp: itx.firstSeen,
		Outputs:   outs,
	}
}

func (s *snapshot) record(txid string) (reconcile.TransactionRecord, bool) {
	i, ok := s.byID[txid]
	if !ok {
		return reconcile.TransactionRecord{}, false
	}
	return s.toRecord(&s.txs[i]), true
}

func (s *snapshot) records() []reconcile.TransactionRecord {
	recs := make([]reconcile.TransactionRecord, 0, len(s.txs))
	for i := range s.txs {
		recs = append(recs, s.toRecord(&s.txs[i]))
	}
	return recs
}

// balance is the unconfirmed-inclusive balance.
func (s *snapshot) balance() int64 {
	var total int64
	for i := range s.txs {
		total += s.netValue(&s.txs[i].tx)
	}
	return total
}

// spends counts how many indexed transactions spend each outpoint.
func (s *snapshot) spends() map[string]int {
	counts := make(map[string]int)
	for i := range s.txs {
		for _, in := range s.txs[i].tx.Inputs {
			counts[outpoint(in.TxID, in.Vout)]++
		}
	}
	return counts
}

// consistent reports a non-negative balance and no wallet outpoint spent
// twice.
func (s *snapshot) consistent(balance int64) bool {
	if balance < 0 {
		return false
	}
	spent := s.spends()
	for i := range s.txs {
		for _, in := range s.txs[i].tx.Inputs {
			if in.PrevOut == nil || !s.isOwned(in.PrevOut.ScriptPubKeyAddr) {
				continue
			}
			if spent[outpoint(in.TxID, in.Vout)] > 1 {
				return false
			}
		}
	}
	return true
}

// utxos returns the wallet's unspent outputs, pending ones included.
func (s *snapshot) utxos() []*wallet.AddressUTXO {
	spent := s.spends()

	var utxos []*wallet.AddressUTXO
	for i := range s.txs {
		tx := &s.txs[i].tx
		for vout, out := range tx.Outputs {
			addr, ok := s.owned[out.ScriptPubKeyAddr]
			if !ok || spent[outpoint(tx.TxID, uint32(vout))] > 0 {
				continue
			}
			utxos = append(utxos, &wallet.AddressUTXO{
				TxID:         tx.TxID,
				Vout:         uint32(vout),
				Amount:       out.Value,
				Address:      addr.Address,
				Account:      addr.Account,
				Change:       addr.Change,
				AddressIndex: addr.AddressIndex,
				AddressType:  chain.AddressType(addr.AddressType),
			})
		}
	}
	return utxos
}

// firstUnused returns the lowest unused address of a chain, or nil.
func firstUnused(addrs []*storage.WalletAddress) *storage.WalletAddress {
	for _, a := range addrs {
		if !a.Used() {
			return a
		}
	}
	return nil
}

func (s *snapshot) view(tip int64) chainclient.WalletView {
	v := chainclient.WalletView{
		Transactions:        s.records(),
		LastBlockSeenHeight: tip,
	}

	// The gap-limit lookahead past the current address and the last used
	// one has not been handed out yet.
	current := firstUnused(s.receive)
	cutoff := -1
	for i, a := range s.receive {
		if a.Used() || a == current {
			cutoff = i
		}
	}
	for _, a := range s.receive[:cutoff+1] {
		v.IssuedReceiveAddresses = append(v.IssuedReceiveAddresses, a.Address)
	}
	if current != nil {
		v.CurrentReceiveAddress = current.Address
	}
	for _, a := range s.change {
		v.ChangeAddresses = append(v.ChangeAddresses, a.Address)
	}

	v.Balance = s.balance()
	v.Consistent = s.consistent(v.Balance)
	return v
}

func outpoint(txid string, vout uint32) string {
	return fmt.Sprintf("%s:%d", txid, vout)
}
