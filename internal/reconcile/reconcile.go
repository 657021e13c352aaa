// Package reconcile turns a wallet's raw transaction set into the classified,
// ordered history shown to observers.
//
// Reconcile is a pure function of its input: it never retains or mutates the
// slices it is given, and the same input always yields the same Result.
package reconcile

import (
	"sort"

	"github.com/klingon-exchange/crypwallet/pkg/helpers"
)

// TxType classifies a transaction from the wallet's point of view.
type TxType string

const (
	TxReceived TxType = "received"
	TxSent     TxType = "sent"
)

// Counterparty placeholders used when every output pays the wallet itself.
const (
	CounterpartyUnknown = "unknown"
	CounterpartyChange  = "change"
)

// Output is one transaction output as seen by the wallet.
type Output struct {
	Address string `json:"address"`
	Value   int64  `json:"value"`
}

// TransactionRecord is a raw wallet transaction.
type TransactionRecord struct {
	ID string `json:"id"`
	// NetValue is the signed change to the wallet balance in satoshis.
	NetValue int64 `json:"net_value"`
	// Timestamp is in unix milliseconds.
	Timestamp int64    `json:"timestamp"`
	Outputs   []Output `json:"outputs"`
}

// TransactionItem is a derived history entry.
type TransactionItem struct {
	Type          TxType `json:"type"`
	AddressOrHash string `json:"address_or_hash"`
	Timestamp     int64  `json:"timestamp"`
	Amount        string `json:"amount"`
	Counterparty  string `json:"counterparty"`
}

// Input is the immutable view reconciled in one pass.
type Input struct {
	Transactions []TransactionRecord
	// IssuedReceiveAddresses is in issuance order.
	IssuedReceiveAddresses []string
	CurrentReceiveAddress  string
	// OwnedAddresses distinguishes our outputs from counterparties.
	OwnedAddresses []string
}

// Result is the output of one reconciliation pass.
type Result struct {
	Address string
	Items   []TransactionItem
}

// Reconcile computes the canonical address and the ordered history.
func Reconcile(in Input) Result {
	owned := make(map[string]struct{}, len(in.OwnedAddresses))
	for _, a := range in.OwnedAddresses {
		owned[a] = struct{}{}
	}

	items := make([]TransactionItem, 0, len(in.Transactions))
	for _, tx := range in.Transactions {
		items = append(items, Classify(tx, owned))
	}
	SortItems(items)

	return Result{
		Address: CanonicalAddress(in.IssuedReceiveAddresses, in.Transactions, in.CurrentReceiveAddress),
		Items:   items,
	}
}

// CanonicalAddress returns the first issued address that any transaction pays
// to, or current when none has been paid.
func CanonicalAddress(issued []string, txs []TransactionRecord, current string) string {
	paid := make(map[string]struct{})
	for _, tx := range txs {
		for _, out := range tx.Outputs {
			if out.Address != "" {
				paid[out.Address] = struct{}{}
			}
		}
	}

	for _, addr := range issued {
		if _, ok := paid[addr]; ok {
			return addr
		}
	}
	return current
}

// Classify derives the history entry for one transaction.
func Classify(tx TransactionRecord, owned map[string]struct{}) TransactionItem {
	item := TransactionItem{
		AddressOrHash: tx.ID,
		Timestamp:     tx.Timestamp,
	}

	// A zero net value is a Sent transaction.
	if tx.NetValue > 0 {
		item.Type = TxReceived
		item.Amount = "+" + FormatMagnitude(tx.NetValue)
		item.Counterparty = firstForeignOutput(tx.Outputs, owned, CounterpartyUnknown)
	} else {
		item.Type = TxSent
		item.Amount = FormatMagnitude(tx.NetValue)
		item.Counterparty = firstForeignOutput(tx.Outputs, owned, CounterpartyChange)
	}
	return item
}

// FormatMagnitude formats |sats| with exactly 8 fractional digits.
func FormatMagnitude(sats int64) string {
	if sats < 0 {
		sats = -sats
	}
	return helpers.SatoshisToBTC(sats)
}

func firstForeignOutput(outs []Output, owned map[string]struct{}, fallback string) string {
	for _, out := range outs {
		if out.Address == "" {
			continue
		}
		if _, ok := owned[out.Address]; !ok {
			return out.Address
		}
	}
	return fallback
}

// SortItems orders items by timestamp descending, then id ascending.
func SortItems(items []TransactionItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Timestamp != items[j].Timestamp {
			return items[i].Timestamp > items[j].Timestamp
		}
		return items[i].AddressOrHash < items[j].AddressOrHash
	})
}
