package reconcile

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileSingleReceive(t *testing.T) {
	in := Input{
		Transactions: []TransactionRecord{{
			ID:        "tx1",
			NetValue:  50000,
			Timestamp: 1_700_000_000_000,
			Outputs:   []Output{{Address: "A1", Value: 50000}},
		}},
		IssuedReceiveAddresses: []string{"A1", "A2"},
		CurrentReceiveAddress:  "A2",
		OwnedAddresses:         []string{"A1", "A2"},
	}

	res := Reconcile(in)

	assert.Equal(t, "A1", res.Address)
	require.Len(t, res.Items, 1)
	item := res.Items[0]
	assert.Equal(t, TxReceived, item.Type)
	assert.Equal(t, "+0.00050000", item.Amount)
	assert.Equal(t, CounterpartyUnknown, item.Counterparty)
	assert.Equal(t, "tx1", item.AddressOrHash)
	assert.Equal(t, int64(1_700_000_000_000), item.Timestamp)
}

func TestClassify(t *testing.T) {
	owned := map[string]struct{}{"A1": {}, "C1": {}}

	tests := []struct {
		name         string
		tx           TransactionRecord
		wantType     TxType
		wantAmount   string
		wantCounterp string
	}{
		{
			name:         "received from outside",
			tx:           TransactionRecord{ID: "r", NetValue: 150000, Outputs: []Output{{"A1", 150000}, {"X9", 999}}},
			wantType:     TxReceived,
			wantAmount:   "+0.00150000",
			wantCounterp: "X9",
		},
		{
			name:         "sent with change",
			tx:           TransactionRecord{ID: "s", NetValue: -120000, Outputs: []Output{{"B7", 100000}, {"C1", 18000}}},
			wantType:     TxSent,
			wantAmount:   "0.00120000",
			wantCounterp: "B7",
		},
		{
			name:         "self payment is change",
			tx:           TransactionRecord{ID: "self", NetValue: -2000, Outputs: []Output{{"A1", 5000}, {"C1", 3000}}},
			wantType:     TxSent,
			wantAmount:   "0.00002000",
			wantCounterp: CounterpartyChange,
		},
		{
			name:         "zero net is sent",
			tx:           TransactionRecord{ID: "z", NetValue: 0, Outputs: []Output{{"A1", 1000}}},
			wantType:     TxSent,
			wantAmount:   "0.00000000",
			wantCounterp: CounterpartyChange,
		},
		{
			name:         "received all owned",
			tx:           TransactionRecord{ID: "o", NetValue: 1, Outputs: []Output{{"A1", 1}}},
			wantType:     TxReceived,
			wantAmount:   "+0.00000001",
			wantCounterp: CounterpartyUnknown,
		},
		{
			name:         "outputs without address are skipped",
			tx:           TransactionRecord{ID: "op", NetValue: -500, Outputs: []Output{{"", 0}, {"B2", 400}}},
			wantType:     TxSent,
			wantAmount:   "0.00000500",
			wantCounterp: "B2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.tx, owned)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.wantAmount, got.Amount)
			assert.Equal(t, tt.wantCounterp, got.Counterparty)
		})
	}
}

func TestCanonicalAddress(t *testing.T) {
	txs := []TransactionRecord{
		{ID: "a", Outputs: []Output{{"A3", 10}}},
		{ID: "b", Outputs: []Output{{"A2", 10}}},
	}

	t.Run("issuance order wins", func(t *testing.T) {
		assert.Equal(t, "A2", CanonicalAddress([]string{"A1", "A2", "A3"}, txs, "A4"))
	})

	t.Run("independent of tx order", func(t *testing.T) {
		rev := []TransactionRecord{txs[1], txs[0]}
		assert.Equal(t, "A2", CanonicalAddress([]string{"A1", "A2", "A3"}, rev, "A4"))
	})

	t.Run("falls back to current", func(t *testing.T) {
		assert.Equal(t, "A4", CanonicalAddress([]string{"A1"}, txs, "A4"))
		assert.Equal(t, "A4", CanonicalAddress(nil, nil, "A4"))
	})
}

func TestReconcileOrdering(t *testing.T) {
	txs := []TransactionRecord{
		{ID: "c", NetValue: 1, Timestamp: 100},
		{ID: "a", NetValue: 1, Timestamp: 200},
		{ID: "b", NetValue: -1, Timestamp: 200},
		{ID: "d", NetValue: 1, Timestamp: 50},
		{ID: "e", NetValue: 1, Timestamp: 200},
	}

	want := []string{"a", "b", "e", "c", "d"}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := append([]TransactionRecord(nil), txs...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		res := Reconcile(Input{Transactions: shuffled})

		ids := make([]string, len(res.Items))
		for k, it := range res.Items {
			ids[k] = it.AddressOrHash
		}
		require.Equal(t, want, ids)
	}
}

func TestReconcileIsPure(t *testing.T) {
	in := Input{
		Transactions: []TransactionRecord{
			{ID: "x", NetValue: -300, Timestamp: 10, Outputs: []Output{{"Z", 200}, {"C1", 50}}},
			{ID: "y", NetValue: 700, Timestamp: 20, Outputs: []Output{{"A1", 700}}},
		},
		IssuedReceiveAddresses: []string{"A1"},
		CurrentReceiveAddress:  "A1",
		OwnedAddresses:         []string{"A1", "C1"},
	}

	first := Reconcile(in)
	second := Reconcile(in)
	assert.Equal(t, first, second)

	// Input slices are untouched.
	assert.Equal(t, "x", in.Transactions[0].ID)
	assert.Equal(t, "Z", in.Transactions[0].Outputs[0].Address)
}

func TestReconcileEmpty(t *testing.T) {
	res := Reconcile(Input{CurrentReceiveAddress: "A0"})
	assert.Equal(t, "A0", res.Address)
	assert.NotNil(t, res.Items)
	assert.Empty(t, res.Items)
}
