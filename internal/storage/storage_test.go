package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	store, err := New(&Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := New(&Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	dbPath := filepath.Join(tmpDir, WalletDir, "wallet.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if store.Path() != dbPath {
		t.Errorf("Path() = %s, want %s", store.Path(), dbPath)
	}
	if store.DB() == nil {
		t.Error("DB() returned nil")
	}
}

func TestReopenKeepsData(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := New(&Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := store.SetSetting("network", "testnet"); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}
	store.Close()

	store, err = New(&Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer store.Close()

	value, ok, err := store.GetSetting("network")
	if err != nil || !ok || value != "testnet" {
		t.Errorf("GetSetting() = %q, %v, %v", value, ok, err)
	}
}

func TestTildeExpansion(t *testing.T) {
	home, _ := os.UserHomeDir()
	expanded := expandPath("~/.test")
	expected := filepath.Join(home, ".test")

	if expanded != expected {
		t.Errorf("expandPath(~/.test) = %s, want %s", expanded, expected)
	}
	if got := Dir("~/.test"); got != filepath.Join(expected, WalletDir) {
		t.Errorf("Dir() = %s", got)
	}
}

func TestSettings(t *testing.T) {
	store := newTestStorage(t)

	if _, ok, err := store.GetSetting("missing"); err != nil || ok {
		t.Errorf("GetSetting(missing) = %v, %v", ok, err)
	}

	store.SetSetting("k", "v1")
	store.SetSetting("k", "v2")

	value, _, _ := store.GetSetting("k")
	if value != "v2" {
		t.Errorf("GetSetting() = %s, want v2", value)
	}
}

func TestWalletAddresses(t *testing.T) {
	store := newTestStorage(t)

	next, err := store.GetNextAddressIndex(0, ChangeExternal)
	if err != nil || next != 0 {
		t.Fatalf("GetNextAddressIndex() on empty = %d, %v", next, err)
	}

	for i, a := range []string{"tb1qa", "tb1qb", "tb1qc"} {
		err := store.SaveWalletAddress(&WalletAddress{
			Address:      a,
			Change:       ChangeExternal,
			AddressIndex: uint32(i),
			AddressType:  "p2wpkh",
		})
		if err != nil {
			t.Fatalf("SaveWalletAddress(%s) error = %v", a, err)
		}
	}
	store.SaveWalletAddress(&WalletAddress{Address: "tb1qchange", Change: ChangeInternal, AddressType: "p2wpkh"})

	receive, err := store.ListWalletAddresses(0, ChangeExternal)
	if err != nil {
		t.Fatalf("ListWalletAddresses() error = %v", err)
	}
	if len(receive) != 3 || receive[0].Address != "tb1qa" || receive[2].Address != "tb1qc" {
		t.Errorf("receive chain out of order: %+v", receive)
	}

	change, _ := store.ListWalletAddresses(0, ChangeInternal)
	if len(change) != 1 {
		t.Errorf("len(change) = %d, want 1", len(change))
	}

	next, _ = store.GetNextAddressIndex(0, ChangeExternal)
	if next != 3 {
		t.Errorf("GetNextAddressIndex() = %d, want 3", next)
	}

	if err := store.MarkAddressUsed("tb1qb", 2, 1000); err != nil {
		t.Fatalf("MarkAddressUsed() error = %v", err)
	}
	store.MarkAddressUsed("tb1qb", 3, 2000)

	addr, err := store.GetWalletAddress("tb1qb")
	if err != nil || addr == nil {
		t.Fatalf("GetWalletAddress() = %v, %v", addr, err)
	}
	if !addr.Used() || addr.TxCount != 3 {
		t.Errorf("TxCount = %d, want 3", addr.TxCount)
	}
	if addr.FirstSeenAt != 1000 || addr.LastSeenAt != 2000 {
		t.Errorf("seen = %d..%d, want 1000..2000", addr.FirstSeenAt, addr.LastSeenAt)
	}

	if missing, err := store.GetWalletAddress("tb1qnope"); err != nil || missing != nil {
		t.Errorf("GetWalletAddress(missing) = %v, %v", missing, err)
	}
}

func TestWalletTxs(t *testing.T) {
	store := newTestStorage(t)

	isNew, err := store.SaveWalletTx(&WalletTx{TxID: "aa", Raw: `{"txid":"aa"}`, FirstSeen: 5000})
	if err != nil || !isNew {
		t.Fatalf("SaveWalletTx() = %v, %v", isNew, err)
	}
	store.SaveWalletTx(&WalletTx{TxID: "bb", Raw: `{"txid":"bb"}`, FirstSeen: 4000})

	// Confirmation update keeps first_seen.
	isNew, err = store.SaveWalletTx(&WalletTx{
		TxID:        "aa",
		Raw:         `{"txid":"aa","confirmed":true}`,
		Confirmed:   true,
		BlockHeight: 100,
		BlockHash:   "00ab",
		BlockTime:   1700000000,
		FirstSeen:   9999,
	})
	if err != nil || isNew {
		t.Fatalf("SaveWalletTx(update) = %v, %v", isNew, err)
	}

	tx, err := store.GetWalletTx("aa")
	if err != nil || tx == nil {
		t.Fatalf("GetWalletTx() = %v, %v", tx, err)
	}
	if !tx.Confirmed || tx.BlockHeight != 100 || tx.BlockHash != "00ab" {
		t.Errorf("confirmation not stored: %+v", tx)
	}
	if tx.FirstSeen != 5000 {
		t.Errorf("FirstSeen = %d, want 5000", tx.FirstSeen)
	}

	txs, err := store.ListWalletTxs()
	if err != nil {
		t.Fatalf("ListWalletTxs() error = %v", err)
	}
	if len(txs) != 2 || txs[0].TxID != "bb" {
		t.Errorf("ListWalletTxs() order wrong: %+v", txs)
	}

	if err := store.DeleteWalletTx("bb"); err != nil {
		t.Fatalf("DeleteWalletTx() error = %v", err)
	}
	if tx, _ := store.GetWalletTx("bb"); tx != nil {
		t.Error("tx still present after delete")
	}
}

func TestWalletSyncState(t *testing.T) {
	store := newTestStorage(t)

	state, err := store.GetWalletSyncState()
	if err != nil {
		t.Fatalf("GetWalletSyncState() error = %v", err)
	}
	if state.GapLimit != 20 || state.SyncStatus != SyncStatusPending {
		t.Errorf("default state = %+v", state)
	}

	err = store.SaveWalletSyncState(&WalletSyncState{
		LastExternalIndex: 4,
		LastChangeIndex:   1,
		GapLimit:          10,
		LastSyncAt:        1700000000,
		LastBlockHeight:   2500000,
		LastBlockHash:     "00ff",
		SyncStatus:        SyncStatusSynced,
	})
	if err != nil {
		t.Fatalf("SaveWalletSyncState() error = %v", err)
	}

	state, _ = store.GetWalletSyncState()
	if state.LastExternalIndex != 4 || state.LastBlockHeight != 2500000 || state.LastBlockHash != "00ff" {
		t.Errorf("state = %+v", state)
	}
	if state.SyncStatus != SyncStatusSynced {
		t.Errorf("SyncStatus = %s", state.SyncStatus)
	}
}
