package storage

import "database/sql"

// Sync statuses.
const (
	SyncStatusPending = "pending"
	SyncStatusSynced  = "synced"
)

// WalletSyncState is the wallet's persisted sync progress.
type WalletSyncState struct {
	LastExternalIndex uint32 `json:"last_external_index"`
	LastChangeIndex   uint32 `json:"last_change_index"`
	GapLimit          uint32 `json:"gap_limit"`
	LastSyncAt        int64  `json:"last_sync_at,omitempty"`
	LastBlockHeight   int64  `json:"last_block_height,omitempty"`
	LastBlockHash     string `json:"last_block_hash,omitempty"`
	SyncStatus        string `json:"sync_status"`
}

// SaveWalletSyncState saves or replaces the sync state.
func (s *Storage) SaveWalletSyncState(state *WalletSyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO wallet_sync_state (
			id, last_external_index, last_change_index, gap_limit,
			last_sync_at, last_block_height, last_block_hash, sync_status
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_external_index = excluded.last_external_index,
			last_change_index = excluded.last_change_index,
			gap_limit = excluded.gap_limit,
			last_sync_at = excluded.last_sync_at,
			last_block_height = excluded.last_block_height,
			last_block_hash = excluded.last_block_hash,
			sync_status = excluded.sync_status
	`

	_, err := s.db.Exec(query,
		state.LastExternalIndex, state.LastChangeIndex, state.GapLimit,
		nullInt(state.LastSyncAt), nullInt(state.LastBlockHeight), nullString(state.LastBlockHash),
		state.SyncStatus,
	)
	return err
}

// GetWalletSyncState returns the sync state, or a pending default with a
// gap limit of 20 when nothing has been synced yet.
func (s *Storage) GetWalletSyncState() (*WalletSyncState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT last_external_index, last_change_index, gap_limit,
			   last_sync_at, last_block_height, last_block_hash, sync_status
		FROM wallet_sync_state WHERE id = 1
	`

	var state WalletSyncState
	var lastSync, lastBlock sql.NullInt64
	var lastHash sql.NullString

	err := s.db.QueryRow(query).Scan(
		&state.LastExternalIndex, &state.LastChangeIndex, &state.GapLimit,
		&lastSync, &lastBlock, &lastHash, &state.SyncStatus,
	)
	if err == sql.ErrNoRows {
		return &WalletSyncState{
			GapLimit:   20,
			SyncStatus: SyncStatusPending,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	state.LastSyncAt = lastSync.Int64
	state.LastBlockHeight = lastBlock.Int64
	state.LastBlockHash = lastHash.String
	return &state, nil
}
