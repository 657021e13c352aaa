package storage

import (
	"database/sql"
	"time"
)

// WalletTx is an indexed wallet transaction. Raw holds the explorer JSON so
// inputs, prevouts and outputs can be re-read without another request.
type WalletTx struct {
	TxID        string `json:"txid"`
	Raw         string `json:"raw"`
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int64  `json:"block_height,omitempty"`
	BlockHash   string `json:"block_hash,omitempty"`
	BlockTime   int64  `json:"block_time,omitempty"`
	FirstSeen   int64  `json:"first_seen"` // ms
	UpdatedAt   int64  `json:"updated_at"`
}

// SaveWalletTx inserts or refreshes a transaction. It reports whether the
// transaction was new. FirstSeen of an existing row is kept.
func (s *Storage) SaveWalletTx(tx *WalletTx) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx.UpdatedAt = time.Now().Unix()

	var exists int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM wallet_txs WHERE txid = ?`, tx.TxID).Scan(&exists)
	if err != nil {
		return false, err
	}

	_, err = s.db.Exec(`
		INSERT INTO wallet_txs (
			txid, raw, confirmed, block_height, block_hash, block_time, first_seen, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(txid) DO UPDATE SET
			raw = excluded.raw,
			confirmed = excluded.confirmed,
			block_height = excluded.block_height,
			block_hash = excluded.block_hash,
			block_time = excluded.block_time,
			updated_at = excluded.updated_at
	`,
		tx.TxID, tx.Raw, boolToInt(tx.Confirmed),
		nullInt(tx.BlockHeight), nullString(tx.BlockHash), nullInt(tx.BlockTime),
		tx.FirstSeen, tx.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	return exists == 0, nil
}

// GetWalletTx returns a transaction, or nil if it is not indexed.
func (s *Storage) GetWalletTx(txid string) (*WalletTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT txid, raw, confirmed, block_height, block_hash, block_time, first_seen, updated_at
		FROM wallet_txs WHERE txid = ?
	`, txid)
	tx, err := scanWalletTx(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return tx, err
}

// ListWalletTxs returns every indexed transaction, oldest first.
func (s *Storage) ListWalletTxs() ([]*WalletTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT txid, raw, confirmed, block_height, block_hash, block_time, first_seen, updated_at
		FROM wallet_txs
		ORDER BY first_seen, txid
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*WalletTx
	for rows.Next() {
		tx, err := scanWalletTx(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// DeleteWalletTx removes a transaction the explorer no longer knows, such
// as a replaced or evicted mempool transaction.
func (s *Storage) DeleteWalletTx(txid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM wallet_txs WHERE txid = ?`, txid)
	return err
}

func scanWalletTx(row rowScanner) (*WalletTx, error) {
	var tx WalletTx
	var confirmed int
	var height, blockTime sql.NullInt64
	var hash sql.NullString

	err := row.Scan(&tx.TxID, &tx.Raw, &confirmed, &height, &hash, &blockTime, &tx.FirstSeen, &tx.UpdatedAt)
	if err != nil {
		return nil, err
	}

	tx.Confirmed = confirmed != 0
	tx.BlockHeight = height.Int64
	tx.BlockHash = hash.String
	tx.BlockTime = blockTime.Int64
	return &tx, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
