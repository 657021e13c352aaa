package storage

import (
	"database/sql"
	"time"
)

// Address chains.
const (
	ChangeExternal uint32 = 0
	ChangeInternal uint32 = 1
)

// WalletAddress represents a derived wallet address with its derivation path.
type WalletAddress struct {
	Address      string `json:"address"`
	Account      uint32 `json:"account"`
	Change       uint32 `json:"change"` // 0=external, 1=change
	AddressIndex uint32 `json:"address_index"`
	AddressType  string `json:"address_type"`

	TxCount int64 `json:"tx_count"`

	CreatedAt   int64 `json:"created_at"`
	FirstSeenAt int64 `json:"first_seen_at,omitempty"`
	LastSeenAt  int64 `json:"last_seen_at,omitempty"`
}

// Used reports whether any transaction has touched the address.
func (a *WalletAddress) Used() bool {
	return a.TxCount > 0
}

const walletAddressColumns = `
	address, account, change, address_index, address_type,
	tx_count, created_at, first_seen_at, last_seen_at`

// SaveWalletAddress saves an address. Usage columns of an existing row are
// updated; its path never changes.
func (s *Storage) SaveWalletAddress(addr *WalletAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if addr.CreatedAt == 0 {
		addr.CreatedAt = time.Now().Unix()
	}

	query := `
		INSERT INTO wallet_addresses (` + walletAddressColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			tx_count = excluded.tx_count,
			first_seen_at = COALESCE(wallet_addresses.first_seen_at, excluded.first_seen_at),
			last_seen_at = excluded.last_seen_at
	`

	_, err := s.db.Exec(query,
		addr.Address, addr.Account, addr.Change, addr.AddressIndex, addr.AddressType,
		addr.TxCount, addr.CreatedAt, nullInt(addr.FirstSeenAt), nullInt(addr.LastSeenAt),
	)
	return err
}

// MarkAddressUsed records txCount transactions seen for address at seenAt.
func (s *Storage) MarkAddressUsed(address string, txCount int64, seenAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE wallet_addresses SET
			tx_count = ?,
			first_seen_at = COALESCE(first_seen_at, ?),
			last_seen_at = ?
		WHERE address = ?
	`, txCount, seenAt, seenAt, address)
	return err
}

// GetWalletAddress retrieves a wallet address, or nil if unknown.
func (s *Storage) GetWalletAddress(address string) (*WalletAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT `+walletAddressColumns+` FROM wallet_addresses WHERE address = ?`, address)
	addr, err := scanWalletAddress(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return addr, err
}

// ListWalletAddresses returns the addresses of one chain in derivation order,
// which is also the order they were issued in.
func (s *Storage) ListWalletAddresses(account, change uint32) ([]*WalletAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT `+walletAddressColumns+`
		FROM wallet_addresses
		WHERE account = ? AND change = ?
		ORDER BY address_index
	`, account, change)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addresses []*WalletAddress
	for rows.Next() {
		addr, err := scanWalletAddress(rows)
		if err != nil {
			return nil, err
		}
		addresses = append(addresses, addr)
	}

	return addresses, rows.Err()
}

// GetNextAddressIndex returns the highest derived index + 1, or 0 if no
// addresses exist on the chain.
func (s *Storage) GetNextAddressIndex(account, change uint32) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var maxIndex int64
	err := s.db.QueryRow(`
		SELECT COALESCE(MAX(address_index), -1)
		FROM wallet_addresses
		WHERE account = ? AND change = ?
	`, account, change).Scan(&maxIndex)
	if err != nil {
		return 0, err
	}
	return uint32(maxIndex + 1), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWalletAddress(row rowScanner) (*WalletAddress, error) {
	var addr WalletAddress
	var firstSeen, lastSeen sql.NullInt64

	err := row.Scan(
		&addr.Address, &addr.Account, &addr.Change, &addr.AddressIndex, &addr.AddressType,
		&addr.TxCount, &addr.CreatedAt, &firstSeen, &lastSeen,
	)
	if err != nil {
		return nil, err
	}

	if firstSeen.Valid {
		addr.FirstSeenAt = firstSeen.Int64
	}
	if lastSeen.Valid {
		addr.LastSeenAt = lastSeen.Int64
	}
	return &addr, nil
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
