// Package storage persists the wallet's address chain, transaction index and
// sync progress in SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// WalletDir is the per-wallet subdirectory under the data dir. The seed file
// lives next to the database.
const WalletDir = "wallet-kit"

// Storage provides persistent storage for one wallet.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// Dir returns the wallet directory for dataDir with ~ expanded.
func Dir(dataDir string) string {
	return filepath.Join(expandPath(dataDir), WalletDir)
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	dir := Dir(cfg.DataDir)

	// Ensure directory exists
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create wallet directory: %w", err)
	}

	dbPath := filepath.Join(dir, "wallet.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.dbPath
}

func (s *Storage) initSchema() error {
	schema := `
	-- Settings table (network binding, wallet birthday)
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at INTEGER
	);

	-- Every derived address, receive (change=0) and change (change=1)
	CREATE TABLE IF NOT EXISTS wallet_addresses (
		address TEXT PRIMARY KEY,

		-- Derivation path components (BIP84: m/84'/coin'/account'/change/index)
		account INTEGER NOT NULL DEFAULT 0,
		change INTEGER NOT NULL DEFAULT 0,
		address_index INTEGER NOT NULL,

		address_type TEXT NOT NULL DEFAULT 'p2wpkh',

		-- Usage tracking
		tx_count INTEGER DEFAULT 0,

		-- Timestamps
		created_at INTEGER NOT NULL,
		first_seen_at INTEGER,
		last_seen_at INTEGER,

		UNIQUE(account, change, address_index)
	);

	CREATE INDEX IF NOT EXISTS idx_wallet_addresses_path ON wallet_addresses(account, change, address_index);

	-- Transactions touching any wallet address, as returned by the explorer
	CREATE TABLE IF NOT EXISTS wallet_txs (
		txid TEXT PRIMARY KEY,

		-- Explorer transaction JSON (inputs with prevouts, outputs)
		raw TEXT NOT NULL,

		confirmed INTEGER NOT NULL DEFAULT 0,
		block_height INTEGER,
		block_hash TEXT,
		block_time INTEGER,

		-- Milliseconds; set once when the wallet first learns of the tx
		first_seen INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_wallet_txs_height ON wallet_txs(block_height);

	-- Single-row sync progress
	CREATE TABLE IF NOT EXISTS wallet_sync_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),

		-- Last scanned indices (gap limit tracking)
		last_external_index INTEGER DEFAULT 0,
		last_change_index INTEGER DEFAULT 0,
		gap_limit INTEGER DEFAULT 20,

		last_sync_at INTEGER,
		last_block_height INTEGER,
		last_block_hash TEXT,
		sync_status TEXT DEFAULT 'pending'
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// GetSetting returns the value stored under key.
func (s *Storage) GetSetting(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value sql.NullString
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value.String, true, nil
}

// SetSetting stores value under key.
func (s *Storage) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())
	return err
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
