// Package backend provides the block explorer API the wallet engine syncs
// from. It never sees private keys; signing happens in the wallet package.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klingon-exchange/crypwallet/internal/chain"
)

// Common errors
var (
	ErrNotConnected       = errors.New("backend not connected")
	ErrTxNotFound         = errors.New("transaction not found")
	ErrAddressNotFound    = errors.New("address not found")
	ErrBlockNotFound      = errors.New("block not found")
	ErrBroadcastFailed    = errors.New("broadcast failed")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnsupportedBackend = errors.New("unsupported backend type")
)

// Type represents the backend type.
type Type string

const (
	TypeMempool Type = "mempool" // mempool.space API
	TypeEsplora Type = "esplora" // blockstream.info API
)

// UTXO represents an unspent transaction output.
type UTXO struct {
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Amount        uint64 `json:"value"` // satoshis
	Confirmations int64  `json:"confirmations"`
	BlockHeight   int64  `json:"block_height,omitempty"`
}

// Transaction represents a transaction.
type Transaction struct {
	TxID        string     `json:"txid"`
	Version     int32      `json:"version"`
	Size        int64      `json:"size"`
	VSize       int64      `json:"vsize"`
	Weight      int64      `json:"weight"`
	LockTime    uint32     `json:"locktime"`
	Fee         uint64     `json:"fee"`
	Confirmed   bool       `json:"confirmed"`
	BlockHash   string     `json:"block_hash,omitempty"`
	BlockHeight int64      `json:"block_height,omitempty"`
	BlockTime   int64      `json:"block_time,omitempty"`
	Inputs      []TxInput  `json:"vin"`
	Outputs     []TxOutput `json:"vout"`
}

// TxInput represents a transaction input.
type TxInput struct {
	TxID     string    `json:"txid"`
	Vout     uint32    `json:"vout"`
	Sequence uint32    `json:"sequence"`
	PrevOut  *TxOutput `json:"prevout,omitempty"`
}

// TxOutput represents a transaction output.
type TxOutput struct {
	ScriptPubKey     string `json:"scriptpubkey"`
	ScriptPubKeyType string `json:"scriptpubkey_type,omitempty"`
	ScriptPubKeyAddr string `json:"scriptpubkey_address,omitempty"`
	Value            uint64 `json:"value"`
}

// AddressInfo contains address balance and transaction info.
type AddressInfo struct {
	Address        string `json:"address"`
	TxCount        int64  `json:"tx_count"`
	FundedTxCount  int64  `json:"funded_txo_count"`
	SpentTxCount   int64  `json:"spent_txo_count"`
	FundedSum      uint64 `json:"funded_txo_sum"`
	SpentSum       uint64 `json:"spent_txo_sum"`
	Balance        uint64 `json:"balance"`         // confirmed
	MempoolBalance int64  `json:"mempool_balance"` // unconfirmed delta
}

// BlockHeader contains block header info.
type BlockHeader struct {
	Hash         string `json:"hash"`
	Height       int64  `json:"height"`
	PreviousHash string `json:"previousblockhash"`
	Timestamp    int64  `json:"timestamp"`
	TxCount      int64  `json:"tx_count"`
}

// FeeEstimate contains fee rates in sat/vB per confirmation target.
type FeeEstimate struct {
	FastestFee  uint64 `json:"fastest_fee"`
	HalfHourFee uint64 `json:"half_hour_fee"`
	HourFee     uint64 `json:"hour_fee"`
	EconomyFee  uint64 `json:"economy_fee"`
	MinimumFee  uint64 `json:"minimum_fee"`
}

// Backend is a read-mostly block explorer.
type Backend interface {
	Type() Type
	// URL is the base URL, also used as the engine's peer name.
	URL() string

	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool

	// Address operations
	GetAddressInfo(ctx context.Context, address string) (*AddressInfo, error)
	GetAddressUTXOs(ctx context.Context, address string) ([]UTXO, error)
	// GetAddressTxs returns mempool txs plus the newest confirmed page, or
	// the confirmed page after lastSeenTxID when it is set.
	GetAddressTxs(ctx context.Context, address string, lastSeenTxID string) ([]Transaction, error)

	// Transaction operations
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error)

	// Block operations
	GetBlockHeight(ctx context.Context) (int64, error)
	GetBlockHash(ctx context.Context, height int64) (string, error)
	GetBlockHeader(ctx context.Context, hash string) (*BlockHeader, error)

	GetFeeEstimates(ctx context.Context) (*FeeEstimate, error)
}

// Config contains backend configuration.
type Config struct {
	Type       Type   `yaml:"type"`
	MainnetURL string `yaml:"mainnet"`
	TestnetURL string `yaml:"testnet"`
	Timeout    int    `yaml:"timeout,omitempty"` // seconds, default 30
}

// DefaultConfig returns the default explorer configuration.
func DefaultConfig() *Config {
	return &Config{
		Type:       TypeEsplora,
		MainnetURL: "https://blockstream.info/api",
		TestnetURL: "https://blockstream.info/testnet/api",
		Timeout:    30,
	}
}

// URLFor returns the base URL for network.
func (c *Config) URLFor(network chain.Network) string {
	if network == chain.Testnet {
		return c.TestnetURL
	}
	return c.MainnetURL
}

// New creates the backend described by cfg for network.
func New(cfg *Config, network chain.Network) (Backend, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	url := cfg.URLFor(network)
	if url == "" {
		return nil, fmt.Errorf("no %s explorer URL configured", network)
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	switch cfg.Type {
	case TypeMempool:
		return NewMempoolBackend(url, timeout), nil
	case TypeEsplora, "":
		return NewEsploraBackend(url, timeout), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, cfg.Type)
	}
}
