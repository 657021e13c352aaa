package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MempoolBackend implements Backend using the mempool.space API. Esplora
// shares the same REST surface.
type MempoolBackend struct {
	baseURL    string
	httpClient *http.Client
	mu         sync.RWMutex
	connected  bool
}

// NewMempoolBackend creates a new mempool.space backend.
func NewMempoolBackend(baseURL string, timeout time.Duration) *MempoolBackend {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MempoolBackend{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Type returns TypeMempool.
func (m *MempoolBackend) Type() Type {
	return TypeMempool
}

// URL returns the API base URL.
func (m *MempoolBackend) URL() string {
	return m.baseURL
}

// Connect checks that the API answers a tip height request.
func (m *MempoolBackend) Connect(ctx context.Context) error {
	if _, err := m.GetBlockHeight(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

// Close marks the backend disconnected.
func (m *MempoolBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// IsConnected returns true if connected.
func (m *MempoolBackend) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

type txoStats struct {
	FundedTxoCount int64  `json:"funded_txo_count"`
	FundedTxoSum   uint64 `json:"funded_txo_sum"`
	SpentTxoCount  int64  `json:"spent_txo_count"`
	SpentTxoSum    uint64 `json:"spent_txo_sum"`
	TxCount        int64  `json:"tx_count"`
}

// GetAddressInfo returns address balance and tx count.
func (m *MempoolBackend) GetAddressInfo(ctx context.Context, address string) (*AddressInfo, error) {
	var result struct {
		Address      string   `json:"address"`
		ChainStats   txoStats `json:"chain_stats"`
		MempoolStats txoStats `json:"mempool_stats"`
	}

	if err := m.get(ctx, "/address/"+address, ErrAddressNotFound, &result); err != nil {
		return nil, err
	}

	chainStats, pool := result.ChainStats, result.MempoolStats
	return &AddressInfo{
		Address:        result.Address,
		TxCount:        chainStats.TxCount + pool.TxCount,
		FundedTxCount:  chainStats.FundedTxoCount,
		SpentTxCount:   chainStats.SpentTxoCount,
		FundedSum:      chainStats.FundedTxoSum,
		SpentSum:       chainStats.SpentTxoSum,
		Balance:        chainStats.FundedTxoSum - chainStats.SpentTxoSum,
		MempoolBalance: int64(pool.FundedTxoSum) - int64(pool.SpentTxoSum),
	}, nil
}

// GetAddressUTXOs returns unspent outputs for an address.
func (m *MempoolBackend) GetAddressUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var result []struct {
		TxID   string `json:"txid"`
		Vout   uint32 `json:"vout"`
		Status struct {
			Confirmed   bool  `json:"confirmed"`
			BlockHeight int64 `json:"block_height"`
		} `json:"status"`
		Value uint64 `json:"value"`
	}

	if err := m.get(ctx, "/address/"+address+"/utxo", ErrAddressNotFound, &result); err != nil {
		return nil, err
	}

	// Without a tip height, confirmed outputs count as one confirmation.
	tip, err := m.GetBlockHeight(ctx)
	if err != nil {
		tip = 0
	}

	utxos := make([]UTXO, len(result))
	for i, u := range result {
		utxos[i] = UTXO{
			TxID:          u.TxID,
			Vout:          u.Vout,
			Amount:        u.Value,
			Confirmations: confirmations(u.Status.Confirmed, u.Status.BlockHeight, tip),
			BlockHeight:   u.Status.BlockHeight,
		}
	}
	return utxos, nil
}

func confirmations(confirmed bool, height, tip int64) int64 {
	if !confirmed || height <= 0 {
		return 0
	}
	if tip >= height {
		return tip - height + 1
	}
	return 1
}

// GetAddressTxs returns transactions for an address.
func (m *MempoolBackend) GetAddressTxs(ctx context.Context, address string, lastSeenTxID string) ([]Transaction, error) {
	endpoint := "/address/" + address + "/txs"
	if lastSeenTxID != "" {
		endpoint += "/chain/" + lastSeenTxID
	}

	var result []mempoolTx
	if err := m.get(ctx, endpoint, ErrAddressNotFound, &result); err != nil {
		return nil, err
	}
	return convertTxs(result), nil
}

// GetTransaction returns a transaction by ID.
func (m *MempoolBackend) GetTransaction(ctx context.Context, txID string) (*Transaction, error) {
	var result mempoolTx
	if err := m.get(ctx, "/tx/"+txID, ErrTxNotFound, &result); err != nil {
		return nil, err
	}
	tx := convertTx(result)
	return &tx, nil
}

// BroadcastTransaction broadcasts a raw transaction and returns its txid.
func (m *MempoolBackend) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/tx", strings.NewReader(rawTxHex))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s", ErrBroadcastFailed, strings.TrimSpace(string(body)))
	}
	return strings.TrimSpace(string(body)), nil
}

// GetBlockHeight returns the current tip height.
func (m *MempoolBackend) GetBlockHeight(ctx context.Context) (int64, error) {
	body, err := m.getText(ctx, "/blocks/tip/height", ErrBlockNotFound)
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseInt(body, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid tip height %q: %w", body, err)
	}
	return height, nil
}

// GetBlockHash returns the hash of the block at height.
func (m *MempoolBackend) GetBlockHash(ctx context.Context, height int64) (string, error) {
	return m.getText(ctx, "/block-height/"+strconv.FormatInt(height, 10), ErrBlockNotFound)
}

// GetBlockHeader returns block header info.
func (m *MempoolBackend) GetBlockHeader(ctx context.Context, hash string) (*BlockHeader, error) {
	var result struct {
		ID           string `json:"id"`
		Height       int64  `json:"height"`
		Timestamp    int64  `json:"timestamp"`
		PreviousHash string `json:"previousblockhash"`
		TxCount      int64  `json:"tx_count"`
	}

	if err := m.get(ctx, "/block/"+hash, ErrBlockNotFound, &result); err != nil {
		return nil, err
	}

	return &BlockHeader{
		Hash:         result.ID,
		Height:       result.Height,
		PreviousHash: result.PreviousHash,
		Timestamp:    result.Timestamp,
		TxCount:      result.TxCount,
	}, nil
}

// GetFeeEstimates returns the recommended fee rates.
func (m *MempoolBackend) GetFeeEstimates(ctx context.Context) (*FeeEstimate, error) {
	var result map[string]float64
	if err := m.get(ctx, "/v1/fees/recommended", ErrNotConnected, &result); err != nil {
		return nil, err
	}

	return &FeeEstimate{
		FastestFee:  uint64(result["fastestFee"]),
		HalfHourFee: uint64(result["halfHourFee"]),
		HourFee:     uint64(result["hourFee"]),
		EconomyFee:  uint64(result["economyFee"]),
		MinimumFee:  uint64(result["minimumFee"]),
	}, nil
}

// do issues a GET and maps error statuses. notFound is returned for 404s.
func (m *MempoolBackend) do(ctx context.Context, path string, notFound error) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return nil, err
	}

	// Avoid stale CDN responses.
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, notFound
	case http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, ErrRateLimited
	default:
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

// get performs a GET request and decodes the JSON response.
func (m *MempoolBackend) get(ctx context.Context, path string, notFound error, result interface{}) error {
	resp, err := m.do(ctx, path, notFound)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(result)
}

// getText performs a GET request for a plain-text body.
func (m *MempoolBackend) getText(ctx context.Context, path string, notFound error) (string, error) {
	resp, err := m.do(ctx, path, notFound)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

type mempoolOut struct {
	ScriptPubKey     string `json:"scriptpubkey"`
	ScriptPubKeyType string `json:"scriptpubkey_type"`
	ScriptPubKeyAddr string `json:"scriptpubkey_address"`
	Value            uint64 `json:"value"`
}

func (o mempoolOut) convert() TxOutput {
	return TxOutput{
		ScriptPubKey:     o.ScriptPubKey,
		ScriptPubKeyType: o.ScriptPubKeyType,
		ScriptPubKeyAddr: o.ScriptPubKeyAddr,
		Value:            o.Value,
	}
}

// mempoolTx is the mempool.space / esplora transaction format.
type mempoolTx struct {
	TxID     string `json:"txid"`
	Version  int32  `json:"version"`
	LockTime uint32 `json:"locktime"`
	Size     int64  `json:"size"`
	Weight   int64  `json:"weight"`
	Fee      uint64 `json:"fee"`
	Status   struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight int64  `json:"block_height"`
		BlockHash   string `json:"block_hash"`
		BlockTime   int64  `json:"block_time"`
	} `json:"status"`
	Vin []struct {
		TxID     string      `json:"txid"`
		Vout     uint32      `json:"vout"`
		Sequence uint32      `json:"sequence"`
		Prevout  *mempoolOut `json:"prevout"`
	} `json:"vin"`
	Vout []mempoolOut `json:"vout"`
}

func convertTx(mt mempoolTx) Transaction {
	tx := Transaction{
		TxID:        mt.TxID,
		Version:     mt.Version,
		Size:        mt.Size,
		Weight:      mt.Weight,
		VSize:       (mt.Weight + 3) / 4,
		LockTime:    mt.LockTime,
		Fee:         mt.Fee,
		Confirmed:   mt.Status.Confirmed,
		BlockHash:   mt.Status.BlockHash,
		BlockHeight: mt.Status.BlockHeight,
		BlockTime:   mt.Status.BlockTime,
		Inputs:      make([]TxInput, len(mt.Vin)),
		Outputs:     make([]TxOutput, len(mt.Vout)),
	}

	for j, vin := range mt.Vin {
		in := TxInput{TxID: vin.TxID, Vout: vin.Vout, Sequence: vin.Sequence}
		if vin.Prevout != nil {
			prev := vin.Prevout.convert()
			in.PrevOut = &prev
		}
		tx.Inputs[j] = in
	}
	for j, vout := range mt.Vout {
		tx.Outputs[j] = vout.convert()
	}
	return tx
}

func convertTxs(mTxs []mempoolTx) []Transaction {
	txs := make([]Transaction, len(mTxs))
	for i, mt := range mTxs {
		txs[i] = convertTx(mt)
	}
	return txs
}

var _ Backend = (*MempoolBackend)(nil)
