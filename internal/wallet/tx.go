package wallet

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/crypwallet/internal/chain"
)

// ErrInsufficientFunds is returned when the UTXOs cannot cover amount + fee.
var ErrInsufficientFunds = errors.New("insufficient funds")

// DustThreshold is the smallest change output worth creating.
const DustThreshold uint64 = 546

// AddressUTXO is a spendable output together with the path of its key.
type AddressUTXO struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Amount uint64 `json:"amount"`

	Address      string `json:"address"`
	Account      uint32 `json:"account"`
	Change       uint32 `json:"change"` // 0=external, 1=change
	AddressIndex uint32 `json:"address_index"`

	AddressType chain.AddressType `json:"address_type"`
}

// Outpoint returns the txid:vout form.
func (u *AddressUTXO) Outpoint() string {
	return fmt.Sprintf("%s:%d", u.TxID, u.Vout)
}

// KeyDeriver derives private keys from derivation paths. *Wallet
// satisfies it.
type KeyDeriver interface {
	DerivePrivateKeyWithChange(account, change, index uint32) (*btcec.PrivateKey, error)
}

// TxParams contains parameters for building a multi-address transaction.
type TxParams struct {
	// UTXOs to choose from (any wallet address)
	UTXOs []*AddressUTXO

	ToAddress string
	Amount    uint64

	// ChangeAddress receives the remainder; empty sends dust and change to fees.
	ChangeAddress string

	// Fee rate in sat/vB
	FeeRate uint64

	Params *chain.Params
}

// TxOutput is an output of a built transaction.
type TxOutput struct {
	Address string `json:"address"`
	Value   uint64 `json:"value"`
}

// TxResult contains the result of building a transaction.
type TxResult struct {
	TxHex       string         `json:"tx_hex"`
	TxID        string         `json:"txid"`
	Fee         uint64         `json:"fee"`
	TotalInput  uint64         `json:"total_input"`
	Change      uint64         `json:"change"`
	VirtualSize int64          `json:"vsize"`
	Inputs      []*AddressUTXO `json:"inputs"`
	Outputs     []TxOutput     `json:"outputs"`
}

// BuildAndSignTx builds and signs a transaction using UTXOs from any number
// of wallet addresses. Each input is signed with the key derived from its
// own path.
func BuildAndSignTx(keyDeriver KeyDeriver, params *TxParams) (*TxResult, error) {
	if len(params.UTXOs) == 0 {
		return nil, fmt.Errorf("%w: no UTXOs", ErrInsufficientFunds)
	}
	if params.Params == nil {
		return nil, fmt.Errorf("chain params required")
	}
	if params.FeeRate == 0 {
		params.FeeRate = 1
	}

	destScript, err := AddressScript(params.ToAddress, params.Params)
	if err != nil {
		return nil, fmt.Errorf("invalid destination address: %w", err)
	}

	selected, totalInput, err := selectUTXOs(params.UTXOs, params.Amount, params.FeeRate)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, utxo := range selected {
		txHash, err := chainhash.NewHashFromStr(utxo.TxID)
		if err != nil {
			return nil, fmt.Errorf("invalid txid %s: %w", utxo.TxID, err)
		}
		txIn := wire.NewTxIn(wire.NewOutPoint(txHash, utxo.Vout), nil, nil)
		txIn.Sequence = wire.MaxTxInSequenceNum - 2 // Enable RBF
		tx.AddTxIn(txIn)
	}

	tx.AddTxOut(wire.NewTxOut(int64(params.Amount), destScript))
	outputs := []TxOutput{{Address: params.ToAddress, Value: params.Amount}}

	// 2 vbytes margin so relay never rejects on rounding.
	vsize := estimateVSize(selected, params.ChangeAddress != "")
	fee := uint64(vsize+2) * params.FeeRate
	if totalInput < params.Amount+fee {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, params.Amount+fee, totalInput)
	}

	change := totalInput - params.Amount - fee
	if change > DustThreshold && params.ChangeAddress != "" {
		changeScript, err := AddressScript(params.ChangeAddress, params.Params)
		if err != nil {
			return nil, fmt.Errorf("invalid change address: %w", err)
		}
		tx.AddTxOut(wire.NewTxOut(int64(change), changeScript))
		outputs = append(outputs, TxOutput{Address: params.ChangeAddress, Value: change})
	} else {
		fee += change
		change = 0
	}

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(selected))
	scripts := make([][]byte, len(selected))
	for i, utxo := range selected {
		script, err := AddressScript(utxo.Address, params.Params)
		if err != nil {
			return nil, fmt.Errorf("invalid UTXO address %s: %w", utxo.Address, err)
		}
		scripts[i] = script
		prevOuts[tx.TxIn[i].PreviousOutPoint] = wire.NewTxOut(int64(utxo.Amount), script)
	}
	prevOutFetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher)

	for i, utxo := range selected {
		privKey, err := keyDeriver.DerivePrivateKeyWithChange(utxo.Account, utxo.Change, utxo.AddressIndex)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key for input %d (%s): %w",
				i, params.Params.DerivationPathString(utxo.Account, utxo.Change, utxo.AddressIndex), err)
		}

		switch utxo.AddressType {
		case chain.AddressP2WPKH, "":
			err = signP2WPKH(tx, i, privKey, sigHashes, prevOutFetcher)
		case chain.AddressP2TR:
			err = signP2TR(tx, i, privKey, sigHashes, prevOutFetcher)
		case chain.AddressP2PKH:
			err = signP2PKH(tx, i, privKey, scripts[i])
		default:
			err = fmt.Errorf("unsupported address type %s", utxo.AddressType)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to sign input %d: %w", i, err)
		}
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize: %w", err)
	}

	return &TxResult{
		TxHex:       hex.EncodeToString(buf.Bytes()),
		TxID:        tx.TxHash().String(),
		Fee:         fee,
		TotalInput:  totalInput,
		Change:      change,
		VirtualSize: vsize,
		Inputs:      selected,
		Outputs:     outputs,
	}, nil
}

// signP2WPKH signs a P2WPKH (native SegWit) input.
func signP2WPKH(tx *wire.MsgTx, inputIndex int, privKey *btcec.PrivateKey, sigHashes *txscript.TxSigHashes, prevOutFetcher txscript.PrevOutputFetcher) error {
	prevOut := prevOutFetcher.FetchPrevOutput(tx.TxIn[inputIndex].PreviousOutPoint)
	if prevOut == nil {
		return fmt.Errorf("previous output not found")
	}

	witness, err := txscript.WitnessSignature(
		tx,
		sigHashes,
		inputIndex,
		prevOut.Value,
		prevOut.PkScript,
		txscript.SigHashAll,
		privKey,
		true, // compressed
	)
	if err != nil {
		return err
	}

	tx.TxIn[inputIndex].Witness = witness
	return nil
}

// signP2TR signs a P2TR (Taproot) input using key-path spend.
func signP2TR(tx *wire.MsgTx, inputIndex int, privKey *btcec.PrivateKey, sigHashes *txscript.TxSigHashes, prevOutFetcher txscript.PrevOutputFetcher) error {
	prevOut := prevOutFetcher.FetchPrevOutput(tx.TxIn[inputIndex].PreviousOutPoint)
	if prevOut == nil {
		return fmt.Errorf("previous output not found for taproot signing")
	}

	sig, err := txscript.RawTxInTaprootSignature(
		tx,
		sigHashes,
		inputIndex,
		prevOut.Value,
		prevOut.PkScript,
		nil, // No tapLeaf for key-path
		txscript.SigHashDefault,
		privKey,
	)
	if err != nil {
		return err
	}

	tx.TxIn[inputIndex].Witness = wire.TxWitness{sig}
	return nil
}

// signP2PKH signs a P2PKH (legacy) input.
func signP2PKH(tx *wire.MsgTx, inputIndex int, privKey *btcec.PrivateKey, pkScript []byte) error {
	sig, err := txscript.SignatureScript(tx, inputIndex, pkScript, txscript.SigHashAll, privKey, true)
	if err != nil {
		return err
	}
	tx.TxIn[inputIndex].SignatureScript = sig
	return nil
}

// selectUTXOs greedily picks the largest outputs until amount + fee is covered.
func selectUTXOs(utxos []*AddressUTXO, targetAmount, feeRate uint64) ([]*AddressUTXO, uint64, error) {
	sorted := make([]*AddressUTXO, len(utxos))
	copy(sorted, utxos)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Amount > sorted[j].Amount
	})

	var selected []*AddressUTXO
	var total uint64
	for _, utxo := range sorted {
		selected = append(selected, utxo)
		total += utxo.Amount

		fee := uint64(estimateVSize(selected, true)+2) * feeRate
		if total >= targetAmount+fee {
			return selected, total, nil
		}
	}

	fee := uint64(estimateVSize(selected, true)+2) * feeRate
	return nil, 0, fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, targetAmount+fee, total)
}

// estimateVSize estimates the virtual size of a transaction spending utxos
// to one destination and, optionally, one change output.
func estimateVSize(utxos []*AddressUTXO, withChange bool) int64 {
	vsize := int64(10) // overhead
	for _, utxo := range utxos {
		vsize += inputVSize(utxo.AddressType)
	}

	// Destination sized as the largest common output (P2TR/P2WSH).
	vsize += 43
	if withChange {
		vsize += 31 // P2WPKH change
	}
	return vsize
}

func inputVSize(addrType chain.AddressType) int64 {
	switch addrType {
	case chain.AddressP2TR:
		return 58
	case chain.AddressP2PKH:
		return 148
	default: // p2wpkh
		return 68
	}
}
