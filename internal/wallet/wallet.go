// Package wallet provides the BIP39/BIP84 keychain, seed encryption and
// transaction signing for the Bitcoin wallet.
package wallet

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/tyler-smith/go-bip39"

	"github.com/klingon-exchange/crypwallet/internal/chain"
)

// Wallet manages HD keys derived from a BIP39 seed for one network.
type Wallet struct {
	masterKey *hdkeychain.ExtendedKey
	params    *chain.Params
	mu        sync.Mutex

	// account' / change / index -> key
	cache map[keyPath]*hdkeychain.ExtendedKey
}

type keyPath struct {
	account, change, index uint32
}

// GenerateMnemonic generates a new 24-word BIP39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256) // 256 bits = 24 words
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}

	return mnemonic, nil
}

// ValidateMnemonic checks if a mnemonic is valid.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// NewFromMnemonic creates a wallet from a BIP39 mnemonic.
// The passphrase is optional (can be empty string).
func NewFromMnemonic(mnemonic, passphrase string, params *chain.Params) (*Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}

	seed := bip39.NewSeed(mnemonic, passphrase)
	defer zero(seed)

	return NewFromSeed(seed, params)
}

// NewFromSeed creates a wallet from a raw 64-byte seed.
func NewFromSeed(seed []byte, params *chain.Params) (*Wallet, error) {
	if params == nil {
		return nil, fmt.Errorf("chain params required")
	}

	masterKey, err := hdkeychain.NewMaster(seed, params.ChainCfg())
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}

	return &Wallet{
		masterKey: masterKey,
		params:    params,
		cache:     make(map[keyPath]*hdkeychain.ExtendedKey),
	}, nil
}

// Network returns the wallet's network (mainnet/testnet).
func (w *Wallet) Network() chain.Network {
	return w.params.Network
}

// Params returns the wallet's chain parameters.
func (w *Wallet) Params() *chain.Params {
	return w.params
}

// DeriveKey derives the key at m/84'/coin'/account'/change/index.
func (w *Wallet) DeriveKey(account, change, index uint32) (*hdkeychain.ExtendedKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := keyPath{account, change, index}
	if key, ok := w.cache[path]; ok {
		return key, nil
	}

	key := w.masterKey
	for i, child := range w.params.DerivationPath(account, change, index) {
		next, err := key.Derive(child)
		if err != nil {
			return nil, fmt.Errorf("failed to derive level %d of %s: %w",
				i, w.params.DerivationPathString(account, change, index), err)
		}
		key = next
	}

	w.cache[path] = key
	return key, nil
}

// DerivePrivateKeyWithChange derives the private key for a full path.
func (w *Wallet) DerivePrivateKeyWithChange(account, change, index uint32) (*btcec.PrivateKey, error) {
	key, err := w.DeriveKey(account, change, index)
	if err != nil {
		return nil, err
	}

	privKey, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get private key: %w", err)
	}
	return privKey, nil
}

// DerivePublicKey derives the public key for a full path.
func (w *Wallet) DerivePublicKey(account, change, index uint32) (*btcec.PublicKey, error) {
	key, err := w.DeriveKey(account, change, index)
	if err != nil {
		return nil, err
	}

	pubKey, err := key.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}
	return pubKey, nil
}

// DeriveAddress derives the default-type address for a full path.
// change=0 for external (receiving) addresses, change=1 for internal (change) addresses.
func (w *Wallet) DeriveAddress(account, change, index uint32) (string, error) {
	key, err := w.DeriveKey(account, change, index)
	if err != nil {
		return "", err
	}
	return DeriveAddressFromKey(key, w.params)
}

// DerivationPath returns the derivation path string for a full path.
func (w *Wallet) DerivationPath(account, change, index uint32) string {
	return w.params.DerivationPathString(account, change, index)
}

// ClearCache clears the key cache.
func (w *Wallet) ClearCache() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cache = make(map[keyPath]*hdkeychain.ExtendedKey)
}
