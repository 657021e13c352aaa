package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klingon-exchange/crypwallet/internal/chain"
)

// SeedFileName is the encrypted seed file inside the wallet directory.
const SeedFileName = "wallet.seed"

// ErrNoWallet is returned when no seed file exists and creation is not allowed.
var ErrNoWallet = errors.New("no wallet seed found")

// Keystore loads and creates the encrypted seed for one wallet directory.
type Keystore struct {
	dir    string
	params *chain.Params
}

// NewKeystore returns a keystore rooted at dir.
func NewKeystore(dir string, params *chain.Params) *Keystore {
	if dir == "" {
		dir = "."
	}
	return &Keystore{dir: dir, params: params}
}

// SeedPath returns the seed file path.
func (k *Keystore) SeedPath() string {
	return filepath.Join(k.dir, SeedFileName)
}

// Exists returns true if a seed file exists.
func (k *Keystore) Exists() bool {
	_, err := os.Stat(k.SeedPath())
	return err == nil
}

// Create encrypts mnemonic under password, writes it and opens the wallet.
func (k *Keystore) Create(mnemonic, passphrase, password string) (*Wallet, error) {
	if !ValidateMnemonic(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}

	w, err := NewFromMnemonic(mnemonic, passphrase, k.params)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	encrypted, err := EncryptMnemonic(mnemonic, password)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt seed: %w", err)
	}
	if err := writeSeed(k.SeedPath(), encrypted); err != nil {
		return nil, fmt.Errorf("failed to save seed: %w", err)
	}

	return w, nil
}

// Load decrypts the seed file and opens the wallet.
func (k *Keystore) Load(password, passphrase string) (*Wallet, error) {
	encrypted, err := readSeed(k.SeedPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load encrypted seed: %w", err)
	}

	mnemonic, err := encrypted.Decrypt(password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt seed: %w", err)
	}

	return NewFromMnemonic(mnemonic, passphrase, k.params)
}

// LoadOrCreate loads the wallet, or creates one from a fresh mnemonic when
// none exists and create is set. The mnemonic is returned only on creation.
func (k *Keystore) LoadOrCreate(password, passphrase string, create bool) (*Wallet, string, error) {
	if k.Exists() {
		w, err := k.Load(password, passphrase)
		return w, "", err
	}
	if !create {
		return nil, "", fmt.Errorf("%w at %s", ErrNoWallet, k.SeedPath())
	}

	mnemonic, err := GenerateMnemonic()
	if err != nil {
		return nil, "", err
	}

	w, err := k.Create(mnemonic, passphrase, password)
	if err != nil {
		return nil, "", err
	}
	return w, mnemonic, nil
}

// writeSeed stores the seed through a temp file so a crash never leaves a
// truncated seed behind.
func writeSeed(path string, e *EncryptedSeed) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func readSeed(path string) (*EncryptedSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var e EncryptedSeed
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &e, nil
}
