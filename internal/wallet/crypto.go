package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/crypto/argon2"
)

// seedVersion is the current on-disk seed format.
const seedVersion = 2

// Password length bounds.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 256
)

// ErrWrongPassword is returned when the seed does not open with the given
// password.
var ErrWrongPassword = errors.New("wrong password or corrupt seed")

// KDFParams are the Argon2id cost parameters stored with a seed so that old
// files keep opening after the defaults change.
type KDFParams struct {
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory"`
	Threads uint8  `json:"threads"`
	Salt    []byte `json:"salt"`
}

var defaultKDF = KDFParams{Time: 3, Memory: 64 * 1024, Threads: 4}

func (p KDFParams) key(password string) []byte {
	if p.Time == 0 || p.Memory == 0 || p.Threads == 0 {
		p.Time, p.Memory, p.Threads = defaultKDF.Time, defaultKDF.Memory, defaultKDF.Threads
	}
	return argon2.IDKey([]byte(password), p.Salt, p.Time, p.Memory, p.Threads, 32)
}

// EncryptedSeed is the on-disk form of the mnemonic, sealed with
// AES-256-GCM under an Argon2id key.
type EncryptedSeed struct {
	Version    int       `json:"version"`
	KDF        KDFParams `json:"kdf"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
}

func (e *EncryptedSeed) aead(password string) (cipher.AEAD, error) {
	key := e.KDF.key(password)
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	return cipher.NewGCM(block)
}

// EncryptMnemonic seals mnemonic under password with a fresh salt and nonce.
func EncryptMnemonic(mnemonic, password string) (*EncryptedSeed, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("invalid password: %w", err)
	}
	if !ValidateMnemonic(mnemonic) {
		return nil, errors.New("invalid mnemonic")
	}

	e := &EncryptedSeed{Version: seedVersion, KDF: defaultKDF}
	e.KDF.Salt = make([]byte, 32)
	if _, err := rand.Read(e.KDF.Salt); err != nil {
		return nil, fmt.Errorf("salt: %w", err)
	}

	gcm, err := e.aead(password)
	if err != nil {
		return nil, err
	}
	e.Nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(e.Nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	// The version is authenticated so a downgraded file fails to open.
	e.Ciphertext = gcm.Seal(nil, e.Nonce, []byte(mnemonic), e.additionalData())
	return e, nil
}

// Decrypt opens the seed and returns the mnemonic.
func (e *EncryptedSeed) Decrypt(password string) (string, error) {
	gcm, err := e.aead(password)
	if err != nil {
		return "", err
	}
	if len(e.Nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("%w: bad nonce length %d", ErrWrongPassword, len(e.Nonce))
	}

	plain, err := gcm.Open(nil, e.Nonce, e.Ciphertext, e.additionalData())
	if err != nil {
		return "", ErrWrongPassword
	}
	defer zero(plain)
	return string(plain), nil
}

func (e *EncryptedSeed) additionalData() []byte {
	if e.Version < seedVersion {
		return nil
	}
	return []byte(fmt.Sprintf("crypwallet-seed-v%d", e.Version))
}

// ValidatePassword enforces the seed password policy: a bounded length and
// at least three of upper case, lower case, digits and symbols.
func ValidatePassword(password string) error {
	if n := len(password); n < MinPasswordLength || n > MaxPasswordLength {
		return fmt.Errorf("password must be %d to %d characters", MinPasswordLength, MaxPasswordLength)
	}

	classes := make(map[string]bool, 4)
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			classes["upper"] = true
		case unicode.IsLower(r):
			classes["lower"] = true
		case unicode.IsDigit(r):
			classes["digit"] = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			classes["symbol"] = true
		}
	}
	if len(classes) < 3 {
		return errors.New("password needs three of: upper case, lower case, digits, symbols")
	}
	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
